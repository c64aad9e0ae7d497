package instance

import "os"

// GetID returns the process identifier used in logs. SOUQ_INSTANCE_ID wins,
// then the platform dyno name, then "local".
func GetID() string {
	for _, key := range []string{"SOUQ_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
