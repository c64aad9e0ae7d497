package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	mpesawebhook "github.com/homabaysouq/souq-backend/internal/webhooks/mpesa"
	"github.com/homabaysouq/souq-backend/pkg/logger"
)

const maxCallbackBytes = 1 << 20

type CallbackProcessor interface {
	Process(ctx context.Context, raw []byte) mpesawebhook.Ack
}

// MpesaCallback receives STK push results. It always answers 200 because the
// gateway retries any other status; the outcome travels in the ack body.
func MpesaCallback(proc CallbackProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			if logg != nil {
				logg.Error(ctx, "mpesa callback read failed", err)
			}
			payload = nil
		}

		ack := proc.Process(ctx, payload)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(ack); err != nil && logg != nil {
			logg.Error(ctx, "mpesa callback ack encode failed", err)
		}
	}
}
