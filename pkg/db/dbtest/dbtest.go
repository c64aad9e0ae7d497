// Package dbtest opens throwaway sqlite databases with the full schema for
// package tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
)

// New returns a migrated in-memory database private to t.
func New(t testing.TB) *db.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	client, err := db.NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := client.DB().AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// MustCreate inserts each row or fails the test.
func MustCreate(t testing.TB, client *db.Client, rows ...any) {
	t.Helper()
	for _, row := range rows {
		if err := client.DB().Create(row).Error; err != nil {
			t.Fatalf("seed %T: %v", row, err)
		}
	}
}
