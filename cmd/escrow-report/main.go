package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/homabaysouq/souq-backend/internal/app"
	"github.com/homabaysouq/souq-backend/pkg/config"
	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	"github.com/homabaysouq/souq-backend/pkg/logger"
)

// escrow-report prints every escrow still holding funds, with the days left
// before auto-release.
func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "escrow-report"})

	_ = godotenv.Load()

	limit := flag.Int("limit", 200, "maximum rows to print")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "escrow-report",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		Output:      os.Stderr,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	svcs, err := app.Build(app.Params{Config: cfg, Logger: logg, DB: dbClient})
	requireResource(ctx, logg, "services", err)

	rows, err := svcs.Escrow.ListOpen(ctx, *limit)
	requireResource(ctx, logg, "open escrows", err)

	if err := renderEscrows(os.Stdout, rows, time.Now().UTC()); err != nil {
		fmt.Fprintf(os.Stderr, "render report: %v\n", err)
		os.Exit(1)
	}
}

func renderEscrows(w io.Writer, rows []models.Escrow, now time.Time) error {
	table := tablewriter.NewWriter(w)
	table.Header("Order", "Status", "Amount", "Auto release", "Days left")

	held := decimal.Zero
	disputed := 0
	for _, row := range rows {
		release, daysLeft := "-", "-"
		if row.AutoReleaseDate != nil {
			release = row.AutoReleaseDate.Format("2006-01-02")
			daysLeft = fmt.Sprintf("%d", daysUntil(now, *row.AutoReleaseDate))
		}
		if row.Status == enums.EscrowStatusDisputed {
			disputed++
		}
		held = held.Add(row.Amount)
		if err := table.Append([]string{
			row.OrderID.String(),
			string(row.Status),
			row.Amount.StringFixed(2),
			release,
			daysLeft,
		}); err != nil {
			return err
		}
	}
	table.Footer("", fmt.Sprintf("%d disputed", disputed), held.StringFixed(2), "", fmt.Sprintf("%d open", len(rows)))
	return table.Render()
}

// daysUntil rounds partial days up and never goes below zero.
func daysUntil(now, at time.Time) int {
	remaining := at.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) != 0 {
		days++
	}
	return days
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
