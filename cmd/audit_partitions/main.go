// Command audit_partitions creates the audit_logs parent table and its
// monthly partitions ahead of time. The server schedules the same maintenance
// monthly; this command covers fresh databases and long maintenance windows
// where the scheduler was down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"app_kernel/internal/audit"
	"app_kernel/internal/config"
)

func main() {
	months := flag.Int("months", 12, "how many future months to cover")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadConfig(logger)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pool, err := config.NewPool(cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := audit.EnsurePartitions(context.Background(), pool, logger, *months); err != nil {
		logger.Error("partition maintenance failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Audit partitions cover the current month plus %d ahead.\n", *months)
}
