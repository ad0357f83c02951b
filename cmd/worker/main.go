// cmd/worker runs the periodic janitor. Expired sessions are already
// swept in-process by recovery.Reaper (started from cmd/api), so this
// process only needs to prune reset_tokens rows that have aged out past
// their audit window. Kept as a separate binary so the sweep can run on
// its own schedule independent of the API process's lifecycle.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/lavente/identitycore/internal/config"
	"github.com/lavente/identitycore/internal/storage/db"
	"github.com/lavente/identitycore/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.Setup(envName(cfg.Production))
	log.Info("janitor_startup")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database_pool_create_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("database_ping_failed", "error", err)
		os.Exit(1)
	}

	queries := db.New(pool)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	runJanitor(ctx, queries, log)

	for {
		select {
		case <-ticker.C:
			runJanitor(ctx, queries, log)
		case <-quit:
			log.Info("janitor_shutdown")
			return
		}
	}
}

func runJanitor(ctx context.Context, q *db.Queries, log *slog.Logger) {
	log.Info("janitor_cycle_start")

	n, err := q.DeleteExpiredResetTokens(ctx)
	if err != nil {
		log.Error("reset_token_cleanup_failed", "error", err)
	} else if n > 0 {
		log.Info("reset_tokens_pruned", "count", n)
	}
}

func envName(production bool) string {
	if production {
		return "production"
	}
	return "development"
}
