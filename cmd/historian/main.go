// Command historian runs the journal drain beside the server: it pops
// accepted actions off the Redis queue and persists them to Postgres.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/trigrid/trigrid/internal/cache"
	"github.com/trigrid/trigrid/internal/database"
	"github.com/trigrid/trigrid/internal/historian"
)

func main() {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cache.GetEnv("LOG_LEVEL", "info")); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	db := database.NewStore(pool)
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	journal, err := cache.Connect()
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer journal.Close()

	logger.Info("historian started")
	historian.New(journal, db, logger).Run(ctx)
	logger.Info("historian stopped")
}
