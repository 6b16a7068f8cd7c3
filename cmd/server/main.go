// Command server runs the live session engine: the HTTP and websocket
// surface, the matchmaker, the event bus and the clock monitor, backed by
// Postgres for durability and Redis for the action journal.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/trigrid/trigrid/internal/auth"
	"github.com/trigrid/trigrid/internal/cache"
	"github.com/trigrid/trigrid/internal/clockmon"
	"github.com/trigrid/trigrid/internal/database"
	"github.com/trigrid/trigrid/internal/events"
	"github.com/trigrid/trigrid/internal/handlers"
	"github.com/trigrid/trigrid/internal/matchmaker"
	"github.com/trigrid/trigrid/internal/middleware"
	"github.com/trigrid/trigrid/internal/rating"
	"github.com/trigrid/trigrid/internal/session"
)

func main() {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cache.GetEnv("LOG_LEVEL", "info")); err == nil {
		logger.SetLevel(lvl)
	}

	// A persistent key pair keeps session tokens valid across restarts;
	// without one each process signs with a fresh ephemeral key.
	if priv := os.Getenv("TOKEN_KEY_PATH"); priv != "" {
		if err := auth.InitFromPath(priv, os.Getenv("TOKEN_PUBKEY_PATH")); err != nil {
			log.Fatalf("auth init: %v", err)
		}
	} else if err := auth.Init(); err != nil {
		log.Fatalf("auth init: %v", err)
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

	store := session.NewStore(logger)
	store.Persist = db
	store.Load = db
	store.Ratings = rating.NewUpdater(db, logger)
	store.Journal = journal

	monitor := clockmon.New(store, logger, 100*time.Millisecond)
	store.Rearm = monitor.Arm
	store.Disarm = monitor.Disarm

	bus := events.NewBus(logger, 32, 10*time.Second)
	mm := matchmaker.New(store, logger)
	srv := handlers.New(logger, store, mm, bus, db)

	go bus.Run(ctx)
	go monitor.Run(ctx)

	addr := ":" + cache.GetEnv("PORT", "8080")
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: middleware.Logging(logger)(srv.Routes()),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Infof("listening on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server exited: %v", err)
	}
}
