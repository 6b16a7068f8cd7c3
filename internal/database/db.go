// Package database is the Postgres boundary: users, game rows, journaled
// actions and rating history, all through one pgx pool.
package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens the pool from DATABASE_URL, or from the POSTGRES_USER /
// POSTGRES_PASSWORD / PG_HOST / PG_PORT / PG_DATABASE pieces when unset, and
// verifies the connection.
func Connect(ctx context.Context) (*pgxpool.Pool, error) {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		connStr = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"),
			os.Getenv("PG_HOST"),
			os.Getenv("PG_PORT"),
			os.Getenv("PG_DATABASE"),
		)
	}
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

// Store bundles every query against the pool.
type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store { return &Store{Pool: pool} }

// Migrate creates the schema when missing. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT UNIQUE,
			password TEXT,
			username TEXT UNIQUE NOT NULL,
			is_ephemeral BOOLEAN NOT NULL DEFAULT FALSE,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			rating INTEGER NOT NULL DEFAULT 1500,
			deviation DOUBLE PRECISION NOT NULL DEFAULT 350,
			volatility DOUBLE PRECISION NOT NULL DEFAULT 0.06,
			provisional BOOLEAN NOT NULL DEFAULT TRUE,
			rating_history JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			id UUID PRIMARY KEY,
			variant TEXT NOT NULL,
			rated BOOLEAN NOT NULL,
			clock_initial_ms BIGINT NOT NULL,
			clock_increment_ms BIGINT NOT NULL,
			first_slot JSONB,
			second_slot JSONB,
			moves TEXT[] NOT NULL DEFAULT '{}',
			remaining_first_ms BIGINT,
			remaining_second_ms BIGINT,
			status TEXT NOT NULL,
			draw_offer TEXT NOT NULL,
			rematch_offer TEXT NOT NULL,
			win_type TEXT NOT NULL DEFAULT '',
			last_move_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			random_side BOOLEAN NOT NULL,
			rating_min INTEGER NOT NULL,
			rating_max INTEGER NOT NULL,
			chat JSONB NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS game_actions (
			id BIGSERIAL PRIMARY KEY,
			game_id UUID NOT NULL,
			kind TEXT NOT NULL,
			payload JSONB,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS rating_records (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			rating INTEGER NOT NULL,
			deviation DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, q := range stmts {
		if _, err := s.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
