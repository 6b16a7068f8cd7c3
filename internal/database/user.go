package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trigrid/trigrid/internal/models"
)

// ErrUserNotFound distinguishes a missing row from a query failure.
var ErrUserNotFound = errors.New("user not found")

// CreateUser inserts a new user row. The password is expected to be hashed
// already.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	history, err := json.Marshal(u.RatingHistory)
	if err != nil {
		return fmt.Errorf("marshal rating history: %w", err)
	}
	q := `
		INSERT INTO users (
			id, email, password, username, is_ephemeral, is_admin,
			rating, deviation, volatility, provisional, rating_history
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	_, err = s.Pool.Exec(ctx, q,
		u.ID, nullable(u.Email), u.Password, u.Username, u.IsEphemeral, u.IsAdmin,
		u.Rating, u.Deviation, u.Volatility, u.Provisional, history,
	)
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.Username, err)
	}
	return nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.queryUser(ctx, `WHERE id = $1`, id)
}

// GetUserByEmail loads a user by login email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.queryUser(ctx, `WHERE email = $1`, email)
}

// GetUserByUsername loads a user by display name.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.queryUser(ctx, `WHERE username = $1`, username)
}

func (s *Store) queryUser(ctx context.Context, where string, arg any) (*models.User, error) {
	q := `
		SELECT id, COALESCE(email, ''), password, username, is_ephemeral, is_admin,
		       rating, deviation, volatility, provisional, rating_history
		FROM users ` + where
	var u models.User
	var history []byte
	err := s.Pool.QueryRow(ctx, q, arg).Scan(
		&u.ID, &u.Email, &u.Password, &u.Username, &u.IsEphemeral, &u.IsAdmin,
		&u.Rating, &u.Deviation, &u.Volatility, &u.Provisional, &history,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &u.RatingHistory); err != nil {
			return nil, fmt.Errorf("decode rating history: %w", err)
		}
	}
	return &u, nil
}

// EnsureEphemeralUser creates a throwaway guest account for an anonymous
// viewer so every subscriber has an identity.
func (s *Store) EnsureEphemeralUser(ctx context.Context) (*models.User, error) {
	id := uuid.New()
	u := &models.User{
		ID:          id,
		Username:    "guest-" + id.String()[:8],
		IsEphemeral: true,
		Rating:      1500,
		Deviation:   350,
		Volatility:  0.06,
		Provisional: true,
	}
	if err := s.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SaveRating writes the recomputed rating fields and appends the history
// record in one transaction.
func (s *Store) SaveRating(ctx context.Context, u *models.User) error {
	history, err := json.Marshal(u.RatingHistory)
	if err != nil {
		return fmt.Errorf("marshal rating history: %w", err)
	}
	err = pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE users
			SET rating = $2, deviation = $3, volatility = $4, provisional = $5, rating_history = $6
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, q, u.ID, u.Rating, u.Deviation, u.Volatility, u.Provisional, history); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO rating_records (user_id, rating, deviation) VALUES ($1,$2,$3)`,
			u.ID, u.Rating, u.Deviation,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save rating for %s: %w", u.ID, err)
	}
	return nil
}

// nullable maps an empty string to NULL so unique indexes ignore it.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
