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

// SaveGame upserts the full game row. The conditional update refuses to
// demote a row that is already terminal, so a stale write racing a finished
// game cannot resurrect it; same-status rewrites (late chat on a finished
// game) still land.
func (s *Store) SaveGame(ctx context.Context, rec *models.GameRecord) error {
	firstSlot, err := marshalSlot(rec.First)
	if err != nil {
		return err
	}
	secondSlot, err := marshalSlot(rec.Second)
	if err != nil {
		return err
	}
	chat, err := json.Marshal(rec.Chat)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}

	q := `
		INSERT INTO games (
			id, variant, rated, clock_initial_ms, clock_increment_ms,
			first_slot, second_slot, moves, remaining_first_ms, remaining_second_ms,
			status, draw_offer, rematch_offer, win_type,
			last_move_at, created_at, random_side, rating_min, rating_max, chat
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
		)
		ON CONFLICT (id) DO UPDATE SET
			first_slot = EXCLUDED.first_slot,
			second_slot = EXCLUDED.second_slot,
			moves = EXCLUDED.moves,
			remaining_first_ms = EXCLUDED.remaining_first_ms,
			remaining_second_ms = EXCLUDED.remaining_second_ms,
			status = EXCLUDED.status,
			draw_offer = EXCLUDED.draw_offer,
			rematch_offer = EXCLUDED.rematch_offer,
			win_type = EXCLUDED.win_type,
			last_move_at = EXCLUDED.last_move_at,
			chat = EXCLUDED.chat
		WHERE games.status NOT IN ('first_won','second_won','draw')
		   OR EXCLUDED.status = games.status
	`
	_, err = s.Pool.Exec(ctx, q,
		rec.ID, string(rec.Variant), rec.Rated, rec.Clock.InitialMS, rec.Clock.IncrementMS,
		firstSlot, secondSlot, rec.Moves, rec.RemainingFirstMS, rec.RemainingSecondMS,
		string(rec.Status), string(rec.DrawOffer), string(rec.RematchOffer), string(rec.WinType),
		rec.LastMoveAt, rec.CreatedAt, rec.RandomSide, rec.RatingMin, rec.RatingMax, chat,
	)
	if err != nil {
		return fmt.Errorf("upsert game %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteGame removes a withdrawn seek's row.
func (s *Store) DeleteGame(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Pool.Exec(ctx, `DELETE FROM games WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete game %s: %w", id, err)
	}
	return nil
}

// GetGame loads one game row.
func (s *Store) GetGame(ctx context.Context, id uuid.UUID) (*models.GameRecord, error) {
	q := `
		SELECT id, variant, rated, clock_initial_ms, clock_increment_ms,
		       first_slot, second_slot, moves, remaining_first_ms, remaining_second_ms,
		       status, draw_offer, rematch_offer, win_type,
		       last_move_at, created_at, random_side, rating_min, rating_max, chat
		FROM games WHERE id = $1
	`
	var rec models.GameRecord
	var variant, status, drawOffer, rematchOffer, winType string
	var firstSlot, secondSlot, chat []byte
	err := s.Pool.QueryRow(ctx, q, id).Scan(
		&rec.ID, &variant, &rec.Rated, &rec.Clock.InitialMS, &rec.Clock.IncrementMS,
		&firstSlot, &secondSlot, &rec.Moves, &rec.RemainingFirstMS, &rec.RemainingSecondMS,
		&status, &drawOffer, &rematchOffer, &winType,
		&rec.LastMoveAt, &rec.CreatedAt, &rec.RandomSide, &rec.RatingMin, &rec.RatingMax, &chat,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("game %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	rec.Variant = models.VariantKey(variant)
	rec.Status = models.Status(status)
	rec.DrawOffer = models.Offer(drawOffer)
	rec.RematchOffer = models.Offer(rematchOffer)
	rec.WinType = models.WinType(winType)
	if rec.First, err = unmarshalSlot(firstSlot); err != nil {
		return nil, err
	}
	if rec.Second, err = unmarshalSlot(secondSlot); err != nil {
		return nil, err
	}
	if len(chat) > 0 {
		if err := json.Unmarshal(chat, &rec.Chat); err != nil {
			return nil, fmt.Errorf("decode chat: %w", err)
		}
	}
	return &rec, nil
}

// InsertActions writes a historian batch in one transaction.
func (s *Store) InsertActions(ctx context.Context, actions []ActionRow) error {
	if len(actions) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `INSERT INTO game_actions (game_id, kind, payload, recorded_at)
		      VALUES ($1,$2,$3,to_timestamp($4::double precision / 1000.0))`
		for _, a := range actions {
			if _, err := tx.Exec(ctx, q, a.GameID, a.Kind, a.Payload, a.RecordedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert action batch: %w", err)
	}
	return nil
}

// ActionRow is one journaled action as persisted.
type ActionRow struct {
	GameID     uuid.UUID
	Kind       string
	Payload    []byte
	RecordedAt int64
}

func marshalSlot(slot *models.PlayerSlot) ([]byte, error) {
	if slot == nil {
		return nil, nil
	}
	data, err := json.Marshal(slot)
	if err != nil {
		return nil, fmt.Errorf("marshal player slot: %w", err)
	}
	return data, nil
}

func unmarshalSlot(data []byte) (*models.PlayerSlot, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var slot models.PlayerSlot
	if err := json.Unmarshal(data, &slot); err != nil {
		return nil, fmt.Errorf("decode player slot: %w", err)
	}
	return &slot, nil
}
