package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leadline-labs/leadline/internal/availability"
)

type AvailabilityStore struct {
	db DB
}

func NewAvailabilityStore(db DB) *AvailabilityStore {
	if db == nil {
		return nil
	}
	return &AvailabilityStore{db: db}
}

func (s *AvailabilityStore) ListSlots(ctx context.Context, userID string) ([]availability.Slot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("availability store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT weekday, start_minute, end_minute FROM availability_slots
		 WHERE user_id = $1
		 ORDER BY weekday, start_minute`,
		strings.TrimSpace(userID),
	)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	out := make([]availability.Slot, 0)
	for rows.Next() {
		var weekday int
		var slot availability.Slot
		if err := rows.Scan(&weekday, &slot.StartMinute, &slot.EndMinute); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slot.Weekday = time.Weekday(weekday)
		out = append(out, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return out, nil
}

func (s *AvailabilityStore) ReplaceSlots(ctx context.Context, userID string, slots []availability.Slot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("availability store not initialized")
	}
	userID = strings.TrimSpace(userID)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM availability_slots WHERE user_id = $1`, userID); err != nil {
		return mapError("clear slots", err)
	}
	for _, slot := range slots {
		_, err := s.db.ExecContext(
			ctx,
			`INSERT INTO availability_slots (slot_id, user_id, weekday, start_minute, end_minute) VALUES ($1,$2,$3,$4,$5)`,
			uuid.NewString(),
			userID,
			int(slot.Weekday),
			slot.StartMinute,
			slot.EndMinute,
		)
		if err != nil {
			return mapError("insert slot", err)
		}
	}
	return nil
}

// ListBlocks returns blocks intersecting [from, to). Zero bounds are open.
func (s *AvailabilityStore) ListBlocks(ctx context.Context, userID string, from, to time.Time) ([]availability.Block, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("availability store not initialized")
	}
	var w where
	w.add("user_id = " + w.arg(strings.TrimSpace(userID)))
	if !to.IsZero() {
		w.add("starts_at < " + w.arg(to.UTC()))
	}
	if !from.IsZero() {
		w.add("ends_at > " + w.arg(from.UTC()))
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT block_id, user_id, starts_at, ends_at, COALESCE(reason, ''), created_at FROM availability_blocks`+w.String()+` ORDER BY starts_at`,
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	out := make([]availability.Block, 0)
	for rows.Next() {
		var b availability.Block
		if err := rows.Scan(&b.ID, &b.UserID, &b.StartsAt, &b.EndsAt, &b.Reason, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.StartsAt, b.EndsAt, b.CreatedAt = b.StartsAt.UTC(), b.EndsAt.UTC(), b.CreatedAt.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return out, nil
}

func (s *AvailabilityStore) CreateBlock(ctx context.Context, block availability.Block) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("availability store not initialized")
	}
	if err := block.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO availability_blocks (block_id, user_id, starts_at, ends_at, reason, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		strings.TrimSpace(block.ID),
		strings.TrimSpace(block.UserID),
		block.StartsAt.UTC(),
		block.EndsAt.UTC(),
		nullIfEmpty(block.Reason),
		normalizeTime(block.CreatedAt),
	)
	return mapError("insert block", err)
}

func (s *AvailabilityStore) DeleteBlock(ctx context.Context, userID, blockID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("availability store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM availability_blocks WHERE block_id = $1 AND user_id = $2`,
		strings.TrimSpace(blockID),
		strings.TrimSpace(userID),
	)
	if err != nil {
		return mapError("delete block", err)
	}
	return requireAffected(res, "delete block")
}
