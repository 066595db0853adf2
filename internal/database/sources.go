package database

import (
	"context"
	"fmt"

	"referral-rewards-api/internal/models"
)

// InsertFragment stores a new fragment.
func (q queries) InsertFragment(ctx context.Context, fragment models.Fragment) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO fragments (uuid, label, product, created_at) VALUES (?, ?, ?, ?)`,
		fragment.UUID, fragment.Label, fragment.Product, formatTime(fragment.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fragment: %w", err)
	}
	return nil
}

// InsertBroadcast stores a new broadcast.
func (q queries) InsertBroadcast(ctx context.Context, broadcast models.Broadcast) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO broadcasts (uuid, label, message, created_at) VALUES (?, ?, ?, ?)`,
		broadcast.UUID, broadcast.Label, broadcast.Message, formatTime(broadcast.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert broadcast: %w", err)
	}
	return nil
}

// GetFragment returns one fragment by uuid.
func (q queries) GetFragment(ctx context.Context, uuid string) (*models.Fragment, error) {
	var fragment models.Fragment
	var createdAt string

	err := q.q.QueryRowContext(ctx,
		`SELECT uuid, label, product, created_at FROM fragments WHERE uuid = ?`, uuid,
	).Scan(&fragment.UUID, &fragment.Label, &fragment.Product, &createdAt)
	if err != nil {
		return nil, err
	}

	fragment.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &fragment, nil
}

// GetBroadcast returns one broadcast by uuid.
func (q queries) GetBroadcast(ctx context.Context, uuid string) (*models.Broadcast, error) {
	var broadcast models.Broadcast
	var createdAt string

	err := q.q.QueryRowContext(ctx,
		`SELECT uuid, label, message, created_at FROM broadcasts WHERE uuid = ?`, uuid,
	).Scan(&broadcast.UUID, &broadcast.Label, &broadcast.Message, &createdAt)
	if err != nil {
		return nil, err
	}

	broadcast.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &broadcast, nil
}

// ListFragments returns every fragment, newest first.
func (q queries) ListFragments(ctx context.Context) ([]models.Fragment, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT uuid, label, product, created_at FROM fragments ORDER BY created_at DESC, uuid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}
	defer rows.Close()

	var fragments []models.Fragment
	for rows.Next() {
		var fragment models.Fragment
		var createdAt string

		if err := rows.Scan(&fragment.UUID, &fragment.Label, &fragment.Product, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		if fragment.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		fragments = append(fragments, fragment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fragments: %w", err)
	}
	return fragments, nil
}

// ListBroadcasts returns every broadcast, newest first.
func (q queries) ListBroadcasts(ctx context.Context) ([]models.Broadcast, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT uuid, label, message, created_at FROM broadcasts ORDER BY created_at DESC, uuid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query broadcasts: %w", err)
	}
	defer rows.Close()

	var broadcasts []models.Broadcast
	for rows.Next() {
		var broadcast models.Broadcast
		var createdAt string

		if err := rows.Scan(&broadcast.UUID, &broadcast.Label, &broadcast.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan broadcast: %w", err)
		}
		if broadcast.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		broadcasts = append(broadcasts, broadcast)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating broadcasts: %w", err)
	}
	return broadcasts, nil
}

// SourceExists reports whether the referenced source row is present.
func (q queries) SourceExists(ctx context.Context, source models.SourceRef) (bool, error) {
	var table string
	switch source.Kind {
	case models.SourceFragment:
		table = "fragments"
	case models.SourceBroadcast:
		table = "broadcasts"
	default:
		return false, fmt.Errorf("unknown source kind %q", source.Kind)
	}

	var one int
	err := q.q.QueryRowContext(ctx,
		`SELECT 1 FROM `+table+` WHERE uuid = ?`, source.UUID,
	).Scan(&one)
	if err == ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check source: %w", err)
	}
	return true, nil
}
