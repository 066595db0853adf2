package database

import (
	"context"
	"fmt"
	"time"

	"referral-rewards-api/internal/models"
)

// UpsertVerifiedChannel records that a user proved ownership of a channel
// value. Re-verifying the same channel is a no-op.
func (q queries) UpsertVerifiedChannel(ctx context.Context, userID string, method models.Method, value string) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO verified_channels (user_id, method, value, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, method, value) DO NOTHING`,
		userID, string(method), value, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert verified channel: %w", err)
	}
	return nil
}

// IsChannelVerified reports whether the user has verified the exact
// (method, value) pair.
func (q queries) IsChannelVerified(ctx context.Context, userID string, method models.Method, value string) (bool, error) {
	var one int
	err := q.q.QueryRowContext(ctx,
		`SELECT 1 FROM verified_channels WHERE user_id = ? AND method = ? AND value = ?`,
		userID, string(method), value,
	).Scan(&one)
	if err == ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check verified channel: %w", err)
	}
	return true, nil
}
