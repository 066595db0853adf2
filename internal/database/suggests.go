package database

import (
	"context"
	"fmt"
	"strings"

	"referral-rewards-api/internal/models"
)

// InsertSuggest stores a new suggest row.
func (q queries) InsertSuggest(ctx context.Context, suggest models.Suggest) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO suggests (uuid, spread_uuid, user_id, rating, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		suggest.UUID,
		suggest.SpreadUUID,
		suggest.UserID,
		suggest.Rating,
		suggest.Description,
		formatTime(suggest.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert suggest: %w", err)
	}
	return nil
}

// InsertCanals bulk-inserts the canals of one suggest.
func (q queries) InsertCanals(ctx context.Context, canals []models.Canal) error {
	for _, canal := range canals {
		_, err := q.q.ExecContext(ctx,
			`INSERT INTO canals (uuid, suggest_uuid, method, value, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			canal.UUID,
			canal.SuggestUUID,
			string(canal.Method),
			canal.Value,
			formatTime(canal.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert canal %s: %w", canal.Value, err)
		}
	}
	return nil
}

// GetSuggest returns one suggest with its canals.
func (q queries) GetSuggest(ctx context.Context, uuid string) (*models.Suggest, error) {
	var suggest models.Suggest
	var createdAt string

	err := q.q.QueryRowContext(ctx,
		`SELECT uuid, spread_uuid, user_id, rating, description, created_at
		FROM suggests WHERE uuid = ?`, uuid,
	).Scan(&suggest.UUID, &suggest.SpreadUUID, &suggest.UserID,
		&suggest.Rating, &suggest.Description, &createdAt)
	if err != nil {
		return nil, err
	}

	if suggest.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	canals, err := q.ListCanals(ctx, suggest.UUID)
	if err != nil {
		return nil, err
	}
	suggest.Canals = canals

	return &suggest, nil
}

// ListCanals returns the canals of one suggest.
func (q queries) ListCanals(ctx context.Context, suggestUUID string) ([]models.Canal, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT uuid, suggest_uuid, method, value, created_at
		FROM canals WHERE suggest_uuid = ? ORDER BY created_at, uuid`, suggestUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query canals: %w", err)
	}
	defer rows.Close()

	var canals []models.Canal
	for rows.Next() {
		var canal models.Canal
		var method, createdAt string

		if err := rows.Scan(&canal.UUID, &canal.SuggestUUID, &method, &canal.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan canal: %w", err)
		}
		canal.Method = models.Method(method)
		if canal.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		canals = append(canals, canal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating canals: %w", err)
	}
	return canals, nil
}

// GetCanalByMethod returns the first canal of a suggest matching the method,
// or nil when the referrer never provided that channel.
func (q queries) GetCanalByMethod(ctx context.Context, suggestUUID string, method models.Method) (*models.Canal, error) {
	var canal models.Canal
	var createdAt string

	err := q.q.QueryRowContext(ctx,
		`SELECT uuid, suggest_uuid, method, value, created_at
		FROM canals WHERE suggest_uuid = ? AND method = ?
		ORDER BY created_at, uuid LIMIT 1`,
		suggestUUID, string(method),
	).Scan(&canal.UUID, &canal.SuggestUUID, &canal.Method, &canal.Value, &createdAt)
	if err == ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query canal: %w", err)
	}

	if canal.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &canal, nil
}

// FindDuplicateCanalValues returns, among the submitted (method, value)
// pairs, the values already used by another suggest on the same spread that
// was issued a coupon. Activation is irrelevant here: an anonymous submitter
// holds inactive coupons and must still be blocked from claiming twice.
func (q queries) FindDuplicateCanalValues(ctx context.Context, spreadUUID string, canals []models.CanalInput) ([]string, error) {
	if len(canals) == 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(canals))
	args := []interface{}{spreadUUID}
	for _, canal := range canals {
		conditions = append(conditions, "(c.method = ? AND c.value = ?)")
		args = append(args, string(canal.Method), canal.Value)
	}

	query := `SELECT DISTINCT c.value FROM canals c
		JOIN suggests s ON s.uuid = c.suggest_uuid
		WHERE s.spread_uuid = ?
		AND (` + strings.Join(conditions, " OR ") + `)
		AND EXISTS (
			SELECT 1 FROM coupons cp
			WHERE cp.suggest_uuid = s.uuid
		)
		ORDER BY c.value`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate canals: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan canal value: %w", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating canal values: %w", err)
	}
	return values, nil
}

// ListSuggestsBySpread returns the suggests on one spread, newest first.
func (q queries) ListSuggestsBySpread(ctx context.Context, spreadUUID string) ([]models.Suggest, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT uuid, spread_uuid, user_id, rating, description, created_at
		FROM suggests WHERE spread_uuid = ? ORDER BY created_at DESC, uuid`, spreadUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggests: %w", err)
	}
	defer rows.Close()

	var suggests []models.Suggest
	for rows.Next() {
		var suggest models.Suggest
		var createdAt string

		if err := rows.Scan(&suggest.UUID, &suggest.SpreadUUID, &suggest.UserID,
			&suggest.Rating, &suggest.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan suggest: %w", err)
		}
		if suggest.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		suggests = append(suggests, suggest)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suggests: %w", err)
	}
	return suggests, nil
}
