package database

import (
	"context"
	"database/sql"
	"fmt"

	"referral-rewards-api/internal/models"
)

// InsertSpread stores a new spread.
func (q queries) InsertSpread(ctx context.Context, spread models.Spread) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO spreads (
			uuid, identifier, source_kind, source_uuid, allocation,
			start_at, expiry_at, url, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		spread.UUID,
		spread.Identifier,
		string(spread.Source.Kind),
		spread.Source.UUID,
		spread.Allocation,
		formatTime(spread.StartAt),
		formatNullableTime(spread.ExpiryAt),
		spread.URL,
		formatTime(spread.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert spread: %w", err)
	}
	return nil
}

// SpreadIdentifierExists reports whether a spread already uses the identifier.
func (q queries) SpreadIdentifierExists(ctx context.Context, identifier string) (bool, error) {
	var one int
	err := q.q.QueryRowContext(ctx,
		`SELECT 1 FROM spreads WHERE identifier = ?`, identifier,
	).Scan(&one)
	if err == ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check spread identifier: %w", err)
	}
	return true, nil
}

func scanSpread(scan func(dest ...interface{}) error) (*models.Spread, error) {
	var spread models.Spread
	var kind, startAt, createdAt string
	var expiryAt sql.NullString

	err := scan(
		&spread.UUID,
		&spread.Identifier,
		&kind,
		&spread.Source.UUID,
		&spread.Allocation,
		&startAt,
		&expiryAt,
		&spread.URL,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	spread.Source.Kind = models.SourceKind(kind)

	if spread.StartAt, err = parseTime(startAt); err != nil {
		return nil, fmt.Errorf("failed to parse start_at: %w", err)
	}
	if expiryAt.Valid {
		parsed, err := parseTime(expiryAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expiry_at: %w", err)
		}
		spread.ExpiryAt = &parsed
	}
	if spread.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &spread, nil
}

const spreadColumns = `uuid, identifier, source_kind, source_uuid, allocation,
	start_at, expiry_at, url, created_at`

// GetSpreadByIdentifier returns one spread by its short identifier.
func (q queries) GetSpreadByIdentifier(ctx context.Context, identifier string) (*models.Spread, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+spreadColumns+` FROM spreads WHERE identifier = ?`, identifier)
	return scanSpread(row.Scan)
}

// GetSpread returns one spread by uuid.
func (q queries) GetSpread(ctx context.Context, uuid string) (*models.Spread, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+spreadColumns+` FROM spreads WHERE uuid = ?`, uuid)
	return scanSpread(row.Scan)
}

// CountSuggests returns the live number of accepted suggests on a spread.
// Always a fresh aggregate; the allocation check depends on it running in
// the same transaction as the subsequent insert.
func (q queries) CountSuggests(ctx context.Context, spreadUUID string) (int64, error) {
	var count int64
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suggests WHERE spread_uuid = ?`, spreadUUID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count suggests: %w", err)
	}
	return count, nil
}
