package database

import (
	"context"
	"fmt"

	"referral-rewards-api/internal/models"
)

const couponColumns = `uuid, suggest_uuid, reward_uuid, identifier,
	is_active, is_used, created_at`

func scanCoupon(scan func(dest ...interface{}) error) (*models.Coupon, error) {
	var coupon models.Coupon
	var createdAt string

	err := scan(
		&coupon.UUID,
		&coupon.SuggestUUID,
		&coupon.RewardUUID,
		&coupon.Identifier,
		&coupon.IsActive,
		&coupon.IsUsed,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if coupon.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &coupon, nil
}

// InsertCoupon stores one issued coupon.
func (q queries) InsertCoupon(ctx context.Context, coupon models.Coupon) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO coupons (
			uuid, suggest_uuid, reward_uuid, identifier, is_active, is_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		coupon.UUID,
		coupon.SuggestUUID,
		coupon.RewardUUID,
		coupon.Identifier,
		coupon.IsActive,
		coupon.IsUsed,
		formatTime(coupon.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert coupon: %w", err)
	}
	return nil
}

// CouponIdentifierExists reports whether a coupon already uses the identifier.
func (q queries) CouponIdentifierExists(ctx context.Context, identifier string) (bool, error) {
	var one int
	err := q.q.QueryRowContext(ctx,
		`SELECT 1 FROM coupons WHERE identifier = ?`, identifier,
	).Scan(&one)
	if err == ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check coupon identifier: %w", err)
	}
	return true, nil
}

// GetCouponByIdentifier returns one coupon by its short identifier.
func (q queries) GetCouponByIdentifier(ctx context.Context, identifier string) (*models.Coupon, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE identifier = ?`, identifier)
	return scanCoupon(row.Scan)
}

// GetCoupon returns one coupon by uuid.
func (q queries) GetCoupon(ctx context.Context, uuid string) (*models.Coupon, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE uuid = ?`, uuid)
	return scanCoupon(row.Scan)
}

// ListCouponsBySuggest returns the coupons a suggest earned.
func (q queries) ListCouponsBySuggest(ctx context.Context, suggestUUID string) ([]models.Coupon, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+couponColumns+` FROM coupons
		WHERE suggest_uuid = ? ORDER BY created_at, uuid`, suggestUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query coupons: %w", err)
	}
	defer rows.Close()

	var coupons []models.Coupon
	for rows.Next() {
		coupon, err := scanCoupon(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coupon: %w", err)
		}
		coupons = append(coupons, *coupon)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating coupons: %w", err)
	}
	return coupons, nil
}

// ActivateCouponsForUser flips is_active on every unconsumed coupon earned by
// the user's suggests that carry the now-verified channel.
func (q queries) ActivateCouponsForUser(ctx context.Context, userID string, method models.Method, value string) (int64, error) {
	result, err := q.q.ExecContext(ctx,
		`UPDATE coupons SET is_active = 1
		WHERE is_active = 0 AND is_used = 0
		AND suggest_uuid IN (
			SELECT s.uuid FROM suggests s
			JOIN canals c ON c.suggest_uuid = s.uuid
			WHERE s.user_id = ? AND c.method = ? AND c.value = ?
		)`,
		userID, string(method), value,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to activate coupons: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}

// MarkCouponUsed flips is_used exactly once; the WHERE clause refuses a
// second flip so the caller can detect a lost race.
func (q queries) MarkCouponUsed(ctx context.Context, couponUUID string) (bool, error) {
	result, err := q.q.ExecContext(ctx,
		`UPDATE coupons SET is_used = 1 WHERE uuid = ? AND is_used = 0`, couponUUID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark coupon used: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}
