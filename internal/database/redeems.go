package database

import (
	"context"
	"fmt"

	"referral-rewards-api/internal/models"
)

// InsertRedeem stores a merchant's claim on a coupon. The unique constraint
// on coupon_uuid enforces one redeem per coupon; callers treat a unique
// violation as "already redeemed" and re-read the existing row.
func (q queries) InsertRedeem(ctx context.Context, redeem models.Redeem) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO redeems (uuid, coupon_uuid, user_id, note, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		redeem.UUID,
		redeem.CouponUUID,
		redeem.UserID,
		redeem.Note,
		formatTime(redeem.CreatedAt),
	)
	if err != nil {
		return err
	}
	return nil
}

const redeemColumns = `r.uuid, r.coupon_uuid, r.user_id, r.note, r.created_at,
	EXISTS (SELECT 1 FROM takens t WHERE t.redeem_uuid = r.uuid)`

func scanRedeem(scan func(dest ...interface{}) error) (*models.Redeem, error) {
	var redeem models.Redeem
	var createdAt string

	err := scan(
		&redeem.UUID,
		&redeem.CouponUUID,
		&redeem.UserID,
		&redeem.Note,
		&createdAt,
		&redeem.IsTaken,
	)
	if err != nil {
		return nil, err
	}

	if redeem.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &redeem, nil
}

// GetRedeem returns one redeem by uuid.
func (q queries) GetRedeem(ctx context.Context, uuid string) (*models.Redeem, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+redeemColumns+` FROM redeems r WHERE r.uuid = ?`, uuid)
	return scanRedeem(row.Scan)
}

// GetRedeemByCoupon returns the redeem holding a coupon, if any.
func (q queries) GetRedeemByCoupon(ctx context.Context, couponUUID string) (*models.Redeem, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+redeemColumns+` FROM redeems r WHERE r.coupon_uuid = ?`, couponUUID)
	return scanRedeem(row.Scan)
}

// ListRedeems returns every redeem, newest first, with its taken flag.
func (q queries) ListRedeems(ctx context.Context) ([]models.Redeem, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+redeemColumns+` FROM redeems r ORDER BY r.created_at DESC, r.uuid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query redeems: %w", err)
	}
	defer rows.Close()

	var redeems []models.Redeem
	for rows.Next() {
		redeem, err := scanRedeem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan redeem: %w", err)
		}
		redeems = append(redeems, *redeem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating redeems: %w", err)
	}
	return redeems, nil
}

// InsertTaken stores one fulfillment record.
func (q queries) InsertTaken(ctx context.Context, taken models.Taken) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO takens (uuid, redeem_uuid, actor_id, note, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		taken.UUID,
		taken.RedeemUUID,
		taken.ActorID,
		taken.Note,
		formatTime(taken.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert taken: %w", err)
	}
	return nil
}
