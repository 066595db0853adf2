package database

import (
	"context"
	"fmt"
	"time"

	"referral-rewards-api/internal/models"
)

// InsertReward stores a new reward against a source.
func (q queries) InsertReward(ctx context.Context, reward models.Reward) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO rewards (
			uuid, source_kind, source_uuid, provider, label, description, term,
			allocation, start_at, expiry_at, type, amount, unit_slug, unit_label,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reward.UUID,
		string(reward.Source.Kind),
		reward.Source.UUID,
		reward.Provider,
		reward.Label,
		reward.Description,
		reward.Term,
		reward.Allocation,
		formatTime(reward.StartAt),
		formatTime(reward.ExpiryAt),
		string(reward.Type),
		reward.Amount,
		reward.UnitSlug,
		reward.UnitLabel,
		formatTime(reward.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reward: %w", err)
	}
	return nil
}

const rewardColumns = `uuid, source_kind, source_uuid, provider, label,
	description, term, allocation, start_at, expiry_at, type, amount,
	unit_slug, unit_label, created_at`

func scanReward(scan func(dest ...interface{}) error) (*models.Reward, error) {
	var reward models.Reward
	var kind, rewardType, startAt, expiryAt, createdAt string

	err := scan(
		&reward.UUID,
		&kind,
		&reward.Source.UUID,
		&reward.Provider,
		&reward.Label,
		&reward.Description,
		&reward.Term,
		&reward.Allocation,
		&startAt,
		&expiryAt,
		&rewardType,
		&reward.Amount,
		&reward.UnitSlug,
		&reward.UnitLabel,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	reward.Source.Kind = models.SourceKind(kind)
	reward.Type = models.RewardType(rewardType)

	if reward.StartAt, err = parseTime(startAt); err != nil {
		return nil, fmt.Errorf("failed to parse start_at: %w", err)
	}
	if reward.ExpiryAt, err = parseTime(expiryAt); err != nil {
		return nil, fmt.Errorf("failed to parse expiry_at: %w", err)
	}
	if reward.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &reward, nil
}

// SourceHasRewards reports whether a source has at least one reward defined,
// regardless of its window or allocation. The channel dedup guard is only
// enforced when this is true.
func (q queries) SourceHasRewards(ctx context.Context, source models.SourceRef) (bool, error) {
	var one int
	err := q.q.QueryRowContext(ctx,
		`SELECT 1 FROM rewards WHERE source_kind = ? AND source_uuid = ? LIMIT 1`,
		string(source.Kind), source.UUID,
	).Scan(&one)
	if err == ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check rewards: %w", err)
	}
	return true, nil
}

// ListActiveRewards returns the rewards on a source that can still issue a
// coupon at now: inside their [start_at, expiry_at] window and either
// uncapped or with fewer issued coupons than their allocation.
func (q queries) ListActiveRewards(ctx context.Context, source models.SourceRef, now time.Time) ([]models.Reward, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+rewardColumns+` FROM rewards r
		WHERE r.source_kind = ? AND r.source_uuid = ?
		AND r.start_at <= ? AND r.expiry_at >= ?
		AND (
			r.allocation = 0
			OR (SELECT COUNT(*) FROM coupons c WHERE c.reward_uuid = r.uuid) < r.allocation
		)
		ORDER BY r.created_at, r.uuid`,
		string(source.Kind), source.UUID, formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rewards: %w", err)
	}
	defer rows.Close()

	var rewards []models.Reward
	for rows.Next() {
		reward, err := scanReward(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rewards = append(rewards, *reward)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rewards: %w", err)
	}
	return rewards, nil
}

// ListRewardsBySource returns every reward attached to a source.
func (q queries) ListRewardsBySource(ctx context.Context, source models.SourceRef) ([]models.Reward, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+rewardColumns+` FROM rewards
		WHERE source_kind = ? AND source_uuid = ?
		ORDER BY created_at, uuid`,
		string(source.Kind), source.UUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var rewards []models.Reward
	for rows.Next() {
		reward, err := scanReward(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rewards = append(rewards, *reward)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rewards: %w", err)
	}
	return rewards, nil
}
