package database

import (
	"context"
	"fmt"

	"referral-rewards-api/internal/models"
)

// InsertTarget stores one priced target.
func (q queries) InsertTarget(ctx context.Context, target models.Target) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO targets (
			uuid, broadcast_uuid, suggest_uuid, moment, method, value, price, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		target.UUID,
		target.BroadcastUUID,
		target.SuggestUUID,
		target.Moment,
		string(target.Method),
		target.Value,
		target.Price,
		formatTime(target.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert target: %w", err)
	}
	return nil
}

const targetColumns = `uuid, broadcast_uuid, suggest_uuid, moment, method,
	value, price, created_at`

func scanTarget(scan func(dest ...interface{}) error) (*models.Target, error) {
	var target models.Target
	var method, createdAt string

	err := scan(
		&target.UUID,
		&target.BroadcastUUID,
		&target.SuggestUUID,
		&target.Moment,
		&method,
		&target.Value,
		&target.Price,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	target.Method = models.Method(method)
	if target.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &target, nil
}

// GetTarget returns one target by uuid.
func (q queries) GetTarget(ctx context.Context, uuid string) (*models.Target, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE uuid = ?`, uuid)
	return scanTarget(row.Scan)
}

// ListTargetsByBroadcast returns a broadcast's targets, newest batch first.
func (q queries) ListTargetsByBroadcast(ctx context.Context, broadcastUUID string) ([]models.Target, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets
		WHERE broadcast_uuid = ? ORDER BY moment DESC, created_at, uuid`, broadcastUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var targets []models.Target
	for rows.Next() {
		target, err := scanTarget(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, *target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating targets: %w", err)
	}
	return targets, nil
}

// InsertOrder stores an order header.
func (q queries) InsertOrder(ctx context.Context, order models.Order) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO orders (uuid, identifier, user_id, broadcast_uuid, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		order.UUID,
		order.Identifier,
		order.UserID,
		order.BroadcastUUID,
		formatTime(order.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// OrderIdentifierExists reports whether an order already uses the identifier.
func (q queries) OrderIdentifierExists(ctx context.Context, identifier string) (bool, error) {
	var one int
	err := q.q.QueryRowContext(ctx,
		`SELECT 1 FROM orders WHERE identifier = ?`, identifier,
	).Scan(&one)
	if err == ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check order identifier: %w", err)
	}
	return true, nil
}

// InsertOrderMetas stores the key/value rows of one order.
func (q queries) InsertOrderMetas(ctx context.Context, orderUUID string, metas []models.OrderMeta) error {
	for _, meta := range metas {
		_, err := q.q.ExecContext(ctx,
			`INSERT INTO order_metas (order_uuid, meta_key, meta_value) VALUES (?, ?, ?)`,
			orderUUID, meta.MetaKey, meta.MetaValue,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order meta %s: %w", meta.MetaKey, err)
		}
	}
	return nil
}

// InsertOrderItem stores one frozen order item.
func (q queries) InsertOrderItem(ctx context.Context, item models.OrderItem) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO order_items (
			uuid, order_uuid, target_uuid, price, method, value, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.UUID,
		item.OrderUUID,
		item.TargetUUID,
		item.Price,
		string(item.Method),
		item.Value,
		formatTime(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order item: %w", err)
	}
	return nil
}

// GetOrder returns one order with its metas and items.
func (q queries) GetOrder(ctx context.Context, uuid string) (*models.Order, error) {
	var order models.Order
	var createdAt string

	err := q.q.QueryRowContext(ctx,
		`SELECT uuid, identifier, user_id, broadcast_uuid, created_at
		FROM orders WHERE uuid = ?`, uuid,
	).Scan(&order.UUID, &order.Identifier, &order.UserID, &order.BroadcastUUID, &createdAt)
	if err != nil {
		return nil, err
	}
	if order.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	metaRows, err := q.q.QueryContext(ctx,
		`SELECT meta_key, meta_value FROM order_metas WHERE order_uuid = ? ORDER BY id`, uuid)
	if err != nil {
		return nil, fmt.Errorf("failed to query order metas: %w", err)
	}
	defer metaRows.Close()

	for metaRows.Next() {
		var meta models.OrderMeta
		if err := metaRows.Scan(&meta.MetaKey, &meta.MetaValue); err != nil {
			return nil, fmt.Errorf("failed to scan order meta: %w", err)
		}
		order.Metas = append(order.Metas, meta)
	}
	if err := metaRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order metas: %w", err)
	}

	items, err := q.ListOrderItems(ctx, uuid)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

// ListOrderItems returns the items of one order.
func (q queries) ListOrderItems(ctx context.Context, orderUUID string) ([]models.OrderItem, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT uuid, order_uuid, target_uuid, price, method, value, created_at
		FROM order_items WHERE order_uuid = ? ORDER BY created_at, uuid`, orderUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		var method, createdAt string

		if err := rows.Scan(&item.UUID, &item.OrderUUID, &item.TargetUUID,
			&item.Price, &method, &item.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		item.Method = models.Method(method)
		if item.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}
	return items, nil
}
