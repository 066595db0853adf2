package events

import (
	"context"
	"sync"
	"time"

	"referral-rewards-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventSuggestAccepted is emitted when a referral passes the ledger checks
	EventSuggestAccepted EventType = "suggest.accepted"
	// EventCouponIssued is emitted for each batch of coupons issued to a suggest
	EventCouponIssued EventType = "coupon.issued"
	// EventCouponRedeemed is emitted when a merchant claims a coupon
	EventCouponRedeemed EventType = "coupon.redeemed"
	// EventCouponTaken is emitted when a coupon is permanently consumed
	EventCouponTaken EventType = "coupon.taken"
	// EventTargetsCreated is emitted when a broadcast target batch is built
	EventTargetsCreated EventType = "targets.created"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// SuggestAcceptedData contains data for suggest accepted events.
type SuggestAcceptedData struct {
	Suggest models.Suggest
}

// CouponIssuedData contains data for coupon issued events.
type CouponIssuedData struct {
	Suggest models.Suggest
	Coupons []models.Coupon
}

// CouponRedeemedData contains data for coupon redeemed events.
type CouponRedeemedData struct {
	Redeem models.Redeem
}

// CouponTakenData contains data for coupon taken events.
type CouponTakenData struct {
	Taken  models.Taken
	Coupon models.Coupon
}

// TargetsCreatedData contains data for target batch events.
type TargetsCreatedData struct {
	BroadcastUUID string
	Targets       []models.Target
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing. Handlers run on their
// own goroutines so publishing after a commit never blocks the request.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// handlers outlive the request; keep its values but not its cancellation
	ctx = context.WithoutCancel(ctx)

	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(ctx, event); err != nil {
				// delivery failures are invisible to the ledger
				_ = err
			}
		}(handler)
	}
}

// PublishSuggestAccepted publishes a suggest accepted event.
func (m *Manager) PublishSuggestAccepted(ctx context.Context, suggest models.Suggest) {
	m.Publish(ctx, EventSuggestAccepted, SuggestAcceptedData{Suggest: suggest})
}

// PublishCouponIssued publishes a coupon issued event.
func (m *Manager) PublishCouponIssued(ctx context.Context, suggest models.Suggest, coupons []models.Coupon) {
	m.Publish(ctx, EventCouponIssued, CouponIssuedData{Suggest: suggest, Coupons: coupons})
}

// PublishCouponRedeemed publishes a coupon redeemed event.
func (m *Manager) PublishCouponRedeemed(ctx context.Context, redeem models.Redeem) {
	m.Publish(ctx, EventCouponRedeemed, CouponRedeemedData{Redeem: redeem})
}

// PublishCouponTaken publishes a coupon taken event.
func (m *Manager) PublishCouponTaken(ctx context.Context, taken models.Taken, coupon models.Coupon) {
	m.Publish(ctx, EventCouponTaken, CouponTakenData{Taken: taken, Coupon: coupon})
}

// PublishTargetsCreated publishes a target batch event.
func (m *Manager) PublishTargetsCreated(ctx context.Context, broadcastUUID string, targets []models.Target) {
	m.Publish(ctx, EventTargetsCreated, TargetsCreatedData{
		BroadcastUUID: broadcastUUID,
		Targets:       targets,
	})
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}
