package events

import (
	"context"
	"testing"
	"time"

	"referral-rewards-api/internal/models"
)

func TestPublish_DeliversToAllHandlers(t *testing.T) {
	m := NewManager(true)
	defer m.Shutdown()

	received := make(chan Event, 2)
	for i := 0; i < 2; i++ {
		m.Subscribe(EventCouponRedeemed, func(ctx context.Context, event Event) error {
			received <- event
			return nil
		})
	}

	m.PublishCouponRedeemed(context.Background(), models.Redeem{UUID: "redeem-1"})

	for i := 0; i < 2; i++ {
		select {
		case event := <-received:
			data, ok := event.Data.(CouponRedeemedData)
			if !ok {
				t.Fatalf("Expected CouponRedeemedData, got %T", event.Data)
			}
			if data.Redeem.UUID != "redeem-1" {
				t.Errorf("Expected redeem-1, got %s", data.Redeem.UUID)
			}
		case <-time.After(time.Second):
			t.Fatal("Handler never received the event")
		}
	}
}

func TestPublish_HandlerSurvivesCallerCancel(t *testing.T) {
	m := NewManager(true)
	defer m.Shutdown()

	ctxErr := make(chan error, 1)
	m.Subscribe(EventCouponTaken, func(ctx context.Context, event Event) error {
		ctxErr <- ctx.Err()
		return nil
	})

	// the request context is already cancelled when the response is written
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Publish(ctx, EventCouponTaken, CouponTakenData{})

	select {
	case err := <-ctxErr:
		if err != nil {
			t.Fatalf("Expected handler context to outlive the caller, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Handler never ran")
	}
}

func TestPublish_DisabledManagerDropsEvents(t *testing.T) {
	m := NewManager(false)

	m.Subscribe(EventSuggestAccepted, func(ctx context.Context, event Event) error {
		t.Error("Handler should never be registered on a disabled manager")
		return nil
	})

	m.PublishSuggestAccepted(context.Background(), models.Suggest{UUID: "suggest-1"})
	time.Sleep(10 * time.Millisecond)
}
