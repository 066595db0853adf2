// Package notify is the outbound-message collaborator contract. Dispatch is
// fire-and-forget: the ledger never waits on delivery and never observes
// failures, so a down SMS gateway cannot roll back a referral.
package notify

import (
	"context"
	"log"

	"referral-rewards-api/internal/models"
)

// Message is one outbound notification.
type Message struct {
	Method models.Method
	To     string
	Body   string
}

// Dispatcher sends messages to a contact channel. Implementations must not
// block the caller on network I/O.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message)
}

// LogDispatcher records outbound messages on the process log. It stands in
// for the SMS/email gateway, which is outside this service.
type LogDispatcher struct{}

// Dispatch logs the message.
func (LogDispatcher) Dispatch(ctx context.Context, msg Message) {
	log.Printf("notify: %s -> %s: %s", msg.Method, msg.To, msg.Body)
}

// NopDispatcher drops every message; used in tests.
type NopDispatcher struct{}

// Dispatch does nothing.
func (NopDispatcher) Dispatch(ctx context.Context, msg Message) {}
