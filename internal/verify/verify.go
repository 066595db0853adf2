// Package verify exposes the identity-verification collaborator contract.
// The ledger only consumes the boolean; the OTP/challenge flow that writes
// verified channels lives outside this service.
package verify

import (
	"context"

	"referral-rewards-api/internal/database"
	"referral-rewards-api/internal/models"
)

// Verifier answers "has this user verified this channel value?".
type Verifier interface {
	IsVerified(ctx context.Context, userID string, method models.Method, value string) (bool, error)
}

// StoreVerifier reads verification state from the verified_channels table.
type StoreVerifier struct {
	db *database.DB
}

// NewStoreVerifier creates a verifier backed by the main store.
func NewStoreVerifier(db *database.DB) *StoreVerifier {
	return &StoreVerifier{db: db}
}

// IsVerified reports whether the user proved ownership of the channel.
// Anonymous submitters are never verified.
func (v *StoreVerifier) IsVerified(ctx context.Context, userID string, method models.Method, value string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	return v.db.IsChannelVerified(ctx, userID, method, value)
}

// Static is a fixed-answer verifier for wiring and tests.
type Static bool

// IsVerified returns the configured answer.
func (s Static) IsVerified(ctx context.Context, userID string, method models.Method, value string) (bool, error) {
	return bool(s), nil
}
