package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// The ledger error taxonomy. Acceptance-phase errors (NotStarted, Expired,
// AllocationExhausted, DuplicateChannel) abort the whole submission
// transaction; IssuanceDegraded is reported alongside a persisted suggest;
// AlreadyUsed is terminal for the request but leaves state intact.

// NotFoundError reports an unknown spread, coupon, redeem, suggest, target
// or source.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// ExpiredError reports a submission after the spread's expiry.
type ExpiredError struct {
	Identifier string
	ExpiryAt   time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("spread %s expired at %s", e.Identifier, e.ExpiryAt.Format(time.RFC3339))
}

// NotStartedError reports a submission before the spread's window opens.
type NotStartedError struct {
	Identifier string
	StartAt    time.Time
}

func (e *NotStartedError) Error() string {
	return fmt.Sprintf("spread %s not open until %s", e.Identifier, e.StartAt.Format(time.RFC3339))
}

// AllocationExhaustedError reports a submission against a spread whose
// allocation is already fully consumed.
type AllocationExhaustedError struct {
	Identifier string
	Allocation int64
}

func (e *AllocationExhaustedError) Error() string {
	return fmt.Sprintf("spread %s allocation exhausted, max %d suggests", e.Identifier, e.Allocation)
}

// DuplicateChannelError reports that one or more submitted channel values
// already claimed a reward on the same spread.
type DuplicateChannelError struct {
	Values []string
}

func (e *DuplicateChannelError) Error() string {
	return fmt.Sprintf("%s already used to claim a reward on this spread", strings.Join(e.Values, ", "))
}

// AlreadyUsedError reports an attempt to consume a coupon twice.
type AlreadyUsedError struct {
	Identifier string
}

func (e *AlreadyUsedError) Error() string {
	return fmt.Sprintf("coupon %s is already used", e.Identifier)
}

// IssuanceDegradedError reports that the suggest was persisted but one or
// more reward coupons could not be issued.
type IssuanceDegradedError struct {
	SuggestUUID string
	RewardUUIDs []string
	Err         error
}

func (e *IssuanceDegradedError) Error() string {
	return fmt.Sprintf("suggest %s saved but %d reward(s) could not be issued: %v",
		e.SuggestUUID, len(e.RewardUUIDs), e.Err)
}

func (e *IssuanceDegradedError) Unwrap() error {
	return e.Err
}

// ErrCouponInactive is returned when a merchant tries to redeem a coupon
// whose submitter has not verified a channel yet.
var ErrCouponInactive = errors.New("coupon is not active")
