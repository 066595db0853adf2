package models

import "time"

// SourceKind identifies what a Spread or Reward hangs off: a product
// fragment or a broadcast campaign.
type SourceKind string

const (
	SourceFragment  SourceKind = "fragment"
	SourceBroadcast SourceKind = "broadcast"
)

// Valid reports whether the kind is one of the known source kinds.
func (k SourceKind) Valid() bool {
	return k == SourceFragment || k == SourceBroadcast
}

// Method is a contact channel method for a Canal or Target.
type Method string

const (
	MethodPhone    Method = "phone"
	MethodWhatsApp Method = "whatsapp"
	MethodTelegram Method = "telegram"
	MethodEmail    Method = "email"
)

// Methods lists every supported contact method.
var Methods = []Method{MethodPhone, MethodWhatsApp, MethodTelegram, MethodEmail}

// Valid reports whether the method is one of the supported channels.
func (m Method) Valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// RewardType classifies what a reward grants.
type RewardType string

const (
	RewardGift     RewardType = "gift"
	RewardCashback RewardType = "cashback"
	RewardDiscount RewardType = "discount"
)

// SourceRef is the tagged variant pointing at a Spread's or Reward's source
// resource.
type SourceRef struct {
	Kind SourceKind `json:"kind"`
	UUID string     `json:"uuid"`
}

// Fragment is a shareable slice of a product.
type Fragment struct {
	UUID      string    `json:"uuid"`
	Label     string    `json:"label"`
	Product   string    `json:"product"`
	CreatedAt time.Time `json:"created_at"`
}

// Broadcast is a merchant messaging campaign that can also carry spreads and
// rewards of its own.
type Broadcast struct {
	UUID      string    `json:"uuid"`
	Label     string    `json:"label"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Spread is a distributable referral surface. Allocation 0 means unlimited.
// TotalSuggest is derived from a live count, never stored.
type Spread struct {
	UUID         string     `json:"uuid"`
	Identifier   string     `json:"identifier"`
	Source       SourceRef  `json:"source"`
	Allocation   int64      `json:"allocation"`
	StartAt      time.Time  `json:"start_at"`
	ExpiryAt     *time.Time `json:"expiry_at,omitempty"`
	URL          string     `json:"url"`
	TotalSuggest int64      `json:"total_suggest"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Reward is a capped, time-boxed grant attached to a source resource.
// Allocation 0 means unlimited coupons.
type Reward struct {
	UUID        string     `json:"uuid"`
	Source      SourceRef  `json:"source"`
	Provider    string     `json:"provider"`
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Term        string     `json:"term,omitempty"`
	Allocation  int64      `json:"allocation"`
	StartAt     time.Time  `json:"start_at"`
	ExpiryAt    time.Time  `json:"expiry_at"`
	Type        RewardType `json:"type"`
	Amount      string     `json:"amount"`
	UnitSlug    string     `json:"unit_slug"`
	UnitLabel   string     `json:"unit_label"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Suggest is a single referral submission against a Spread. UserID is empty
// for anonymous submitters.
type Suggest struct {
	UUID        string    `json:"uuid"`
	SpreadUUID  string    `json:"spread_uuid"`
	UserID      string    `json:"user_id,omitempty"`
	Rating      int       `json:"rating"`
	Description string    `json:"description"`
	Canals      []Canal   `json:"canals,omitempty"`
	Coupons     []Coupon  `json:"coupons,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Canal is one contact channel attached to a Suggest.
type Canal struct {
	UUID        string    `json:"uuid"`
	SuggestUUID string    `json:"suggest_uuid"`
	Method      Method    `json:"method"`
	Value       string    `json:"value"`
	CreatedAt   time.Time `json:"created_at"`
}

// Coupon is an issued claim on a Reward, earned by a Suggest. IsActive flips
// true once the submitter's channel is verified; IsUsed flips true exactly
// once when the coupon is taken.
type Coupon struct {
	UUID        string    `json:"uuid"`
	SuggestUUID string    `json:"suggest_uuid"`
	RewardUUID  string    `json:"reward_uuid"`
	Identifier  string    `json:"identifier"`
	IsActive    bool      `json:"is_active"`
	IsUsed      bool      `json:"is_used"`
	CreatedAt   time.Time `json:"created_at"`
}

// Redeem is a merchant's claim to fulfill a Coupon; at most one per coupon.
type Redeem struct {
	UUID       string    `json:"uuid"`
	CouponUUID string    `json:"coupon_uuid"`
	UserID     string    `json:"user_id"`
	Note       string    `json:"note,omitempty"`
	IsTaken    bool      `json:"is_taken"`
	CreatedAt  time.Time `json:"created_at"`
}

// Taken is the fulfillment record that permanently consumes a Coupon.
type Taken struct {
	UUID       string    `json:"uuid"`
	RedeemUUID string    `json:"redeem_uuid"`
	ActorID    string    `json:"actor_id"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Target is a priced (broadcast, suggest, channel) triple. Moment groups
// targets created in one batch so they can be ordered together.
type Target struct {
	UUID          string    `json:"uuid"`
	BroadcastUUID string    `json:"broadcast_uuid"`
	SuggestUUID   string    `json:"suggest_uuid"`
	Moment        int64     `json:"moment"`
	Method        Method    `json:"method"`
	Value         string    `json:"value"`
	Price         int64     `json:"price"`
	CreatedAt     time.Time `json:"created_at"`
}

// Order bundles targets with a frozen price snapshot per item.
type Order struct {
	UUID          string      `json:"uuid"`
	Identifier    string      `json:"identifier"`
	UserID        string      `json:"user_id"`
	BroadcastUUID string      `json:"broadcast_uuid"`
	Metas         []OrderMeta `json:"metas,omitempty"`
	Items         []OrderItem `json:"items,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// OrderMeta is a key/value row attached to an Order.
type OrderMeta struct {
	MetaKey   string `json:"meta_key"`
	MetaValue string `json:"meta_value"`
}

// OrderItem snapshots price, method and value from its Target at creation
// time; later price-table or target changes never touch it.
type OrderItem struct {
	UUID       string    `json:"uuid"`
	OrderUUID  string    `json:"order_uuid"`
	TargetUUID string    `json:"target_uuid"`
	Price      int64     `json:"price"`
	Method     Method    `json:"method"`
	Value      string    `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
}

// SubmitSuggestRequest is the payload for submitting a referral.
type SubmitSuggestRequest struct {
	SpreadIdentifier string       `json:"spread"`
	UserID           string       `json:"-"`
	Rating           int          `json:"rating"`
	Description      string       `json:"description"`
	Canals           []CanalInput `json:"canals"`
}

// CanalInput is one submitted contact channel.
type CanalInput struct {
	Method Method `json:"method"`
	Value  string `json:"value"`
}

// SuggestResult is the outcome of a submission. Degraded carries the reward
// UUIDs that could not be issued; the suggest itself is still persisted.
type SuggestResult struct {
	Suggest  Suggest  `json:"suggest"`
	Coupons  []Coupon `json:"coupons"`
	Degraded []string `json:"degraded_rewards,omitempty"`
}

// CreateSpreadRequest is the payload for creating a spread.
type CreateSpreadRequest struct {
	Source     SourceRef  `json:"source"`
	Allocation int64      `json:"allocation"`
	ExpiryAt   *time.Time `json:"expiry_at,omitempty"`
}

// CreateRewardRequest is the payload for attaching a reward to a source.
type CreateRewardRequest struct {
	Source      SourceRef  `json:"source"`
	Provider    string     `json:"provider"`
	Label       string     `json:"label"`
	Description string     `json:"description"`
	Term        string     `json:"term"`
	Allocation  int64      `json:"allocation"`
	StartAt     time.Time  `json:"start_at"`
	ExpiryAt    time.Time  `json:"expiry_at"`
	Type        RewardType `json:"type"`
	Amount      string     `json:"amount"`
	UnitSlug    string     `json:"unit_slug"`
	UnitLabel   string     `json:"unit_label"`
}

// BuildTargetsRequest selects suggests for a broadcast on one channel method.
type BuildTargetsRequest struct {
	BroadcastUUID string   `json:"broadcast_uuid"`
	SuggestUUIDs  []string `json:"suggest_uuids"`
	Method        Method   `json:"method"`
}

// CreateOrderRequest bundles targets into an order.
type CreateOrderRequest struct {
	UserID        string      `json:"-"`
	BroadcastUUID string      `json:"broadcast_uuid"`
	TargetUUIDs   []string    `json:"target_uuids"`
	Metas         []OrderMeta `json:"metas,omitempty"`
}

// ErrorResponse is the error envelope returned by the API.
type ErrorResponse struct {
	Error string `json:"error"`
}
