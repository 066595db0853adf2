package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"referral-rewards-api/internal/cache"
	"referral-rewards-api/internal/database"
	"referral-rewards-api/internal/events"
	"referral-rewards-api/internal/identifier"
	"referral-rewards-api/internal/models"
	"referral-rewards-api/internal/pricing"
	"referral-rewards-api/internal/tracing"
	"referral-rewards-api/internal/validation"
	"referral-rewards-api/internal/verify"
)

const spreadCacheTTL = 5 * time.Minute

// Service implements the referral and redemption ledger.
type Service struct {
	db       *database.DB
	verifier verify.Verifier
	events   *events.Manager
	prices   *pricing.Table
	cache    cache.Cache

	spreadIDs *identifier.Generator
	couponIDs *identifier.Generator
	orderIDs  *identifier.Generator

	protocol string
	domain   string

	now func() time.Time
}

// Options configures a Service. Zero values pick sensible defaults.
type Options struct {
	Verifier         verify.Verifier
	Events           *events.Manager
	Prices           *pricing.Table
	Cache            cache.Cache
	SpreadIDLength   int
	Protocol, Domain string
	Now              func() time.Time
}

// NewService creates a new service instance.
func NewService(db *database.DB, opts Options) *Service {
	if opts.Verifier == nil {
		opts.Verifier = verify.NewStoreVerifier(db)
	}
	if opts.Events == nil {
		opts.Events = events.NewManager(false)
	}
	if opts.Prices == nil {
		opts.Prices = pricing.NewTable(nil)
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewInMemoryCache()
	}
	if opts.Protocol == "" {
		opts.Protocol = "https"
	}
	if opts.Domain == "" {
		opts.Domain = "kirimsaran.com"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		db:        db,
		verifier:  opts.Verifier,
		events:    opts.Events,
		prices:    opts.Prices,
		cache:     opts.Cache,
		spreadIDs: identifier.New(opts.SpreadIDLength),
		couponIDs: identifier.New(identifier.DefaultLength),
		orderIDs:  identifier.New(identifier.DefaultLength),
		protocol:  opts.Protocol,
		domain:    opts.Domain,
		now:       opts.Now,
	}
}

// SubmitSuggest accepts one referral submission.
//
// The acceptance checks (window, allocation, channel dedup) and the
// suggest+canal inserts run in a single write transaction; nothing is
// persisted when any check fails. Coupon issuance runs afterwards in its own
// transaction so an issuance failure degrades the result instead of rolling
// back the accepted suggest.
func (s *Service) SubmitSuggest(ctx context.Context, req models.SubmitSuggestRequest) (*models.SuggestResult, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service.SubmitSuggest")
	defer span.End()

	if err := validation.ValidateSubmitSuggest(req); err != nil {
		return nil, err
	}
	for i := range req.Canals {
		req.Canals[i].Value = validation.SanitizeString(req.Canals[i].Value)
	}

	now := s.now()
	var suggest models.Suggest
	var spread *models.Spread

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		sp, err := tx.GetSpreadByIdentifier(ctx, req.SpreadIdentifier)
		if err == database.ErrNoRows {
			return &NotFoundError{Kind: "spread", Key: req.SpreadIdentifier}
		}
		if err != nil {
			return fmt.Errorf("failed to load spread: %w", err)
		}

		if now.Before(sp.StartAt) {
			return &NotStartedError{Identifier: sp.Identifier, StartAt: sp.StartAt}
		}
		if sp.ExpiryAt != nil && now.After(*sp.ExpiryAt) {
			return &ExpiredError{Identifier: sp.Identifier, ExpiryAt: *sp.ExpiryAt}
		}

		// live count; same transaction as the insert below
		total, err := tx.CountSuggests(ctx, sp.UUID)
		if err != nil {
			return err
		}
		if sp.Allocation != 0 && total >= sp.Allocation {
			return &AllocationExhaustedError{Identifier: sp.Identifier, Allocation: sp.Allocation}
		}

		hasRewards, err := tx.SourceHasRewards(ctx, sp.Source)
		if err != nil {
			return err
		}
		if hasRewards {
			duplicates, err := tx.FindDuplicateCanalValues(ctx, sp.UUID, req.Canals)
			if err != nil {
				return err
			}
			if len(duplicates) > 0 {
				return &DuplicateChannelError{Values: duplicates}
			}
		}

		suggest = models.Suggest{
			UUID:        uuid.New().String(),
			SpreadUUID:  sp.UUID,
			UserID:      req.UserID,
			Rating:      req.Rating,
			Description: req.Description,
			CreatedAt:   now,
		}
		if err := tx.InsertSuggest(ctx, suggest); err != nil {
			return err
		}

		canals := make([]models.Canal, 0, len(req.Canals))
		for _, in := range req.Canals {
			canals = append(canals, models.Canal{
				UUID:        uuid.New().String(),
				SuggestUUID: suggest.UUID,
				Method:      in.Method,
				Value:       in.Value,
				CreatedAt:   now,
			})
		}
		if err := tx.InsertCanals(ctx, canals); err != nil {
			return err
		}
		suggest.Canals = canals

		spread = sp
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishSuggestAccepted(ctx, suggest)

	result := &models.SuggestResult{Suggest: suggest}

	coupons, degraded, err := s.issueCoupons(ctx, spread, suggest)
	if err != nil {
		log.Printf("suggest %s: degraded coupon issuance: %v", suggest.UUID, err)
		result.Degraded = degraded
		return result, &IssuanceDegradedError{
			SuggestUUID: suggest.UUID,
			RewardUUIDs: degraded,
			Err:         err,
		}
	}

	result.Coupons = coupons
	result.Suggest.Coupons = coupons
	if len(coupons) > 0 {
		s.events.PublishCouponIssued(ctx, suggest, coupons)
	}
	return result, nil
}

// issueCoupons creates one coupon per reward still active at the suggest's
// creation instant. It returns the reward UUIDs of the batch when the
// transaction fails so the caller can report them.
func (s *Service) issueCoupons(ctx context.Context, spread *models.Spread, suggest models.Suggest) ([]models.Coupon, []string, error) {
	// verification state is read outside the issuance transaction; the
	// store holds a single write connection
	isActive, err := s.submitterVerified(ctx, suggest)
	if err != nil {
		log.Printf("suggest %s: verification lookup failed, issuing inactive coupons: %v", suggest.UUID, err)
		isActive = false
	}

	var coupons []models.Coupon
	var attempted []string

	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		rewards, err := tx.ListActiveRewards(ctx, spread.Source, suggest.CreatedAt)
		if err != nil {
			return err
		}

		for _, reward := range rewards {
			attempted = append(attempted, reward.UUID)

			code, err := s.couponIDs.Generate(ctx, tx.CouponIdentifierExists)
			if err != nil {
				return err
			}

			coupon := models.Coupon{
				UUID:        uuid.New().String(),
				SuggestUUID: suggest.UUID,
				RewardUUID:  reward.UUID,
				Identifier:  code,
				IsActive:    isActive,
				IsUsed:      false,
				CreatedAt:   suggest.CreatedAt,
			}
			if err := tx.InsertCoupon(ctx, coupon); err != nil {
				return err
			}
			coupons = append(coupons, coupon)
		}
		return nil
	})
	if err != nil {
		return nil, attempted, err
	}
	return coupons, nil, nil
}

// submitterVerified reports whether the suggest's user has previously
// verified at least one of the submitted channels.
func (s *Service) submitterVerified(ctx context.Context, suggest models.Suggest) (bool, error) {
	if suggest.UserID == "" {
		return false, nil
	}
	for _, canal := range suggest.Canals {
		verified, err := s.verifier.IsVerified(ctx, suggest.UserID, canal.Method, canal.Value)
		if err != nil {
			return false, err
		}
		if verified {
			return true, nil
		}
	}
	return false, nil
}

// RedeemCoupon is the merchant's claim on a coupon. It is get-or-create
// keyed by the coupon: a second call returns the first redeem, never a
// duplicate row.
func (s *Service) RedeemCoupon(ctx context.Context, couponIdentifier, userID, note string) (*models.Redeem, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service.RedeemCoupon")
	defer span.End()

	if err := validation.ValidateIdentifier(couponIdentifier, "coupon"); err != nil {
		return nil, err
	}

	var redeem *models.Redeem
	var created bool

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		coupon, err := tx.GetCouponByIdentifier(ctx, couponIdentifier)
		if err == database.ErrNoRows {
			return &NotFoundError{Kind: "coupon", Key: couponIdentifier}
		}
		if err != nil {
			return fmt.Errorf("failed to load coupon: %w", err)
		}

		if coupon.IsUsed {
			return &AlreadyUsedError{Identifier: coupon.Identifier}
		}
		if !coupon.IsActive {
			return ErrCouponInactive
		}

		existing, err := tx.GetRedeemByCoupon(ctx, coupon.UUID)
		if err == nil {
			redeem = existing
			return nil
		}
		if err != database.ErrNoRows {
			return fmt.Errorf("failed to load redeem: %w", err)
		}

		fresh := models.Redeem{
			UUID:       uuid.New().String(),
			CouponUUID: coupon.UUID,
			UserID:     userID,
			Note:       note,
			CreatedAt:  s.now(),
		}
		if err := tx.InsertRedeem(ctx, fresh); err != nil {
			if database.IsUniqueViolation(err) {
				existing, err := tx.GetRedeemByCoupon(ctx, coupon.UUID)
				if err != nil {
					return fmt.Errorf("failed to load redeem after conflict: %w", err)
				}
				redeem = existing
				return nil
			}
			return fmt.Errorf("failed to insert redeem: %w", err)
		}

		redeem = &fresh
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.events.PublishCouponRedeemed(ctx, *redeem)
	}
	return redeem, nil
}

// TakeCoupon consumes a redeemed coupon exactly once. The is_used check and
// flip share one write transaction; a second taker gets AlreadyUsedError and
// no row.
func (s *Service) TakeCoupon(ctx context.Context, redeemUUID, actorID, note string) (*models.Taken, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service.TakeCoupon")
	defer span.End()

	if err := validation.ValidateUUID(redeemUUID, "redeem"); err != nil {
		return nil, err
	}

	var taken models.Taken
	var coupon *models.Coupon

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		redeem, err := tx.GetRedeem(ctx, redeemUUID)
		if err == database.ErrNoRows {
			return &NotFoundError{Kind: "redeem", Key: redeemUUID}
		}
		if err != nil {
			return fmt.Errorf("failed to load redeem: %w", err)
		}

		coupon, err = tx.GetCoupon(ctx, redeem.CouponUUID)
		if err != nil {
			return fmt.Errorf("failed to load coupon: %w", err)
		}
		if coupon.IsUsed {
			return &AlreadyUsedError{Identifier: coupon.Identifier}
		}

		flipped, err := tx.MarkCouponUsed(ctx, coupon.UUID)
		if err != nil {
			return err
		}
		if !flipped {
			return &AlreadyUsedError{Identifier: coupon.Identifier}
		}
		coupon.IsUsed = true

		taken = models.Taken{
			UUID:       uuid.New().String(),
			RedeemUUID: redeem.UUID,
			ActorID:    actorID,
			Note:       note,
			CreatedAt:  s.now(),
		}
		return tx.InsertTaken(ctx, taken)
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishCouponTaken(ctx, taken, *coupon)
	return &taken, nil
}

// BuildTargets creates one priced target per selected suggest that actually
// carries a canal for the requested method; suggests without one are
// skipped, not errors. The whole batch shares one moment timestamp.
func (s *Service) BuildTargets(ctx context.Context, req models.BuildTargetsRequest) ([]models.Target, error) {
	if !req.Method.Valid() {
		return nil, &validation.ValidationError{Field: "method", Message: "unknown method"}
	}
	if err := validation.ValidateUUID(req.BroadcastUUID, "broadcast_uuid"); err != nil {
		return nil, err
	}

	now := s.now()
	moment := now.Unix()
	var targets []models.Target

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.GetBroadcast(ctx, req.BroadcastUUID); err != nil {
			if err == database.ErrNoRows {
				return &NotFoundError{Kind: "broadcast", Key: req.BroadcastUUID}
			}
			return fmt.Errorf("failed to load broadcast: %w", err)
		}

		for _, suggestUUID := range req.SuggestUUIDs {
			if _, err := tx.GetSuggest(ctx, suggestUUID); err != nil {
				if err == database.ErrNoRows {
					return &NotFoundError{Kind: "suggest", Key: suggestUUID}
				}
				return fmt.Errorf("failed to load suggest: %w", err)
			}

			canal, err := tx.GetCanalByMethod(ctx, suggestUUID, req.Method)
			if err != nil {
				return err
			}
			if canal == nil {
				// referrer never provided this channel
				continue
			}

			target := models.Target{
				UUID:          uuid.New().String(),
				BroadcastUUID: req.BroadcastUUID,
				SuggestUUID:   suggestUUID,
				Moment:        moment,
				Method:        req.Method,
				Value:         canal.Value,
				Price:         s.prices.Price(req.Method),
				CreatedAt:     now,
			}
			if err := tx.InsertTarget(ctx, target); err != nil {
				return err
			}
			targets = append(targets, target)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(targets) > 0 {
		s.events.PublishTargetsCreated(ctx, req.BroadcastUUID, targets)
	}
	return targets, nil
}

// CreateOrder bundles targets into an order. Each item copies price, method
// and value from its target at creation; later price-table or target edits
// never reprice an existing item.
func (s *Service) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	if err := validation.ValidateUUID(req.BroadcastUUID, "broadcast_uuid"); err != nil {
		return nil, err
	}
	if len(req.TargetUUIDs) == 0 {
		return nil, &validation.ValidationError{Field: "target_uuids", Message: "at least one target is required"}
	}

	now := s.now()
	var order models.Order

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.GetBroadcast(ctx, req.BroadcastUUID); err != nil {
			if err == database.ErrNoRows {
				return &NotFoundError{Kind: "broadcast", Key: req.BroadcastUUID}
			}
			return fmt.Errorf("failed to load broadcast: %w", err)
		}

		code, err := s.orderIDs.Generate(ctx, tx.OrderIdentifierExists)
		if err != nil {
			return err
		}

		order = models.Order{
			UUID:          uuid.New().String(),
			Identifier:    code,
			UserID:        req.UserID,
			BroadcastUUID: req.BroadcastUUID,
			Metas:         req.Metas,
			CreatedAt:     now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.InsertOrderMetas(ctx, order.UUID, req.Metas); err != nil {
			return err
		}

		for _, targetUUID := range req.TargetUUIDs {
			target, err := tx.GetTarget(ctx, targetUUID)
			if err == database.ErrNoRows {
				return &NotFoundError{Kind: "target", Key: targetUUID}
			}
			if err != nil {
				return fmt.Errorf("failed to load target: %w", err)
			}

			item := models.OrderItem{
				UUID:       uuid.New().String(),
				OrderUUID:  order.UUID,
				TargetUUID: target.UUID,
				Price:      target.Price,
				Method:     target.Method,
				Value:      target.Value,
				CreatedAt:  now,
			}
			if err := tx.InsertOrderItem(ctx, item); err != nil {
				return err
			}
			order.Items = append(order.Items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &order, nil
}
