package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"referral-rewards-api/internal/cache"
	"referral-rewards-api/internal/database"
	"referral-rewards-api/internal/models"
	"referral-rewards-api/internal/validation"
)

// CreateFragment stores a new product fragment.
func (s *Service) CreateFragment(ctx context.Context, label, product string) (*models.Fragment, error) {
	label = validation.SanitizeString(label)
	if label == "" {
		return nil, &validation.ValidationError{Field: "label", Message: "is required"}
	}

	fragment := models.Fragment{
		UUID:      uuid.New().String(),
		Label:     label,
		Product:   validation.SanitizeString(product),
		CreatedAt: s.now(),
	}
	if err := s.db.InsertFragment(ctx, fragment); err != nil {
		return nil, err
	}
	return &fragment, nil
}

// CreateBroadcast stores a new broadcast campaign.
func (s *Service) CreateBroadcast(ctx context.Context, label, message string) (*models.Broadcast, error) {
	label = validation.SanitizeString(label)
	if label == "" {
		return nil, &validation.ValidationError{Field: "label", Message: "is required"}
	}
	if strings.TrimSpace(message) == "" {
		return nil, &validation.ValidationError{Field: "message", Message: "is required"}
	}

	broadcast := models.Broadcast{
		UUID:      uuid.New().String(),
		Label:     label,
		Message:   message,
		CreatedAt: s.now(),
	}
	if err := s.db.InsertBroadcast(ctx, broadcast); err != nil {
		return nil, err
	}
	return &broadcast, nil
}

// ListFragments returns every fragment.
func (s *Service) ListFragments(ctx context.Context) ([]models.Fragment, error) {
	return s.db.ListFragments(ctx)
}

// ListBroadcasts returns every broadcast.
func (s *Service) ListBroadcasts(ctx context.Context) ([]models.Broadcast, error) {
	return s.db.ListBroadcasts(ctx)
}

// GetFragment returns one fragment.
func (s *Service) GetFragment(ctx context.Context, fragmentUUID string) (*models.Fragment, error) {
	if err := validation.ValidateUUID(fragmentUUID, "uuid"); err != nil {
		return nil, err
	}

	fragment, err := s.db.GetFragment(ctx, fragmentUUID)
	if err == database.ErrNoRows {
		return nil, &NotFoundError{Kind: "fragment", Key: fragmentUUID}
	}
	if err != nil {
		return nil, err
	}
	return fragment, nil
}

// GetBroadcast returns one broadcast.
func (s *Service) GetBroadcast(ctx context.Context, broadcastUUID string) (*models.Broadcast, error) {
	if err := validation.ValidateUUID(broadcastUUID, "uuid"); err != nil {
		return nil, err
	}

	broadcast, err := s.db.GetBroadcast(ctx, broadcastUUID)
	if err == database.ErrNoRows {
		return nil, &NotFoundError{Kind: "broadcast", Key: broadcastUUID}
	}
	if err != nil {
		return nil, err
	}
	return broadcast, nil
}

// CreateSpread mints a spread for a source: short identifier, share URL,
// optional allocation cap and expiry.
func (s *Service) CreateSpread(ctx context.Context, req models.CreateSpreadRequest) (*models.Spread, error) {
	if err := validation.ValidateCreateSpread(req); err != nil {
		return nil, err
	}

	var spread models.Spread
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		exists, err := tx.SourceExists(ctx, req.Source)
		if err != nil {
			return err
		}
		if !exists {
			return &NotFoundError{Kind: string(req.Source.Kind), Key: req.Source.UUID}
		}

		code, err := s.spreadIDs.Generate(ctx, tx.SpreadIdentifierExists)
		if err != nil {
			return err
		}

		now := s.now()
		spread = models.Spread{
			UUID:       uuid.New().String(),
			Identifier: code,
			Source:     req.Source,
			Allocation: req.Allocation,
			StartAt:    now,
			ExpiryAt:   req.ExpiryAt,
			URL:        fmt.Sprintf("%s://%s/%s", s.protocol, s.domain, code),
			CreatedAt:  now,
		}
		return tx.InsertSpread(ctx, spread)
	})
	if err != nil {
		return nil, err
	}
	return &spread, nil
}

// CreateReward attaches a reward to a source.
func (s *Service) CreateReward(ctx context.Context, req models.CreateRewardRequest) (*models.Reward, error) {
	if err := validation.ValidateCreateReward(req); err != nil {
		return nil, err
	}

	var reward models.Reward
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		exists, err := tx.SourceExists(ctx, req.Source)
		if err != nil {
			return err
		}
		if !exists {
			return &NotFoundError{Kind: string(req.Source.Kind), Key: req.Source.UUID}
		}

		reward = models.Reward{
			UUID:        uuid.New().String(),
			Source:      req.Source,
			Provider:    req.Provider,
			Label:       req.Label,
			Description: req.Description,
			Term:        req.Term,
			Allocation:  req.Allocation,
			StartAt:     req.StartAt,
			ExpiryAt:    req.ExpiryAt,
			Type:        req.Type,
			Amount:      req.Amount,
			UnitSlug:    req.UnitSlug,
			UnitLabel:   req.UnitLabel,
			CreatedAt:   s.now(),
		}
		return tx.InsertReward(ctx, reward)
	})
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

// GetSpreadByIdentifier resolves a spread for the public submission page.
// The static fields are cached; the live suggest count is always fresh.
func (s *Service) GetSpreadByIdentifier(ctx context.Context, identifier string) (*models.Spread, error) {
	if err := validation.ValidateIdentifier(identifier, "identifier"); err != nil {
		return nil, err
	}

	var spread models.Spread
	key := cache.SpreadKey(identifier)

	if err := cache.GetJSON(ctx, s.cache, key, &spread); err != nil {
		loaded, err := s.db.GetSpreadByIdentifier(ctx, identifier)
		if err == database.ErrNoRows {
			return nil, &NotFoundError{Kind: "spread", Key: identifier}
		}
		if err != nil {
			return nil, err
		}
		spread = *loaded

		// cache trouble never fails a read
		_ = cache.SetJSON(ctx, s.cache, key, spread, spreadCacheTTL)
	}

	total, err := s.db.CountSuggests(ctx, spread.UUID)
	if err != nil {
		return nil, err
	}
	spread.TotalSuggest = total

	return &spread, nil
}

// GetSuggest returns one suggest with its canals and coupons.
func (s *Service) GetSuggest(ctx context.Context, suggestUUID string) (*models.Suggest, error) {
	if err := validation.ValidateUUID(suggestUUID, "uuid"); err != nil {
		return nil, err
	}

	suggest, err := s.db.GetSuggest(ctx, suggestUUID)
	if err == database.ErrNoRows {
		return nil, &NotFoundError{Kind: "suggest", Key: suggestUUID}
	}
	if err != nil {
		return nil, err
	}

	coupons, err := s.db.ListCouponsBySuggest(ctx, suggest.UUID)
	if err != nil {
		return nil, err
	}
	suggest.Coupons = coupons

	return suggest, nil
}

// ListSuggests returns the suggests submitted against one spread.
func (s *Service) ListSuggests(ctx context.Context, spreadUUID string) ([]models.Suggest, error) {
	if err := validation.ValidateUUID(spreadUUID, "spread_uuid"); err != nil {
		return nil, err
	}
	if _, err := s.db.GetSpread(ctx, spreadUUID); err != nil {
		if err == database.ErrNoRows {
			return nil, &NotFoundError{Kind: "spread", Key: spreadUUID}
		}
		return nil, err
	}
	return s.db.ListSuggestsBySpread(ctx, spreadUUID)
}

// ListTargets returns the targets built for one broadcast, newest batch
// first.
func (s *Service) ListTargets(ctx context.Context, broadcastUUID string) ([]models.Target, error) {
	if _, err := s.GetBroadcast(ctx, broadcastUUID); err != nil {
		return nil, err
	}
	return s.db.ListTargetsByBroadcast(ctx, broadcastUUID)
}

// ListRedeems returns every redeem with its taken flag.
func (s *Service) ListRedeems(ctx context.Context) ([]models.Redeem, error) {
	return s.db.ListRedeems(ctx)
}

// ListRewards returns every reward attached to a source.
func (s *Service) ListRewards(ctx context.Context, source models.SourceRef) ([]models.Reward, error) {
	if !source.Kind.Valid() {
		return nil, &validation.ValidationError{Field: "kind", Message: "must be fragment or broadcast"}
	}
	if err := validation.ValidateUUID(source.UUID, "uuid"); err != nil {
		return nil, err
	}
	return s.db.ListRewardsBySource(ctx, source)
}

// GetOrder returns one order with its metas and frozen items.
func (s *Service) GetOrder(ctx context.Context, orderUUID string) (*models.Order, error) {
	if err := validation.ValidateUUID(orderUUID, "uuid"); err != nil {
		return nil, err
	}

	order, err := s.db.GetOrder(ctx, orderUUID)
	if err == database.ErrNoRows {
		return nil, &NotFoundError{Kind: "order", Key: orderUUID}
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// VerifyChannel records a verified channel for a user and activates any
// coupons that were issued inactive while waiting on it. This is the
// external Issued -> Active signal.
func (s *Service) VerifyChannel(ctx context.Context, userID string, method models.Method, value string) (int64, error) {
	if userID == "" {
		return 0, &validation.ValidationError{Field: "user_id", Message: "is required"}
	}
	if err := validation.ValidateCanal(models.CanalInput{Method: method, Value: value}); err != nil {
		return 0, err
	}

	var activated int64
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.UpsertVerifiedChannel(ctx, userID, method, value); err != nil {
			return err
		}
		count, err := tx.ActivateCouponsForUser(ctx, userID, method, value)
		if err != nil {
			return err
		}
		activated = count
		return nil
	})
	if err != nil {
		return 0, err
	}
	return activated, nil
}
