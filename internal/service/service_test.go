package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"referral-rewards-api/internal/database"
	"referral-rewards-api/internal/models"
	"referral-rewards-api/internal/verify"
)

func setupTestDB(t *testing.T) (*database.DB, func()) {
	dbPath := "./test_" + uuid.New().String() + ".db"
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return db, cleanup
}

// testClock returns a mutable clock. Tests move *current between calls;
// never while concurrent submissions are in flight.
func testClock(start time.Time) (*time.Time, func() time.Time) {
	current := start
	return &current, func() time.Time { return current }
}

func createFragment(t *testing.T, svc *Service) *models.Fragment {
	t.Helper()
	fragment, err := svc.CreateFragment(context.Background(), "Espresso Blend", "Coffee Beans 250g")
	if err != nil {
		t.Fatalf("Failed to create fragment: %v", err)
	}
	return fragment
}

func createSpread(t *testing.T, svc *Service, source models.SourceRef, allocation int64, expiryAt *time.Time) *models.Spread {
	t.Helper()
	spread, err := svc.CreateSpread(context.Background(), models.CreateSpreadRequest{
		Source:     source,
		Allocation: allocation,
		ExpiryAt:   expiryAt,
	})
	if err != nil {
		t.Fatalf("Failed to create spread: %v", err)
	}
	return spread
}

func createReward(t *testing.T, svc *Service, source models.SourceRef, allocation int64, startAt, expiryAt time.Time) *models.Reward {
	t.Helper()
	reward, err := svc.CreateReward(context.Background(), models.CreateRewardRequest{
		Source:     source,
		Provider:   "internal",
		Label:      "Free Delivery",
		Allocation: allocation,
		StartAt:    startAt,
		ExpiryAt:   expiryAt,
		Type:       models.RewardGift,
		Amount:     "1",
		UnitSlug:   "voucher",
		UnitLabel:  "Voucher",
	})
	if err != nil {
		t.Fatalf("Failed to create reward: %v", err)
	}
	return reward
}

func submitRequest(identifier, phone string) models.SubmitSuggestRequest {
	return models.SubmitSuggestRequest{
		SpreadIdentifier: identifier,
		Rating:           5,
		Description:      "Great product, recommended it to a friend",
		Canals: []models.CanalInput{
			{Method: models.MethodPhone, Value: phone},
		},
	}
}

func TestSubmitSuggest_IssuesCouponPerActiveReward(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, now := testClock(start)
	svc := NewService(db, Options{Now: now, Verifier: verify.Static(true)})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	spread := createSpread(t, svc, source, 0, nil)
	createReward(t, svc, source, 10, start, start.Add(24*time.Hour))
	createReward(t, svc, source, 10, start, start.Add(24*time.Hour))

	req := submitRequest(spread.Identifier, "081234567890")
	req.UserID = "referrer-1"
	result, err := svc.SubmitSuggest(context.Background(), req)
	if err != nil {
		t.Fatalf("Failed to submit suggest: %v", err)
	}

	if len(result.Coupons) != 2 {
		t.Fatalf("Expected 2 coupons, got %d", len(result.Coupons))
	}
	for _, coupon := range result.Coupons {
		if !coupon.IsActive {
			t.Errorf("Expected verified submitter's coupon %s to be active", coupon.Identifier)
		}
		if coupon.IsUsed {
			t.Errorf("Expected fresh coupon %s to be unused", coupon.Identifier)
		}
	}
	if len(result.Suggest.Canals) != 1 {
		t.Fatalf("Expected 1 canal, got %d", len(result.Suggest.Canals))
	}
}

func TestSubmitSuggest_SpreadNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})

	_, err := svc.SubmitSuggest(context.Background(), submitRequest("zzzzzz", "081234567890"))

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}
}

func TestSubmitSuggest_ExpiredSpread(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current, now := testClock(start)
	svc := NewService(db, Options{Now: now})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	expiry := start.Add(time.Hour)
	spread := createSpread(t, svc, source, 0, &expiry)

	// at the boundary the spread still accepts
	*current = expiry
	if _, err := svc.SubmitSuggest(context.Background(), submitRequest(spread.Identifier, "081234567890")); err != nil {
		t.Fatalf("Expected submission at expiry instant to succeed, got %v", err)
	}

	*current = expiry.Add(time.Second)
	_, err := svc.SubmitSuggest(context.Background(), submitRequest(spread.Identifier, "081234567891"))

	var expired *ExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("Expected ExpiredError, got %v", err)
	}
}

func TestSubmitSuggest_BeforeWindowOpens(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current, now := testClock(start)
	svc := NewService(db, Options{Now: now})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	spread := createSpread(t, svc, source, 0, nil)

	*current = start.Add(-time.Minute)
	_, err := svc.SubmitSuggest(context.Background(), submitRequest(spread.Identifier, "081234567890"))

	var notStarted *NotStartedError
	if !errors.As(err, &notStarted) {
		t.Fatalf("Expected NotStartedError, got %v", err)
	}
}

func TestSubmitSuggest_AllocationCapUnderConcurrency(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, now := testClock(start)
	svc := NewService(db, Options{Now: now})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	spread := createSpread(t, svc, source, 3, nil)

	const attempts = 6
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := submitRequest(spread.Identifier, fmt.Sprintf("0812%07d", i))
			_, results[i] = svc.SubmitSuggest(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var accepted, exhausted int
	for _, err := range results {
		var capErr *AllocationExhaustedError
		switch {
		case err == nil:
			accepted++
		case errors.As(err, &capErr):
			exhausted++
		default:
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	if accepted != 3 {
		t.Errorf("Expected exactly 3 accepted suggests, got %d", accepted)
	}
	if exhausted != 3 {
		t.Errorf("Expected 3 rejected suggests, got %d", exhausted)
	}

	loaded, err := svc.GetSpreadByIdentifier(context.Background(), spread.Identifier)
	if err != nil {
		t.Fatalf("Failed to load spread: %v", err)
	}
	if loaded.TotalSuggest != 3 {
		t.Errorf("Expected live count 3, got %d", loaded.TotalSuggest)
	}
}

func TestSubmitSuggest_DuplicateChannelOnRewardedSpread(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, now := testClock(start)
	svc := NewService(db, Options{Now: now})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	spread := createSpread(t, svc, source, 0, nil)
	createReward(t, svc, source, 10, start, start.Add(24*time.Hour))

	// anonymous submitters hold inactive coupons; dedup must block them anyway
	first, err := svc.SubmitSuggest(context.Background(), submitRequest(spread.Identifier, "081234567890"))
	if err != nil {
		t.Fatalf("Failed to submit first suggest: %v", err)
	}
	if len(first.Coupons) != 1 || first.Coupons[0].IsActive {
		t.Fatalf("Expected one inactive coupon for the anonymous submitter, got %+v", first.Coupons)
	}

	_, err = svc.SubmitSuggest(context.Background(), submitRequest(spread.Identifier, "081234567890"))

	var duplicate *DuplicateChannelError
	if !errors.As(err, &duplicate) {
		t.Fatalf("Expected DuplicateChannelError, got %v", err)
	}
	if len(duplicate.Values) != 1 || duplicate.Values[0] != "081234567890" {
		t.Errorf("Expected offending value in error, got %v", duplicate.Values)
	}
}

func TestSubmitSuggest_DuplicateChannelAllowedWithoutRewards(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, now := testClock(start)
	svc := NewService(db, Options{Now: now})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	spread := createSpread(t, svc, source, 0, nil)

	for i := 0; i < 2; i++ {
		if _, err := svc.SubmitSuggest(context.Background(), submitRequest(spread.Identifier, "081234567890")); err != nil {
			t.Fatalf("Submission %d on unrewarded spread should pass dedup: %v", i, err)
		}
	}
}

func TestSubmitSuggest_RewardExpiryBoundary(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current, now := testClock(start)
	svc := NewService(db, Options{Now: now, Verifier: verify.Static(true)})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	spread := createSpread(t, svc, source, 0, nil)
	rewardExpiry := start.Add(time.Hour)
	createReward(t, svc, source, 10, start, rewardExpiry)

	*current = rewardExpiry
	result, err := svc.SubmitSuggest(context.Background(), submitRequest(spread.Identifier, "081234567890"))
	if err != nil {
		t.Fatalf("Failed to submit at reward expiry instant: %v", err)
	}
	if len(result.Coupons) != 1 {
		t.Fatalf("Expected a coupon at the expiry instant, got %d", len(result.Coupons))
	}

	*current = rewardExpiry.Add(time.Second)
	result, err = svc.SubmitSuggest(context.Background(), submitRequest(spread.Identifier, "081234567891"))
	if err != nil {
		t.Fatalf("Failed to submit after reward expiry: %v", err)
	}
	if len(result.Coupons) != 0 {
		t.Fatalf("Expected no coupons one second past expiry, got %d", len(result.Coupons))
	}
}

func TestSubmitSuggest_RewardAllocationCapsCoupons(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, now := testClock(start)
	svc := NewService(db, Options{Now: now, Verifier: verify.Static(true)})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	spread := createSpread(t, svc, source, 0, nil)
	createReward(t, svc, source, 2, start, start.Add(24*time.Hour))

	var issued int
	for i := 0; i < 4; i++ {
		result, err := svc.SubmitSuggest(context.Background(),
			submitRequest(spread.Identifier, fmt.Sprintf("0813%07d", i)))
		if err != nil {
			t.Fatalf("Failed to submit suggest %d: %v", i, err)
		}
		issued += len(result.Coupons)
	}

	if issued != 2 {
		t.Errorf("Expected reward allocation 2 to admit exactly 2 coupons, got %d", issued)
	}
}

func TestRedeemCoupon_Idempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, now := testClock(start)
	svc := NewService(db, Options{Now: now, Verifier: verify.Static(true)})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	spread := createSpread(t, svc, source, 0, nil)
	createReward(t, svc, source, 10, start, start.Add(24*time.Hour))

	req := submitRequest(spread.Identifier, "081234567890")
	req.UserID = "referrer-1"
	result, err := svc.SubmitSuggest(context.Background(), req)
	if err != nil {
		t.Fatalf("Failed to submit suggest: %v", err)
	}
	coupon := result.Coupons[0]

	first, err := svc.RedeemCoupon(context.Background(), coupon.Identifier, "merchant-1", "first claim")
	if err != nil {
		t.Fatalf("Failed to redeem coupon: %v", err)
	}

	second, err := svc.RedeemCoupon(context.Background(), coupon.Identifier, "merchant-2", "second claim")
	if err != nil {
		t.Fatalf("Second redeem should return the existing claim: %v", err)
	}

	if first.UUID != second.UUID {
		t.Errorf("Expected both redeems to be the same row, got %s and %s", first.UUID, second.UUID)
	}
	if second.UserID != "merchant-1" {
		t.Errorf("Expected the first claimant to win, got %s", second.UserID)
	}
}

func TestRedeemCoupon_InactiveUntilVerified(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, now := testClock(start)
	svc := NewService(db, Options{Now: now})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	spread := createSpread(t, svc, source, 0, nil)
	createReward(t, svc, source, 10, start, start.Add(24*time.Hour))

	req := submitRequest(spread.Identifier, "081234567890")
	req.UserID = "referrer-1"
	result, err := svc.SubmitSuggest(context.Background(), req)
	if err != nil {
		t.Fatalf("Failed to submit suggest: %v", err)
	}
	coupon := result.Coupons[0]
	if coupon.IsActive {
		t.Fatalf("Expected coupon of unverified submitter to start inactive")
	}

	if _, err := svc.RedeemCoupon(context.Background(), coupon.Identifier, "merchant-1", ""); !errors.Is(err, ErrCouponInactive) {
		t.Fatalf("Expected ErrCouponInactive, got %v", err)
	}

	activated, err := svc.VerifyChannel(context.Background(), "referrer-1", models.MethodPhone, "081234567890")
	if err != nil {
		t.Fatalf("Failed to verify channel: %v", err)
	}
	if activated != 1 {
		t.Errorf("Expected 1 coupon activated, got %d", activated)
	}

	if _, err := svc.RedeemCoupon(context.Background(), coupon.Identifier, "merchant-1", ""); err != nil {
		t.Fatalf("Redeem after verification should succeed: %v", err)
	}
}

func TestTakeCoupon_ExactlyOnceUnderConcurrency(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, now := testClock(start)
	svc := NewService(db, Options{Now: now, Verifier: verify.Static(true)})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	spread := createSpread(t, svc, source, 0, nil)
	createReward(t, svc, source, 10, start, start.Add(24*time.Hour))

	req := submitRequest(spread.Identifier, "081234567890")
	req.UserID = "referrer-1"
	result, err := svc.SubmitSuggest(context.Background(), req)
	if err != nil {
		t.Fatalf("Failed to submit suggest: %v", err)
	}
	coupon := result.Coupons[0]

	redeem, err := svc.RedeemCoupon(context.Background(), coupon.Identifier, "merchant-1", "")
	if err != nil {
		t.Fatalf("Failed to redeem coupon: %v", err)
	}

	const takers = 4
	var wg sync.WaitGroup
	results := make([]error, takers)

	for i := 0; i < takers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.TakeCoupon(context.Background(), redeem.UUID, fmt.Sprintf("staff-%d", i), "")
		}(i)
	}
	wg.Wait()

	var succeeded, alreadyUsed int
	for _, err := range results {
		var used *AlreadyUsedError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &used):
			alreadyUsed++
		default:
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	if succeeded != 1 {
		t.Errorf("Expected exactly 1 successful take, got %d", succeeded)
	}
	if alreadyUsed != takers-1 {
		t.Errorf("Expected %d AlreadyUsed errors, got %d", takers-1, alreadyUsed)
	}

	// a consumed coupon can no longer be redeemed
	_, err = svc.RedeemCoupon(context.Background(), coupon.Identifier, "merchant-2", "")
	var used *AlreadyUsedError
	if !errors.As(err, &used) {
		t.Errorf("Expected AlreadyUsedError on redeeming a taken coupon, got %v", err)
	}

	redeems, err := svc.ListRedeems(context.Background())
	if err != nil {
		t.Fatalf("Failed to list redeems: %v", err)
	}
	if len(redeems) != 1 || !redeems[0].IsTaken {
		t.Errorf("Expected one taken redeem, got %+v", redeems)
	}
}

func TestBuildTargets_SkipsSuggestsWithoutChannel(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, now := testClock(start)
	svc := NewService(db, Options{Now: now})

	broadcast, err := svc.CreateBroadcast(context.Background(), "March Promo", "New arrivals this week")
	if err != nil {
		t.Fatalf("Failed to create broadcast: %v", err)
	}
	source := models.SourceRef{Kind: models.SourceBroadcast, UUID: broadcast.UUID}
	spread := createSpread(t, svc, source, 0, nil)

	withPhone, err := svc.SubmitSuggest(context.Background(), submitRequest(spread.Identifier, "081234567890"))
	if err != nil {
		t.Fatalf("Failed to submit suggest: %v", err)
	}

	emailOnly := models.SubmitSuggestRequest{
		SpreadIdentifier: spread.Identifier,
		Rating:           4,
		Description:      "Would buy again",
		Canals: []models.CanalInput{
			{Method: models.MethodEmail, Value: "buyer@example.com"},
		},
	}
	withEmail, err := svc.SubmitSuggest(context.Background(), emailOnly)
	if err != nil {
		t.Fatalf("Failed to submit suggest: %v", err)
	}

	targets, err := svc.BuildTargets(context.Background(), models.BuildTargetsRequest{
		BroadcastUUID: broadcast.UUID,
		SuggestUUIDs:  []string{withPhone.Suggest.UUID, withEmail.Suggest.UUID},
		Method:        models.MethodPhone,
	})
	if err != nil {
		t.Fatalf("Failed to build targets: %v", err)
	}

	if len(targets) != 1 {
		t.Fatalf("Expected 1 target, got %d", len(targets))
	}
	if targets[0].Value != "081234567890" {
		t.Errorf("Expected the phone canal value, got %s", targets[0].Value)
	}
	if targets[0].Price != 500 {
		t.Errorf("Expected default phone price 500, got %d", targets[0].Price)
	}
}

func TestCreateOrder_FreezesItemPrices(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, now := testClock(start)
	svc := NewService(db, Options{Now: now})

	broadcast, err := svc.CreateBroadcast(context.Background(), "March Promo", "New arrivals this week")
	if err != nil {
		t.Fatalf("Failed to create broadcast: %v", err)
	}
	source := models.SourceRef{Kind: models.SourceBroadcast, UUID: broadcast.UUID}
	spread := createSpread(t, svc, source, 0, nil)

	submitted, err := svc.SubmitSuggest(context.Background(), submitRequest(spread.Identifier, "081234567890"))
	if err != nil {
		t.Fatalf("Failed to submit suggest: %v", err)
	}

	targets, err := svc.BuildTargets(context.Background(), models.BuildTargetsRequest{
		BroadcastUUID: broadcast.UUID,
		SuggestUUIDs:  []string{submitted.Suggest.UUID},
		Method:        models.MethodPhone,
	})
	if err != nil {
		t.Fatalf("Failed to build targets: %v", err)
	}

	// reprice after the target exists
	svc.prices.SetPrice(models.MethodPhone, 9999)

	order, err := svc.CreateOrder(context.Background(), models.CreateOrderRequest{
		UserID:        "merchant-1",
		BroadcastUUID: broadcast.UUID,
		TargetUUIDs:   []string{targets[0].UUID},
		Metas: []models.OrderMeta{
			{MetaKey: "campaign", MetaValue: "march-promo"},
		},
	})
	if err != nil {
		t.Fatalf("Failed to create order: %v", err)
	}

	if len(order.Items) != 1 {
		t.Fatalf("Expected 1 order item, got %d", len(order.Items))
	}
	if order.Items[0].Price != 500 {
		t.Errorf("Expected frozen price 500, got %d", order.Items[0].Price)
	}

	loaded, err := svc.GetOrder(context.Background(), order.UUID)
	if err != nil {
		t.Fatalf("Failed to load order: %v", err)
	}
	if len(loaded.Items) != 1 || loaded.Items[0].Price != 500 {
		t.Errorf("Expected stored item to keep the frozen price, got %+v", loaded.Items)
	}
	if len(loaded.Metas) != 1 || loaded.Metas[0].MetaKey != "campaign" {
		t.Errorf("Expected order metas to round-trip, got %+v", loaded.Metas)
	}
}

func TestGetSpreadByIdentifier_CachedStaticFieldsLiveCount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, now := testClock(start)
	svc := NewService(db, Options{Now: now})

	fragment := createFragment(t, svc)
	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}
	spread := createSpread(t, svc, source, 0, nil)

	first, err := svc.GetSpreadByIdentifier(context.Background(), spread.Identifier)
	if err != nil {
		t.Fatalf("Failed to load spread: %v", err)
	}
	if first.TotalSuggest != 0 {
		t.Errorf("Expected count 0, got %d", first.TotalSuggest)
	}

	if _, err := svc.SubmitSuggest(context.Background(), submitRequest(spread.Identifier, "081234567890")); err != nil {
		t.Fatalf("Failed to submit suggest: %v", err)
	}

	// second read hits the cache for the static fields; the count must
	// still reflect the new suggest
	second, err := svc.GetSpreadByIdentifier(context.Background(), spread.Identifier)
	if err != nil {
		t.Fatalf("Failed to load spread: %v", err)
	}
	if second.TotalSuggest != 1 {
		t.Errorf("Expected live count 1, got %d", second.TotalSuggest)
	}
	if second.URL != first.URL {
		t.Errorf("Expected stable URL, got %s and %s", first.URL, second.URL)
	}
}
