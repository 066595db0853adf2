package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"referral-rewards-api/internal/database"
	"referral-rewards-api/internal/models"
	"referral-rewards-api/internal/service"
	"referral-rewards-api/internal/verify"
)

func setupTestHandler(t *testing.T) (*Handler, *time.Time, func()) {
	dbPath := "./test_handler_" + uuid.New().String() + ".db"
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := service.NewService(db, service.Options{
		Verifier: verify.Static(true),
		Now:      func() time.Time { return current },
	})
	h := NewHandler(svc)

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return h, &current, cleanup
}

func setupRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/fragments", h.CreateFragment)
	r.Post("/broadcasts", h.CreateBroadcast)
	r.Post("/spreads", h.CreateSpread)
	r.Get("/spreads/{identifier}", h.GetSpread)
	r.Get("/spreads/{identifier}/suggests", h.ListSpreadSuggests)
	r.Post("/rewards", h.CreateReward)
	r.Post("/suggests", h.SubmitSuggest)
	r.Get("/suggests/{uuid}", h.GetSuggest)
	r.Post("/redeems", h.RedeemCoupon)
	r.Get("/redeems", h.ListRedeems)
	r.Post("/takens", h.TakeCoupon)
	r.Post("/targets", h.BuildTargets)
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/{uuid}", h.GetOrder)
	r.Post("/verifications", h.VerifyChannel)
	r.Get("/health", h.Health)
	return r
}

func doJSON(t *testing.T, r *chi.Mux, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONAs(t, r, method, path, "", payload)
}

// doJSONAs sends the request on behalf of an identified user.
func doJSONAs(t *testing.T, r *chi.Mux, method, path, userID string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal payload: %v", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
		t.Fatalf("Failed to decode response %s: %v", rr.Body.String(), err)
	}
}

// createSpreadFixture drives the API to a spread with one reward attached.
func createSpreadFixture(t *testing.T, r *chi.Mux, now time.Time) models.Spread {
	t.Helper()

	rr := doJSON(t, r, "POST", "/fragments", map[string]string{
		"label":   "Espresso Blend",
		"product": "Coffee Beans 250g",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create fragment: %d %s", rr.Code, rr.Body.String())
	}
	var fragment models.Fragment
	decodeBody(t, rr, &fragment)

	source := models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID}

	rr = doJSON(t, r, "POST", "/rewards", models.CreateRewardRequest{
		Source:    source,
		Provider:  "internal",
		Label:     "Free Delivery",
		StartAt:   now,
		ExpiryAt:  now.Add(24 * time.Hour),
		Type:      models.RewardGift,
		Amount:    "1",
		UnitSlug:  "voucher",
		UnitLabel: "Voucher",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create reward: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, r, "POST", "/spreads", models.CreateSpreadRequest{Source: source})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create spread: %d %s", rr.Code, rr.Body.String())
	}
	var spread models.Spread
	decodeBody(t, rr, &spread)
	return spread
}

func TestHealthCheck(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	rr := doJSON(t, r, "GET", "/health", nil)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
}

func TestSubmitSuggest_Created(t *testing.T) {
	h, current, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	spread := createSpreadFixture(t, r, *current)

	rr := doJSON(t, r, "POST", "/suggests", models.SubmitSuggestRequest{
		SpreadIdentifier: spread.Identifier,
		Rating:           5,
		Description:      "Recommended it to a friend",
		Canals: []models.CanalInput{
			{Method: models.MethodPhone, Value: "081234567890"},
		},
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var result models.SuggestResult
	decodeBody(t, rr, &result)
	if len(result.Coupons) != 1 {
		t.Errorf("Expected 1 issued coupon, got %d", len(result.Coupons))
	}
}

func TestSubmitSuggest_UnknownSpreadIs404(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	rr := doJSON(t, r, "POST", "/suggests", models.SubmitSuggestRequest{
		SpreadIdentifier: "zzzzzz",
		Rating:           5,
		Description:      "Recommended it to a friend",
		Canals: []models.CanalInput{
			{Method: models.MethodPhone, Value: "081234567890"},
		},
	})

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestSubmitSuggest_InvalidRatingIs422(t *testing.T) {
	h, current, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	spread := createSpreadFixture(t, r, *current)

	rr := doJSON(t, r, "POST", "/suggests", models.SubmitSuggestRequest{
		SpreadIdentifier: spread.Identifier,
		Rating:           0,
		Description:      "Recommended it to a friend",
		Canals: []models.CanalInput{
			{Method: models.MethodPhone, Value: "081234567890"},
		},
	})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestSubmitSuggest_ExpiredSpreadIs410(t *testing.T) {
	h, current, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	spread := createSpreadFixture(t, r, *current)

	// spreads without expiry never expire, so mint one that does
	rr := doJSON(t, r, "POST", "/fragments", map[string]string{"label": "Decaf"})
	var fragment models.Fragment
	decodeBody(t, rr, &fragment)

	expiry := (*current).Add(time.Hour)
	rr = doJSON(t, r, "POST", "/spreads", models.CreateSpreadRequest{
		Source:   models.SourceRef{Kind: models.SourceFragment, UUID: fragment.UUID},
		ExpiryAt: &expiry,
	})
	decodeBody(t, rr, &spread)

	*current = expiry.Add(time.Second)

	rr = doJSON(t, r, "POST", "/suggests", models.SubmitSuggestRequest{
		SpreadIdentifier: spread.Identifier,
		Rating:           5,
		Description:      "Recommended it to a friend",
		Canals: []models.CanalInput{
			{Method: models.MethodPhone, Value: "081234567890"},
		},
	})

	if rr.Code != http.StatusGone {
		t.Errorf("Expected 410, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestSubmitSuggest_DuplicateChannelIs409(t *testing.T) {
	h, current, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	spread := createSpreadFixture(t, r, *current)

	payload := models.SubmitSuggestRequest{
		SpreadIdentifier: spread.Identifier,
		Rating:           5,
		Description:      "Recommended it to a friend",
		Canals: []models.CanalInput{
			{Method: models.MethodPhone, Value: "081234567890"},
		},
	}

	if rr := doJSON(t, r, "POST", "/suggests", payload); rr.Code != http.StatusCreated {
		t.Fatalf("Expected first submission to pass: %d %s", rr.Code, rr.Body.String())
	}

	rr := doJSON(t, r, "POST", "/suggests", payload)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestRedeemAndTakeFlow(t *testing.T) {
	h, current, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	spread := createSpreadFixture(t, r, *current)

	rr := doJSONAs(t, r, "POST", "/suggests", "referrer-1", models.SubmitSuggestRequest{
		SpreadIdentifier: spread.Identifier,
		Rating:           5,
		Description:      "Recommended it to a friend",
		Canals: []models.CanalInput{
			{Method: models.MethodPhone, Value: "081234567890"},
		},
	})
	var result models.SuggestResult
	decodeBody(t, rr, &result)
	if len(result.Coupons) != 1 {
		t.Fatalf("Expected 1 coupon, got %d", len(result.Coupons))
	}
	coupon := result.Coupons[0]
	if !coupon.IsActive {
		t.Fatalf("Expected the verified submitter's coupon to be active")
	}

	rr = doJSON(t, r, "POST", "/redeems", map[string]string{"coupon": coupon.Identifier})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 on redeem, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var redeem models.Redeem
	decodeBody(t, rr, &redeem)

	rr = doJSON(t, r, "POST", "/takens", map[string]string{"redeem_uuid": redeem.UUID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 on take, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	// consumed coupons conflict on a second take
	rr = doJSON(t, r, "POST", "/takens", map[string]string{"redeem_uuid": redeem.UUID})
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 on double take, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, r, "GET", "/redeems", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 listing redeems, got %d", rr.Code)
	}
	var redeems []models.Redeem
	decodeBody(t, rr, &redeems)
	if len(redeems) != 1 || !redeems[0].IsTaken {
		t.Errorf("Expected one taken redeem, got %+v", redeems)
	}
}

func TestGetSpread_PublicLookup(t *testing.T) {
	h, current, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	spread := createSpreadFixture(t, r, *current)

	rr := doJSON(t, r, "GET", fmt.Sprintf("/spreads/%s", spread.Identifier), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var loaded models.Spread
	decodeBody(t, rr, &loaded)
	if loaded.UUID != spread.UUID {
		t.Errorf("Expected spread %s, got %s", spread.UUID, loaded.UUID)
	}

	rr = doJSON(t, r, "GET", "/spreads/zzzzzz", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown identifier, got %d", rr.Code)
	}
}

func TestRequestBodyRequired(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	rr := doJSON(t, r, "POST", "/suggests", nil)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty body, got %d", rr.Code)
	}
}
