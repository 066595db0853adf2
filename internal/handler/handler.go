package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"referral-rewards-api/internal/models"
	"referral-rewards-api/internal/service"
	"referral-rewards-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
	}
}

type createFragmentRequest struct {
	Label   string `json:"label"`
	Product string `json:"product"`
}

type createBroadcastRequest struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

type redeemRequest struct {
	Coupon string `json:"coupon"`
	Note   string `json:"note"`
}

type takeRequest struct {
	RedeemUUID string `json:"redeem_uuid"`
	Note       string `json:"note"`
}

type verifyChannelRequest struct {
	Method models.Method `json:"method"`
	Value  string        `json:"value"`
}

type verifyChannelResponse struct {
	Verified  bool  `json:"verified"`
	Activated int64 `json:"activated_coupons"`
}

// CreateFragment handles POST /fragments
func (h *Handler) CreateFragment(w http.ResponseWriter, r *http.Request) {
	var req createFragmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	fragment, err := h.service.CreateFragment(r.Context(), req.Label, req.Product)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, fragment)
}

// ListFragments handles GET /fragments
func (h *Handler) ListFragments(w http.ResponseWriter, r *http.Request) {
	fragments, err := h.service.ListFragments(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, fragments)
}

// ListBroadcasts handles GET /broadcasts
func (h *Handler) ListBroadcasts(w http.ResponseWriter, r *http.Request) {
	broadcasts, err := h.service.ListBroadcasts(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, broadcasts)
}

// GetFragment handles GET /fragments/{uuid}
func (h *Handler) GetFragment(w http.ResponseWriter, r *http.Request) {
	fragmentUUID := validation.SanitizeString(chi.URLParam(r, "uuid"))

	fragment, err := h.service.GetFragment(r.Context(), fragmentUUID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, fragment)
}

// CreateBroadcast handles POST /broadcasts
func (h *Handler) CreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var req createBroadcastRequest
	if !h.decode(w, r, &req) {
		return
	}

	broadcast, err := h.service.CreateBroadcast(r.Context(), req.Label, req.Message)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, broadcast)
}

// GetBroadcast handles GET /broadcasts/{uuid}
func (h *Handler) GetBroadcast(w http.ResponseWriter, r *http.Request) {
	broadcastUUID := validation.SanitizeString(chi.URLParam(r, "uuid"))

	broadcast, err := h.service.GetBroadcast(r.Context(), broadcastUUID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, broadcast)
}

// ListBroadcastTargets handles GET /broadcasts/{uuid}/targets
func (h *Handler) ListBroadcastTargets(w http.ResponseWriter, r *http.Request) {
	broadcastUUID := validation.SanitizeString(chi.URLParam(r, "uuid"))

	targets, err := h.service.ListTargets(r.Context(), broadcastUUID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, targets)
}

// CreateSpread handles POST /spreads
func (h *Handler) CreateSpread(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSpreadRequest
	if !h.decode(w, r, &req) {
		return
	}

	spread, err := h.service.CreateSpread(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, spread)
}

// GetSpread handles GET /spreads/{identifier}. This is the public lookup
// behind the shareable URL.
func (h *Handler) GetSpread(w http.ResponseWriter, r *http.Request) {
	identifier := validation.SanitizeString(chi.URLParam(r, "identifier"))

	spread, err := h.service.GetSpreadByIdentifier(r.Context(), identifier)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, spread)
}

// ListSpreadSuggests handles GET /spreads/{identifier}/suggests
func (h *Handler) ListSpreadSuggests(w http.ResponseWriter, r *http.Request) {
	identifier := validation.SanitizeString(chi.URLParam(r, "identifier"))

	spread, err := h.service.GetSpreadByIdentifier(r.Context(), identifier)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	suggests, err := h.service.ListSuggests(r.Context(), spread.UUID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, suggests)
}

// CreateReward handles POST /rewards
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRewardRequest
	if !h.decode(w, r, &req) {
		return
	}

	reward, err := h.service.CreateReward(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, reward)
}

// ListSourceRewards handles GET /sources/{kind}/{uuid}/rewards
func (h *Handler) ListSourceRewards(w http.ResponseWriter, r *http.Request) {
	source := models.SourceRef{
		Kind: models.SourceKind(chi.URLParam(r, "kind")),
		UUID: validation.SanitizeString(chi.URLParam(r, "uuid")),
	}

	rewards, err := h.service.ListRewards(r.Context(), source)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, rewards)
}

// SubmitSuggest handles POST /suggests. An IssuanceDegradedError still
// created the suggest, so it responds 201 with the degraded reward list.
func (h *Handler) SubmitSuggest(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitSuggestRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.UserID = r.Header.Get("X-User-ID")

	result, err := h.service.SubmitSuggest(r.Context(), req)

	var degraded *service.IssuanceDegradedError
	if errors.As(err, &degraded) {
		h.respondJSON(w, http.StatusCreated, result)
		return
	}
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, result)
}

// GetSuggest handles GET /suggests/{uuid}
func (h *Handler) GetSuggest(w http.ResponseWriter, r *http.Request) {
	suggestUUID := validation.SanitizeString(chi.URLParam(r, "uuid"))

	suggest, err := h.service.GetSuggest(r.Context(), suggestUUID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, suggest)
}

// RedeemCoupon handles POST /redeems
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !h.decode(w, r, &req) {
		return
	}

	redeem, err := h.service.RedeemCoupon(r.Context(), validation.SanitizeString(req.Coupon), r.Header.Get("X-User-ID"), req.Note)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, redeem)
}

// ListRedeems handles GET /redeems
func (h *Handler) ListRedeems(w http.ResponseWriter, r *http.Request) {
	redeems, err := h.service.ListRedeems(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, redeems)
}

// TakeCoupon handles POST /takens
func (h *Handler) TakeCoupon(w http.ResponseWriter, r *http.Request) {
	var req takeRequest
	if !h.decode(w, r, &req) {
		return
	}

	taken, err := h.service.TakeCoupon(r.Context(), validation.SanitizeString(req.RedeemUUID), r.Header.Get("X-User-ID"), req.Note)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, taken)
}

// BuildTargets handles POST /targets
func (h *Handler) BuildTargets(w http.ResponseWriter, r *http.Request) {
	var req models.BuildTargetsRequest
	if !h.decode(w, r, &req) {
		return
	}

	targets, err := h.service.BuildTargets(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, targets)
}

// CreateOrder handles POST /orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.UserID = r.Header.Get("X-User-ID")

	order, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /orders/{uuid}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderUUID := validation.SanitizeString(chi.URLParam(r, "uuid"))

	order, err := h.service.GetOrder(r.Context(), orderUUID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, order)
}

// VerifyChannel handles POST /verifications. It records the caller's
// verified channel and activates coupons that were waiting on it.
func (h *Handler) VerifyChannel(w http.ResponseWriter, r *http.Request) {
	var req verifyChannelRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := r.Header.Get("X-User-ID")
	activated, err := h.service.VerifyChannel(r.Context(), userID, req.Method, validation.SanitizeString(req.Value))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, verifyChannelResponse{
		Verified:  true,
		Activated: activated,
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads and decodes a JSON body, writing the error response itself.
// It returns false when the caller should stop.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// respondServiceError maps the ledger error taxonomy onto HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var validationErr *validation.ValidationError
	var notFound *service.NotFoundError
	var expired *service.ExpiredError
	var notStarted *service.NotStartedError
	var exhausted *service.AllocationExhaustedError
	var duplicate *service.DuplicateChannelError
	var alreadyUsed *service.AlreadyUsedError

	switch {
	case errors.As(err, &validationErr):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &notFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &expired):
		h.respondError(w, http.StatusGone, err.Error())
	case errors.As(err, &notStarted):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &exhausted),
		errors.As(err, &duplicate),
		errors.As(err, &alreadyUsed),
		errors.Is(err, service.ErrCouponInactive):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
