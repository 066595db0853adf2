package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"referral-rewards-api/internal/models"
)

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	// local format starting with 0, or international starting with 62
	msisdnRegex     = regexp.MustCompile(`^(0|62)\d{8,13}$`)
	emailRegex      = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9]{4,12}$`)
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateSubmitSuggest checks a referral submission payload before it
// reaches the ledger.
func ValidateSubmitSuggest(req models.SubmitSuggestRequest) error {
	if err := ValidateIdentifier(req.SpreadIdentifier, "spread"); err != nil {
		return err
	}

	if req.Rating < 1 || req.Rating > 5 {
		return &ValidationError{
			Field:   "rating",
			Message: "must be between 1 and 5",
		}
	}

	if strings.TrimSpace(req.Description) == "" {
		return &ValidationError{
			Field:   "description",
			Message: "is required",
		}
	}

	if len(req.Canals) == 0 {
		return &ValidationError{
			Field:   "canals",
			Message: "at least one contact channel is required",
		}
	}

	seen := make(map[string]bool)
	for i, canal := range req.Canals {
		if err := ValidateCanal(canal); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("canals[%d]", i),
				Message: err.Error(),
			}
		}

		key := string(canal.Method) + ":" + canal.Value
		if seen[key] {
			return &ValidationError{
				Field:   "canals",
				Message: fmt.Sprintf("duplicate channel: %s", canal.Value),
			}
		}
		seen[key] = true
	}

	return nil
}

// ValidateCanal checks one contact channel. Phone-like methods (phone,
// whatsapp, telegram) must carry an msisdn; email must carry an address.
func ValidateCanal(canal models.CanalInput) error {
	if !canal.Method.Valid() {
		return &ValidationError{
			Field:   "method",
			Message: fmt.Sprintf("unknown method %q", canal.Method),
		}
	}

	value := SanitizeString(canal.Value)
	if value == "" {
		return &ValidationError{
			Field:   "value",
			Message: "is required",
		}
	}

	switch canal.Method {
	case models.MethodEmail:
		if !emailRegex.MatchString(value) {
			return &ValidationError{
				Field:   "value",
				Message: "must be a valid email address",
			}
		}
	default:
		if !msisdnRegex.MatchString(value) {
			return &ValidationError{
				Field:   "value",
				Message: "must be a valid msisdn",
			}
		}
	}

	return nil
}

// ValidateCreateReward checks a reward creation payload.
func ValidateCreateReward(req models.CreateRewardRequest) error {
	if !req.Source.Kind.Valid() {
		return &ValidationError{
			Field:   "source.kind",
			Message: "must be fragment or broadcast",
		}
	}
	if err := ValidateUUID(req.Source.UUID, "source.uuid"); err != nil {
		return err
	}
	if strings.TrimSpace(req.Label) == "" {
		return &ValidationError{
			Field:   "label",
			Message: "is required",
		}
	}
	if req.Allocation < 0 {
		return &ValidationError{
			Field:   "allocation",
			Message: "must be non-negative",
		}
	}
	if req.StartAt.IsZero() || req.ExpiryAt.IsZero() {
		return &ValidationError{
			Field:   "start_at",
			Message: "start_at and expiry_at are required",
		}
	}
	if !req.StartAt.Before(req.ExpiryAt) {
		return &ValidationError{
			Field:   "start_at",
			Message: "must be before expiry_at",
		}
	}
	switch req.Type {
	case models.RewardGift, models.RewardCashback, models.RewardDiscount:
	default:
		return &ValidationError{
			Field:   "type",
			Message: "must be gift, cashback or discount",
		}
	}
	return nil
}

// ValidateCreateSpread checks a spread creation payload.
func ValidateCreateSpread(req models.CreateSpreadRequest) error {
	if !req.Source.Kind.Valid() {
		return &ValidationError{
			Field:   "source.kind",
			Message: "must be fragment or broadcast",
		}
	}
	if err := ValidateUUID(req.Source.UUID, "source.uuid"); err != nil {
		return err
	}
	if req.Allocation < 0 {
		return &ValidationError{
			Field:   "allocation",
			Message: "must be non-negative",
		}
	}
	return nil
}

// SanitizeString strips control characters and surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidateUUID checks that id is a well-formed UUID.
func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID",
		}
	}

	return nil
}

// ValidateIdentifier checks a short shareable identifier.
func ValidateIdentifier(identifier, fieldName string) error {
	if identifier == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if !identifierRegex.MatchString(identifier) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a short alphanumeric code",
		}
	}

	return nil
}
