package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/jeanbordel/accacia-upsell-mvp/internal/models"
)

var (
	// Entity ids are seed slugs, ksuids or uuids; anything URL-safe up to 64 chars.
	idRegex       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func ValidateOffer(offer models.Offer) error {
	if err := ValidateID(offer.ID, "id"); err != nil {
		return err
	}

	if err := ValidateID(offer.HotelID, "hotel_id"); err != nil {
		return err
	}

	if strings.TrimSpace(offer.Title) == "" {
		return &ValidationError{
			Field:   "title",
			Message: "is required",
		}
	}

	if len(offer.Title) > 200 {
		return &ValidationError{
			Field:   "title",
			Message: "cannot exceed 200 characters",
		}
	}

	if offer.PriceCents <= 0 {
		return &ValidationError{
			Field:   "price_cents",
			Message: "must be positive",
		}
	}

	maxPrice := int64(100_000_000)
	if offer.PriceCents > maxPrice {
		return &ValidationError{
			Field:   "price_cents",
			Message: "exceeds maximum allowed amount",
		}
	}

	return ValidateCurrency(offer.Currency)
}

// ValidatePaymentConfig checks the invariant that a selected default
// provider has its required credential fields present.
func ValidatePaymentConfig(cfg models.HotelPaymentConfig) error {
	if err := ValidateID(cfg.HotelID, "hotel_id"); err != nil {
		return err
	}

	if cfg.DefaultPSP == "" {
		return nil
	}

	if !cfg.DefaultPSP.Valid() {
		return &ValidationError{
			Field:   "default_psp",
			Message: "must be one of STRIPE, NETOPIA, PAYU",
		}
	}

	switch cfg.DefaultPSP {
	case models.ProviderStripe:
		if strings.TrimSpace(cfg.StripeSecret) == "" {
			return &ValidationError{
				Field:   "stripe_secret",
				Message: "is required when defaultPsp is STRIPE",
			}
		}
	case models.ProviderNetopia:
		if strings.TrimSpace(cfg.NetopiaSignature) == "" {
			return &ValidationError{
				Field:   "netopia_signature",
				Message: "is required when defaultPsp is NETOPIA",
			}
		}
		if strings.TrimSpace(cfg.NetopiaPublicKeyPEM) == "" {
			return &ValidationError{
				Field:   "netopia_public_key_pem",
				Message: "is required when defaultPsp is NETOPIA",
			}
		}
	case models.ProviderPayU:
		if strings.TrimSpace(cfg.PayUMerchantID) == "" {
			return &ValidationError{
				Field:   "payu_merchant_id",
				Message: "is required when defaultPsp is PAYU",
			}
		}
	}

	return nil
}

func ValidateCurrency(currency string) error {
	if currency == "" {
		return &ValidationError{
			Field:   "currency",
			Message: "is required",
		}
	}

	if !currencyRegex.MatchString(currency) {
		return &ValidationError{
			Field:   "currency",
			Message: "must be a 3-letter ISO 4217 code",
		}
	}

	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !idRegex.MatchString(id) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a URL-safe identifier of at most 64 characters",
		}
	}

	return nil
}
