package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jeanbordel/accacia-upsell-mvp/internal/database"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/models"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/payments"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/service"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	validate    *validator.Validate
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
		validate:    validator.New(),
		maxBodySize: opts.MaxBodySize,
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateCheckout handles POST /api/checkout. The guest flow posts from a
// plain HTML form, the admin preview posts JSON; both shapes are accepted.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.CheckoutRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if err == io.EOF {
				h.respondError(w, http.StatusBadRequest, "request body is required")
				return
			}
			h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		req.OfferID = r.PostFormValue("offerId")
		req.ScreenSlug = r.PostFormValue("screenSlug")
	}

	req.OfferID = validation.SanitizeString(req.OfferID)
	req.ScreenSlug = validation.SanitizeString(req.ScreenSlug)

	if req.OfferID == "" {
		h.respondError(w, http.StatusBadRequest, "offerId is required")
		return
	}

	result, err := h.service.CreateCheckout(r.Context(), req.OfferID, req.ScreenSlug)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOfferNotFound):
			h.respondError(w, http.StatusNotFound, "offer not found")
		case errors.Is(err, service.ErrOfferInactive):
			h.respondError(w, http.StatusGone, "offer is no longer available")
		case errors.Is(err, payments.ErrNotConfigured),
			errors.Is(err, payments.ErrIncompleteCredentials):
			h.respondError(w, http.StatusServiceUnavailable, "payment is not configured for this hotel")
		case errors.Is(err, payments.ErrProviderNotImplemented):
			h.respondError(w, http.StatusServiceUnavailable, "payment provider is not yet supported")
		case errors.Is(err, service.ErrProviderDisabled):
			h.respondError(w, http.StatusServiceUnavailable, "payment provider is temporarily disabled")
		default:
			h.respondError(w, http.StatusInternalServerError, "checkout failed")
		}
		return
	}

	switch result.Provider {
	case models.ProviderNetopia:
		// The Netopia flow continues via an auto-submitting form in the
		// guest's browser rather than a redirect URL.
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(result.FormHTML))
	default:
		http.Redirect(w, r, result.RedirectURL, http.StatusSeeOther)
	}
}

// StripeWebhook handles POST /api/webhooks/stripe
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.respondError(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	if _, err := h.service.ReconcileStripe(r.Context(), payload, sigHeader); err != nil {
		if errors.Is(err, payments.ErrSignatureVerification) {
			h.respondError(w, http.StatusBadRequest, "webhook signature verification failed")
			return
		}
		h.respondError(w, http.StatusBadRequest, "could not process webhook event")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// NetopiaWebhook handles POST /api/webhooks/netopia. Every response body is
// the provider's <crc> acknowledgment envelope.
func (h *Handler) NetopiaWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := r.ParseForm(); err != nil {
		h.respondCRC(w, http.StatusBadRequest, payments.CRCResponse("invalid form body"))
		return
	}

	ack := h.service.ReconcileNetopia(r.Context(), r.PostFormValue("env_key"), r.PostFormValue("data"))
	h.respondCRC(w, ack.HTTPStatus, ack.Body)
}

// SavePaymentConfig handles POST /api/admin/payment-config
func (h *Handler) SavePaymentConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.PaymentConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	cfg := models.HotelPaymentConfig{
		HotelID:              validation.SanitizeString(req.HotelID),
		DefaultPSP:           models.Provider(req.DefaultPSP),
		StripeSecret:         strings.TrimSpace(req.StripeSecret),
		StripeWebhook:        strings.TrimSpace(req.StripeWebhook),
		NetopiaSignature:     strings.TrimSpace(req.NetopiaSignature),
		NetopiaHostedURLTest: strings.TrimSpace(req.NetopiaHostedURLTest),
		NetopiaHostedURLLive: strings.TrimSpace(req.NetopiaHostedURLLive),
		NetopiaPublicKeyPEM:  req.NetopiaPublicKeyPEM,
		NetopiaPrivateKeyPEM: req.NetopiaPrivateKeyPEM,
		PayUMerchantID:       strings.TrimSpace(req.PayUMerchantID),
		PayUSecret:           strings.TrimSpace(req.PayUSecret),
		PayUEnv:              strings.TrimSpace(req.PayUEnv),
	}
	if req.NetopiaTestMode != nil {
		cfg.NetopiaTestMode = *req.NetopiaTestMode
	} else {
		cfg.NetopiaTestMode = true
	}

	if err := h.service.SavePaymentConfig(r.Context(), cfg); err != nil {
		var verr *validation.ValidationError
		switch {
		case errors.As(err, &verr):
			h.respondError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, database.ErrNotFound):
			h.respondError(w, http.StatusNotFound, "hotel not found")
		default:
			h.respondError(w, http.StatusInternalServerError, "could not save payment configuration")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetPaymentConfig handles GET /api/admin/payment-config?hotelId=...
// Secrets are masked in the response; the admin UI only needs to see that
// a credential is present.
func (h *Handler) GetPaymentConfig(w http.ResponseWriter, r *http.Request) {
	hotelID := validation.SanitizeString(r.URL.Query().Get("hotelId"))
	if hotelID == "" {
		h.respondError(w, http.StatusBadRequest, "hotelId is required")
		return
	}

	cfg, err := h.service.GetPaymentConfig(r.Context(), hotelID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "payment configuration not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "could not load payment configuration")
		return
	}

	cfg.StripeSecret = maskSecret(cfg.StripeSecret)
	cfg.StripeWebhook = maskSecret(cfg.StripeWebhook)
	cfg.NetopiaSignature = maskSecret(cfg.NetopiaSignature)
	cfg.NetopiaPublicKeyPEM = maskSecret(cfg.NetopiaPublicKeyPEM)
	cfg.NetopiaPrivateKeyPEM = maskSecret(cfg.NetopiaPrivateKeyPEM)
	cfg.PayUSecret = maskSecret(cfg.PayUSecret)

	h.respondJSON(w, http.StatusOK, cfg)
}

// TestPaymentConfig handles POST /api/admin/test-payment-config
func (h *Handler) TestPaymentConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.TestConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	message, err := h.service.TestConnection(r.Context(), validation.SanitizeString(req.HotelID), models.Provider(req.Provider))
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			h.respondError(w, http.StatusNotFound, "payment configuration not found")
		case errors.Is(err, payments.ErrProviderNotImplemented):
			h.respondError(w, http.StatusNotImplemented, "provider connection test not yet supported")
		case errors.Is(err, service.ErrCredentialMissing),
			errors.Is(err, service.ErrConnectionTest):
			h.respondJSON(w, http.StatusBadRequest, models.TestConfigResponse{
				Success: false,
				Message: err.Error(),
			})
		default:
			h.respondError(w, http.StatusInternalServerError, "connection test failed")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, models.TestConfigResponse{
		Success: true,
		Message: message,
	})
}

// SaveOffer handles POST /api/admin/offers
func (h *Handler) SaveOffer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.Offer
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	req.ID = validation.SanitizeString(req.ID)
	req.HotelID = validation.SanitizeString(req.HotelID)
	req.Title = validation.SanitizeString(req.Title)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))

	if err := h.service.SaveOffer(r.Context(), req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, req)
}

// ListOrders handles GET /api/admin/orders?hotelId=...
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	hotelID := validation.SanitizeString(r.URL.Query().Get("hotelId"))
	if hotelID == "" {
		h.respondError(w, http.StatusBadRequest, "hotelId is required")
		return
	}

	orders, err := h.service.ListOrders(r.Context(), hotelID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "could not list orders")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
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

// respondCRC writes a Netopia acknowledgment envelope.
func (h *Handler) respondCRC(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// validationMessage flattens a validator error into a single field message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "oneof":
			return fe.Field() + " must be one of " + fe.Param()
		case "url":
			return fe.Field() + " must be a valid URL"
		default:
			return fe.Field() + " is invalid"
		}
	}
	return "invalid request"
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
