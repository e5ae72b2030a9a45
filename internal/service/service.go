package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/segmentio/ksuid"

	"github.com/jeanbordel/accacia-upsell-mvp/internal/database"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/events"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/models"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/payments"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/validation"
)

var (
	// ErrOfferNotFound means the requested offer does not exist.
	ErrOfferNotFound = errors.New("service: offer not found")

	// ErrOfferInactive means the offer exists but is deactivated. Terminal
	// for the guest; there is no retry path.
	ErrOfferInactive = errors.New("service: offer inactive")

	// ErrCredentialMissing means a connection test was requested for a
	// provider whose credentials are absent.
	ErrCredentialMissing = errors.New("service: provider credential missing")

	// ErrConnectionTest wraps a failed live check against a provider API.
	ErrConnectionTest = errors.New("service: provider connection test failed")

	// ErrProviderDisabled means the hotel's provider is switched off at
	// the platform level. In-flight orders still reconcile; no new
	// checkouts are routed to it.
	ErrProviderDisabled = errors.New("service: payment provider disabled")
)

// maxEventPayload bounds the raw provider data copied into the audit trail.
const maxEventPayload = 500

// Options carries platform-level settings the service needs.
type Options struct {
	AppURL string

	// StripeWebhookSecret is the platform-level signing secret, tried
	// before per-hotel secrets during webhook verification.
	StripeWebhookSecret string

	NetopiaNotifyURL     string
	NetopiaReturnURL     string
	NetopiaPrivateKeyPEM string

	// NetopiaEnabled is the platform kill-switch for routing new
	// checkouts to Netopia. Webhook reconciliation is unaffected.
	NetopiaEnabled bool
}

// Service provides checkout orchestration and webhook reconciliation.
type Service struct {
	db       *database.DB
	resolver *payments.Resolver
	stripe   payments.StripeGateway
	cipher   payments.Cipher
	events   *events.Manager
	opts     Options
}

// NewService creates a new service instance.
func NewService(db *database.DB, resolver *payments.Resolver, stripe payments.StripeGateway, cipher payments.Cipher, ev *events.Manager, opts Options) *Service {
	return &Service{
		db:       db,
		resolver: resolver,
		stripe:   stripe,
		cipher:   cipher,
		events:   ev,
		opts:     opts,
	}
}

// ---------- checkout orchestration ----------

// CheckoutResult is what the guest-facing handler needs to continue the
// flow: a redirect URL (Stripe) or an auto-submitting form (Netopia).
type CheckoutResult struct {
	Provider    models.Provider
	RedirectURL string
	FormHTML    string
	Order       models.Order
}

// CreateCheckout routes a checkout to the hotel's configured provider and
// persists a PENDING order. The order is created only after the provider
// session/payload is successfully built, so a failed provider call never
// leaves an orphan order.
func (s *Service) CreateCheckout(ctx context.Context, offerID, screenSlug string) (*CheckoutResult, error) {
	offer, err := s.db.GetOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("load offer: %w", err)
	}
	if !offer.IsActive {
		return nil, ErrOfferInactive
	}

	// Screen attribution is best effort; a stale or mistyped slug must
	// not block the purchase.
	var screenID string
	if screenSlug != "" {
		screen, err := s.db.GetScreenBySlug(ctx, screenSlug)
		if err == nil {
			screenID = screen.ID
		} else if !errors.Is(err, database.ErrNotFound) {
			log.Printf("service: screen lookup failed for slug %q: %v", screenSlug, err)
		}
	}

	cfg, err := s.resolver.Resolve(ctx, offer.HotelID)
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case models.ProviderStripe:
		return s.checkoutStripe(ctx, offer, screenID, screenSlug, cfg)
	case models.ProviderNetopia:
		if !s.opts.NetopiaEnabled {
			return nil, ErrProviderDisabled
		}
		return s.checkoutNetopia(ctx, offer, screenID, cfg)
	case models.ProviderPayU:
		return nil, payments.ErrProviderNotImplemented
	default:
		return nil, fmt.Errorf("service: unhandled provider %q", cfg.Provider)
	}
}

func (s *Service) checkoutStripe(ctx context.Context, offer models.Offer, screenID, screenSlug string, cfg *payments.ProviderConfig) (*CheckoutResult, error) {
	session, err := s.stripe.CreateCheckoutSession(ctx, *cfg.Stripe, offer, screenID, s.opts.AppURL, screenSlug)
	if err != nil {
		return nil, err
	}

	order, err := s.db.CreateOrder(ctx, models.Order{
		ID:           ksuid.New().String(),
		HotelID:      offer.HotelID,
		ScreenID:     screenID,
		OfferID:      offer.ID,
		Provider:     models.ProviderStripe,
		ProviderRef:  session.ProviderRef,
		AmountCents:  offer.PriceCents,
		Currency:     offer.Currency,
		PaymentOwner: cfg.Owner,
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishCheckoutCreated(ctx, order)

	return &CheckoutResult{
		Provider:    models.ProviderStripe,
		RedirectURL: session.RedirectURL,
		Order:       order,
	}, nil
}

func (s *Service) checkoutNetopia(ctx context.Context, offer models.Offer, screenID string, cfg *payments.ProviderConfig) (*CheckoutResult, error) {
	// Netopia assigns no external id at creation time, so the order's own
	// id doubles as the provider reference. The id is minted up front to
	// embed in the payment descriptor; the row is persisted only after
	// the payload is built and encrypted.
	orderID := ksuid.New().String()

	xmlPayload, err := payments.BuildPaymentXML(payments.PaymentRequest{
		OrderID:     orderID,
		AmountCents: offer.PriceCents,
		Currency:    offer.Currency,
		Description: offer.Title,
		Signature:   cfg.Netopia.Signature,
		NotifyURL:   s.opts.NetopiaNotifyURL,
		ReturnURL:   s.opts.NetopiaReturnURL,
	})
	if err != nil {
		return nil, err
	}

	envKey, data, err := s.cipher.Encrypt(xmlPayload, cfg.Netopia.PublicKeyPEM)
	if err != nil {
		return nil, err
	}

	formHTML, err := payments.AutoSubmitForm(cfg.Netopia.HostedURL, envKey, data)
	if err != nil {
		return nil, err
	}

	order, err := s.db.CreateOrder(ctx, models.Order{
		ID:           orderID,
		HotelID:      offer.HotelID,
		ScreenID:     screenID,
		OfferID:      offer.ID,
		Provider:     models.ProviderNetopia,
		ProviderRef:  orderID,
		AmountCents:  offer.PriceCents,
		Currency:     offer.Currency,
		PaymentOwner: cfg.Owner,
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishCheckoutCreated(ctx, order)

	return &CheckoutResult{
		Provider: models.ProviderNetopia,
		FormHTML: formHTML,
		Order:    order,
	}, nil
}

// ---------- webhook reconciliation ----------

// ReconcileResult describes what a callback did to its order.
type ReconcileResult struct {
	OrderID      string
	Status       models.OrderStatus // status implied by the callback
	Applied      bool               // transition performed by this delivery
	Duplicate    bool               // order already in the implied status
	Conflict     bool               // order already in a different terminal status
	OrderMissing bool
	Ignored      bool // event kind carries no state change
}

// ReconcileStripe verifies and applies a Stripe webhook delivery. A
// signature failure is the only error the handler maps to a rejection;
// everything else is acknowledged so Stripe stops redelivering.
func (s *Service) ReconcileStripe(ctx context.Context, payload []byte, sigHeader string) (*ReconcileResult, error) {
	// The signing secret may be per-hotel, and the hotel is only known
	// from the event's own metadata. The metadata peek is untrusted; the
	// event is accepted only if some candidate secret verifies it.
	secrets := []string{s.opts.StripeWebhookSecret}
	if hotelID := payments.ExtractStripeHotelID(payload); hotelID != "" {
		if secret := s.resolver.WebhookSecretForHotel(ctx, hotelID); secret != "" {
			secrets = append(secrets, secret)
		}
	}

	event, err := payments.VerifyStripeEvent(payload, sigHeader, secrets)
	if err != nil {
		return nil, err
	}

	stripeEvent, err := payments.ClassifyStripeEvent(event)
	if err != nil {
		return nil, err
	}
	if stripeEvent.Outcome == payments.OutcomeIgnored {
		return &ReconcileResult{Ignored: true}, nil
	}

	order, err := s.db.GetOrderByProviderRef(ctx, stripeEvent.SessionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Not recoverable by retrying; acknowledge to stop the storm.
			log.Printf("service: no order for stripe session %s", stripeEvent.SessionID)
			return &ReconcileResult{OrderMissing: true}, nil
		}
		return nil, fmt.Errorf("load order: %w", err)
	}

	var target models.OrderStatus
	data := map[string]interface{}{
		"provider":  string(models.ProviderStripe),
		"sessionId": stripeEvent.SessionID,
	}
	if stripeEvent.Outcome == payments.OutcomePaid {
		target = models.OrderPaid
		data["paymentIntent"] = stripeEvent.PaymentIntent
	} else {
		target = models.OrderFailed
		data["reason"] = "session_expired"
	}

	return s.applyTransition(ctx, order, target, data, stripeEvent.CustomerEmail)
}

// NetopiaAck is the response contract for Netopia IPN callbacks: the
// transport requires the <crc> envelope on every response, with HTTP
// status varying by outcome.
type NetopiaAck struct {
	HTTPStatus int
	Body       string
	Result     *ReconcileResult
}

func netopiaReject(status int, message string) *NetopiaAck {
	return &NetopiaAck{HTTPStatus: status, Body: payments.CRCResponse(message)}
}

// ReconcileNetopia decrypts, parses and applies a Netopia IPN delivery.
// Every path returns the provider's expected envelope; nothing escapes as
// a bare error.
func (s *Service) ReconcileNetopia(ctx context.Context, envKey, data string) *NetopiaAck {
	if envKey == "" || data == "" {
		return netopiaReject(http.StatusBadRequest, "missing env_key or data")
	}

	plaintext, err := s.cipher.Decrypt(envKey, data, s.opts.NetopiaPrivateKeyPEM)
	if err != nil {
		log.Printf("service: netopia decryption failed: %v", err)
		return netopiaReject(http.StatusBadRequest, "could not decrypt payload")
	}

	ipn, err := payments.ParseIPN(plaintext)
	if err != nil {
		log.Printf("service: netopia IPN parse failed: %v", err)
		return netopiaReject(http.StatusBadRequest, "could not parse orderId")
	}

	order, err := s.db.GetOrder(ctx, ipn.OrderID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.Printf("service: no order for netopia IPN %s", ipn.OrderID)
			return netopiaReject(http.StatusNotFound, "order not found")
		}
		log.Printf("service: netopia order lookup failed: %v", err)
		return netopiaReject(http.StatusInternalServerError, "internal error")
	}

	target := models.OrderFailed
	if payments.PaidAction(ipn.Action) {
		target = models.OrderPaid
	}

	raw := string(plaintext)
	if len(raw) > maxEventPayload {
		raw = raw[:maxEventPayload]
	}
	eventData := map[string]interface{}{
		"provider": string(models.ProviderNetopia),
		"action":   ipn.Action,
		"raw":      raw,
	}
	if ipn.Action == "" {
		eventData["action"] = "unknown"
	}

	result, err := s.applyTransition(ctx, order, target, eventData, "")
	if err != nil {
		log.Printf("service: netopia reconciliation failed: %v", err)
		return netopiaReject(http.StatusInternalServerError, "internal error")
	}

	return &NetopiaAck{
		HTTPStatus: http.StatusOK,
		Body:       payments.CRCResponse("OK"),
		Result:     result,
	}
}

// applyTransition is the idempotency gate shared by both providers: one
// conditional write applies the terminal status, and only the delivery
// that wins the write appends the audit event and triggers notification.
func (s *Service) applyTransition(ctx context.Context, order models.Order, target models.OrderStatus, data map[string]interface{}, customerEmail string) (*ReconcileResult, error) {
	result := &ReconcileResult{OrderID: order.ID, Status: target}

	applied, err := s.db.UpdateOrderStatusIfPending(ctx, order.ID, target)
	if err != nil {
		return nil, err
	}

	if !applied {
		current, err := s.db.GetOrder(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("reload order: %w", err)
		}
		if current.Status == target {
			result.Duplicate = true
			log.Printf("service: order %s already %s, duplicate delivery skipped", order.ID, target)
		} else {
			// A FAILED callback for an order already PAID (or vice versa)
			// signals provider-side inconsistency; surfaced, never applied.
			result.Conflict = true
			log.Printf("service: conflicting callback for order %s: is %s, callback implies %s", order.ID, current.Status, target)
		}
		return result, nil
	}
	result.Applied = true

	if customerEmail != "" {
		if err := s.db.SetOrderCustomer(ctx, order.ID, customerEmail, ""); err != nil {
			log.Printf("service: customer backfill failed for order %s: %v", order.ID, err)
		}
	}

	eventType := models.EventPaymentFailed
	if target == models.OrderPaid {
		eventType = models.EventPaymentSuccess
	}
	if err := s.db.AppendEvent(ctx, models.DomainEvent{
		HotelID:  order.HotelID,
		ScreenID: order.ScreenID,
		OfferID:  order.OfferID,
		OrderID:  order.ID,
		Type:     eventType,
		Data:     encodeEventData(data),
	}); err != nil {
		log.Printf("service: audit event append failed for order %s: %v", order.ID, err)
	}

	order.Status = target
	if customerEmail != "" {
		order.CustomerEmail = customerEmail
	}

	if target == models.OrderPaid {
		hotelName, offerTitle := s.describeOrder(ctx, order)
		s.events.PublishOrderPaid(ctx, order, hotelName, offerTitle)
	} else {
		reason, _ := data["reason"].(string)
		s.events.PublishOrderFailed(ctx, order, reason)
	}

	return result, nil
}

// describeOrder resolves display names for notifications, falling back to
// raw ids when lookups fail.
func (s *Service) describeOrder(ctx context.Context, order models.Order) (hotelName, offerTitle string) {
	hotelName = order.HotelID
	offerTitle = order.OfferID

	if hotel, err := s.db.GetHotel(ctx, order.HotelID); err == nil {
		hotelName = hotel.Name
	}
	if order.OfferID != "" {
		if offer, err := s.db.GetOffer(ctx, order.OfferID); err == nil {
			offerTitle = offer.Title
		}
	}
	return hotelName, offerTitle
}

func encodeEventData(data map[string]interface{}) string {
	encoded, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	if len(encoded) > maxEventPayload*2 {
		encoded = encoded[:maxEventPayload*2]
	}
	return string(encoded)
}

// ---------- configuration management ----------

// SavePaymentConfig validates and upserts a hotel's payment configuration,
// then drops the resolver's cached copy.
func (s *Service) SavePaymentConfig(ctx context.Context, cfg models.HotelPaymentConfig) error {
	if _, err := s.db.GetHotel(ctx, cfg.HotelID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: hotel %s", database.ErrNotFound, cfg.HotelID)
		}
		return fmt.Errorf("load hotel: %w", err)
	}

	if err := validation.ValidatePaymentConfig(cfg); err != nil {
		return err
	}

	if err := s.db.UpsertPaymentConfig(ctx, cfg); err != nil {
		return err
	}

	s.resolver.Invalidate(ctx, cfg.HotelID)
	return nil
}

// GetPaymentConfig loads a hotel's payment configuration.
func (s *Service) GetPaymentConfig(ctx context.Context, hotelID string) (models.HotelPaymentConfig, error) {
	return s.db.GetPaymentConfig(ctx, hotelID)
}

// ListOrders returns a hotel's most recent orders, newest first.
func (s *Service) ListOrders(ctx context.Context, hotelID string) ([]models.Order, error) {
	return s.db.ListOrdersByHotel(ctx, hotelID, 100)
}

// SaveOffer validates and upserts an offer.
func (s *Service) SaveOffer(ctx context.Context, offer models.Offer) error {
	if err := validation.ValidateOffer(offer); err != nil {
		return err
	}
	return s.db.UpsertOffer(ctx, offer)
}

// TestConnection performs a lightweight credential check for one provider.
// Stripe gets a live balance call; Netopia gets format validation only.
func (s *Service) TestConnection(ctx context.Context, hotelID string, provider models.Provider) (string, error) {
	cfg, err := s.db.GetPaymentConfig(ctx, hotelID)
	if err != nil {
		return "", err
	}

	switch provider {
	case models.ProviderStripe:
		if cfg.StripeSecret == "" {
			return "", fmt.Errorf("%w: stripe secret key not configured", ErrCredentialMissing)
		}
		if err := s.stripe.CheckBalance(ctx, cfg.StripeSecret); err != nil {
			return "", fmt.Errorf("%w: %v", ErrConnectionTest, err)
		}
		return "Stripe connection successful", nil

	case models.ProviderNetopia:
		if cfg.NetopiaSignature == "" {
			return "", fmt.Errorf("%w: netopia signature not configured", ErrCredentialMissing)
		}
		if len(cfg.NetopiaSignature) < 10 {
			return "", fmt.Errorf("%w: netopia signature appears invalid (too short)", ErrConnectionTest)
		}
		return "Netopia configuration appears valid (basic check)", nil

	case models.ProviderPayU:
		return "", payments.ErrProviderNotImplemented

	default:
		return "", fmt.Errorf("service: unknown provider %q", provider)
	}
}
