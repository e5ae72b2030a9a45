package models

import "time"

// Provider identifies a payment service processor. The set is closed:
// adding a provider means adding a case to every switch that dispatches
// on it.
type Provider string

const (
	ProviderStripe  Provider = "STRIPE"
	ProviderNetopia Provider = "NETOPIA"
	ProviderPayU    Provider = "PAYU"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderStripe, ProviderNetopia, ProviderPayU:
		return true
	}
	return false
}

// OrderStatus is the reconciliation state of an order. Transitions are
// PENDING -> PAID or PENDING -> FAILED only; both terminal states are final.
type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderPaid    OrderStatus = "PAID"
	OrderFailed  OrderStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderFailed
}

// PaymentOwner records which party's provider account settles the funds.
type PaymentOwner string

const (
	OwnerPlatform PaymentOwner = "PLATFORM"
	OwnerHotel    PaymentOwner = "HOTEL"
)

// EventType classifies append-only domain events.
type EventType string

const (
	EventPageView       EventType = "PAGE_VIEW"
	EventQRScan         EventType = "QR_SCAN"
	EventPaymentSuccess EventType = "PAYMENT_SUCCESS"
	EventPaymentFailed  EventType = "PAYMENT_FAILED"
)

// Hotel is a tenant of the platform.
type Hotel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Screen is a physical digital-signage screen inside a hotel, addressed
// by the slug embedded in its QR code.
type Screen struct {
	ID      string `json:"id"`
	HotelID string `json:"hotel_id"`
	Name    string `json:"name"`
	QRSlug  string `json:"qr_slug"`
}

// Offer is a purchasable upsell item owned by a hotel. Offers are never
// deleted; deactivation only affects future checkouts.
type Offer struct {
	ID          string `json:"id"`
	HotelID     string `json:"hotel_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	PriceCents  int64  `json:"price_cents"` // minor currency units
	Currency    string `json:"currency"`    // ISO 4217
	IsActive    bool   `json:"is_active"`
}

// HotelPaymentConfig holds a hotel's provider selection and credential
// bundles. One row per hotel, upsert semantics. An empty DefaultPSP means
// the hotel has not chosen a provider and checkout must refuse.
type HotelPaymentConfig struct {
	HotelID    string   `json:"hotel_id"`
	DefaultPSP Provider `json:"default_psp,omitempty"`

	StripeSecret  string `json:"stripe_secret,omitempty"`
	StripeWebhook string `json:"stripe_webhook,omitempty"` // per-hotel webhook signing secret

	NetopiaSignature     string `json:"netopia_signature,omitempty"`
	NetopiaTestMode      bool   `json:"netopia_test_mode"`
	NetopiaHostedURLTest string `json:"netopia_hosted_url_test,omitempty"`
	NetopiaHostedURLLive string `json:"netopia_hosted_url_live,omitempty"`
	NetopiaPublicKeyPEM  string `json:"netopia_public_key_pem,omitempty"`
	NetopiaPrivateKeyPEM string `json:"netopia_private_key_pem,omitempty"`

	PayUMerchantID string `json:"payu_merchant_id,omitempty"`
	PayUSecret     string `json:"payu_secret,omitempty"`
	PayUEnv        string `json:"payu_env,omitempty"`
}

// Order is the unit of payment reconciliation: one checkout attempt
// tracked through to a terminal outcome. Created by the checkout
// orchestrator, mutated only by the webhook reconciler.
type Order struct {
	ID            string       `json:"id"`
	HotelID       string       `json:"hotel_id"`
	ScreenID      string       `json:"screen_id,omitempty"`
	OfferID       string       `json:"offer_id,omitempty"`
	Provider      Provider     `json:"provider"`
	ProviderRef   string       `json:"provider_ref,omitempty"` // external session/transaction id
	AmountCents   int64        `json:"amount_cents"`
	Currency      string       `json:"currency"`
	Status        OrderStatus  `json:"status"`
	CustomerEmail string       `json:"customer_email,omitempty"`
	CustomerPhone string       `json:"customer_phone,omitempty"`
	PaymentOwner  PaymentOwner `json:"payment_owner"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// DomainEvent is an immutable audit log entry. Every reconciliation
// outcome appends one.
type DomainEvent struct {
	ID        string    `json:"id"`
	HotelID   string    `json:"hotel_id"`
	ScreenID  string    `json:"screen_id,omitempty"`
	OfferID   string    `json:"offer_id,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Type      EventType `json:"type"`
	Data      string    `json:"data,omitempty"` // JSON payload, truncated
	CreatedAt time.Time `json:"created_at"`
}

// CheckoutRequest is the body of POST /api/checkout (form or JSON).
type CheckoutRequest struct {
	OfferID    string `json:"offerId"`
	ScreenSlug string `json:"screenSlug,omitempty"`
}

// PaymentConfigRequest is the admin payload for upserting a hotel's
// payment configuration.
type PaymentConfigRequest struct {
	HotelID              string `json:"hotelId" validate:"required"`
	DefaultPSP           string `json:"defaultPsp" validate:"omitempty,oneof=STRIPE NETOPIA PAYU"`
	StripeSecret         string `json:"stripeSecret"`
	StripeWebhook        string `json:"stripeWebhook"`
	NetopiaSignature     string `json:"netopiaSignature"`
	NetopiaTestMode      *bool  `json:"netopiaTestMode"`
	NetopiaHostedURLTest string `json:"netopiaHostedUrlTest" validate:"omitempty,url"`
	NetopiaHostedURLLive string `json:"netopiaHostedUrlLive" validate:"omitempty,url"`
	NetopiaPublicKeyPEM  string `json:"netopiaPublicKeyPem"`
	NetopiaPrivateKeyPEM string `json:"netopiaPrivateKeyPem"`
	PayUMerchantID       string `json:"payuMerchantId"`
	PayUSecret           string `json:"payuSecret"`
	PayUEnv              string `json:"payuEnv"`
}

// TestConfigRequest asks for a connection test against one provider.
type TestConfigRequest struct {
	HotelID  string `json:"hotelId" validate:"required"`
	Provider string `json:"provider" validate:"required,oneof=STRIPE NETOPIA PAYU"`
}

// TestConfigResponse reports the result of a connection test.
type TestConfigResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
