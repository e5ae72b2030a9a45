// Package payments contains the provider adapters and the per-hotel
// payment configuration resolver. Checkout orchestration and webhook
// reconciliation live in internal/service and consume this package.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jeanbordel/accacia-upsell-mvp/internal/cache"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/database"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/models"
)

var (
	// ErrNotConfigured means the hotel has no payment configuration row
	// or has not selected a default provider.
	ErrNotConfigured = errors.New("payments: hotel has no configured provider")

	// ErrIncompleteCredentials means the selected provider is missing
	// required credential fields.
	ErrIncompleteCredentials = errors.New("payments: provider credentials incomplete")

	// ErrProviderNotImplemented is returned for providers that exist in
	// the configuration schema but have no adapter yet (PayU).
	ErrProviderNotImplemented = errors.New("payments: provider not implemented")

	// ErrSignatureVerification means an inbound webhook failed
	// verification against every candidate secret.
	ErrSignatureVerification = errors.New("payments: webhook signature verification failed")

	// ErrOrderIDMissing means no order id could be extracted from a
	// decrypted IPN payload.
	ErrOrderIDMissing = errors.New("payments: order id missing from payload")
)

// StripeCredentials is the credential bundle for a hotel's Stripe account.
type StripeCredentials struct {
	SecretKey     string
	WebhookSecret string // optional per-hotel webhook signing secret
}

// NetopiaCredentials is the credential bundle for a hotel's Netopia
// merchant account.
type NetopiaCredentials struct {
	Signature     string
	TestMode      bool
	HostedURL     string
	PublicKeyPEM  string
	PrivateKeyPEM string
}

// ProviderConfig is the resolved routing decision for one hotel: which
// provider handles its checkouts and with which credentials. Exactly one
// credential bundle is non-nil, matching Provider.
type ProviderConfig struct {
	Provider models.Provider
	Owner    models.PaymentOwner
	Stripe   *StripeCredentials
	Netopia  *NetopiaCredentials
}

// ConfigStore is the subset of the database the resolver needs.
type ConfigStore interface {
	GetPaymentConfig(ctx context.Context, hotelID string) (models.HotelPaymentConfig, error)
}

// Resolver looks up which provider a hotel routes checkouts to. It is the
// single gate before any checkout or connection test proceeds.
type Resolver struct {
	store ConfigStore
	cache cache.Cache // nil disables caching
	ttl   time.Duration

	// HostedURLTest/Live are platform defaults for hotels that configure
	// Netopia without overriding the hosted checkout URLs.
	HostedURLTest string
	HostedURLLive string
}

// NewResolver creates a resolver. A nil cache disables config caching.
func NewResolver(store ConfigStore, c cache.Cache, ttl time.Duration, hostedURLTest, hostedURLLive string) *Resolver {
	return &Resolver{
		store:         store,
		cache:         c,
		ttl:           ttl,
		HostedURLTest: hostedURLTest,
		HostedURLLive: hostedURLLive,
	}
}

// Resolve returns the provider routing for a hotel, or ErrNotConfigured /
// ErrIncompleteCredentials. Pure lookup, no side effects beyond caching.
func (r *Resolver) Resolve(ctx context.Context, hotelID string) (*ProviderConfig, error) {
	cfg, err := r.loadConfig(ctx, hotelID)
	if err != nil {
		return nil, err
	}

	if cfg.DefaultPSP == "" {
		return nil, ErrNotConfigured
	}

	switch cfg.DefaultPSP {
	case models.ProviderStripe:
		if cfg.StripeSecret == "" {
			return nil, ErrIncompleteCredentials
		}
		return &ProviderConfig{
			Provider: models.ProviderStripe,
			Owner:    models.OwnerHotel,
			Stripe: &StripeCredentials{
				SecretKey:     cfg.StripeSecret,
				WebhookSecret: cfg.StripeWebhook,
			},
		}, nil

	case models.ProviderNetopia:
		if cfg.NetopiaSignature == "" || cfg.NetopiaPublicKeyPEM == "" {
			return nil, ErrIncompleteCredentials
		}
		return &ProviderConfig{
			Provider: models.ProviderNetopia,
			Owner:    models.OwnerHotel,
			Netopia: &NetopiaCredentials{
				Signature:     cfg.NetopiaSignature,
				TestMode:      cfg.NetopiaTestMode,
				HostedURL:     r.hostedURL(cfg),
				PublicKeyPEM:  cfg.NetopiaPublicKeyPEM,
				PrivateKeyPEM: cfg.NetopiaPrivateKeyPEM,
			},
		}, nil

	case models.ProviderPayU:
		if cfg.PayUMerchantID == "" || cfg.PayUSecret == "" {
			return nil, ErrIncompleteCredentials
		}
		return nil, ErrProviderNotImplemented

	default:
		return nil, fmt.Errorf("payments: unknown provider %q", cfg.DefaultPSP)
	}
}

// WebhookSecretForHotel returns a hotel's per-hotel Stripe webhook secret,
// or "" when the hotel has none. Used to build the candidate secret list
// during webhook verification.
func (r *Resolver) WebhookSecretForHotel(ctx context.Context, hotelID string) string {
	if hotelID == "" {
		return ""
	}
	cfg, err := r.loadConfig(ctx, hotelID)
	if err != nil {
		return ""
	}
	return cfg.StripeWebhook
}

// hostedURL picks the hotel's override or the platform default for the
// configured test/live mode.
func (r *Resolver) hostedURL(cfg models.HotelPaymentConfig) string {
	if cfg.NetopiaTestMode {
		if cfg.NetopiaHostedURLTest != "" {
			return cfg.NetopiaHostedURLTest
		}
		return r.HostedURLTest
	}
	if cfg.NetopiaHostedURLLive != "" {
		return cfg.NetopiaHostedURLLive
	}
	return r.HostedURLLive
}

func (r *Resolver) loadConfig(ctx context.Context, hotelID string) (models.HotelPaymentConfig, error) {
	key := "payment-config:" + hotelID

	if r.cache != nil {
		var cached models.HotelPaymentConfig
		if err := cache.GetJSON(ctx, r.cache, key, &cached); err == nil {
			return cached, nil
		}
	}

	cfg, err := r.store.GetPaymentConfig(ctx, hotelID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.HotelPaymentConfig{}, ErrNotConfigured
		}
		return models.HotelPaymentConfig{}, fmt.Errorf("payments: config lookup failed: %w", err)
	}

	if r.cache != nil {
		if err := cache.SetJSON(ctx, r.cache, key, cfg, r.ttl); err != nil {
			log.Printf("payments: config cache write failed: %v", err)
		}
	}
	return cfg, nil
}

// Invalidate drops a hotel's cached configuration. Called after admin
// config updates so the next checkout sees fresh credentials.
func (r *Resolver) Invalidate(ctx context.Context, hotelID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, "payment-config:"+hotelID); err != nil {
		log.Printf("payments: config cache invalidation failed: %v", err)
	}
}
