package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/jeanbordel/accacia-upsell-mvp/internal/models"
)

// CheckoutSession is the result of creating a hosted checkout session:
// where to send the guest and the external reference to reconcile against.
type CheckoutSession struct {
	RedirectURL string
	ProviderRef string
}

// Outcome is the internal classification of a provider callback.
type Outcome int

const (
	// OutcomeIgnored means the event kind carries no state change.
	OutcomeIgnored Outcome = iota
	OutcomePaid
	OutcomeFailed
)

// StripeEvent is a verified, classified Stripe webhook event.
type StripeEvent struct {
	Outcome       Outcome
	SessionID     string
	PaymentIntent string
	CustomerEmail string
	Type          string
	Raw           []byte
}

// StripeGateway abstracts the outbound Stripe API so the orchestrator can
// be tested without network access. The production implementation is
// stripeGateway below.
type StripeGateway interface {
	CreateCheckoutSession(ctx context.Context, creds StripeCredentials, offer models.Offer, screenID, appURL, screenSlug string) (*CheckoutSession, error)
	CheckBalance(ctx context.Context, secretKey string) error
}

// NewStripeGateway returns the production gateway backed by stripe-go.
// A fresh API client is constructed per call from the hotel's secret key;
// there is no process-wide client singleton.
func NewStripeGateway() StripeGateway {
	return &stripeGateway{}
}

type stripeGateway struct{}

func stripeClient(secretKey string) *client.API {
	api := &client.API{}
	api.Init(secretKey, nil)
	return api
}

// CreateCheckoutSession creates a one-time-payment hosted checkout session
// for the offer's exact price and currency. Hotel, offer and screen ids
// travel as opaque metadata so the webhook reconciler can resolve the
// per-hotel signing secret later.
func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, creds StripeCredentials, offer models.Offer, screenID, appURL, screenSlug string) (*CheckoutSession, error) {
	cancelURL := fmt.Sprintf("%s/o/%s", appURL, offer.ID)
	if screenSlug != "" {
		cancelURL += "?s=" + url.QueryEscape(screenSlug)
	}

	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(offer.Title),
	}
	if offer.Description != "" {
		productData.Description = stripe.String(offer.Description)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(strings.ToLower(offer.Currency)),
					UnitAmount:  stripe.Int64(offer.PriceCents),
					ProductData: productData,
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(appURL + "/o/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(cancelURL),
	}
	params.Context = ctx
	params.AddMetadata("offerId", offer.ID)
	params.AddMetadata("hotelId", offer.HotelID)
	params.AddMetadata("screenId", screenID)

	sess, err := stripeClient(creds.SecretKey).CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: checkout session creation failed: %w", err)
	}

	return &CheckoutSession{
		RedirectURL: sess.URL,
		ProviderRef: sess.ID,
	}, nil
}

// CheckBalance performs the lightweight live credential check used by the
// admin connection test.
func (g *stripeGateway) CheckBalance(ctx context.Context, secretKey string) error {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	if _, err := stripeClient(secretKey).Balance.Get(params); err != nil {
		return fmt.Errorf("stripe: balance retrieval failed: %w", err)
	}
	return nil
}

// VerifyStripeEvent verifies the raw payload against each candidate
// signing secret in order and returns the first event that passes. Empty
// secrets are skipped. Verification with some valid secret is mandatory;
// an event that fails every candidate is rejected.
func VerifyStripeEvent(payload []byte, sigHeader string, secrets []string) (*stripe.Event, error) {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		event, err := webhook.ConstructEvent(payload, sigHeader, secret)
		if err == nil {
			return &event, nil
		}
	}
	return nil, ErrSignatureVerification
}

// ClassifyStripeEvent maps a verified event to an internal outcome.
// Session-completed means paid, session-expired means failed; every other
// event kind is accepted but ignored.
func ClassifyStripeEvent(event *stripe.Event) (StripeEvent, error) {
	out := StripeEvent{Type: string(event.Type), Raw: event.Data.Raw}

	switch event.Type {
	case "checkout.session.completed":
		out.Outcome = OutcomePaid
	case "checkout.session.expired":
		out.Outcome = OutcomeFailed
	default:
		return out, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return StripeEvent{}, fmt.Errorf("stripe: session payload parse failed: %w", err)
	}

	out.SessionID = session.ID
	if session.PaymentIntent != nil {
		out.PaymentIntent = session.PaymentIntent.ID
	}
	if session.CustomerDetails != nil {
		out.CustomerEmail = session.CustomerDetails.Email
	}
	return out, nil
}

// ExtractStripeHotelID pulls the hotelId metadata out of an UNVERIFIED
// payload. The per-hotel signing secret depends on the hotel, so metadata
// extraction necessarily precedes verification; the result is only used
// to pick candidate secrets, never trusted on its own.
func ExtractStripeHotelID(payload []byte) string {
	var probe struct {
		Data struct {
			Object struct {
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.Data.Object.Metadata["hotelId"]
}
