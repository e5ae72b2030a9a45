package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jeanbordel/accacia-upsell-mvp/internal/database"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/events"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/models"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/payments"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/service"
)

func setupTestHandler(t *testing.T) (*Handler, *database.DB, func()) {
	dbPath := "./test_" + uuid.New().String() + ".db"
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	resolver := payments.NewResolver(db, nil, 0,
		"https://sandbox.netopia-payments.com/payment/card/start",
		"https://secure.netopia-payments.com/payment/card/start",
	)
	gw := &stubGateway{session: &payments.CheckoutSession{
		RedirectURL: "https://checkout.stripe.com/pay",
		ProviderRef: "cs_test_handler",
	}}
	svc := service.NewService(db, resolver, gw, payments.StubCipher{}, events.NewManager(false), service.Options{
		AppURL:              "http://localhost:8080",
		StripeWebhookSecret: "whsec_test",
		NetopiaNotifyURL:    "http://localhost:8080/api/webhooks/netopia",
		NetopiaReturnURL:    "http://localhost:8080/o/success",
		NetopiaEnabled:      true,
	})

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return NewHandler(svc), db, cleanup
}

type stubGateway struct {
	session *payments.CheckoutSession
}

func (s *stubGateway) CreateCheckoutSession(ctx context.Context, creds payments.StripeCredentials, offer models.Offer, screenID, appURL, screenSlug string) (*payments.CheckoutSession, error) {
	return s.session, nil
}

func (s *stubGateway) CheckBalance(ctx context.Context, secretKey string) error {
	return nil
}

func seedCheckoutFixtures(t *testing.T, db *database.DB, psp models.Provider) (hotelID, offerID string) {
	ctx := context.Background()
	hotelID = uuid.New().String()
	offerID = uuid.New().String()

	if err := db.UpsertHotel(ctx, models.Hotel{ID: hotelID, Name: "Hotel Bacolux"}); err != nil {
		t.Fatalf("Failed to create hotel: %v", err)
	}
	if err := db.UpsertOffer(ctx, models.Offer{
		ID:         offerID,
		HotelID:    hotelID,
		Title:      "Spa Upgrade",
		PriceCents: 15000,
		Currency:   "RON",
		IsActive:   true,
	}); err != nil {
		t.Fatalf("Failed to create offer: %v", err)
	}

	cfg := models.HotelPaymentConfig{HotelID: hotelID, DefaultPSP: psp}
	switch psp {
	case models.ProviderStripe:
		cfg.StripeSecret = "sk_test_123"
	case models.ProviderNetopia:
		cfg.NetopiaSignature = "XXXX-XXXX-XXXX-XXXX-XXXX"
		cfg.NetopiaTestMode = true
		cfg.NetopiaPublicKeyPEM = "-----BEGIN PUBLIC KEY-----\ntest\n-----END PUBLIC KEY-----"
	}
	if psp != "" {
		if err := db.UpsertPaymentConfig(ctx, cfg); err != nil {
			t.Fatalf("Failed to save payment config: %v", err)
		}
	}
	return hotelID, offerID
}

func postJSON(h http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestCreateCheckout_JSONBody(t *testing.T) {
	h, db, cleanup := setupTestHandler(t)
	defer cleanup()

	_, offerID := seedCheckoutFixtures(t, db, models.ProviderStripe)

	rec := postJSON(h.CreateCheckout, "/api/checkout", models.CheckoutRequest{OfferID: offerID})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("Expected 303, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "https://checkout.stripe.com/pay" {
		t.Errorf("Unexpected redirect target %q", loc)
	}
}

func TestCreateCheckout_FormBody(t *testing.T) {
	h, db, cleanup := setupTestHandler(t)
	defer cleanup()

	_, offerID := seedCheckoutFixtures(t, db, models.ProviderStripe)

	form := url.Values{}
	form.Set("offerId", offerID)
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.CreateCheckout(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("Expected 303, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateCheckout_NetopiaReturnsForm(t *testing.T) {
	h, db, cleanup := setupTestHandler(t)
	defer cleanup()

	_, offerID := seedCheckoutFixtures(t, db, models.ProviderNetopia)

	rec := postJSON(h.CreateCheckout, "/api/checkout", models.CheckoutRequest{OfferID: offerID})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML response, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "env_key") {
		t.Error("Expected auto-submitting payment form in response")
	}
}

func TestCreateCheckout_MissingOfferID(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	rec := postJSON(h.CreateCheckout, "/api/checkout", models.CheckoutRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestCreateCheckout_OfferNotFound(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	rec := postJSON(h.CreateCheckout, "/api/checkout", models.CheckoutRequest{OfferID: uuid.New().String()})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestCreateCheckout_InactiveOfferGone(t *testing.T) {
	h, db, cleanup := setupTestHandler(t)
	defer cleanup()

	_, offerID := seedCheckoutFixtures(t, db, models.ProviderStripe)
	offer, _ := db.GetOffer(context.Background(), offerID)
	offer.IsActive = false
	if err := db.UpsertOffer(context.Background(), offer); err != nil {
		t.Fatalf("Failed to deactivate offer: %v", err)
	}

	rec := postJSON(h.CreateCheckout, "/api/checkout", models.CheckoutRequest{OfferID: offerID})
	if rec.Code != http.StatusGone {
		t.Errorf("Expected 410, got %d", rec.Code)
	}
}

func TestCreateCheckout_PaymentNotConfigured(t *testing.T) {
	h, db, cleanup := setupTestHandler(t)
	defer cleanup()

	_, offerID := seedCheckoutFixtures(t, db, "")

	rec := postJSON(h.CreateCheckout, "/api/checkout", models.CheckoutRequest{OfferID: offerID})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{"type":"checkout.session.completed"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestNetopiaWebhook_MissingFields(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/netopia", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.NetopiaWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<crc>") {
		t.Errorf("Expected crc envelope, got %s", rec.Body.String())
	}
}

func TestNetopiaWebhook_PaidFlow(t *testing.T) {
	h, db, cleanup := setupTestHandler(t)
	defer cleanup()

	hotelID, offerID := seedCheckoutFixtures(t, db, models.ProviderNetopia)

	// Create the order through the public checkout endpoint.
	rec := postJSON(h.CreateCheckout, "/api/checkout", models.CheckoutRequest{OfferID: offerID})
	if rec.Code != http.StatusOK {
		t.Fatalf("Checkout failed: %d %s", rec.Code, rec.Body.String())
	}

	orders, err := db.ListOrdersByHotel(context.Background(), hotelID, 1)
	if err != nil || len(orders) != 1 {
		t.Fatalf("Expected one pending order, got %v (%v)", orders, err)
	}

	ipn := `<order id="` + orders[0].ID + `"><params action="confirmed"/></order>`
	envKey, data, err := payments.StubCipher{}.Encrypt([]byte(ipn), "")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	form := url.Values{}
	form.Set("env_key", envKey)
	form.Set("data", data)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/netopia", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.NetopiaWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<crc>OK</crc>") {
		t.Errorf("Expected crc acknowledgment, got %s", rec.Body.String())
	}

	order, _ := db.GetOrder(context.Background(), orders[0].ID)
	if order.Status != models.OrderPaid {
		t.Errorf("Expected PAID, got %s", order.Status)
	}
}

func TestNetopiaWebhook_UnknownOrder(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	ipn := `<order id="` + uuid.New().String() + `"><params action="confirmed"/></order>`
	envKey, data, _ := payments.StubCipher{}.Encrypt([]byte(ipn), "")

	form := url.Values{}
	form.Set("env_key", envKey)
	form.Set("data", data)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/netopia", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.NetopiaWebhook(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<crc>") {
		t.Errorf("Expected crc envelope, got %s", rec.Body.String())
	}
}

func TestSavePaymentConfig_Valid(t *testing.T) {
	h, db, cleanup := setupTestHandler(t)
	defer cleanup()

	hotelID := uuid.New().String()
	if err := db.UpsertHotel(context.Background(), models.Hotel{ID: hotelID, Name: "Hotel Bacolux"}); err != nil {
		t.Fatalf("Failed to create hotel: %v", err)
	}

	rec := postJSON(h.SavePaymentConfig, "/api/admin/payment-config", models.PaymentConfigRequest{
		HotelID:      hotelID,
		DefaultPSP:   "STRIPE",
		StripeSecret: "sk_test_abcdef",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	cfg, err := db.GetPaymentConfig(context.Background(), hotelID)
	if err != nil {
		t.Fatalf("Config was not persisted: %v", err)
	}
	if cfg.DefaultPSP != models.ProviderStripe {
		t.Errorf("Expected STRIPE, got %s", cfg.DefaultPSP)
	}
	if !cfg.NetopiaTestMode {
		t.Error("Netopia test mode should default to true")
	}
}

func TestSavePaymentConfig_InvalidProvider(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	rec := postJSON(h.SavePaymentConfig, "/api/admin/payment-config", map[string]string{
		"hotelId":    uuid.New().String(),
		"defaultPsp": "PAYPAL",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSavePaymentConfig_MissingCredential(t *testing.T) {
	h, db, cleanup := setupTestHandler(t)
	defer cleanup()

	hotelID := uuid.New().String()
	if err := db.UpsertHotel(context.Background(), models.Hotel{ID: hotelID, Name: "Hotel Bacolux"}); err != nil {
		t.Fatalf("Failed to create hotel: %v", err)
	}

	rec := postJSON(h.SavePaymentConfig, "/api/admin/payment-config", models.PaymentConfigRequest{
		HotelID:    hotelID,
		DefaultPSP: "NETOPIA",
		// signature and public key missing
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSavePaymentConfig_UnknownHotel(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	rec := postJSON(h.SavePaymentConfig, "/api/admin/payment-config", models.PaymentConfigRequest{
		HotelID:      uuid.New().String(),
		DefaultPSP:   "STRIPE",
		StripeSecret: "sk_test_abcdef",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetPaymentConfig_MasksSecrets(t *testing.T) {
	h, db, cleanup := setupTestHandler(t)
	defer cleanup()

	hotelID, _ := seedCheckoutFixtures(t, db, models.ProviderStripe)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/payment-config?hotelId="+hotelID, nil)
	rec := httptest.NewRecorder()
	h.GetPaymentConfig(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk_test_123") {
		t.Error("Secret key must be masked in the response")
	}
}

func TestTestPaymentConfig_NotFound(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	rec := postJSON(h.TestPaymentConfig, "/api/admin/test-payment-config", models.TestConfigRequest{
		HotelID:  uuid.New().String(),
		Provider: "STRIPE",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTestPaymentConfig_PayUNotImplemented(t *testing.T) {
	h, db, cleanup := setupTestHandler(t)
	defer cleanup()

	hotelID, _ := seedCheckoutFixtures(t, db, models.ProviderStripe)

	rec := postJSON(h.TestPaymentConfig, "/api/admin/test-payment-config", models.TestConfigRequest{
		HotelID:  hotelID,
		Provider: "PAYU",
	})
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("Expected 501, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSaveOffer(t *testing.T) {
	h, db, cleanup := setupTestHandler(t)
	defer cleanup()

	hotelID := uuid.New().String()
	if err := db.UpsertHotel(context.Background(), models.Hotel{ID: hotelID, Name: "Hotel Bacolux"}); err != nil {
		t.Fatalf("Failed to create hotel: %v", err)
	}

	rec := postJSON(h.SaveOffer, "/api/admin/offers", models.Offer{
		ID:         "offer-late-checkout",
		HotelID:    hotelID,
		Title:      "Late Checkout",
		PriceCents: 5000,
		Currency:   "ron",
		IsActive:   true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	offer, err := db.GetOffer(context.Background(), "offer-late-checkout")
	if err != nil {
		t.Fatalf("Offer was not persisted: %v", err)
	}
	if offer.Currency != "RON" {
		t.Errorf("Currency should be upper-cased, got %s", offer.Currency)
	}
}

func TestSaveOffer_InvalidPrice(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	rec := postJSON(h.SaveOffer, "/api/admin/offers", models.Offer{
		ID:         "offer-free",
		HotelID:    uuid.New().String(),
		Title:      "Free Thing",
		PriceCents: 0,
		Currency:   "RON",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}
