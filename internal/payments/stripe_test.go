package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

const completedSessionPayload = `{
	"id": "evt_1",
	"api_version": "2022-11-15",
	"type": "checkout.session.completed",
	"data": {
		"object": {
			"id": "cs_test_abc",
			"object": "checkout.session",
			"payment_intent": "pi_test_xyz",
			"metadata": {"hotelId": "hotel-1", "offerId": "offer-1"},
			"customer_details": {"email": "guest@example.com"}
		}
	}
}`

func TestVerifyStripeEvent_ValidSecret(t *testing.T) {
	payload := []byte(completedSessionPayload)

	event, err := VerifyStripeEvent(payload, signPayload(payload, "whsec_a"), []string{"whsec_a"})
	if err != nil {
		t.Fatalf("VerifyStripeEvent failed: %v", err)
	}
	if string(event.Type) != "checkout.session.completed" {
		t.Errorf("Unexpected event type %s", event.Type)
	}
}

func TestVerifyStripeEvent_TriesCandidatesInOrder(t *testing.T) {
	payload := []byte(completedSessionPayload)
	sig := signPayload(payload, "whsec_hotel")

	// Global secret fails, empty secret is skipped, hotel secret verifies.
	if _, err := VerifyStripeEvent(payload, sig, []string{"whsec_global", "", "whsec_hotel"}); err != nil {
		t.Errorf("Expected hotel secret to verify, got %v", err)
	}
}

func TestVerifyStripeEvent_AllCandidatesFail(t *testing.T) {
	payload := []byte(completedSessionPayload)
	sig := signPayload(payload, "whsec_other")

	if _, err := VerifyStripeEvent(payload, sig, []string{"whsec_a", "whsec_b", ""}); err != ErrSignatureVerification {
		t.Errorf("Expected ErrSignatureVerification, got %v", err)
	}
}

func TestVerifyStripeEvent_NoUsableSecrets(t *testing.T) {
	payload := []byte(completedSessionPayload)
	if _, err := VerifyStripeEvent(payload, signPayload(payload, "whsec_a"), []string{"", ""}); err != ErrSignatureVerification {
		t.Errorf("Expected ErrSignatureVerification, got %v", err)
	}
}

func TestClassifyStripeEvent(t *testing.T) {
	payload := []byte(completedSessionPayload)
	event, err := VerifyStripeEvent(payload, signPayload(payload, "whsec_a"), []string{"whsec_a"})
	if err != nil {
		t.Fatalf("VerifyStripeEvent failed: %v", err)
	}

	classified, err := ClassifyStripeEvent(event)
	if err != nil {
		t.Fatalf("ClassifyStripeEvent failed: %v", err)
	}
	if classified.Outcome != OutcomePaid {
		t.Errorf("Expected OutcomePaid, got %v", classified.Outcome)
	}
	if classified.SessionID != "cs_test_abc" {
		t.Errorf("Expected session id, got %s", classified.SessionID)
	}
	if classified.PaymentIntent != "pi_test_xyz" {
		t.Errorf("Expected payment intent, got %s", classified.PaymentIntent)
	}
	if classified.CustomerEmail != "guest@example.com" {
		t.Errorf("Expected customer email, got %s", classified.CustomerEmail)
	}
}

func TestClassifyStripeEvent_Expired(t *testing.T) {
	payload := []byte(`{
		"id": "evt_2",
		"api_version": "2022-11-15",
		"type": "checkout.session.expired",
		"data": {"object": {"id": "cs_test_expired", "object": "checkout.session"}}
	}`)
	event, err := VerifyStripeEvent(payload, signPayload(payload, "whsec_a"), []string{"whsec_a"})
	if err != nil {
		t.Fatalf("VerifyStripeEvent failed: %v", err)
	}

	classified, err := ClassifyStripeEvent(event)
	if err != nil {
		t.Fatalf("ClassifyStripeEvent failed: %v", err)
	}
	if classified.Outcome != OutcomeFailed {
		t.Errorf("Expected OutcomeFailed, got %v", classified.Outcome)
	}
}

func TestClassifyStripeEvent_IgnoresOtherTypes(t *testing.T) {
	payload := []byte(`{"id": "evt_3", "api_version": "2022-11-15", "type": "invoice.paid", "data": {"object": {"id": "in_1"}}}`)
	event, err := VerifyStripeEvent(payload, signPayload(payload, "whsec_a"), []string{"whsec_a"})
	if err != nil {
		t.Fatalf("VerifyStripeEvent failed: %v", err)
	}

	classified, err := ClassifyStripeEvent(event)
	if err != nil {
		t.Fatalf("ClassifyStripeEvent failed: %v", err)
	}
	if classified.Outcome != OutcomeIgnored {
		t.Errorf("Expected OutcomeIgnored, got %v", classified.Outcome)
	}
}

func TestExtractStripeHotelID(t *testing.T) {
	if got := ExtractStripeHotelID([]byte(completedSessionPayload)); got != "hotel-1" {
		t.Errorf("Expected hotel-1, got %q", got)
	}
	if got := ExtractStripeHotelID([]byte(`{"data":{"object":{}}}`)); got != "" {
		t.Errorf("Expected empty, got %q", got)
	}
	if got := ExtractStripeHotelID([]byte("not json")); got != "" {
		t.Errorf("Expected empty for malformed payload, got %q", got)
	}
}
