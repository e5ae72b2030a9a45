package payments

import (
	"strings"
	"testing"
)

func TestBuildPaymentXML(t *testing.T) {
	payload, err := BuildPaymentXML(PaymentRequest{
		OrderID:     "order-123",
		AmountCents: 15000,
		Currency:    "RON",
		Description: "Spa Upgrade",
		Signature:   "XXXX-XXXX-XXXX-XXXX-XXXX",
		NotifyURL:   "https://example.com/api/webhooks/netopia",
		ReturnURL:   "https://example.com/o/success",
	})
	if err != nil {
		t.Fatalf("BuildPaymentXML failed: %v", err)
	}

	xml := string(payload)
	for _, want := range []string{
		`id="order-123"`,
		`type="card"`,
		`amount="150.00"`,
		`currency="RON"`,
		"<signature>XXXX-XXXX-XXXX-XXXX-XXXX</signature>",
		"<confirm>https://example.com/api/webhooks/netopia</confirm>",
		"<return>https://example.com/o/success?orderId=order-123</return>",
		"<details>Spa Upgrade</details>",
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("Payment XML missing %q:\n%s", want, xml)
		}
	}
}

func TestBuildPaymentXML_AmountFormatting(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{100, `amount="1.00"`},
		{99, `amount="0.99"`},
		{15050, `amount="150.50"`},
	}

	for _, tt := range tests {
		payload, err := BuildPaymentXML(PaymentRequest{
			OrderID:     "o",
			AmountCents: tt.cents,
			Currency:    "RON",
		})
		if err != nil {
			t.Fatalf("BuildPaymentXML failed: %v", err)
		}
		if !strings.Contains(string(payload), tt.want) {
			t.Errorf("Expected %s for %d cents, got:\n%s", tt.want, tt.cents, payload)
		}
	}
}

func TestStubCipher_Roundtrip(t *testing.T) {
	plaintext := []byte(`<order id="abc"/>`)

	envKey, data, err := StubCipher{}.Encrypt(plaintext, "")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if envKey == "" || data == "" {
		t.Fatal("Expected non-empty tokens")
	}

	decrypted, err := StubCipher{}.Decrypt(envKey, data, "")
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("Roundtrip mismatch: %q", decrypted)
	}
}

func TestStubCipher_DecryptRejectsBadPayload(t *testing.T) {
	if _, err := (StubCipher{}).Decrypt("key", "not base64!!", ""); err == nil {
		t.Error("Expected decode error")
	}
}

func TestParseIPN(t *testing.T) {
	payload := []byte(`<?xml version="1.0"?>
<order id="order-42" type="card">
  <params action="confirmed"/>
</order>`)

	ipn, err := ParseIPN(payload)
	if err != nil {
		t.Fatalf("ParseIPN failed: %v", err)
	}
	if ipn.OrderID != "order-42" {
		t.Errorf("Expected order-42, got %s", ipn.OrderID)
	}
	if ipn.Action != "confirmed" {
		t.Errorf("Expected confirmed, got %s", ipn.Action)
	}
}

func TestParseIPN_MissingOrderID(t *testing.T) {
	if _, err := ParseIPN([]byte("<order/>")); err != ErrOrderIDMissing {
		t.Errorf("Expected ErrOrderIDMissing, got %v", err)
	}
}

func TestParseIPN_ActionOptional(t *testing.T) {
	ipn, err := ParseIPN([]byte(`<order id="o1"/>`))
	if err != nil {
		t.Fatalf("ParseIPN failed: %v", err)
	}
	if ipn.Action != "" {
		t.Errorf("Expected empty action, got %s", ipn.Action)
	}
}

func TestPaidAction(t *testing.T) {
	paid := []string{"confirmed", "Confirmed", "paid", "CREDIT"}
	for _, action := range paid {
		if !PaidAction(action) {
			t.Errorf("Expected %q to mean paid", action)
		}
	}

	failed := []string{"canceled", "rejected", "confirmed_pending", "", "unknown"}
	for _, action := range failed {
		if PaidAction(action) {
			t.Errorf("Expected %q to mean failed", action)
		}
	}
}

func TestCRCResponse(t *testing.T) {
	got := CRCResponse("OK")
	if !strings.Contains(got, "<crc>OK</crc>") {
		t.Errorf("Unexpected crc envelope: %s", got)
	}
	if !strings.HasPrefix(got, `<?xml version="1.0"`) {
		t.Errorf("Expected XML declaration: %s", got)
	}
}

func TestAutoSubmitForm(t *testing.T) {
	form, err := AutoSubmitForm("https://sandbox.netopia-payments.com/payment/card/start", "ENVKEY", "DATA")
	if err != nil {
		t.Fatalf("AutoSubmitForm failed: %v", err)
	}

	for _, want := range []string{
		`action="https://sandbox.netopia-payments.com/payment/card/start"`,
		`name="env_key" value="ENVKEY"`,
		`name="data" value="DATA"`,
		"submit()",
	} {
		if !strings.Contains(form, want) {
			t.Errorf("Form missing %q:\n%s", want, form)
		}
	}
}

func TestAutoSubmitForm_EscapesValues(t *testing.T) {
	form, err := AutoSubmitForm("https://example.com", `"><script>`, "d")
	if err != nil {
		t.Fatalf("AutoSubmitForm failed: %v", err)
	}
	if strings.Contains(form, "<script>") {
		t.Error("Form values must be HTML-escaped")
	}
}
