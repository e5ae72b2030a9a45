package payments

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"html/template"
	"log"
	"regexp"
	"strings"
	"time"
)

// PaymentRequest is the input for building a Netopia payment descriptor.
type PaymentRequest struct {
	OrderID     string
	AmountCents int64
	Currency    string
	Description string
	Signature   string
	NotifyURL   string
	ReturnURL   string
}

// netopiaOrder is the mobilPay card payment descriptor.
type netopiaOrder struct {
	XMLName   xml.Name `xml:"order"`
	Type      string   `xml:"type,attr"`
	ID        string   `xml:"id,attr"`
	Timestamp string   `xml:"timestamp,attr"`
	Signature string   `xml:"signature"`
	URL       struct {
		Confirm string `xml:"confirm"`
		Return  string `xml:"return"`
	} `xml:"url"`
	Invoice struct {
		Currency string `xml:"currency,attr"`
		Amount   string `xml:"amount,attr"`
		Details  string `xml:"details"`
	} `xml:"invoice"`
}

// BuildPaymentXML renders the provider's XML payment descriptor. The
// amount is formatted as a decimal string in major units.
func BuildPaymentXML(req PaymentRequest) ([]byte, error) {
	order := netopiaOrder{
		Type:      "card",
		ID:        req.OrderID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Signature: req.Signature,
	}
	order.URL.Confirm = req.NotifyURL
	order.URL.Return = fmt.Sprintf("%s?orderId=%s", req.ReturnURL, req.OrderID)
	order.Invoice.Currency = req.Currency
	order.Invoice.Amount = fmt.Sprintf("%.2f", float64(req.AmountCents)/100)
	order.Invoice.Details = req.Description

	body, err := xml.MarshalIndent(order, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("netopia: payment descriptor marshal failed: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Cipher is the transport encryption seam for the Netopia integration.
// Encrypt takes the XML descriptor and the merchant public key and returns
// the two opaque tokens Netopia's hosted page expects (an encrypted
// symmetric-key token and the encrypted payload). Decrypt is the inverse
// for inbound IPN bodies. A real implementation wraps a symmetric key with
// the RSA key pair; callers must not depend on any other behavior.
type Cipher interface {
	Encrypt(plaintext []byte, publicKeyPEM string) (envKey, data string, err error)
	Decrypt(envKey, data, privateKeyPEM string) ([]byte, error)
}

// StubCipher is a structurally valid placeholder: a random envelope key
// token and a base64 passthrough payload. It must be replaced with real
// cryptography before any live Netopia traffic.
type StubCipher struct{}

func (StubCipher) Encrypt(plaintext []byte, _ string) (string, string, error) {
	log.Printf("netopia: STUB encryption in use, replace before going live")

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", "", fmt.Errorf("netopia: envelope key generation failed: %w", err)
	}
	envKey := base64.StdEncoding.EncodeToString(key)
	data := base64.StdEncoding.EncodeToString(plaintext)
	return envKey, data, nil
}

func (StubCipher) Decrypt(_, data, _ string) ([]byte, error) {
	plaintext, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("netopia: payload decode failed: %w", err)
	}
	return plaintext, nil
}

// IPN is the parsed result of a decrypted Netopia callback.
type IPN struct {
	OrderID string
	Action  string
}

// The IPN envelope varies across mobilPay API revisions, so extraction is
// attribute-based rather than schema-bound.
var (
	ipnOrderIDRe = regexp.MustCompile(`id="([^"]+)"`)
	ipnActionRe  = regexp.MustCompile(`action="([^"]+)"`)
)

// ParseIPN extracts the order id and action from a decrypted IPN payload.
// A payload with no extractable order id fails with ErrOrderIDMissing.
func ParseIPN(payload []byte) (IPN, error) {
	var ipn IPN

	if m := ipnOrderIDRe.FindSubmatch(payload); m != nil {
		ipn.OrderID = string(m[1])
	}
	if m := ipnActionRe.FindSubmatch(payload); m != nil {
		ipn.Action = string(m[1])
	}

	if ipn.OrderID == "" {
		return IPN{}, ErrOrderIDMissing
	}
	return ipn, nil
}

// PaidAction reports whether an IPN action string means the payment
// settled. Anything else maps to failure.
func PaidAction(action string) bool {
	switch strings.ToLower(action) {
	case "confirmed", "paid", "credit":
		return true
	}
	return false
}

// CRCResponse renders the acknowledgment envelope Netopia requires on
// every callback response, success or failure.
func CRCResponse(message string) string {
	return fmt.Sprintf("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n<crc>%s</crc>", message)
}

var netopiaFormTmpl = template.Must(template.New("netopia-form").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirectare către Netopia...</title></head>
<body onload="document.getElementById('netopia-form').submit();">
  <p>Se redirecționează către procesatorul de plăți...</p>
  <form id="netopia-form" method="POST" action="{{.HostedURL}}">
    <input type="hidden" name="env_key" value="{{.EnvKey}}" />
    <input type="hidden" name="data" value="{{.Data}}" />
    <noscript><button type="submit">Click here if not redirected</button></noscript>
  </form>
</body>
</html>`))

// AutoSubmitForm renders the self-submitting HTML form that forwards the
// guest's browser to the hosted payment page with the encrypted payload.
func AutoSubmitForm(hostedURL, envKey, data string) (string, error) {
	var b strings.Builder
	err := netopiaFormTmpl.Execute(&b, struct {
		HostedURL, EnvKey, Data string
	}{hostedURL, envKey, data})
	if err != nil {
		return "", fmt.Errorf("netopia: form render failed: %w", err)
	}
	return b.String(), nil
}
