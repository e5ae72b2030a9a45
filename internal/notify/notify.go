// Package notify dispatches fulfillment notifications after an order is
// paid. It is fire-and-forget relative to the webhook response: channels
// run independently, failures are logged, nothing propagates upward.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Payload carries everything a notification channel needs about a paid
// order.
type Payload struct {
	OrderID          string
	HotelName        string
	OfferTitle       string
	AmountCents      int64
	Currency         string
	CustomerEmail    string
	CustomerPhone    string
	FulfillmentNotes string
}

// Config selects notification targets. Empty values disable the
// corresponding channel.
type Config struct {
	Email              string
	WhatsAppWebhookURL string
	WhatsAppPhone      string
	AppURL             string
}

// Notifier sends fulfillment notifications over the configured channels.
type Notifier struct {
	cfg    Config
	client *http.Client
}

// NewNotifier creates a notifier. Outbound calls are bounded by the
// client timeout so a slow channel cannot hang a worker.
func NewNotifier(cfg Config) *Notifier {
	return &Notifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// OrderPaid attempts every configured channel. Channels run concurrently
// and a failure in one never blocks the others.
func (n *Notifier) OrderPaid(ctx context.Context, p Payload) {
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := n.sendEmail(ctx, p); err != nil {
			log.Printf("notify: email channel failed for order %s: %v", p.OrderID, err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := n.sendWhatsApp(ctx, p); err != nil {
			log.Printf("notify: whatsapp channel failed for order %s: %v", p.OrderID, err)
		}
	}()
	wg.Wait()
}

// sendEmail is a stub channel: the delivery integration is not wired yet,
// so the rendered message is logged instead of sent.
// TODO: integrate a transactional email provider (Resend) once the
// platform account exists.
func (n *Notifier) sendEmail(_ context.Context, p Payload) error {
	if n.cfg.Email == "" {
		return nil
	}

	body := fmt.Sprintf(
		"New order received!\n\nOrder ID: %s\nHotel: %s\nOffer: %s\nAmount: %s",
		p.OrderID, p.HotelName, p.OfferTitle, formatAmount(p.AmountCents, p.Currency),
	)
	if p.CustomerEmail != "" {
		body += "\nCustomer Email: " + p.CustomerEmail
	}
	if p.CustomerPhone != "" {
		body += "\nCustomer Phone: " + p.CustomerPhone
	}
	if p.FulfillmentNotes != "" {
		body += "\n\nFulfillment Notes:\n" + p.FulfillmentNotes
	}
	if n.cfg.AppURL != "" {
		body += "\n\nView order: " + n.cfg.AppURL + "/admin/orders"
	}

	log.Printf("notify: email to %s: New Order: %s\n%s", n.cfg.Email, p.OfferTitle, body)
	return nil
}

// sendWhatsApp posts the order summary to the configured webhook bridge.
func (n *Notifier) sendWhatsApp(ctx context.Context, p Payload) error {
	if n.cfg.WhatsAppWebhookURL == "" || n.cfg.WhatsAppPhone == "" {
		return nil
	}

	message := fmt.Sprintf("Comandă nouă!\n\nOfertă: %s\nSumă: %s\nID: %s",
		p.OfferTitle, formatAmount(p.AmountCents, p.Currency), p.OrderID)

	payload, err := json.Marshal(map[string]string{
		"phone":   n.cfg.WhatsAppPhone,
		"message": message,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WhatsAppWebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}
