package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jeanbordel/accacia-upsell-mvp/internal/models"
)

// EventType represents the type of in-process event.
type EventType string

const (
	// EventCheckoutCreated is emitted when a checkout session is created
	EventCheckoutCreated EventType = "checkout.created"
	// EventOrderPaid is emitted when an order transitions PENDING -> PAID
	EventOrderPaid EventType = "order.paid"
	// EventOrderFailed is emitted when an order transitions PENDING -> FAILED
	EventOrderFailed EventType = "order.failed"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// CheckoutCreatedData contains data for checkout created events.
type CheckoutCreatedData struct {
	Order models.Order
}

// OrderPaidData contains data for order paid events. Hotel name and offer
// title are resolved by the publisher so subscribers need no store access.
type OrderPaidData struct {
	Order      models.Order
	HotelName  string
	OfferTitle string
}

// OrderFailedData contains data for order failed events.
type OrderFailedData struct {
	Order  models.Order
	Reason string
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// handlerTimeout bounds detached handler work so a stuck subscriber
// cannot leak goroutines forever.
const handlerTimeout = 30 * time.Second

// Manager manages event handlers and event publishing. Handlers run in
// their own goroutines; publishing never blocks the caller, which keeps
// webhook acknowledgment independent of fulfillment work.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Handlers must outlive the caller: webhook handlers publish from
	// the request context, which the server cancels the moment the
	// acknowledgment is written. Values (trace ids) are kept, the
	// cancellation is not.
	detached := context.WithoutCancel(ctx)

	for _, handler := range handlers {
		go func(h Handler) {
			hctx, cancel := context.WithTimeout(detached, handlerTimeout)
			defer cancel()
			if err := h(hctx, event); err != nil {
				log.Printf("events: %s handler error: %v", eventType, err)
			}
		}(handler)
	}
}

// PublishCheckoutCreated publishes a checkout created event.
func (m *Manager) PublishCheckoutCreated(ctx context.Context, order models.Order) {
	m.Publish(ctx, EventCheckoutCreated, CheckoutCreatedData{Order: order})
}

// PublishOrderPaid publishes an order paid event.
func (m *Manager) PublishOrderPaid(ctx context.Context, order models.Order, hotelName, offerTitle string) {
	m.Publish(ctx, EventOrderPaid, OrderPaidData{
		Order:      order,
		HotelName:  hotelName,
		OfferTitle: offerTitle,
	})
}

// PublishOrderFailed publishes an order failed event.
func (m *Manager) PublishOrderFailed(ctx context.Context, order models.Order, reason string) {
	m.Publish(ctx, EventOrderFailed, OrderFailedData{
		Order:  order,
		Reason: reason,
	})
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}
