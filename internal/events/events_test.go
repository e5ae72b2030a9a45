package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jeanbordel/accacia-upsell-mvp/internal/models"
)

func TestPublish_HandlerOutlivesCallerContext(t *testing.T) {
	m := NewManager(true)
	defer m.Shutdown()

	released := make(chan struct{})
	handlerErr := make(chan error, 1)
	m.Subscribe(EventOrderPaid, func(ctx context.Context, event Event) error {
		<-released
		handlerErr <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.PublishOrderPaid(ctx, models.Order{ID: "ord_1"}, "Hotel Bacolux", "Spa Upgrade")

	// The server cancels the request context as soon as the webhook
	// acknowledgment is written; the handler must not be cancelled with it.
	cancel()
	close(released)

	select {
	case err := <-handlerErr:
		if err != nil {
			t.Errorf("Handler context was cancelled with the caller: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handler never ran")
	}
}

func TestPublish_HandlerCanCallOutAfterCallerCancelled(t *testing.T) {
	received := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
	}))
	defer server.Close()

	m := NewManager(true)
	defer m.Shutdown()

	released := make(chan struct{})
	m.Subscribe(EventOrderPaid, func(ctx context.Context, event Event) error {
		<-released
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.URL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.PublishOrderPaid(ctx, models.Order{ID: "ord_2"}, "Hotel Bacolux", "Spa Upgrade")
	cancel()
	close(released)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("Outbound call never reached the server after the caller context was cancelled")
	}
}

func TestPublish_Disabled(t *testing.T) {
	m := NewManager(false)

	fired := make(chan struct{}, 1)
	m.Subscribe(EventOrderPaid, func(ctx context.Context, event Event) error {
		fired <- struct{}{}
		return nil
	})

	m.PublishOrderPaid(context.Background(), models.Order{ID: "ord_3"}, "Hotel Bacolux", "Spa Upgrade")

	select {
	case <-fired:
		t.Error("Disabled manager must not dispatch events")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublish_CarriesEventData(t *testing.T) {
	m := NewManager(true)
	defer m.Shutdown()

	got := make(chan Event, 1)
	m.Subscribe(EventOrderFailed, func(ctx context.Context, event Event) error {
		got <- event
		return nil
	})

	m.PublishOrderFailed(context.Background(), models.Order{ID: "ord_4"}, "session_expired")

	select {
	case event := <-got:
		if event.Type != EventOrderFailed {
			t.Errorf("Expected %s, got %s", EventOrderFailed, event.Type)
		}
		data, ok := event.Data.(OrderFailedData)
		if !ok {
			t.Fatalf("Unexpected event data type %T", event.Data)
		}
		if data.Order.ID != "ord_4" || data.Reason != "session_expired" {
			t.Errorf("Unexpected event data: %+v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handler never ran")
	}
}
