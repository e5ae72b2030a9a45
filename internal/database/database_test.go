package database

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/jeanbordel/accacia-upsell-mvp/internal/models"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	dbPath := "./test_" + uuid.New().String() + ".db"
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return db, cleanup
}

func seedOrder(t *testing.T, db *DB) models.Order {
	ctx := context.Background()
	hotelID := uuid.New().String()

	if err := db.UpsertHotel(ctx, models.Hotel{ID: hotelID, Name: "Hotel Bacolux"}); err != nil {
		t.Fatalf("Failed to create hotel: %v", err)
	}

	order, err := db.CreateOrder(ctx, models.Order{
		ID:           uuid.New().String(),
		HotelID:      hotelID,
		Provider:     models.ProviderStripe,
		ProviderRef:  "cs_" + uuid.New().String(),
		AmountCents:  15000,
		Currency:     "RON",
		PaymentOwner: models.OwnerHotel,
	})
	if err != nil {
		t.Fatalf("Failed to create order: %v", err)
	}
	return order
}

func TestCreateOrder_AlwaysPending(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	hotelID := uuid.New().String()
	if err := db.UpsertHotel(ctx, models.Hotel{ID: hotelID, Name: "Hotel"}); err != nil {
		t.Fatalf("Failed to create hotel: %v", err)
	}

	// The caller cannot smuggle in a terminal status at creation.
	order, err := db.CreateOrder(ctx, models.Order{
		ID:          uuid.New().String(),
		HotelID:     hotelID,
		Provider:    models.ProviderNetopia,
		AmountCents: 100,
		Currency:    "RON",
		Status:      models.OrderPaid,
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if order.Status != models.OrderPending {
		t.Errorf("Expected PENDING, got %s", order.Status)
	}

	got, err := db.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != models.OrderPending {
		t.Errorf("Expected PENDING in store, got %s", got.Status)
	}
}

func TestUpdateOrderStatusIfPending_Gate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := seedOrder(t, db)

	applied, err := db.UpdateOrderStatusIfPending(ctx, order.ID, models.OrderPaid)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !applied {
		t.Fatal("First transition should apply")
	}

	// Same target again: no-op.
	applied, err = db.UpdateOrderStatusIfPending(ctx, order.ID, models.OrderPaid)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if applied {
		t.Error("Second transition must not apply")
	}

	// Conflicting target: also a no-op, terminal states are immutable.
	applied, err = db.UpdateOrderStatusIfPending(ctx, order.ID, models.OrderFailed)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if applied {
		t.Error("Terminal order must not transition again")
	}

	got, _ := db.GetOrder(ctx, order.ID)
	if got.Status != models.OrderPaid {
		t.Errorf("Expected PAID, got %s", got.Status)
	}
}

func TestUpdateOrderStatusIfPending_UnknownOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	applied, err := db.UpdateOrderStatusIfPending(context.Background(), uuid.New().String(), models.OrderPaid)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if applied {
		t.Error("Unknown order must not report an applied transition")
	}
}

func TestGetOrderByProviderRef(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := seedOrder(t, db)

	got, err := db.GetOrderByProviderRef(ctx, order.ProviderRef)
	if err != nil {
		t.Fatalf("GetOrderByProviderRef failed: %v", err)
	}
	if got.ID != order.ID {
		t.Errorf("Expected %s, got %s", order.ID, got.ID)
	}

	if _, err := db.GetOrderByProviderRef(ctx, "cs_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSetOrderCustomer_PartialBackfill(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := seedOrder(t, db)

	if err := db.SetOrderCustomer(ctx, order.ID, "guest@example.com", ""); err != nil {
		t.Fatalf("SetOrderCustomer failed: %v", err)
	}
	if err := db.SetOrderCustomer(ctx, order.ID, "", "+40700000000"); err != nil {
		t.Fatalf("SetOrderCustomer failed: %v", err)
	}

	got, _ := db.GetOrder(ctx, order.ID)
	if got.CustomerEmail != "guest@example.com" {
		t.Errorf("Email overwritten by empty value: %q", got.CustomerEmail)
	}
	if got.CustomerPhone != "+40700000000" {
		t.Errorf("Phone not set: %q", got.CustomerPhone)
	}
}

func TestAppendEvent_AndListByOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := seedOrder(t, db)

	if err := db.AppendEvent(ctx, models.DomainEvent{
		HotelID: order.HotelID,
		OrderID: order.ID,
		Type:    models.EventPaymentSuccess,
		Data:    `{"provider":"STRIPE"}`,
	}); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	events, err := db.ListEventsByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("ListEventsByOrder failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected one event, got %d", len(events))
	}
	if events[0].ID == "" {
		t.Error("Event id should be generated when absent")
	}
	if events[0].Type != models.EventPaymentSuccess {
		t.Errorf("Unexpected event type %s", events[0].Type)
	}
}

func TestGetScreenBySlug(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	hotelID := uuid.New().String()
	if err := db.UpsertHotel(ctx, models.Hotel{ID: hotelID, Name: "Hotel"}); err != nil {
		t.Fatalf("Failed to create hotel: %v", err)
	}
	if err := db.UpsertScreen(ctx, models.Screen{
		ID:      uuid.New().String(),
		HotelID: hotelID,
		Name:    "Lobby Screen",
		QRSlug:  "bacolux-lobby",
	}); err != nil {
		t.Fatalf("Failed to create screen: %v", err)
	}

	screen, err := db.GetScreenBySlug(ctx, "bacolux-lobby")
	if err != nil {
		t.Fatalf("GetScreenBySlug failed: %v", err)
	}
	if screen.HotelID != hotelID {
		t.Errorf("Unexpected hotel id %s", screen.HotelID)
	}

	if _, err := db.GetScreenBySlug(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
