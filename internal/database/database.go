package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/segmentio/ksuid"

	"github.com/jeanbordel/accacia-upsell-mvp/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = fmt.Errorf("database: not found")

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS hotels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS screens (
			id TEXT PRIMARY KEY,
			hotel_id TEXT NOT NULL REFERENCES hotels(id),
			name TEXT NOT NULL,
			qr_slug TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS offers (
			id TEXT PRIMARY KEY,
			hotel_id TEXT NOT NULL REFERENCES hotels(id),
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price_cents INTEGER NOT NULL,
			currency TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS hotel_payment_configs (
			hotel_id TEXT PRIMARY KEY REFERENCES hotels(id),
			default_psp TEXT NOT NULL DEFAULT '',
			stripe_secret TEXT NOT NULL DEFAULT '',
			stripe_webhook TEXT NOT NULL DEFAULT '',
			netopia_signature TEXT NOT NULL DEFAULT '',
			netopia_test_mode INTEGER NOT NULL DEFAULT 1,
			netopia_hosted_url_test TEXT NOT NULL DEFAULT '',
			netopia_hosted_url_live TEXT NOT NULL DEFAULT '',
			netopia_public_key_pem TEXT NOT NULL DEFAULT '',
			netopia_private_key_pem TEXT NOT NULL DEFAULT '',
			payu_merchant_id TEXT NOT NULL DEFAULT '',
			payu_secret TEXT NOT NULL DEFAULT '',
			payu_env TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			hotel_id TEXT NOT NULL REFERENCES hotels(id),
			screen_id TEXT NOT NULL DEFAULT '',
			offer_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			provider_ref TEXT NOT NULL DEFAULT '',
			amount_cents INTEGER NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			customer_email TEXT NOT NULL DEFAULT '',
			customer_phone TEXT NOT NULL DEFAULT '',
			payment_owner TEXT NOT NULL DEFAULT 'HOTEL',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			hotel_id TEXT NOT NULL,
			screen_id TEXT NOT NULL DEFAULT '',
			offer_id TEXT NOT NULL DEFAULT '',
			order_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_provider_ref ON orders(provider_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_hotel_id ON orders(hotel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_events_hotel_id ON events(hotel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_order_id ON events(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_screens_qr_slug ON screens(qr_slug)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// ---------- hotels / screens ----------

// UpsertHotel creates or renames a hotel.
func (db *DB) UpsertHotel(ctx context.Context, hotel models.Hotel) error {
	query := `INSERT INTO hotels (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`

	if _, err := db.conn.ExecContext(ctx, query, hotel.ID, hotel.Name); err != nil {
		return fmt.Errorf("failed to upsert hotel: %w", err)
	}
	return nil
}

// GetHotel returns a hotel by id.
func (db *DB) GetHotel(ctx context.Context, id string) (models.Hotel, error) {
	var h models.Hotel
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name FROM hotels WHERE id = ?`, id,
	).Scan(&h.ID, &h.Name)
	if err == sql.ErrNoRows {
		return models.Hotel{}, ErrNotFound
	}
	if err != nil {
		return models.Hotel{}, fmt.Errorf("failed to get hotel: %w", err)
	}
	return h, nil
}

// UpsertScreen creates or updates a screen.
func (db *DB) UpsertScreen(ctx context.Context, screen models.Screen) error {
	query := `INSERT INTO screens (id, hotel_id, name, qr_slug) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hotel_id = excluded.hotel_id,
			name = excluded.name,
			qr_slug = excluded.qr_slug`

	if _, err := db.conn.ExecContext(ctx, query,
		screen.ID, screen.HotelID, screen.Name, screen.QRSlug); err != nil {
		return fmt.Errorf("failed to upsert screen: %w", err)
	}
	return nil
}

// GetScreenBySlug returns the screen addressed by a QR slug.
func (db *DB) GetScreenBySlug(ctx context.Context, slug string) (models.Screen, error) {
	var s models.Screen
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, hotel_id, name, qr_slug FROM screens WHERE qr_slug = ?`, slug,
	).Scan(&s.ID, &s.HotelID, &s.Name, &s.QRSlug)
	if err == sql.ErrNoRows {
		return models.Screen{}, ErrNotFound
	}
	if err != nil {
		return models.Screen{}, fmt.Errorf("failed to get screen: %w", err)
	}
	return s, nil
}

// ---------- offers ----------

// UpsertOffer creates or updates an offer.
func (db *DB) UpsertOffer(ctx context.Context, offer models.Offer) error {
	query := `INSERT INTO offers (
		id, hotel_id, title, description, price_cents, currency, is_active, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		hotel_id = excluded.hotel_id,
		title = excluded.title,
		description = excluded.description,
		price_cents = excluded.price_cents,
		currency = excluded.currency,
		is_active = excluded.is_active,
		updated_at = excluded.updated_at`

	_, err := db.conn.ExecContext(ctx, query,
		offer.ID,
		offer.HotelID,
		offer.Title,
		offer.Description,
		offer.PriceCents,
		offer.Currency,
		offer.IsActive,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert offer: %w", err)
	}
	return nil
}

// GetOffer returns an offer by id.
func (db *DB) GetOffer(ctx context.Context, id string) (models.Offer, error) {
	var o models.Offer
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, hotel_id, title, description, price_cents, currency, is_active
		FROM offers WHERE id = ?`, id,
	).Scan(&o.ID, &o.HotelID, &o.Title, &o.Description, &o.PriceCents, &o.Currency, &o.IsActive)
	if err == sql.ErrNoRows {
		return models.Offer{}, ErrNotFound
	}
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to get offer: %w", err)
	}
	return o, nil
}

// ---------- payment configuration ----------

// UpsertPaymentConfig creates or replaces a hotel's payment configuration.
func (db *DB) UpsertPaymentConfig(ctx context.Context, cfg models.HotelPaymentConfig) error {
	query := `INSERT INTO hotel_payment_configs (
		hotel_id, default_psp, stripe_secret, stripe_webhook,
		netopia_signature, netopia_test_mode, netopia_hosted_url_test,
		netopia_hosted_url_live, netopia_public_key_pem, netopia_private_key_pem,
		payu_merchant_id, payu_secret, payu_env, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(hotel_id) DO UPDATE SET
		default_psp = excluded.default_psp,
		stripe_secret = excluded.stripe_secret,
		stripe_webhook = excluded.stripe_webhook,
		netopia_signature = excluded.netopia_signature,
		netopia_test_mode = excluded.netopia_test_mode,
		netopia_hosted_url_test = excluded.netopia_hosted_url_test,
		netopia_hosted_url_live = excluded.netopia_hosted_url_live,
		netopia_public_key_pem = excluded.netopia_public_key_pem,
		netopia_private_key_pem = excluded.netopia_private_key_pem,
		payu_merchant_id = excluded.payu_merchant_id,
		payu_secret = excluded.payu_secret,
		payu_env = excluded.payu_env,
		updated_at = excluded.updated_at`

	_, err := db.conn.ExecContext(ctx, query,
		cfg.HotelID,
		string(cfg.DefaultPSP),
		cfg.StripeSecret,
		cfg.StripeWebhook,
		cfg.NetopiaSignature,
		cfg.NetopiaTestMode,
		cfg.NetopiaHostedURLTest,
		cfg.NetopiaHostedURLLive,
		cfg.NetopiaPublicKeyPEM,
		cfg.NetopiaPrivateKeyPEM,
		cfg.PayUMerchantID,
		cfg.PayUSecret,
		cfg.PayUEnv,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert payment config: %w", err)
	}
	return nil
}

// GetPaymentConfig returns a hotel's payment configuration.
func (db *DB) GetPaymentConfig(ctx context.Context, hotelID string) (models.HotelPaymentConfig, error) {
	var cfg models.HotelPaymentConfig
	var psp string
	err := db.conn.QueryRowContext(ctx,
		`SELECT hotel_id, default_psp, stripe_secret, stripe_webhook,
			netopia_signature, netopia_test_mode, netopia_hosted_url_test,
			netopia_hosted_url_live, netopia_public_key_pem, netopia_private_key_pem,
			payu_merchant_id, payu_secret, payu_env
		FROM hotel_payment_configs WHERE hotel_id = ?`, hotelID,
	).Scan(
		&cfg.HotelID, &psp, &cfg.StripeSecret, &cfg.StripeWebhook,
		&cfg.NetopiaSignature, &cfg.NetopiaTestMode, &cfg.NetopiaHostedURLTest,
		&cfg.NetopiaHostedURLLive, &cfg.NetopiaPublicKeyPEM, &cfg.NetopiaPrivateKeyPEM,
		&cfg.PayUMerchantID, &cfg.PayUSecret, &cfg.PayUEnv,
	)
	if err == sql.ErrNoRows {
		return models.HotelPaymentConfig{}, ErrNotFound
	}
	if err != nil {
		return models.HotelPaymentConfig{}, fmt.Errorf("failed to get payment config: %w", err)
	}
	cfg.DefaultPSP = models.Provider(psp)
	return cfg, nil
}

// ---------- orders ----------

const orderColumns = `id, hotel_id, screen_id, offer_id, provider, provider_ref,
	amount_cents, currency, status, customer_email, customer_phone,
	payment_owner, created_at, updated_at`

// CreateOrder persists a new order. Status is always PENDING at creation.
func (db *DB) CreateOrder(ctx context.Context, order models.Order) (models.Order, error) {
	now := time.Now().UTC()
	order.Status = models.OrderPending
	order.CreatedAt = now
	order.UpdatedAt = now

	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, query,
		order.ID,
		order.HotelID,
		order.ScreenID,
		order.OfferID,
		string(order.Provider),
		order.ProviderRef,
		order.AmountCents,
		order.Currency,
		string(order.Status),
		order.CustomerEmail,
		order.CustomerPhone,
		string(order.PaymentOwner),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to create order: %w", err)
	}
	return order, nil
}

func scanOrder(row *sql.Row) (models.Order, error) {
	var o models.Order
	var provider, status, owner, createdAt, updatedAt string

	err := row.Scan(
		&o.ID, &o.HotelID, &o.ScreenID, &o.OfferID, &provider, &o.ProviderRef,
		&o.AmountCents, &o.Currency, &status, &o.CustomerEmail, &o.CustomerPhone,
		&owner, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to scan order: %w", err)
	}

	o.Provider = models.Provider(provider)
	o.Status = models.OrderStatus(status)
	o.PaymentOwner = models.PaymentOwner(owner)
	o.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	o.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return o, nil
}

// GetOrder returns an order by id.
func (db *DB) GetOrder(ctx context.Context, id string) (models.Order, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// GetOrderByProviderRef returns the order tracking an external provider
// session/transaction id.
func (db *DB) GetOrderByProviderRef(ctx context.Context, ref string) (models.Order, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE provider_ref = ?`, ref)
	return scanOrder(row)
}

// UpdateOrderStatusIfPending applies a terminal status with a single
// conditional write. It reports whether the transition was applied; false
// means the order was already terminal (or absent) and nothing changed.
// This is the idempotency gate for webhook reconciliation.
func (db *DB) UpdateOrderStatusIfPending(ctx context.Context, orderID string, status models.OrderStatus) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status),
		time.Now().UTC().Format(time.RFC3339),
		orderID,
		string(models.OrderPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// SetOrderCustomer backfills customer contact details reported by the
// provider. Empty values leave the existing columns untouched.
func (db *DB) SetOrderCustomer(ctx context.Context, orderID, email, phone string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE orders SET
			customer_email = CASE WHEN ? != '' THEN ? ELSE customer_email END,
			customer_phone = CASE WHEN ? != '' THEN ? ELSE customer_phone END,
			updated_at = ?
		WHERE id = ?`,
		email, email, phone, phone,
		time.Now().UTC().Format(time.RFC3339),
		orderID,
	)
	if err != nil {
		return fmt.Errorf("failed to set order customer: %w", err)
	}
	return nil
}

// ListOrdersByHotel returns a hotel's orders, newest first.
func (db *DB) ListOrdersByHotel(ctx context.Context, hotelID string, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE hotel_id = ?
		ORDER BY created_at DESC LIMIT ?`, hotelID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		var provider, status, owner, createdAt, updatedAt string

		err := rows.Scan(
			&o.ID, &o.HotelID, &o.ScreenID, &o.OfferID, &provider, &o.ProviderRef,
			&o.AmountCents, &o.Currency, &status, &o.CustomerEmail, &o.CustomerPhone,
			&owner, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		o.Provider = models.Provider(provider)
		o.Status = models.OrderStatus(status)
		o.PaymentOwner = models.PaymentOwner(owner)
		if o.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if o.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// ---------- domain events ----------

// AppendEvent writes an immutable audit log entry.
func (db *DB) AppendEvent(ctx context.Context, event models.DomainEvent) error {
	if event.ID == "" {
		event.ID = ksuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO events (id, hotel_id, screen_id, offer_id, order_id, type, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.HotelID,
		event.ScreenID,
		event.OfferID,
		event.OrderID,
		string(event.Type),
		event.Data,
		event.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEventsByOrder returns the audit trail for one order, oldest first.
func (db *DB) ListEventsByOrder(ctx context.Context, orderID string) ([]models.DomainEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, hotel_id, screen_id, offer_id, order_id, type, data, created_at
		FROM events WHERE order_id = ? ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []models.DomainEvent
	for rows.Next() {
		var e models.DomainEvent
		var typ, createdAt string

		if err := rows.Scan(&e.ID, &e.HotelID, &e.ScreenID, &e.OfferID, &e.OrderID, &typ, &e.Data, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = models.EventType(typ)
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
