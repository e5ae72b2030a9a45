package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jeanbordel/accacia-upsell-mvp/internal/cache"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/config"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/database"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/events"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/features"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/handler"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/middleware"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/notify"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/payments"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/service"
	"github.com/jeanbordel/accacia-upsell-mvp/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file (optional)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Feature flags
	flags := features.NewManager()
	flags.Register(features.FeatureCacheEnabled, cfg.Cache.TTLSeconds > 0, "Payment config cache")
	flags.Register(features.FeatureEventHooksEnabled, true, "In-process event hooks")
	flags.Register(features.FeatureNotificationsEnabled,
		cfg.Notifications.Email != "" || cfg.Notifications.WhatsAppWebhookURL != "",
		"Fulfillment notifications")
	flags.Register(features.FeatureNetopiaEnabled, true, "Netopia payment flow")
	defer flags.Shutdown()

	// Tracing
	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracing(tracing.Config{
			Enabled:     true,
			Endpoint:    cfg.Tracing.Endpoint,
			Environment: cfg.Tracing.Environment,
		}); err != nil {
			log.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(ctx); err != nil {
				log.Printf("Tracing shutdown error: %v", err)
			}
		}()
	}

	// Database
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Payment config cache: Redis when configured, otherwise in-process.
	var configCache cache.Cache
	if flags.IsEnabled(features.FeatureCacheEnabled) {
		if cfg.Cache.RedisAddr != "" {
			redisCache, err := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
			if err != nil {
				log.Fatalf("Failed to connect to Redis: %v", err)
			}
			defer redisCache.Close()
			configCache = redisCache
			log.Printf("Payment config cache: redis (%s)", cfg.Cache.RedisAddr)
		} else {
			configCache = cache.NewInMemoryCache()
			log.Printf("Payment config cache: in-memory")
		}
	}

	// Events + notifications
	eventManager := events.NewManager(flags.IsEnabled(features.FeatureEventHooksEnabled))
	defer eventManager.Shutdown()

	if flags.IsEnabled(features.FeatureNotificationsEnabled) {
		notifier := notify.NewNotifier(notify.Config{
			Email:              cfg.Notifications.Email,
			WhatsAppWebhookURL: cfg.Notifications.WhatsAppWebhookURL,
			WhatsAppPhone:      cfg.Notifications.WhatsAppPhone,
			AppURL:             cfg.Server.AppURL,
		})
		eventManager.Subscribe(events.EventOrderPaid, func(ctx context.Context, event events.Event) error {
			data, ok := event.Data.(events.OrderPaidData)
			if !ok {
				return fmt.Errorf("unexpected event data type %T", event.Data)
			}
			notifier.OrderPaid(ctx, notify.Payload{
				OrderID:       data.Order.ID,
				HotelName:     data.HotelName,
				OfferTitle:    data.OfferTitle,
				AmountCents:   data.Order.AmountCents,
				Currency:      data.Order.Currency,
				CustomerEmail: data.Order.CustomerEmail,
				CustomerPhone: data.Order.CustomerPhone,
			})
			return nil
		})
	}

	// Payments
	resolver := payments.NewResolver(db, configCache,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		cfg.Payments.NetopiaHostedURLTest,
		cfg.Payments.NetopiaHostedURLLive,
	)

	svc := service.NewService(db, resolver, payments.NewStripeGateway(), payments.StubCipher{}, eventManager, service.Options{
		AppURL:               cfg.Server.AppURL,
		StripeWebhookSecret:  cfg.Payments.StripeWebhookSecret,
		NetopiaNotifyURL:     cfg.Payments.NetopiaNotifyURL,
		NetopiaReturnURL:     cfg.Payments.NetopiaReturnURL,
		NetopiaPrivateKeyPEM: cfg.Payments.NetopiaPrivateKeyPEM,
		NetopiaEnabled:       flags.IsEnabled(features.FeatureNetopiaEnabled),
	})

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
	})

	// Router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	if cfg.Tracing.Enabled {
		r.Use(middleware.TracingMiddleware())
	}

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter, "/api/webhooks/"))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", h.CreateCheckout)

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/stripe", h.StripeWebhook)
			r.Post("/netopia", h.NetopiaWebhook)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/payment-config", h.SavePaymentConfig)
			r.Get("/payment-config", h.GetPaymentConfig)
			r.Post("/test-payment-config", h.TestPaymentConfig)
			r.Post("/offers", h.SaveOffer)
			r.Get("/orders", h.ListOrders)
		})
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Starting HTTP server on %s", addr)
	log.Printf("Database: %s", cfg.Database.Path)
	log.Printf("App URL: %s", cfg.Server.AppURL)

	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
