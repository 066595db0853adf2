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

	"referral-rewards-api/internal/cache"
	"referral-rewards-api/internal/config"
	"referral-rewards-api/internal/database"
	"referral-rewards-api/internal/events"
	"referral-rewards-api/internal/features"
	"referral-rewards-api/internal/handler"
	"referral-rewards-api/internal/middleware"
	"referral-rewards-api/internal/models"
	"referral-rewards-api/internal/notify"
	"referral-rewards-api/internal/pricing"
	"referral-rewards-api/internal/service"
	"referral-rewards-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file")
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
	flags.Register(features.FeatureCacheEnabled, true, "Spread lookup cache")
	flags.Register(features.FeatureEventHooksEnabled, true, "Event-driven notification hooks")
	flags.Register(features.FeatureTargetBuilding, true, "Broadcast target building")
	defer flags.Shutdown()

	// Database
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Cache: redis when configured, in-memory otherwise
	var lookupCache cache.Cache = cache.NewInMemoryCache()
	if flags.IsEnabled(features.FeatureCacheEnabled) && cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisCache.Close()
		lookupCache = redisCache
		log.Printf("Cache: redis at %s", cfg.Redis.Addr)
	} else {
		log.Printf("Cache: in-memory")
	}

	// Tracing
	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracing: %v", err)
		}
	}()

	// Events and notification hooks
	eventManager := events.NewManager(flags.IsEnabled(features.FeatureEventHooksEnabled))
	defer eventManager.Shutdown()
	subscribeNotifications(eventManager, notify.LogDispatcher{})

	// Service
	svc := service.NewService(db, service.Options{
		Events: eventManager,
		Cache:  lookupCache,
		Prices: pricing.NewTable(map[models.Method]int64{
			models.MethodPhone:    cfg.Pricing.Phone,
			models.MethodWhatsApp: cfg.Pricing.WhatsApp,
			models.MethodTelegram: cfg.Pricing.Telegram,
			models.MethodEmail:    cfg.Pricing.Email,
		}),
		SpreadIDLength: cfg.Spread.IdentifierLength,
		Protocol:       cfg.Spread.Protocol,
		Domain:         cfg.Spread.Domain,
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

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Tracing.Enabled {
		r.Use(middleware.TracingMiddleware())
	}

	// Routes
	r.Route("/fragments", func(r chi.Router) {
		r.Post("/", h.CreateFragment)
		r.Get("/", h.ListFragments)
		r.Get("/{uuid}", h.GetFragment)
	})

	r.Route("/broadcasts", func(r chi.Router) {
		r.Post("/", h.CreateBroadcast)
		r.Get("/", h.ListBroadcasts)
		r.Get("/{uuid}", h.GetBroadcast)
		r.Get("/{uuid}/targets", h.ListBroadcastTargets)
	})

	r.Route("/spreads", func(r chi.Router) {
		r.Post("/", h.CreateSpread)
		r.Get("/{identifier}", h.GetSpread)
		r.Get("/{identifier}/suggests", h.ListSpreadSuggests)
	})

	r.Route("/rewards", func(r chi.Router) {
		r.Post("/", h.CreateReward)
	})

	r.Get("/sources/{kind}/{uuid}/rewards", h.ListSourceRewards)

	r.Route("/suggests", func(r chi.Router) {
		r.Post("/", h.SubmitSuggest)
		r.Get("/{uuid}", h.GetSuggest)
	})

	r.Route("/redeems", func(r chi.Router) {
		r.Post("/", h.RedeemCoupon)
		r.Get("/", h.ListRedeems)
	})

	r.Route("/takens", func(r chi.Router) {
		r.Post("/", h.TakeCoupon)
	})

	if flags.IsEnabled(features.FeatureTargetBuilding) {
		r.Route("/targets", func(r chi.Router) {
			r.Post("/", h.BuildTargets)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{uuid}", h.GetOrder)
		})
	}

	r.Route("/verifications", func(r chi.Router) {
		r.Post("/", h.VerifyChannel)
	})

	r.Get("/health", h.Health)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Starting HTTP server on %s", addr)
	log.Printf("Database: %s", cfg.Database.Path)
	log.Printf("Spread URLs: %s://%s/{identifier}", cfg.Spread.Protocol, cfg.Spread.Domain)

	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}

// subscribeNotifications forwards coupon and broadcast events to the
// outbound message dispatcher.
func subscribeNotifications(m *events.Manager, dispatcher notify.Dispatcher) {
	m.Subscribe(events.EventCouponIssued, func(ctx context.Context, event events.Event) error {
		data, ok := event.Data.(events.CouponIssuedData)
		if !ok {
			return nil
		}
		for _, canal := range data.Suggest.Canals {
			for _, coupon := range data.Coupons {
				dispatcher.Dispatch(ctx, notify.Message{
					Method: canal.Method,
					To:     canal.Value,
					Body:   fmt.Sprintf("You earned a reward coupon: %s", coupon.Identifier),
				})
			}
		}
		return nil
	})

	m.Subscribe(events.EventTargetsCreated, func(ctx context.Context, event events.Event) error {
		data, ok := event.Data.(events.TargetsCreatedData)
		if !ok {
			return nil
		}
		for _, target := range data.Targets {
			dispatcher.Dispatch(ctx, notify.Message{
				Method: target.Method,
				To:     target.Value,
				Body:   fmt.Sprintf("Broadcast %s queued for delivery", data.BroadcastUUID),
			})
		}
		return nil
	})
}
