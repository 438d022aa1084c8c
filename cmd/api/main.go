package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"mailoreply.ai/platform/internal/auth"
	"mailoreply.ai/platform/internal/billing"
	"mailoreply.ai/platform/internal/company"
	"mailoreply.ai/platform/internal/config"
	"mailoreply.ai/platform/internal/encryption"
	"mailoreply.ai/platform/internal/events"
	"mailoreply.ai/platform/internal/generation"
	"mailoreply.ai/platform/internal/handlers"
	"mailoreply.ai/platform/internal/ledger"
	"mailoreply.ai/platform/internal/middleware"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/internal/pressure"
	"mailoreply.ai/platform/internal/session"
	"mailoreply.ai/platform/pkg/database"
	"mailoreply.ai/platform/pkg/logger"
	"mailoreply.ai/platform/pkg/redis"
)

func main() {
	cfg := config.Load()

	log := logger.New()
	log.Info("Starting MailoReply AI API v1.0.0...", "env", cfg.Server.Env)

	// Connect to database
	db, err := database.Connect(cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()
	log.Info("Database connected successfully")

	// Run migrations
	applied, err := db.RunMigrations(envOr("MIGRATIONS_PATH", "./migrations"))
	if err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}
	log.Info("Migrations completed", "files", applied)

	// Redis is optional: without it there is no stats cache, no rate
	// limiting, no shared revocation list and no request telemetry.
	var (
		cache     ledger.Cache
		revoked   session.Revocations
		limits    middleware.RateChecker
		counters  pressure.CounterWriter
		countRead pressure.CounterReader
	)
	rdb, err := redis.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("Redis unavailable, running without cache and rate limits", "error", err)
	} else {
		defer rdb.Close()
		cache, revoked, limits, counters, countRead = rdb, rdb, rdb, rdb, rdb
		log.Info("Redis connected", "addr", cfg.Redis.Addr)
	}

	sessions := session.NewStore(revoked)
	authn := middleware.NewAuthenticator(cfg.Auth.JWTSecret, sessions)

	usage := ledger.NewService(ledger.NewPostgresStore(db), cache, log)
	companies := company.NewService(company.NewPostgresStore(db), cfg.Auth.AppURL, log)
	accounts := auth.NewService(auth.NewPostgresStore(db), sessions, authn, cfg.Auth, log)
	accounts.UseInvitations(companies)
	accounts.OnAuthStateChange(func(ev session.Event, s session.Session) {
		log.Debug("Auth state changed", "event", ev, "user_id", s.UserID)
	})

	var gateway billing.Gateway
	if cfg.Stripe.Configured() {
		gateway = billing.NewStripeGateway(cfg.Stripe.SecretKey)
	} else {
		log.Warn("Stripe not configured, billing endpoints will answer 503")
	}
	payments := billing.NewService(gateway, billing.NewPostgresStore(db), cfg.Stripe.WebhookSecret, cfg.Stripe.AppURL, log)
	payments.OnRoleChange(func(ctx context.Context, userID string, role models.Role) {
		usage.Invalidate(ctx, userID)
	})

	publisher := events.NewPublisher(cfg.Broker.URL, log)
	defer publisher.Close()

	var generator generation.Generator = generation.MockGenerator{}
	if cfg.Generation.WebhookConfigured() {
		wg := &generation.WebhookGenerator{
			ReplyURL: cfg.Generation.ReplyWebhookURL,
			EmailURL: cfg.Generation.EmailWebhookURL,
			Token:    cfg.Generation.WebhookToken,
			Client:   &http.Client{Timeout: cfg.Generation.Timeout + 5*time.Second},
		}
		if c, err := encryption.New(cfg.Generation.EncryptionPassphrase, cfg.Generation.EncryptionSalt); err == nil {
			wg.Cipher = c
		} else {
			log.Warn("Payload encryption disabled", "error", err)
		}
		generator = wg
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			reply, email := wg.TestConnection(ctx)
			log.Info("N8N workflows checked", "reply_ok", reply, "email_ok", email)
		}()
	} else {
		log.Warn("N8N not configured - using mock responses")
	}
	orchestrator := generation.NewOrchestrator(usage, generator, publisher, cfg.Generation.Timeout, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var source pressure.Source
	switch cfg.Pressure.Source {
	case "telemetry":
		t := &pressure.Telemetry{
			Counters:        countRead,
			DB:              db,
			Sessions:        sessions,
			RequestCapacity: cfg.RateLimit.Requests * 50,
			UserCapacity:    500,
			WebhookBudget:   cfg.Generation.Timeout,
		}
		if publisher.Enabled() {
			t.Queue = publisher
		}
		source = t
	default:
		source = pressure.NewRandomWalk(time.Now().UnixNano())
	}
	monitor := pressure.NewMonitor(source, cfg.Pressure.Interval, log)
	go monitor.Run(ctx)
	go pruneSessions(ctx, sessions)

	h := handlers.New(handlers.Deps{
		DB:        db,
		Usage:     usage,
		Accounts:  accounts,
		Billing:   payments,
		Companies: companies,
		Generator: orchestrator,
		Pressure:  monitor,
		Logs:      handlers.NewPostgresLogStore(db, log),
	}, log)

	// Create router
	r := mux.NewRouter()
	r.Use(middleware.Recover(log), middleware.Telemetry(counters, log))
	h.Register(r, authn, middleware.NewRateLimiter(limits, "generate", cfg.RateLimit.Requests, cfg.RateLimit.Window, log))

	// CORS configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Stripe-Signature", "X-Device-Fingerprint", "X-Screen-Resolution", "X-Timezone-Offset", "X-Canvas-Hash"},
		AllowCredentials: true,
	})

	// Create server
	srv := &http.Server{
		Handler:      c.Handler(r),
		Addr:         ":" + cfg.Server.Port,
		WriteTimeout: cfg.Generation.Timeout + 15*time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port, "pressure_source", cfg.Pressure.Source)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", "error", err)
	}
}

func pruneSessions(ctx context.Context, sessions *session.Store) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Prune()
		}
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
