package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"expense-dashboard/internal/auth"
	"expense-dashboard/internal/config"
	"expense-dashboard/internal/handlers"
	"expense-dashboard/internal/logging"
	"expense-dashboard/internal/metrics"
	"expense-dashboard/internal/storage"
	"expense-dashboard/web"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	log := logging.New(cfg.IsProduction(), cfg.LogLevel, os.Stdout)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewProm(reg)

	db, err := storage.NewDB(cfg.DBPath, storage.WithQueryObserver(prom))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	log.WithField("path", cfg.DBPath).Info("database ready")

	if err := ensureAdmin(ctx, db, cfg, log); err != nil {
		return err
	}

	h := handlers.NewHandlers(db, log, handlers.Options{
		SessionDuration: cfg.SessionDuration,
		SecureCookie:    cfg.SecureCookie,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           setupRouter(h, web.StaticFS, prom, log, cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go sweepSessions(ctx, db, cfg.SessionSweepInterval, log)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func setupRouter(h *handlers.Handlers, static fs.FS, prom *metrics.Prom, log logrus.FieldLogger, origins []string) http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /{$}", h.LoginPage(static, "index.html"))
	mux.HandleFunc("GET /dashboard", handlers.Page(static, "dashboard.html"))
	mux.Handle("GET /static/", handlers.Assets("/static/", static))
	mux.HandleFunc("POST /register", h.Register)
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("POST /logout", h.Logout)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.Handle("GET /metrics", prom.Handler())

	// Protected routes
	protected := func(fn http.HandlerFunc) http.Handler {
		return h.AuthMiddleware(fn)
	}
	mux.Handle("GET /api/me", protected(h.Me))
	mux.Handle("POST /api/expenses", protected(h.AddExpense))
	mux.Handle("GET /api/expenses", protected(h.ListExpenses))
	mux.Handle("DELETE /api/expenses/{id}", protected(h.DeleteExpense))
	mux.Handle("GET /api/summary", protected(h.Summary))

	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", handlers.RequestIDHeader},
		ExposedHeaders:   []string{handlers.RequestIDHeader},
		AllowCredentials: !slices.Contains(origins, "*"),
	})

	return handlers.Chain(mux,
		handlers.RequestID,
		handlers.RequestLogger(log),
		handlers.Recoverer(log),
		c.Handler,
		handlers.LimitBody(handlers.MaxBodyBytes),
		handlers.Metrics(prom),
	)
}

// ensureAdmin creates the configured seed account unless its email is taken.
// Without one, it warns when nobody could log in yet.
func ensureAdmin(ctx context.Context, db *storage.DB, cfg *config.Config, log logrus.FieldLogger) error {
	if cfg.AdminEmail == "" {
		users, err := db.UserCount(ctx)
		if err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		if users == 0 {
			log.Warn("no user accounts yet: register at / or run adduser")
		}
		return nil
	}

	_, err := db.GetUserByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("look up admin user: %w", err)
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	user, err := db.CreateUser(ctx, cfg.AdminName, cfg.AdminEmail, hash)
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	log.WithFields(logrus.Fields{"user_id": user.ID, "email": user.Email}).Info("admin user created")
	return nil
}

// sweepSessions deletes expired sessions every interval until ctx is done.
func sweepSessions(ctx context.Context, db *storage.DB, interval time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := db.CleanExpiredSessions(ctx)
			if err != nil {
				log.WithError(err).Warn("session sweep failed")
				continue
			}
			if removed > 0 {
				log.WithField("removed", removed).Debug("expired sessions removed")
			}
		}
	}
}
