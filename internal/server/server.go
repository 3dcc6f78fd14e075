// Package server mounts the sidecar's HTTP API and owns its lifecycle.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/agencybridge/sidecar/internal/config"
	"github.com/agencybridge/sidecar/internal/handler"
	"github.com/agencybridge/sidecar/internal/logging"
	"github.com/agencybridge/sidecar/internal/svc"
)

// Options holds optional dependencies for the server.
type Options struct {
	// SvcCtx is a pre-initialized service context. When nil the server
	// builds and owns its own.
	SvcCtx *svc.ServiceContext

	// Quiet suppresses per-request logging.
	Quiet bool
}

// Run starts the sidecar server. It blocks until the context is
// cancelled, then shuts down gracefully.
func Run(ctx context.Context, c config.Config, opts ...Options) error {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	return run(ctx, c, o)
}

func run(ctx context.Context, c config.Config, opts Options) error {
	addr := c.Addr()

	if err := checkPortAvailable(addr); err != nil {
		return fmt.Errorf("address %s is already in use", addr)
	}

	svcCtx := opts.SvcCtx
	if svcCtx == nil {
		var err error
		svcCtx, err = svc.NewServiceContext(c)
		if err != nil {
			return fmt.Errorf("build service context: %w", err)
		}
		defer svcCtx.Close()
	}

	if svcCtx.Refresher != nil {
		svcCtx.Refresher.Start()
	}

	r := NewRouter(svcCtx, opts.Quiet)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logging.Infof("sidecar listening on %s", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// NewRouter builds the chi router with all sidecar routes mounted.
func NewRouter(svcCtx *svc.ServiceContext, quiet bool) chi.Router {
	r := chi.NewRouter()

	if !quiet {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(corsMiddleware(svcCtx.Config.Server.AllowedOrigins))

	r.Get("/health", handler.HealthHandler(svcCtx))

	r.Post("/providers/{provider}/session", handler.SessionHandler(svcCtx))
	r.Post("/cache/clear", handler.CacheClearHandler(svcCtx))

	r.Post("/sms/send", handler.SMSHandler(svcCtx))

	r.Post("/chat", handler.ChatHandler(svcCtx))
	r.Post("/chat/initialize", handler.ChatInitializeHandler(svcCtx))
	r.Get("/chat/status", handler.ChatStatusHandler(svcCtx))

	return r
}

// corsMiddleware allows the configured origins. With no configured
// origins only same-origin requests get through, which suits the
// sidecar's usual deployment next to its consumer.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		allowedSet[origin] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowedSet[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
