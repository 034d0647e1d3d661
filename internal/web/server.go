package web

import (
	"context"
	"embed"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// ServerOptions configures the local operator server.
type ServerOptions struct {
	Version string
	Bind    string
	Port    int
	Logger  *slog.Logger

	// AllowedOrigins may call the server from other origins. Empty means
	// DefaultAllowedOrigins.
	AllowedOrigins []string
}

// DefaultAllowedOrigins are the browser-extension origins allowed when none are configured.
var DefaultAllowedOrigins = []string{"chrome-extension://*", "moz-extension://*"}

// NewServer creates the HTTP server for the local RPC and dashboard.
func NewServer(svc *ops.Service, opts ServerOptions) (*http.Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}

	// Create sub-FS for static files (strip "static/" prefix)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	h := &Handlers{
		svc:      svc,
		renderer: NewRenderer(templateSub, opts.Version, opts.Logger),
		logger:   opts.Logger,
	}

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Bind, opts.Port),
		Handler:           newHandler(h, staticSub, opts.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func newHandler(h *Handlers, static fs.FS, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// Dashboard
	mux.HandleFunc("GET /{$}", h.HandleDashboard)
	mux.HandleFunc("GET /prompts/{id}", h.HandlePrompt)
	mux.HandleFunc("POST /sync", h.HandleSync)
	mux.HandleFunc("POST /retry-failed", h.HandleRetryFailed)
	mux.HandleFunc("POST /settings", h.HandleSettingsForm)

	// Local RPC
	mux.HandleFunc("POST /rpc", h.HandleRPC)
	mux.HandleFunc("GET /api/status", h.HandleAPIStatus)
	mux.HandleFunc("GET /api/recent", h.HandleAPIRecent)
	mux.HandleFunc("GET /api/logs", h.HandleAPILogs)
	mux.HandleFunc("POST /api/prompts", h.HandleAPISave)
	mux.HandleFunc("POST /api/settings", h.HandleAPISettings)
	mux.HandleFunc("POST /api/sync", h.HandleAPISync)
	mux.HandleFunc("POST /api/retry-failed", h.HandleAPIRetryFailed)

	// Static file server
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
	return c.Handler(securityHeaders(originGuard(c, h.renderer, mux)))
}

// originGuard rejects browser requests from other sites unless their origin is
// allowed. It covers every state-changing request and every /api read; plain
// page loads of the dashboard pass through.
func originGuard(c *cors.Cors, renderer *Renderer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		guarded := (r.Method != http.MethodGet && r.Method != http.MethodHead) ||
			strings.HasPrefix(r.URL.Path, "/api/")
		if guarded && crossSite(r) && !c.OriginAllowed(r) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = r.Header.Get("Sec-Fetch-Site")
			}
			renderer.renderError(w, r, errors.NewForbidden(origin))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// crossSite reports whether a browser sent r from a different origin.
// Requests without Origin or Sec-Fetch-Site (curl, the CLI) are not browser
// cross-site requests.
func crossSite(r *http.Request) bool {
	if origin := r.Header.Get("Origin"); origin != "" {
		u, err := url.Parse(origin)
		return err != nil || u.Host != r.Host
	}
	switch r.Header.Get("Sec-Fetch-Site") {
	case "", "same-origin", "none":
		return false
	}
	return true
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("SPR UI running", "url", "http://"+srv.Addr)

	if strings.HasPrefix(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down UI")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
