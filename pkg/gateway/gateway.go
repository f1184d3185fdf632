package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dteixeira/mmbridge/pkg/telemetry"
)

// Gateway is the operational HTTP surface: health probes, metrics, and the
// webhook endpoints of webhook-driven channel adapters.
type Gateway struct {
	server *http.Server
	router *chi.Mux
	logger *slog.Logger
}

type Config struct {
	Bind   string
	Port   int
	Logger *slog.Logger
	// Webhooks maps a channel name to its inbound event handler, mounted
	// at /webhooks/<name>.
	Webhooks map[string]http.Handler
}

func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	g := &Gateway{
		router: r,
		logger: cfg.Logger,
	}

	r.Get("/healthz", g.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	for name, handler := range cfg.Webhooks {
		r.Post("/webhooks/"+name, handler.ServeHTTP)
	}

	addr := resolveAddr(cfg.Bind, cfg.Port)
	g.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return g
}

func (g *Gateway) Start(ctx context.Context) error {
	logger := telemetry.FromContext(ctx)
	logger.Info("gateway listening", slog.String("addr", g.server.Addr))

	ln, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return g.shutdown()
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func resolveAddr(bind string, port int) string {
	host := "127.0.0.1"
	switch bind {
	case "all":
		host = "0.0.0.0"
	case "loopback", "":
	default:
		host = bind
	}
	return fmt.Sprintf("%s:%d", host, port)
}
