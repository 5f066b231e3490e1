package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RouterDeps agrupa lo que necesita el router público.
type RouterDeps struct {
	WellKnown *WellKnownHandler
	// Metrics es el handler de /metrics; nil no lo expone.
	Metrics http.Handler
	// Ready reporta si el store responde.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// NewRouter arma el chi router con los middlewares de siempre.
func NewRouter(d RouterDeps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(WithRequestID, WithLogger(log), WithRecover, WithSecurityHeaders, WithMetrics, WithLogging)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(req.Context()); err != nil {
				WriteError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	if d.WellKnown != nil {
		r.Get("/.well-known/jwks.json", d.WellKnown.JWKS)
		r.Head("/.well-known/jwks.json", d.WellKnown.JWKS)
		r.Get("/.well-known/openid-configuration", d.WellKnown.Discovery)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	return r
}

// Serve escucha en addr hasta que ctx se cancela y después cierra con un
// margen de shutdown.
func Serve(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
