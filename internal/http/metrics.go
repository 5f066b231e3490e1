package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "path", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RegisterMetrics registra las métricas HTTP en reg (default si es nil) y
// devuelve el handler de /metrics para ese registry.
func RegisterMetrics(reg *prometheus.Registry) (http.Handler, error) {
	var r prometheus.Registerer = prometheus.DefaultRegisterer
	var g prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		r, g = reg, reg
	}
	for _, c := range []prometheus.Collector{httpRequestsTotal, httpRequestDuration} {
		if err := registerCollector(r, c); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{}), nil
}

// WithMetrics cuenta requests y latencia por patrón de ruta de chi, así las
// etiquetas no explotan con paths arbitrarios.
func WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		path := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		method := strings.ToUpper(r.Method)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	})
}

// registerCollector registra el collector en el registry indicado, ignorando duplicados.
func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}
