package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the correlation id of a request.
const RequestIDHeader = "X-Request-ID"

// unknownMethod labels requests that never reached a registered RPC method.
const unknownMethod = "unknown"

const (
	contextKeyRequestID contextKey = "escrowd.request_id"
	contextKeyCall      contextKey = "escrowd.rpc_call"
)

// callInfo is filled in by the RPC dispatcher once the envelope is decoded so
// the middleware can label the request after the handler returns.
type callInfo struct {
	method string
}

// RequestIDFromContext returns the id assigned by the observability middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// SetRPCMethod records the dispatched JSON-RPC method for the current request.
// Only registered method names should be passed so label cardinality stays
// bounded.
func SetRPCMethod(ctx context.Context, method string) {
	if info, ok := ctx.Value(contextKeyCall).(*callInfo); ok {
		info.method = method
	}
}

type ObservabilityConfig struct {
	ServiceName   string
	MetricsPrefix string
	LogRequests   bool
	Enabled       bool
}

// Observability assigns request ids and, when enabled, records one span, one
// counter sample and one latency sample per JSON-RPC call.
type Observability struct {
	cfg      ObservabilityConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	registry *prometheus.Registry
}

func NewObservability(cfg ObservabilityConfig, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "escrowd"
	}
	if cfg.MetricsPrefix == "" {
		cfg.MetricsPrefix = "escrowd_http"
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.MetricsPrefix,
		Name:      "requests_total",
		Help:      "JSON-RPC requests by route, RPC method and HTTP status code.",
	}, []string{"route", "rpc_method", "code"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.MetricsPrefix,
		Name:      "request_duration_seconds",
		Help:      "Latency of JSON-RPC requests in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"route", "rpc_method"})
	registry := prometheus.NewRegistry()
	registry.MustRegister(calls, latency)
	return &Observability{
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer(cfg.ServiceName + "/http"),
		calls:    calls,
		latency:  latency,
		registry: registry,
	}
}

func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(RequestIDHeader)); id != "" {
		return id
	}
	return uuid.NewString()
}

func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := requestID(r)
			w.Header().Set(RequestIDHeader, id)
			ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
			if !o.cfg.Enabled {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			info := &callInfo{method: unknownMethod}
			ctx = context.WithValue(ctx, contextKeyCall, info)
			ctx, span := o.tracer.Start(ctx, r.Method+" "+route, trace.WithAttributes(
				attribute.String("http.route", route),
				attribute.String("rpc.system", "jsonrpc"),
				attribute.String("request.id", id),
			))
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			elapsed := time.Since(start)

			span.SetName("rpc " + info.method)
			span.SetAttributes(
				attribute.String("rpc.method", info.method),
				attribute.Int("http.status_code", recorder.status),
			)
			span.End()
			o.calls.WithLabelValues(route, info.method, strconv.Itoa(recorder.status)).Inc()
			o.latency.WithLabelValues(route, info.method).Observe(elapsed.Seconds())
			if o.cfg.LogRequests {
				o.logger.Info("rpc request",
					slog.String("method", info.method),
					slog.Int("status", recorder.status),
					slog.String("request_id", id),
					slog.Duration("duration", elapsed))
			}
		})
	}
}

// MetricsHandler serves the HTTP collectors together with the process-wide
// default registry that holds the engine metrics.
func (o *Observability) MetricsHandler() http.Handler {
	gatherers := prometheus.Gatherers{o.registry, prometheus.DefaultGatherer}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
