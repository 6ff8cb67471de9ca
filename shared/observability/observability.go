package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mindgarden/backend/pkg/logger"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// SetupTracing installs a global tracer provider that exports spans to w.
// The returned function flushes and stops the provider.
func SetupTracing(serviceName string, w io.Writer) (func(context.Context) error, error) {
	opts := []stdouttrace.Option{}
	if w != nil {
		opts = append(opts, stdouttrace.WithWriter(w))
	}
	exp, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stdouttrace exporter: %w", err)
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		// Schema conflicts only lose the default attributes.
		res = resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName))
	}
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// Metrics holds the service's Prometheus registry and domain counters. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry             *prom.Registry
	Generation           *prom.CounterVec
	AssessmentsCompleted *prom.CounterVec
	STTFallback          prom.Counter
}

// NewMetrics creates a registry with process collectors and the domain counters
func NewMetrics() *Metrics {
	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: registry,
		Generation: prom.NewCounterVec(prom.CounterOpts{
			Name: "mindgarden_generation_total",
			Help: "Text generation calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		AssessmentsCompleted: prom.NewCounterVec(prom.CounterOpts{
			Name: "mindgarden_assessments_completed_total",
			Help: "Completed mood assessments by mood.",
		}, []string{"mood"}),
		STTFallback: prom.NewCounter(prom.CounterOpts{
			Name: "mindgarden_stt_fallback_total",
			Help: "Voice turns that fell back to typed text.",
		}),
	}
	registry.MustRegister(m.Generation, m.AssessmentsCompleted, m.STTFallback)
	return m
}

// ObserveGeneration counts one generation call
func (m *Metrics) ObserveGeneration(provider, outcome string) {
	if m == nil {
		return
	}
	m.Generation.WithLabelValues(provider, outcome).Inc()
}

// ObserveAssessment counts one completed assessment
func (m *Metrics) ObserveAssessment(mood string) {
	if m == nil {
		return
	}
	m.AssessmentsCompleted.WithLabelValues(mood).Inc()
}

// ObserveSTTFallback counts one transcription fallback
func (m *Metrics) ObserveSTTFallback() {
	if m == nil {
		return
	}
	m.STTFallback.Inc()
}

// MeterProvider bridges OpenTelemetry instruments into the same registry
func (m *Metrics) MeterProvider() (*metric.MeterProvider, error) {
	exp, err := prometheus.New(prometheus.WithRegisterer(m.Registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(metric.WithReader(exp))
	otel.SetMeterProvider(mp)
	return mp, nil
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("Metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Metrics server stopped", "error", err)
	}
}
