package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const meterName = "go.aimuz.me/termtalk"

// Metrics records pipeline measurements.
type Metrics struct {
	cycles     metric.Int64Counter
	capture    metric.Float64Histogram
	transcribe metric.Float64Histogram
	inject     metric.Float64Histogram
	dropped    metric.Int64Counter
}

// NewMetrics creates the pipeline instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m    Metrics
		err  error
		errs []error
	)
	m.cycles, err = meter.Int64Counter("termtalk.cycles",
		metric.WithDescription("Finished push-to-talk cycles by outcome"))
	errs = append(errs, err)
	m.capture, err = meter.Float64Histogram("termtalk.capture.duration",
		metric.WithDescription("Recorded audio length"), metric.WithUnit("s"))
	errs = append(errs, err)
	m.transcribe, err = meter.Float64Histogram("termtalk.transcribe.duration",
		metric.WithDescription("Time spent transcribing"), metric.WithUnit("s"))
	errs = append(errs, err)
	m.inject, err = meter.Float64Histogram("termtalk.inject.duration",
		metric.WithDescription("Time spent typing"), metric.WithUnit("s"))
	errs = append(errs, err)
	m.dropped, err = meter.Int64Counter("termtalk.audio.dropped_chunks",
		metric.WithDescription("Audio chunks lost to a full capture queue"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) recordCycle(ctx context.Context, c *cycle, outcome string) {
	if m == nil {
		return
	}
	m.cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if c.audio > 0 {
		m.capture.Record(ctx, c.audio.Seconds())
	}
	if c.transcribe > 0 {
		m.transcribe.Record(ctx, c.transcribe.Seconds(),
			metric.WithAttributes(attribute.String("backend", c.backend), attribute.Bool("cached", c.cached)))
	}
	if c.inject > 0 {
		m.inject.Record(ctx, c.inject.Seconds())
	}
	if c.dropped > 0 {
		m.dropped.Add(ctx, int64(c.dropped))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Provider Setup
// ─────────────────────────────────────────────────────────────────────────────

// Telemetry owns the meter provider and the optional /metrics server.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	server   *http.Server
	addr     string // Listen address of the metrics server, if any
}

// setupTelemetry installs a Prometheus-backed meter provider. When bind is
// set the metrics are served on http://bind/metrics.
func setupTelemetry(bind, version string) (*Telemetry, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName("termtalk"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	t := &Telemetry{provider: provider}
	if bind == "" {
		return t, nil
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	t.addr = ln.Addr().String()

	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "error", err)
		}
	}()
	slog.Info("metrics endpoint listening", "addr", t.addr)
	return t, nil
}

// Meter returns the application meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.provider.Meter(meterName)
}

// Shutdown stops the server and flushes the provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.server != nil {
		errs = append(errs, t.server.Shutdown(ctx))
	}
	errs = append(errs, t.provider.Shutdown(ctx))
	return errors.Join(errs...)
}
