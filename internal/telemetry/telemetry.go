// Package telemetry wires error reporting (Sentry) and tracing (OTLP) for
// the bot. Both are optional: with nothing configured every method is a
// no-op and the global tracer provider stays the otel default.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	ServiceName  = "spredd-degen"
	flushTimeout = 2 * time.Second
)

type Options struct {
	SentryDSN    string
	OTLPEndpoint string
	Environment  string
	Release      string

	// sentryTransport replaces the HTTP transport in tests.
	sentryTransport sentry.Transport
}

// Telemetry holds the initialised reporters. The zero value is usable and
// reports nothing.
type Telemetry struct {
	hub      *sentry.Hub
	provider *sdktrace.TracerProvider
	logger   *slog.Logger
}

// Setup initialises whichever backends opts enables. A tracer provider is
// registered globally so spans started via otel.Tracer are exported.
func Setup(ctx context.Context, opts Options, logger *slog.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Telemetry{logger: logger}

	if opts.SentryDSN != "" {
		client, err := sentry.NewClient(sentry.ClientOptions{
			Dsn:         opts.SentryDSN,
			Environment: opts.Environment,
			Release:     opts.Release,
			Transport:   opts.sentryTransport,
		})
		if err != nil {
			return nil, fmt.Errorf("initialising sentry: %w", err)
		}
		t.hub = sentry.NewHub(client, sentry.NewScope())
		logger.Info("sentry error reporting enabled", "environment", opts.Environment)
	}

	if opts.OTLPEndpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(opts.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("creating otlp exporter: %w", err)
		}
		res := resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
			attribute.String("deployment.environment", opts.Environment),
		)
		t.provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(t.provider)
		logger.Info("otlp tracing enabled", "endpoint", opts.OTLPEndpoint)
	}

	return t, nil
}

// Report sends err to Sentry with tags attached. It matches poller.Reporter.
func (t *Telemetry) Report(err error, tags map[string]string) {
	if t == nil || t.hub == nil || err == nil {
		return
	}
	t.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		t.hub.CaptureException(err)
	})
}

// Shutdown flushes pending events and spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.hub != nil && !t.hub.Flush(flushTimeout) {
		errs = append(errs, errors.New("sentry: flush timed out"))
	}
	if t.provider != nil {
		if err := t.provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
