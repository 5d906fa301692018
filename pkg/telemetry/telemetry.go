// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry sets up OpenTelemetry tracing for the bootstrap runs and
// the HTTP server.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	ExporterNone = "none"
	ExporterOTLP = "otlp"
)

// Options configures the OpenTelemetry TracerProvider.
type Options struct {
	// ServiceName is the service.name resource attribute.
	// Default: "sessionboot"
	ServiceName    string
	ServiceVersion string

	// Exporter selects the trace exporter: "none" (default) installs a no-op
	// provider, "otlp" exports over OTLP/HTTP.
	Exporter string

	// Endpoint is the OTLP collector host:port, e.g. "otel-collector:4318".
	// Empty uses the exporter default or OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string
	Insecure bool

	// SampleRatio is the probability of sampling a root span (0.0-1.0).
	SampleRatio float64

	Logger *zap.SugaredLogger
}

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// Init installs the global TracerProvider and propagator. The returned
// ShutdownFunc must be called on exit and is safe to call for the no-op
// provider.
func Init(ctx context.Context, opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	switch opts.Exporter {
	case ExporterNone, "":
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	case ExporterOTLP:
	default:
		return nil, nil, fmt.Errorf("unknown trace exporter %q: supported values are otlp, none", opts.Exporter)
	}

	if opts.ServiceName == "" {
		opts.ServiceName = "sessionboot"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.SampleRatio < 0 || opts.SampleRatio > 1.0 {
		log.Warnw("Trace sample ratio out of range, sampling everything", "provided", opts.SampleRatio)
		opts.SampleRatio = 1.0
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	var httpOpts []otlptracehttp.Option
	if opts.Endpoint != "" {
		httpOpts = append(httpOpts, otlptracehttp.WithEndpoint(opts.Endpoint))
	}
	if opts.Insecure {
		httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, httpOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTLP HTTP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warnw("OpenTelemetry internal error", "error", err)
	}))

	log.Infow("OpenTelemetry tracing initialized",
		"serviceName", opts.ServiceName,
		"endpoint", opts.Endpoint,
		"sampleRatio", opts.SampleRatio,
	)

	shutdown := func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}
	return tp, shutdown, nil
}
