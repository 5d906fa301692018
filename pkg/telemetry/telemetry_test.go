// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func restoreProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestInitNone(t *testing.T) {
	for _, exporter := range []string{"", ExporterNone} {
		t.Run("exporter="+exporter, func(t *testing.T) {
			restoreProvider(t)
			ctx := context.Background()

			tp, shutdown, err := Init(ctx, Options{Exporter: exporter})
			require.NoError(t, err)
			assert.IsType(t, noop.TracerProvider{}, tp)
			assert.NoError(t, shutdown(ctx))
		})
	}
}

func TestInitUnknownExporter(t *testing.T) {
	_, _, err := Init(context.Background(), Options{Exporter: "stdout"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trace exporter")
}

func TestInitOTLP(t *testing.T) {
	restoreProvider(t)
	ctx := context.Background()

	// the exporter connects lazily, so an unreachable endpoint is fine here
	tp, shutdown, err := Init(ctx, Options{
		Exporter:    ExporterOTLP,
		Endpoint:    "127.0.0.1:1",
		Insecure:    true,
		SampleRatio: 3,
		Logger:      zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	require.NotNil(t, tp)
	_, isNoop := tp.(noop.TracerProvider)
	assert.False(t, isNoop)
	assert.Equal(t, tp, otel.GetTracerProvider())

	_, span := tp.Tracer("test").Start(ctx, "span")
	span.End()
	_ = shutdown(ctx)
}
