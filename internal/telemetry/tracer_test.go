// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"context"
	"testing"

	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{ServiceName: "test", ExporterType: "grpc"})
	require.NoError(t, err)
	assert.Nil(t, provider.tp)
	require.NoError(t, provider.Shutdown(context.Background()))

	_, span := otel.Tracer("test").Start(context.Background(), "noop-check")
	assert.False(t, span.IsRecording())
	span.End()
}

func TestNewProvider_InvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ExporterType: "invalid"})
	require.EqualError(t, err, "unsupported exporter type: invalid (supported: grpc, http)")
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}

func TestFromConfig(t *testing.T) {
	tc := config.TelemetryConfig{Enabled: true, ExporterType: "grpc", Endpoint: "c:4317", SamplingRate: 0.25}

	cfg := FromConfig(tc, "svc", "v1", nil)
	assert.Equal(t, Config{Enabled: true, ServiceName: "svc", ServiceVersion: "v1", ExporterType: "grpc", Endpoint: "c:4317", SamplingRate: 0.25}, cfg)

	d := config.DefaultDevnet()
	d.Nodes = config.DefaultNodes(d)
	cfg = FromConfig(tc, "svc", "v1", d)
	assert.Equal(t, NetworkAttributes(*d), cfg.Network)
}

func TestNetworkAttributes(t *testing.T) {
	d := config.DefaultDevnet()
	d.Nodes = append(config.DefaultNodes(d), config.NodeSpec{Name: "subnet-node", Chain: config.ChainAuxiliary, Command: "subnet-node"})
	d.BootHeight = 7
	d.BitcoinControllerAutominingDisabled = true

	set := attribute.NewSet(NetworkAttributes(*d)...)
	nodes, ok := set.Value(NodesKey)
	require.True(t, ok)
	assert.NotContains(t, nodes.AsStringSlice(), "subnet-node", "inactive nodes are not part of the network")
	chain, _ := set.Value(BootChainKey)
	assert.Equal(t, config.ChainL2, chain.AsString())
	height, _ := set.Value(BootHeightKey)
	assert.Equal(t, int64(7), height.AsInt64())
	automining, _ := set.Value(AutominingKey)
	assert.False(t, automining.AsBool())
}

func TestStartPhase(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, span := StartPhase(context.Background(), PhaseJoin, "s-1")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "session.join", ended[0].Name())
	set := attribute.NewSet(ended[0].Attributes()...)
	phase, _ := set.Value(PhaseKey)
	assert.Equal(t, PhaseJoin, phase.AsString())
	id, _ := set.Value(SessionIDKey)
	assert.Equal(t, "s-1", id.AsString())
}

func TestAttributes(t *testing.T) {
	attrs := SessionAttributes("id", true, false)
	require.Len(t, attrs, 3)
	assert.Equal(t, SessionIDKey, string(attrs[0].Key))
	assert.True(t, attrs[1].Value.AsBool())
}
