// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"

	"github.com/ManuGH/stacks-devnet/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const sessionTracer = "stacks-devnet/session"

// Attribute keys shared by devnet spans.
const (
	SessionIDKey     = "devnet.session_id"
	StartLocalKey    = "devnet.start_local"
	UseSnapshotKey   = "devnet.use_snapshot"
	PhaseKey         = "devnet.phase"
	BootChainKey     = "devnet.boot_chain"
	BootHeightKey    = "devnet.boot_height"
	NodesKey         = "devnet.nodes"
	AutominingKey    = "devnet.automining"
	SubnetEnabledKey = "devnet.subnet_enabled"
)

// Session phases, in the order a run passes through them.
const (
	PhaseSnapshot = "snapshot"
	PhaseRun      = "run"
	PhaseJoin     = "join"
)

// SessionAttributes describes a session span.
func SessionAttributes(id string, startLocal, useSnapshot bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, id),
		attribute.Bool(StartLocalKey, startLocal),
		attribute.Bool(UseSnapshotKey, useSnapshot),
	}
}

// NetworkAttributes describes the shape of a devnet: active nodes, the chain
// that signals boot and how blocks are produced.
func NetworkAttributes(d config.DevnetConfig) []attribute.KeyValue {
	active := d.ActiveNodes()
	names := make([]string, 0, len(active))
	for _, n := range active {
		names = append(names, n.Name)
	}
	return []attribute.KeyValue{
		attribute.StringSlice(NodesKey, names),
		attribute.String(BootChainKey, d.BootChain()),
		attribute.Int64(BootHeightKey, int64(d.BootHeight)),
		attribute.Bool(AutominingKey, d.AutominingEnabled()),
		attribute.Bool(SubnetEnabledKey, d.EnableSubnetNode),
	}
}

// StartPhase opens the span of one session phase, named "session.<phase>"
// and tagged with the phase and the session id.
func StartPhase(ctx context.Context, phase, sessionID string) (context.Context, trace.Span) {
	return Tracer(sessionTracer).Start(ctx, "session."+phase, trace.WithAttributes(
		attribute.String(PhaseKey, phase),
		attribute.String(SessionIDKey, sessionID),
	))
}
