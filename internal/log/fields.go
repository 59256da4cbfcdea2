// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldService   = "service"
	FieldVersion   = "version"
	FieldSessionID = "session_id"
	FieldHookID    = "hook_id"
	FieldRequestID = "request_id"

	// Process / worker fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldWorker    = "worker"
	FieldNode      = "node"
	FieldPID       = "pid"

	// Chain fields
	FieldChain  = "chain"
	FieldHeight = "height"
	FieldHash   = "hash"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath       = "path"
	FieldWorkingDir = "working_dir"
	FieldRPCURL     = "rpc_url"
	FieldAddr       = "addr"
)
