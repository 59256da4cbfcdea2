// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chainhook

import "errors"

var (
	// ErrInvalidHook is returned when a hook cannot be registered.
	ErrInvalidHook = errors.New("invalid chainhook")
	// ErrHookNotFound is returned when no hook has the requested ID.
	ErrHookNotFound = errors.New("chainhook not found")
)
