// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package snapshot

import "errors"

var (
	// ErrNoBundle is returned by a Bundle that has no archive to offer.
	ErrNoBundle = errors.New("no bundled snapshot available")

	// ErrUnsupportedArchive is returned when the bundle is neither zstd nor gzip compressed.
	ErrUnsupportedArchive = errors.New("unsupported snapshot archive format")
)
