// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package snapshot

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Bundle provides the baseline snapshot archive shipped with the binary.
// Open returns ErrNoBundle when there is nothing to extract.
type Bundle interface {
	Open() (io.ReadCloser, error)
}

// NoBundle never has an archive.
type NoBundle struct{}

func (NoBundle) Open() (io.ReadCloser, error) { return nil, ErrNoBundle }

// FileBundle reads the archive from a path on disk. An empty path or a
// missing file means no bundle.
type FileBundle struct {
	Path string
}

func (b FileBundle) Open() (io.ReadCloser, error) {
	if b.Path == "" {
		return nil, ErrNoBundle
	}
	// #nosec G304 -- bundle path is provided by the operator
	f, err := os.Open(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoBundle
		}
		return nil, fmt.Errorf("open snapshot bundle: %w", err)
	}
	return f, nil
}

// FSBundle reads the archive from a file system, typically an embed.FS.
type FSBundle struct {
	FS   fs.FS
	Name string
}

func (b FSBundle) Open() (io.ReadCloser, error) {
	if b.FS == nil || b.Name == "" {
		return nil, ErrNoBundle
	}
	f, err := b.FS.Open(b.Name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoBundle
		}
		return nil, fmt.Errorf("open embedded snapshot: %w", err)
	}
	return f, nil
}
