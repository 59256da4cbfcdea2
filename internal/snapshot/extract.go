// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package snapshot

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	platformfs "github.com/ManuGH/stacks-devnet/internal/platform/fs"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// maxEntryBytes caps a single archive member.
const maxEntryBytes = 8 << 30

// decompress sniffs the compression format and returns a reader over the tar stream.
func decompress(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("read archive header: %w", err)
	}
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return dec, dec.Close, nil
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	default:
		return nil, nil, ErrUnsupportedArchive
	}
}

// extractTar unpacks a compressed tar stream into dir. Links are skipped and
// every member path is confined to dir.
func extractTar(ctx context.Context, r io.Reader, dir string, logger zerolog.Logger) (int, error) {
	stream, closeFn, err := decompress(r)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	tr := tar.NewReader(stream)
	files := 0
	for {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("read archive entry: %w", err)
		}

		target, err := platformfs.ConfineRelPath(dir, hdr.Name)
		if err != nil {
			return files, fmt.Errorf("archive entry %q: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("create dir %q: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr); err != nil {
				return files, err
			}
			files++
		default:
			logger.Debug().
				Str("entry", hdr.Name).
				Int("type", int(hdr.Typeflag)).
				Msg("skipping non-regular archive entry")
		}
	}
}

func writeEntry(r io.Reader, target string, hdr *tar.Header) error {
	if hdr.Size > maxEntryBytes {
		return fmt.Errorf("archive entry %q exceeds %d bytes", hdr.Name, int64(maxEntryBytes))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent of %q: %w", hdr.Name, err)
	}
	mode := os.FileMode(hdr.Mode).Perm() | 0o600
	// #nosec G304 -- target is confined to the snapshot dir
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %q: %w", hdr.Name, err)
	}
	if _, err := io.CopyN(f, r, hdr.Size); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %q: %w", hdr.Name, err)
	}
	return f.Close()
}
