// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package snapshot

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/ManuGH/stacks-devnet/internal/bus"
	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) logs(t *testing.T) []event.LogData {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.LogData, 0, len(r.events))
	for _, ev := range r.events {
		l, ok := ev.(event.Log)
		require.True(t, ok, "unexpected event %T", ev)
		out = append(out, l.Data)
	}
	return out
}

var _ bus.Producer = (*recorder)(nil)

type member struct {
	name string
	body string
	dir  bool
}

func tarball(t *testing.T, members []member) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Mode: 0o644, Size: int64(len(m.body)), Typeflag: tar.TypeReg}
		if m.dir {
			hdr = &tar.Header{Name: m.name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !m.dir {
			_, err := tw.Write([]byte(m.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func zstdArchive(t *testing.T, members []member) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(tarball(t, members))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func gzipArchive(t *testing.T, members []member) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(tarball(t, members))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

type bytesBundle []byte

func (b bytesBundle) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

var sample = []member{
	{name: "bitcoin/", dir: true},
	{name: "bitcoin/regtest/blocks.dat", body: "blocks"},
	{name: "stacks/chainstate.sqlite", body: "chainstate"},
}

func newGate(t *testing.T, b Bundle) *Gate {
	t.Helper()
	return NewGate(filepath.Join(t.TempDir(), "cache", "snapshot"), b, zerolog.Nop())
}

func TestEnsure_ExtractsZstdBundle(t *testing.T) {
	g := newGate(t, bytesBundle(zstdArchive(t, sample)))
	rec := &recorder{}

	ok, err := g.Ensure(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, g.Ready())

	logs := rec.logs(t)
	require.Len(t, logs, 2)
	assert.Equal(t, event.LevelInfo, logs[0].Level)
	assert.Contains(t, logs[0].Message, "No existing snapshot")
	assert.Equal(t, event.LevelSuccess, logs[1].Level)
	assert.Contains(t, logs[1].Message, "Embedded snapshot extracted")

	data, err := os.ReadFile(filepath.Join(g.Dir(), "stacks", "chainstate.sqlite"))
	require.NoError(t, err)
	assert.Equal(t, "chainstate", string(data))

	recorded, err := g.Recorded()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultFingerprint(), recorded)
}

func TestEnsure_ExtractsGzipBundleFromFS(t *testing.T) {
	fsys := fstest.MapFS{"devnet.tar.gz": {Data: gzipArchive(t, sample)}}
	g := newGate(t, FSBundle{FS: fsys, Name: "devnet.tar.gz"})

	ok, err := g.Ensure(context.Background(), &recorder{})
	require.NoError(t, err)
	require.True(t, ok)
	_, err = os.Stat(filepath.Join(g.Dir(), "bitcoin", "regtest", "blocks.dat"))
	require.NoError(t, err)
}

func TestEnsure_NoBundle(t *testing.T) {
	tests := []struct {
		name   string
		bundle Bundle
	}{
		{name: "nil", bundle: nil},
		{name: "empty file path", bundle: FileBundle{}},
		{name: "missing file", bundle: FileBundle{Path: filepath.Join(t.TempDir(), "absent.tar.zst")}},
		{name: "missing fs entry", bundle: FSBundle{FS: fstest.MapFS{}, Name: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGate(t, tt.bundle)
			rec := &recorder{}
			ok, err := g.Ensure(context.Background(), rec)
			require.NoError(t, err)
			require.False(t, ok)

			logs := rec.logs(t)
			require.Len(t, logs, 2)
			assert.Equal(t, event.LevelWarning, logs[1].Level)
			assert.Equal(t, "No embedded snapshot available", logs[1].Message)
		})
	}
}

func TestEnsure_FailureIsWarning(t *testing.T) {
	tests := []struct {
		name   string
		bundle Bundle
	}{
		{name: "not an archive", bundle: bytesBundle("plain text")},
		{name: "path traversal", bundle: bytesBundle(zstdArchive(t, []member{{name: "../evil", body: "x"}}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGate(t, tt.bundle)
			rec := &recorder{}
			ok, err := g.Ensure(context.Background(), rec)
			require.Error(t, err)
			require.False(t, ok)
			require.False(t, g.Ready())

			logs := rec.logs(t)
			require.Len(t, logs, 2)
			assert.Equal(t, event.LevelWarning, logs[1].Level)
			assert.Contains(t, logs[1].Message, "Failed to extract embedded snapshot")
			assert.Contains(t, logs[1].Message, "Continuing without snapshot.")

			_, statErr := os.Stat(g.Dir())
			assert.True(t, os.IsNotExist(statErr), "failed extraction must not leave a snapshot dir")
		})
	}
}

func TestEnsure_AlreadyReadyIsSilent(t *testing.T) {
	g := newGate(t, nil)
	require.NoError(t, os.MkdirAll(g.Dir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(g.Dir(), ReadyMarker), nil, 0o644))

	rec := &recorder{}
	ok, err := g.Ensure(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, rec.events)
}

func TestEvaluate(t *testing.T) {
	g := newGate(t, nil)

	v := g.Evaluate(*config.DefaultDevnet())
	assert.True(t, v.Compatible)
	assert.Empty(t, v.Reason)

	changed := config.DefaultDevnet()
	changed.Epochs.Epoch30 = 500
	v = g.Evaluate(*changed)
	assert.False(t, v.Compatible)
	assert.Contains(t, v.Reason, "Epoch30")
}

func TestEvaluate_UsesRecordedFingerprint(t *testing.T) {
	g := newGate(t, nil)
	require.NoError(t, os.MkdirAll(g.Dir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(g.Dir(), RecordedConfigName),
		[]byte("minerMnemonic: something else\n"), 0o644))

	v := g.Evaluate(*config.DefaultDevnet())
	assert.False(t, v.Compatible)
	assert.Contains(t, v.Reason, "MinerMnemonic")
}

func TestPrepare_IncompatibleWarnsOnceAndContinues(t *testing.T) {
	g := newGate(t, bytesBundle(zstdArchive(t, sample)))
	cfg := config.DefaultDevnet()
	cfg.StacksNodeImage = "custom:dev"

	rec := &recorder{}
	usable := g.Prepare(context.Background(), *cfg, Options{StartLocal: true}, rec)
	require.False(t, usable)

	logs := rec.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, event.LevelWarning, logs[0].Level)
	assert.Contains(t, logs[0].Message, "Default snapshot can not be used")
	assert.False(t, g.Ready(), "incompatible config must not trigger extraction")
}

func TestPrepare_Skipped(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "remote cluster", opts: Options{StartLocal: false}},
		{name: "opted out", opts: Options{StartLocal: true, NoSnapshot: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGate(t, bytesBundle(zstdArchive(t, sample)))
			rec := &recorder{}
			require.False(t, g.Prepare(context.Background(), *config.DefaultDevnet(), tt.opts, rec))
			require.Empty(t, rec.events)
			require.False(t, g.Ready())
		})
	}
}

func TestPrepare_ExtractsWhenCompatible(t *testing.T) {
	g := newGate(t, bytesBundle(zstdArchive(t, sample)))
	rec := &recorder{}
	require.True(t, g.Prepare(context.Background(), *config.DefaultDevnet(), Options{StartLocal: true}, rec))
	require.Len(t, rec.logs(t), 2)
}
