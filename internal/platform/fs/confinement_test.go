// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfineRelPath(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.Mkdir(filepath.Join(tmpDir, "chainstate"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "epoch_3_ready"), []byte("ok"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Points at the parent of the root.
	if err := os.Symlink("..", filepath.Join(tmpDir, "link_outside")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		target     string
		wantErr    bool
		wantSuffix string
	}{
		{name: "existing file", target: "epoch_3_ready", wantSuffix: "epoch_3_ready"},
		{name: "new file in existing dir", target: "chainstate/blocks.sqlite", wantSuffix: filepath.Join("chainstate", "blocks.sqlite")},
		{name: "new nested dirs", target: "a/b/c.dat", wantSuffix: filepath.Join("a", "b", "c.dat")},
		{name: "dotdot in name is fine", target: "a..b", wantSuffix: "a..b"},
		{name: "parent traversal", target: "../escape", wantErr: true},
		{name: "hidden traversal", target: "chainstate/../../escape", wantErr: true},
		{name: "absolute", target: "/etc/passwd", wantErr: true},
		{name: "backslash", target: "chainstate\\x", wantErr: true},
		{name: "symlink escape", target: "link_outside/escape", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConfineRelPath(tmpDir, tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ConfineRelPath(%q) error = %v, wantErr %v", tt.target, err, tt.wantErr)
			}
			if err == nil && !strings.HasSuffix(got, tt.wantSuffix) {
				t.Errorf("ConfineRelPath(%q) = %q, want suffix %q", tt.target, got, tt.wantSuffix)
			}
		})
	}
}
