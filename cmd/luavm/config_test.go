// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultGlobalConfig(t *testing.T) {
	got := defaultGlobalConfig()
	if got.GCPause <= 0 {
		t.Errorf("defaultGlobalConfig().GCPause = %d; want > 0", got.GCPause)
	}
	if got.GCStepMul <= 0 {
		t.Errorf("defaultGlobalConfig().GCStepMul = %d; want > 0", got.GCStepMul)
	}
}

func TestGlobalConfigMergeFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    globalConfig
	}{
		{
			name: "Scalars",
			content: `{
				// enable debug logging
				"debug": true,
				"gcPause": 150,
			}` + "\n",
			want: globalConfig{
				Debug:     true,
				GCPause:   150,
				GCStepMul: 100,
				GCFinNum:  1,
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.jsonc")
			if err := os.WriteFile(path, []byte(test.content), 0o666); err != nil {
				t.Fatal(err)
			}

			got := defaultGlobalConfig()
			if err := got.mergeFile(path); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(&test.want, got); diff != "" {
				t.Errorf("mergeFile(%q) (-want +got):\n%s", path, diff)
			}
		})
	}
}

func TestGlobalConfigMergeFileMissingIsNotError(t *testing.T) {
	got := defaultGlobalConfig()
	want := *got
	if err := got.mergeFile(filepath.Join(t.TempDir(), "does-not-exist.jsonc")); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Errorf("mergeFile on a missing path changed the config (-want +got):\n%s", diff)
	}
}

func TestGlobalConfigMergeFileEmptyPathIsNotError(t *testing.T) {
	got := defaultGlobalConfig()
	want := *got
	if err := got.mergeFile(""); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Errorf("mergeFile(\"\") changed the config (-want +got):\n%s", diff)
	}
}
