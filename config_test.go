// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chaincall_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creachadair/chaincall"
)

func TestParseConfig(t *testing.T) {
	c, err := chaincall.ParseConfig([]byte(`
id: alpha
store_path: /var/lib/chaincall
max_depth: 20
max_args: 8
default_timeout: 1m30s
queue_size: 128
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if c.ID != "alpha" || c.StorePath != "/var/lib/chaincall" {
		t.Errorf("Got id=%q path=%q", c.ID, c.StorePath)
	}
	if got := c.DefaultTimeout.Duration(); got != 90*time.Second {
		t.Errorf("DefaultTimeout: got %v, want 1m30s", got)
	}
	lim := c.Limits()
	if lim.MaxDepth != 20 || lim.MaxArgs != 8 {
		t.Errorf("Limits: got %+v", lim)
	}
	if c.QueueSize != 128 {
		t.Errorf("QueueSize: got %d, want 128", c.QueueSize)
	}
}

func TestParseConfigErrors(t *testing.T) {
	if _, err := chaincall.ParseConfig([]byte(`store_path: /tmp`)); err == nil {
		t.Error("ParseConfig without id: unexpectedly succeeded")
	}
	if _, err := chaincall.ParseConfig([]byte(`id: [x`)); err == nil {
		t.Error("ParseConfig with bad YAML: unexpectedly succeeded")
	}
	if _, err := chaincall.ParseConfig([]byte("id: a\ndefault_timeout: banana\n")); err == nil {
		t.Error("ParseConfig with bad duration: unexpectedly succeeded")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yml")
	if err := os.WriteFile(path, []byte("id: beta\ndefault_timeout: 250ms\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c, err := chaincall.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.ID != "beta" || c.DefaultTimeout.Duration() != 250*time.Millisecond {
		t.Errorf("Got %+v", c)
	}
	if _, err := chaincall.LoadConfig(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("LoadConfig of missing file: unexpectedly succeeded")
	}
}
