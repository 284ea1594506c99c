package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseClaimIDs(t *testing.T) {
	ids, err := parseClaimIDs([]string{"3", "10"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 10 {
		t.Fatalf("unexpected ids: %v", ids)
	}
	for _, bad := range []string{"0", "-1", "abc"} {
		if _, err := parseClaimIDs([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settled.log")
	logger, err := newLogger("info", path)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log output in file")
	}
}

func TestNewLoggerRejectsLevel(t *testing.T) {
	if _, err := newLogger("loud", ""); err == nil {
		t.Fatalf("expected error for bad level")
	}
}
