package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWritersCreateFilesUnderDir(t *testing.T) {
	dir := t.TempDir()
	cfg := FileConfig{Dir: dir}
	out, errW, err := cfg.Writers("svc-1")
	if err != nil {
		t.Fatalf("Writers: %v", err)
	}
	if out == nil || errW == nil {
		t.Fatal("expected writers when Dir is set")
	}
	if _, err := out.Write([]byte("hello stdout\n")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	if _, err := errW.Write([]byte("hello stderr\n")); err != nil {
		t.Fatalf("write stderr: %v", err)
	}
	_ = out.Close()
	_ = errW.Close()
	if _, err := os.Stat(filepath.Join(dir, "svc-1.stdout.log")); err != nil {
		t.Fatalf("stdout log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "svc-1.stderr.log")); err != nil {
		t.Fatalf("stderr log missing: %v", err)
	}
}

func TestWritersNoDir(t *testing.T) {
	out, errW, err := FileConfig{}.Writers("svc")
	if err != nil {
		t.Fatalf("Writers: %v", err)
	}
	if out != nil || errW != nil {
		t.Fatal("expected nil writers without Dir")
	}
}

func TestColorHandlerTagsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := slog.New(h)

	l.Warn("disk low")
	out := buf.String()
	if !strings.Contains(out, "\033[33mWARN\033[0m") {
		t.Fatalf("warn tag not colored: %q", out)
	}
	if !strings.Contains(out, "disk low") {
		t.Fatalf("message lost: %q", out)
	}

	// Unknown levels fall back to the reset sequence.
	buf.Reset()
	rec := slog.NewRecord(time.Now(), slog.Level(12), "odd", 0)
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(buf.String(), "\033[0m") {
		t.Fatalf("fallback missing: %q", buf.String())
	}
}

func TestSetupLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "bogus"} {
		if l := Setup(lvl, false); l == nil {
			t.Fatalf("Setup(%q) returned nil", lvl)
		}
	}
	if l := Setup("info", true); l == nil {
		t.Fatal("Setup with color returned nil")
	}
}
