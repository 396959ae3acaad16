package tunnel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts unavailable")
	}
	path := filepath.Join(t.TempDir(), "cloudflared")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestStartReturnsAnnouncedURL(t *testing.T) {
	bin := fakeBinary(t, `echo "INF Requesting new quick Tunnel" >&2
echo "INF |  https://quiet-river-1234.trycloudflare.com  |" >&2
exec sleep 30
`)
	tun, err := Start(context.Background(), bin, "http://localhost:3040", 5*time.Second, t.Logf)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tun.Close()
	if tun.URL != "https://quiet-river-1234.trycloudflare.com" {
		t.Fatalf("unexpected url %q", tun.URL)
	}
}

func TestStartWithoutURL(t *testing.T) {
	bin := fakeBinary(t, "echo 'failed to connect'\nexit 1\n")
	_, err := Start(context.Background(), bin, "http://localhost:3040", 5*time.Second, t.Logf)
	if !errors.Is(err, ErrNoURL) {
		t.Fatalf("expected ErrNoURL, got %v", err)
	}
}

func TestStartTimesOut(t *testing.T) {
	bin := fakeBinary(t, "exec sleep 30\n")
	start := time.Now()
	_, err := Start(context.Background(), bin, "http://localhost:3040", 100*time.Millisecond, t.Logf)
	if !errors.Is(err, ErrNoURL) {
		t.Fatalf("expected ErrNoURL, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("Start did not give up after the wait")
	}
}

func TestStartMissingBinary(t *testing.T) {
	_, err := Start(context.Background(), filepath.Join(t.TempDir(), "nope"), "http://localhost:3040", time.Second, nil)
	if err == nil || errors.Is(err, ErrNoURL) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestScanDrainsAfterMatch(t *testing.T) {
	found := make(chan string, 1)
	input := "noise\nhttps://a-b.trycloudflare.com\nhttps://c-d.trycloudflare.com\nmore\n"
	var lines []string
	scan(strings.NewReader(input), found, func(format string, args ...any) {
		lines = append(lines, args[0].(string))
	})
	if got := <-found; got != "https://a-b.trycloudflare.com" {
		t.Fatalf("unexpected url %q", got)
	}
	if len(lines) != 4 {
		t.Fatalf("expected every line drained, got %d", len(lines))
	}
}

func TestScanClosesWhenNothingFound(t *testing.T) {
	found := make(chan string, 1)
	scan(strings.NewReader("just logs\n"), found, func(string, ...any) {})
	if _, ok := <-found; ok {
		t.Fatalf("expected closed channel")
	}
}
