// Package tunnel exposes the local server on a public trycloudflare.com
// address by running cloudflared as a child process.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"time"
)

// DefaultBinary is looked up on PATH when no binary is configured.
const DefaultBinary = "cloudflared"

// ErrNoURL means the process never announced a public URL.
var ErrNoURL = errors.New("tunnel: no public url announced")

var publicURL = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

// Tunnel is a running cloudflared quick tunnel.
type Tunnel struct {
	URL string

	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs `<binary> tunnel --url localURL` and waits up to wait for it
// to print its public address. The process lives until ctx is cancelled
// or Close is called.
func Start(ctx context.Context, binary, localURL string, wait time.Duration, logf func(string, ...any)) (*Tunnel, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if binary == "" {
		binary = DefaultBinary
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("tunnel: locate %s: %w", binary, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, path, "tunnel", "--url", localURL)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("tunnel: start %s: %w", path, err)
	}

	t := &Tunnel{cancel: cancel, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		pw.CloseWithError(io.EOF)
		if err != nil && ctx.Err() == nil {
			logf("[tunnel] %s exited: %v", binary, err)
		}
		close(t.done)
	}()

	found := make(chan string, 1)
	go scan(pr, found, logf)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case u, ok := <-found:
		if ok {
			t.URL = u
			return t, nil
		}
	case <-timer.C:
	case <-ctx.Done():
	}
	t.Close()
	return nil, ErrNoURL
}

// scan reports the first public URL on found and keeps draining r so the
// child never blocks on a full pipe. found is closed if r ends first.
func scan(r io.Reader, found chan<- string, logf func(string, ...any)) {
	sent := false
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		logf("[tunnel] %s", line)
		if sent {
			continue
		}
		if u := publicURL.FindString(line); u != "" {
			found <- u
			sent = true
		}
	}
	if !sent {
		close(found)
	}
}

// Close stops the process and waits for it to exit.
func (t *Tunnel) Close() {
	t.cancel()
	<-t.done
}
