package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

// chunkReader hands out one chunk per Read call.
type chunkReader struct {
	chunks []string
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if c.chunks[0] == "" {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func collect(t *testing.T, r io.Reader) ([]string, error) {
	t.Helper()
	var out []string
	for frame, err := range Frames(r) {
		if err != nil {
			return out, err
		}
		out = append(out, frame)
	}
	return out, nil
}

func TestFramesReassemblesSplitLine(t *testing.T) {
	got, err := collect(t, &chunkReader{chunks: []string{"da", "ta: {}\n"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "{}" {
		t.Fatalf("expected [{}], got %q", got)
	}
}

func TestFramesAcrossManyChunks(t *testing.T) {
	stream := "data: {\"a\":1}\n\ndata: {\"b\":2}\r\n\nevent: ping\ndata: last\n"
	got, err := collect(t, iotest.OneByteReader(strings.NewReader(stream)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{`{"a":1}`, `{"b":2}`, "last"}
	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %q", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d: expected %q, got %q", i, want[i], got[i])
		}
		if strings.ContainsAny(got[i], "\r\n") {
			t.Fatalf("frame %d carries a line terminator: %q", i, got[i])
		}
	}
}

func TestFramesStopsAtDone(t *testing.T) {
	stream := "data: one\ndata: [DONE]\ndata: after\n"
	got, err := collect(t, strings.NewReader(stream))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("expected only the frame before the sentinel, got %q", got)
	}
}

func TestFramesDropsUnterminatedTail(t *testing.T) {
	got, err := collect(t, &chunkReader{chunks: []string{"data: whole\n", "data: partial"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "whole" {
		t.Fatalf("expected partial line to be dropped, got %q", got)
	}
}

func TestFramesSurfacesReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: ok\n"), iotest.ErrReader(boom))
	got, err := collect(t, r)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped read error, got %v", err)
	}
	if len(got) != 1 || got[0] != "ok" {
		t.Fatalf("expected frame before the error, got %q", got)
	}
}
