// Package sse reframes a raw server-sent event byte stream into data frames.
//
// Transport chunk boundaries are hidden from callers: bytes are buffered
// until a newline arrives, so a frame split across several reads is yielded
// once, whole. A trailing line that never receives its newline is dropped.
package sse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"iter"
	"strings"
)

const (
	dataPrefix = "data: "
	doneLine   = "data: [DONE]"

	initialBuffer = 64 * 1024
	// MaxFrameSize bounds a single line; the backend restates the whole
	// assistant message on every frame so lines grow with the answer.
	MaxFrameSize = 8 * 1024 * 1024
)

// Frames returns a lazy, single-use sequence of frames read from r. The
// sequence ends at EOF or at the "data: [DONE]" sentinel, whichever comes
// first. Lines without the data prefix are skipped. A read error is yielded
// once as the final element.
func Frames(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, initialBuffer), MaxFrameSize)
		scanner.Split(scanCompleteLines)

		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), " \t\r")
			if line == doneLine {
				return
			}
			if !strings.HasPrefix(line, dataPrefix) {
				continue
			}
			if !yield(strings.TrimPrefix(line, dataPrefix), nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("reading SSE stream: %w", err))
		}
	}
}

// scanCompleteLines is bufio.ScanLines without the final-token rule: data
// left over at EOF is not newline terminated and is discarded.
func scanCompleteLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), nil, nil
	}
	return 0, nil, nil
}
