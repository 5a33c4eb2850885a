package protocol

import (
	"bytes"
	"strings"
)

// Delimiter terminates every frame on the wire.
const Delimiter = "\r"

// DefaultMaxBuffered bounds how much undelimited data is kept while waiting
// for the rest of a frame.
const DefaultMaxBuffered = 1 << 20

// Assembler accumulates transport chunks and splits them into frame texts.
// It is not safe for concurrent use; one read loop owns it.
type Assembler struct {
	buf         []byte
	maxBuffered int
	discarded   int
}

func NewAssembler(maxBuffered int) *Assembler {
	if maxBuffered <= 0 {
		maxBuffered = DefaultMaxBuffered
	}

	return &Assembler{maxBuffered: maxBuffered}
}

// Feed appends chunk to the buffer and returns every complete frame text in
// arrival order. Incomplete trailing data stays buffered for the next call.
func (a *Assembler) Feed(chunk []byte) []string {
	a.buf = append(a.buf, chunk...)

	var frames []string
	for {
		idx := bytes.IndexByte(a.buf, Delimiter[0])
		if idx < 0 {
			break
		}
		text := strings.TrimSpace(string(a.buf[:idx]))
		a.buf = a.buf[idx+1:]
		if text == "" {
			continue
		}
		frames = append(frames, text)
	}

	if len(a.buf) > a.maxBuffered {
		// Nothing delimited for too long: line noise or a wrong baud rate.
		a.discarded += len(a.buf)
		a.buf = nil
	}
	if len(a.buf) == 0 {
		a.buf = nil
	}

	return frames
}

// Pending reports how many bytes are waiting for a delimiter.
func (a *Assembler) Pending() int {
	return len(a.buf)
}

// Discarded reports how many bytes were dropped by the overflow guard.
func (a *Assembler) Discarded() int {
	return a.discarded
}

func (a *Assembler) Reset() {
	a.buf = nil
}
