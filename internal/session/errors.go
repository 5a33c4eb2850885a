package session

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSessionClosed    = errors.New("session is closed")
	ErrUploadInProgress = errors.New("program upload already in progress")
	ErrInvalidSlot      = errors.New("invalid program slot")
	ErrInvalidPort      = errors.New("invalid port")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrFirmwareTooOld   = errors.New("hub firmware is too old")
)

// TransportError is a failed open, read or write. It ends the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UploadTimeoutError is reported when the hub does not answer the upload
// handshake in time. Only the upload is aborted.
type UploadTimeoutError struct {
	Slot    int
	Timeout time.Duration
}

func (e *UploadTimeoutError) Error() string {
	return fmt.Sprintf("upload to slot %d: handshake not acknowledged within %s", e.Slot, e.Timeout)
}

// RuntimeError is an exception raised by a program running on the hub.
type RuntimeError struct {
	Traceback string
	// LastLine is the last non-empty traceback line, normally "Kind: message".
	LastLine string
	IsSyntax bool
	// Line is the source line of a syntax error, shifted by the upload
	// preamble. Zero when unknown.
	Line int
}

func (e *RuntimeError) Error() string {
	if e.IsSyntax && e.Line > 0 {
		return fmt.Sprintf("hub program error at line %d: %s", e.Line, e.LastLine)
	}

	return "hub program error: " + e.LastLine
}

var tracebackLinePattern = regexp.MustCompile(`line (\d+)`)

func newRuntimeError(traceback string, preambleLines int) *RuntimeError {
	rerr := &RuntimeError{Traceback: traceback}
	lines := strings.Split(strings.ReplaceAll(traceback, "\r", ""), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			rerr.LastLine = line
			break
		}
	}
	rerr.IsSyntax = strings.HasPrefix(rerr.LastLine, "SyntaxError") ||
		strings.HasPrefix(rerr.LastLine, "IndentationError")
	if !rerr.IsSyntax {
		return rerr
	}

	matches := tracebackLinePattern.FindAllStringSubmatch(traceback, -1)
	if len(matches) == 0 {
		return rerr
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return rerr
	}
	if n -= preambleLines; n > 0 {
		rerr.Line = n
	}

	return rerr
}
