package protocol

import (
	"fmt"
	"strings"
)

const maxParseErrorPreview = 80

// Console chatter the hub's MicroPython REPL emits on the same serial line.
var chatterMarkers = []string{
	"Traceback",
	">>> ",
	"MicroPython",
	"Type \"help()\"",
	"raw REPL",
	"File \"",
}

// ParseError reports a frame text that is not a protocol message.
type ParseError struct {
	Text string
	Err  error
	// Benign is set when the text looks like program console output rather
	// than a corrupted frame.
	Benign bool
}

func newParseError(text string, err error) *ParseError {
	return &ParseError{Text: text, Err: err, Benign: IsProgramChatter(text)}
}

func (e *ParseError) Error() string {
	preview := e.Text
	if len(preview) > maxParseErrorPreview {
		preview = preview[:maxParseErrorPreview] + "..."
	}

	return fmt.Sprintf("parse frame %q: %v", preview, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsProgramChatter reports whether text carries traceback or prompt markers.
func IsProgramChatter(text string) bool {
	for _, marker := range chatterMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}

	return false
}
