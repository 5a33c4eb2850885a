package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewRuntimeError(t *testing.T) {
	tests := []struct {
		name      string
		traceback string
		preamble  int
		wantLast  string
		wantSyn   bool
		wantLine  int
	}{
		{
			name:      "syntax error shifted by preamble",
			traceback: "Traceback (most recent call last):\n  File \"__init__.py\", line 12\nSyntaxError: invalid syntax\n",
			preamble:  4,
			wantLast:  "SyntaxError: invalid syntax",
			wantSyn:   true,
			wantLine:  8,
		},
		{
			name:      "runtime exception keeps no line",
			traceback: "Traceback (most recent call last):\n  File \"__init__.py\", line 3, in <module>\nNameError: name 'x' isn't defined\n\n",
			wantLast:  "NameError: name 'x' isn't defined",
		},
		{
			name:      "line inside preamble is unknown",
			traceback: "  File \"__init__.py\", line 2\r\nSyntaxError: invalid syntax",
			preamble:  3,
			wantLast:  "SyntaxError: invalid syntax",
			wantSyn:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := newRuntimeError(tc.traceback, tc.preamble)
			if got.LastLine != tc.wantLast {
				t.Fatalf("last line: got %q, want %q", got.LastLine, tc.wantLast)
			}
			if got.IsSyntax != tc.wantSyn {
				t.Fatalf("is syntax: got %v, want %v", got.IsSyntax, tc.wantSyn)
			}
			if got.Line != tc.wantLine {
				t.Fatalf("line: got %d, want %d", got.Line, tc.wantLine)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	terr := &TransportError{Op: "write", Err: errors.New("broken pipe")}
	if !strings.Contains(terr.Error(), "broken pipe") || errors.Unwrap(terr) == nil {
		t.Fatalf("unexpected transport error %q", terr.Error())
	}

	uerr := &UploadTimeoutError{Slot: 1, Timeout: 5 * time.Second}
	if got := uerr.Error(); !strings.Contains(got, "slot 1") || !strings.Contains(got, "5s") {
		t.Fatalf("unexpected upload timeout message %q", got)
	}

	rerr := &RuntimeError{LastLine: "SyntaxError: invalid syntax", IsSyntax: true, Line: 7}
	if got := rerr.Error(); !strings.Contains(got, "line 7") {
		t.Fatalf("unexpected runtime error message %q", got)
	}
}
