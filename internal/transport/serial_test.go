package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

type shortWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		p = p[:w.limit]
	}

	return w.buf.Write(p)
}

func TestWriteFullHandlesShortWrites(t *testing.T) {
	w := &shortWriter{limit: 3}
	payload := []byte(`{"i":"ab12","m":"scratch.sound_off","p":{}}` + "\r")

	if err := writeFull(context.Background(), w, payload); err != nil {
		t.Fatalf("write full: %v", err)
	}
	if !bytes.Equal(w.buf.Bytes(), payload) {
		t.Fatalf("payload mismatch: got %q want %q", w.buf.String(), payload)
	}
}

func TestWriteFullStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := writeFull(ctx, &shortWriter{limit: 1}, []byte("abc"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestSerialTransportConnectValidatesConfig(t *testing.T) {
	if err := NewSerialTransport("", 115200).Connect(context.Background()); err == nil {
		t.Fatalf("expected error for empty port name")
	}
	if err := NewSerialTransport("/dev/ttyACM0", 0).Connect(context.Background()); err == nil {
		t.Fatalf("expected error for invalid baud rate")
	}
}

func TestSerialTransportNotConnected(t *testing.T) {
	tr := NewSerialTransport("/dev/ttyACM0", 115200)
	if tr.Connected() {
		t.Fatalf("expected transport to start disconnected")
	}
	if tr.StatusTarget() != "/dev/ttyACM0" {
		t.Fatalf("unexpected status target %q", tr.StatusTarget())
	}
	if _, err := tr.ReadChunk(context.Background()); err == nil {
		t.Fatalf("expected read error when not connected")
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close of idle transport must be a no-op, got %v", err)
	}
}
