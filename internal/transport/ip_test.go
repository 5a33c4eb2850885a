package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

func TestIPTransportReadChunkAndWrite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	host, portRaw, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portRaw)
	tr := NewIPTransport(host, port)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	var peer net.Conn
	select {
	case peer = <-accepted:
	case <-ctx.Done():
		t.Fatalf("peer was not accepted")
	}
	defer func() { _ = peer.Close() }()

	if _, err := peer.Write([]byte("{\"m\":2}\r")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	chunk, err := tr.ReadChunk(ctx)
	if err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	if !bytes.Equal(chunk, []byte("{\"m\":2}\r")) {
		t.Fatalf("unexpected chunk: %q", chunk)
	}

	if err := tr.Write(ctx, []byte("hello\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, len("hello\r"))
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := peer.Read(got); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(got) != "hello\r" {
		t.Fatalf("unexpected peer read: %q", got)
	}
}

func TestIPTransportReadChunkStopsOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			t.Cleanup(func() { _ = conn.Close() })
		}
	}()

	host, portRaw, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portRaw)
	tr := NewIPTransport(host, port)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = tr.ReadChunk(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestIPTransportNotConnected(t *testing.T) {
	tr := NewIPTransport("127.0.0.1", 0)
	if tr.StatusTarget() != "127.0.0.1:2323" {
		t.Fatalf("unexpected status target %q", tr.StatusTarget())
	}
	if _, err := tr.ReadChunk(context.Background()); err == nil {
		t.Fatalf("expected read error when not connected")
	}
	if err := tr.Write(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected write error when not connected")
	}
}

func TestIPTransportConnectRequiresHost(t *testing.T) {
	tr := NewIPTransport("", 0)
	if err := tr.Connect(context.Background()); err == nil {
		t.Fatalf("expected error for empty host")
	}
}
