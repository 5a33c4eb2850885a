package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/spikehub/internal/hub"
	"github.com/skobkin/spikehub/internal/metrics"
	"github.com/skobkin/spikehub/internal/protocol"
	"github.com/skobkin/spikehub/internal/transport"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSessionCloseFromDisconnectCallback(t *testing.T) {
	tr := transport.NewMemoryTransport()
	var s *Session
	disconnected := make(chan error, 1)
	s = New(tr, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Callbacks: Callbacks{
			OnDisconnect: func(err error) {
				_ = s.Close()
				disconnected <- err
			},
		},
	})
	require.NoError(t, s.Start(context.Background()))

	tr.Fail(errors.New("usb unplugged"))

	err := receive[error](t, disconnected, "disconnect callback")
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	receive[struct{}](t, s.Done(), "session teardown")
	require.NoError(t, s.Close())
}

func TestSessionCloseFromPrintCallback(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(o *Options) {
		o.Callbacks.OnPrint = func(line string) {
			offer(f.prints, line)
			_ = f.s.Close()
		}
	})

	f.inject(`{"m":"userProgram.print","p":{"value":"` + b64("bye\n") + `"}}`)

	require.Equal(t, "bye\n", receive[string](t, f.prints, "print callback"))
	receive[struct{}](t, f.s.Done(), "session teardown")
	require.NoError(t, receive[error](t, f.disconnects, "disconnect callback"))
}

func TestSessionConcurrentCommandsKeepFramesWhole(t *testing.T) {
	f := newFixture(t, nil)

	const workers, perWorker = 16, 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := f.s.DisplayText(fmt.Sprintf("worker %d line %d", w, i)); err != nil {
					t.Errorf("display text: %v", err)
				}
			}
		}(w)
	}

	texts := make(map[string]bool)
	ids := make(map[string]bool)
	for n := 0; n < workers*perWorker; n++ {
		raw := string(receive[[]byte](t, f.tr.Written(), "outbound command"))
		require.Equal(t, 1, strings.Count(raw, protocol.Delimiter), "write %q must hold exactly one frame", raw)
		require.True(t, strings.HasSuffix(raw, protocol.Delimiter))

		var cmd wireCommand
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(raw, protocol.Delimiter)), &cmd))
		require.Equal(t, string(protocol.MethodDisplayText), cmd.Method)
		var params protocol.DisplayTextParams
		require.NoError(t, json.Unmarshal(cmd.Params, &params))
		texts[params.Text] = true
		ids[cmd.ID] = true
	}
	wg.Wait()

	require.Len(t, texts, workers*perWorker)
	require.Len(t, ids, workers*perWorker)
	f.expectNoCommand(t, 30*time.Millisecond)
}

func TestSessionsKeepSeparateState(t *testing.T) {
	a := newFixture(t, nil)
	b := newFixture(t, nil)

	a.inject(`{"m":0,"p":[[49,[25,90,90,30]],[0,[]],[0,[]],[0,[]],[0,[]],[0,[]]]}`)
	b.inject(`{"m":0,"p":[[0,[]],[48,[-40,10,10,-45]],[0,[]],[0,[]],[0,[]],[0,[]]]}`)
	a.inject(`{"m":3,"p":["left",0]}`)
	a.inject(`{"m":3,"p":["left",150]}`)
	b.inject(`{"m":3,"p":["right",0]}`)
	a.sync(t)
	b.sync(t)

	motorA, ok := a.s.Store().Port(hub.PortA).Motor()
	require.True(t, ok)
	require.Equal(t, 25, motorA.Speed)
	require.Equal(t, 30, motorA.Power)
	_, ok = a.s.Store().Port(hub.PortB).Motor()
	require.False(t, ok)

	motorB, ok := b.s.Store().Port(hub.PortB).Motor()
	require.True(t, ok)
	require.Equal(t, -40, motorB.Speed)
	_, ok = b.s.Store().Port(hub.PortA).Motor()
	require.False(t, ok)

	require.False(t, b.s.Store().WasLeftButtonPressed())
	require.False(t, b.s.Store().WasRightButtonPressed(), "a press without release does not count")
	require.True(t, a.s.Store().WasLeftButtonPressed())
	require.False(t, a.s.Store().WasRightButtonPressed())
}

func TestSessionSendSkipsLiveIDs(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Encoder = protocol.NewEncoderWithSource(zeroReader{})
	})

	live, err := f.s.DisplayClear()
	require.NoError(t, err)
	require.Equal(t, "AAAA", live.ID)
	f.nextCommand(t)

	_, err = f.s.Send(protocol.MethodSoundOff, nil)
	require.Error(t, err)
	f.expectNoCommand(t, 30*time.Millisecond)

	f.respond("AAAA", "0")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err = live.Wait(ctx)
	require.NoError(t, err)

	id, err := f.s.Send(protocol.MethodSoundOff, nil)
	require.NoError(t, err)
	require.Equal(t, "AAAA", id)
	require.Equal(t, "AAAA", f.nextCommand(t).ID)
}

func TestSessionTimeoutRefreshesPendingGauge(t *testing.T) {
	m := metrics.NewSessionMetrics()
	require.NoError(t, m.Register(prometheus.NewRegistry()))

	var f *fixture
	f = newFixture(t, func(o *Options) {
		o.Metrics = m
		o.HandshakeTimeout = 50 * time.Millisecond
		o.Callbacks.OnError = func(err error) {
			offer(f.errs, err)
			_ = f.s.Close()
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	_, err := f.s.UploadProgram(ctx, Program{Name: "late", Slot: 1, Source: []byte("pass\n")})
	require.NoError(t, err)
	f.nextCommand(t)
	require.Equal(t, float64(1), testutil.ToFloat64(m.PendingRequests))

	var terr *UploadTimeoutError
	require.ErrorAs(t, receive[error](t, f.errs, "upload timeout"), &terr)
	receive[struct{}](t, f.s.Done(), "session teardown")
	require.Equal(t, float64(0), testutil.ToFloat64(m.PendingRequests))
}

func TestSessionErrorCallbacksNeverOverlap(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		overlap bool
	)
	var f *fixture
	f = newFixture(t, func(o *Options) {
		o.HandshakeTimeout = 20 * time.Millisecond
		o.Callbacks.OnError = func(err error) {
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			offer(f.errs, err)
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	_, err := f.s.UploadProgram(ctx, Program{Name: "slow", Slot: 0, Source: []byte("pass\n")})
	require.NoError(t, err)
	f.nextCommand(t)
	for i := 0; i < 5; i++ {
		f.inject(`not json`)
	}

	for i := 0; i < 6; i++ {
		receive[error](t, f.errs, "error callback")
	}
	mu.Lock()
	defer mu.Unlock()
	require.False(t, overlap, "error callbacks ran concurrently")
}

func TestSessionLogsPartialFrameOnShutdown(t *testing.T) {
	logs := &lockedBuffer{}
	f := newFixture(t, func(o *Options) {
		o.Logger = slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})

	call, err := f.s.DisplayClear()
	require.NoError(t, err)
	cmd := f.nextCommand(t)

	partial := `{"m":0,"p":[`
	f.tr.Inject([]byte(`{"i":"` + cmd.ID + `","r":0}` + protocol.Delimiter + partial))
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err = call.Wait(ctx)
	require.NoError(t, err)

	require.NoError(t, f.s.Close())
	out := logs.String()
	require.Contains(t, out, "drop partial frame on shutdown")
	require.Contains(t, out, fmt.Sprintf("bytes=%d", len(partial)))
}
