package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skobkin/spikehub/internal/protocol"
)

func TestUploadSendsChunksOneAtATime(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	source := bytes.Repeat([]byte("x"), 250)
	u, err := f.s.UploadProgram(ctx, Program{Name: "demo", Slot: 3, Source: source})
	require.NoError(t, err)

	start := f.nextCommand(t)
	require.Equal(t, string(protocol.MethodStartWriteProgram), start.Method)
	var params protocol.StartWriteProgramParams
	require.NoError(t, json.Unmarshal(start.Params, &params))
	require.Equal(t, 3, params.SlotID)
	require.Equal(t, 250, params.Size)
	require.Equal(t, programFilename, params.Filename)
	require.Equal(t, b64("demo"), params.Meta.Name)
	require.Equal(t, protocol.ProjectTypePython, params.Meta.Type)
	require.Len(t, params.Meta.ProjectID, projectIDLength)
	require.NotZero(t, params.Meta.Created)
	require.Equal(t, UploadAwaitingHandshake, u.State())

	f.respond(start.ID, `{"blocksize":100,"transferid":"T1"}`)

	var (
		sizes    []int
		received []byte
	)
	for i := 0; i < 3; i++ {
		cmd := f.nextCommand(t)
		require.Equal(t, string(protocol.MethodWritePackage), cmd.Method)
		var chunk protocol.WritePackageParams
		require.NoError(t, json.Unmarshal(cmd.Params, &chunk))
		require.Equal(t, "T1", chunk.TransferID)
		data, err := base64.StdEncoding.DecodeString(chunk.Data)
		require.NoError(t, err)
		sizes = append(sizes, len(data))
		received = append(received, data...)

		f.expectNoCommand(t, 30*time.Millisecond)
		require.Equal(t, UploadSending, u.State())
		select {
		case <-f.uploads:
			t.Fatalf("upload completed before chunk %d was acknowledged", i+1)
		default:
		}

		f.respond(cmd.ID, "0")
	}

	require.Equal(t, []int{100, 100, 50}, sizes)
	require.Equal(t, source, received)
	require.NoError(t, u.Wait(ctx))
	require.Equal(t, UploadComplete, u.State())

	result := receive[UploadResult](t, f.uploads, "upload completion")
	require.Equal(t, 3, result.Chunks)
	require.Equal(t, 250, result.Size)
	require.Equal(t, 3, result.Slot)

	f.sync(t)
	select {
	case <-f.uploads:
		t.Fatalf("completion fired twice")
	default:
	}
	f.expectNoError(t)
}

func TestUploadEvenlyDivisiblePayload(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	u, err := f.s.UploadProgram(ctx, Program{Name: "even", Slot: 0, Source: bytes.Repeat([]byte("y"), 64)})
	require.NoError(t, err)
	start := f.nextCommand(t)
	f.respond(start.ID, `{"blocksize":32,"transferid":"T2"}`)

	for i := 0; i < 2; i++ {
		cmd := f.nextCommand(t)
		var chunk protocol.WritePackageParams
		require.NoError(t, json.Unmarshal(cmd.Params, &chunk))
		data, err := base64.StdEncoding.DecodeString(chunk.Data)
		require.NoError(t, err)
		require.Len(t, data, 32)
		f.respond(cmd.ID, "0")
	}
	require.NoError(t, u.Wait(ctx))
	f.expectNoCommand(t, 30*time.Millisecond)
}

func TestUploadPrependsPreamble(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	u, err := f.s.UploadProgram(ctx, Program{Name: "p", Slot: 1, Source: []byte("run()\n"), Preamble: "import hub"})
	require.NoError(t, err)
	start := f.nextCommand(t)
	f.respond(start.ID, `{"blocksize":512,"transferid":"T3"}`)

	cmd := f.nextCommand(t)
	var chunk protocol.WritePackageParams
	require.NoError(t, json.Unmarshal(cmd.Params, &chunk))
	data, err := base64.StdEncoding.DecodeString(chunk.Data)
	require.NoError(t, err)
	require.Equal(t, "import hub\nrun()\n", string(data))
	f.respond(cmd.ID, "0")
	require.NoError(t, u.Wait(ctx))
}

func TestUploadHandshakeTimeoutKeepsSessionUsable(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.HandshakeTimeout = 50 * time.Millisecond
	})
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	u, err := f.s.UploadProgram(ctx, Program{Name: "late", Slot: 2, Source: []byte("pass\n")})
	require.NoError(t, err)
	start := f.nextCommand(t)

	err = receive[error](t, f.errs, "upload timeout")
	var terr *UploadTimeoutError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, 2, terr.Slot)

	require.ErrorAs(t, u.Wait(ctx), &terr)
	require.Equal(t, UploadFailed, u.State())
	require.Equal(t, 0, f.s.PendingRequests())

	// A handshake that shows up after the deadline is ignored.
	f.respond(start.ID, `{"blocksize":10,"transferid":"T4"}`)
	f.sync(t)
	f.expectNoCommand(t, 30*time.Millisecond)
	f.expectNoError(t)

	_, err = f.s.UploadProgram(ctx, Program{Name: "retry", Slot: 2, Source: []byte("pass\n")})
	require.NoError(t, err)
}

func TestUploadRejectsSecondActiveUpload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.s.UploadProgram(ctx, Program{Name: "a", Slot: 0, Source: []byte("a")})
	require.NoError(t, err)
	_, err = f.s.UploadProgram(ctx, Program{Name: "b", Slot: 1, Source: []byte("b")})
	require.ErrorIs(t, err, ErrUploadInProgress)
}

func TestUploadValidatesProgram(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.s.UploadProgram(ctx, Program{Name: "a", Slot: 10})
	require.ErrorIs(t, err, ErrInvalidSlot)
	_, err = f.s.UploadProgram(ctx, Program{Name: "a", Slot: -1})
	require.ErrorIs(t, err, ErrInvalidSlot)
	_, err = f.s.UploadProgram(ctx, Program{Name: " ", Slot: 0})
	require.Error(t, err)
}

func TestUploadCancelledByContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	u, err := f.s.UploadProgram(ctx, Program{Name: "c", Slot: 5, Source: bytes.Repeat([]byte("z"), 20)})
	require.NoError(t, err)
	start := f.nextCommand(t)

	cancel()
	receive[struct{}](t, u.Done(), "upload abort")
	require.Equal(t, UploadFailed, u.State())
	require.True(t, errors.Is(u.Err(), context.Canceled))

	// The stale handshake must not start a transfer.
	f.respond(start.ID, `{"blocksize":10,"transferid":"T5"}`)
	f.sync(t)
	f.expectNoCommand(t, 30*time.Millisecond)
}

func TestUploadRejectsBadHandshake(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	u, err := f.s.UploadProgram(ctx, Program{Name: "bad", Slot: 4, Source: []byte("x")})
	require.NoError(t, err)
	start := f.nextCommand(t)
	f.respond(start.ID, `{"blocksize":0,"transferid":""}`)

	require.Error(t, u.Wait(ctx))
	require.Equal(t, UploadFailed, u.State())
	receive[error](t, f.errs, "handshake error")
}
