package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/spikehub/internal/connectors"
	"github.com/skobkin/spikehub/internal/protocol"
)

const (
	// MaxProgramSlot is the highest slot programs can be uploaded to.
	MaxProgramSlot  = 9
	programFilename = "__init__.py"
	projectIDLength = 12
)

type UploadState int

const (
	UploadIdle UploadState = iota
	UploadAwaitingHandshake
	UploadSending
	UploadComplete
	UploadFailed
)

func (s UploadState) String() string {
	switch s {
	case UploadIdle:
		return "idle"
	case UploadAwaitingHandshake:
		return "awaiting_handshake"
	case UploadSending:
		return "sending"
	case UploadComplete:
		return "complete"
	case UploadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s UploadState) active() bool {
	return s == UploadAwaitingHandshake || s == UploadSending
}

// Program is a source file to store in a hub slot.
type Program struct {
	Name   string
	Slot   int
	Source []byte
	// Preamble is prepended to Source on the wire. Line numbers of syntax
	// errors are shifted back by its line count.
	Preamble string
	Type     protocol.ProjectType
}

type UploadResult struct {
	Slot     int
	Name     string
	Size     int
	Chunks   int
	Duration time.Duration
}

// Upload tracks one program transfer. Chunks are sent one at a time: the
// next chunk goes out only after the previous one was acknowledged.
type Upload struct {
	session *Session
	program Program
	payload []byte

	mu         sync.Mutex
	state      UploadState
	transferID string
	blockSize  int
	offset     int
	chunks     int
	err        error
	startedAt  time.Time
	stopWatch  func() bool

	done chan struct{}
}

// UploadProgram starts storing p on the hub. Cancelling ctx aborts the
// transfer. Only one upload may be active per session.
func (s *Session) UploadProgram(ctx context.Context, p Program) (*Upload, error) {
	if p.Slot < 0 || p.Slot > MaxProgramSlot {
		return nil, fmt.Errorf("upload to slot %d: %w", p.Slot, ErrInvalidSlot)
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, errors.New("program name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	preamble := p.Preamble
	if preamble != "" && !strings.HasSuffix(preamble, "\n") {
		preamble += "\n"
	}
	payload := make([]byte, 0, len(preamble)+len(p.Source))
	payload = append(payload, preamble...)
	payload = append(payload, p.Source...)

	u := &Upload{
		session:   s,
		program:   p,
		payload:   payload,
		state:     UploadAwaitingHandshake,
		startedAt: s.now(),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.upload != nil && s.upload.State().active() {
		s.mu.Unlock()
		return nil, ErrUploadInProgress
	}
	s.upload = u
	s.preambleLines = strings.Count(preamble, "\n")
	s.mu.Unlock()

	nowMs := u.startedAt.UnixMilli()
	params := protocol.StartWriteProgramParams{
		SlotID:   p.Slot,
		Size:     len(payload),
		Filename: programFilename,
		Meta: protocol.ProjectMeta{
			Created:   nowMs,
			Modified:  nowMs,
			Name:      base64.StdEncoding.EncodeToString([]byte(p.Name)),
			Type:      p.Type,
			ProjectID: newProjectID(),
		},
	}

	onTimeout := func() {
		u.fail(&UploadTimeoutError{Slot: p.Slot, Timeout: s.handshakeTimeout})
	}
	if _, err := s.request(protocol.MethodStartWriteProgram, params, s.handshakeTimeout, onTimeout, u.onHandshake); err != nil {
		u.mu.Lock()
		u.state = UploadFailed
		u.err = err
		close(u.done)
		u.mu.Unlock()

		return nil, err
	}

	u.mu.Lock()
	if u.state.active() {
		u.stopWatch = context.AfterFunc(ctx, func() {
			u.fail(fmt.Errorf("upload to slot %d: %w", p.Slot, context.Cause(ctx)))
		})
	}
	u.mu.Unlock()

	s.logger.Info("program upload started", "slot", p.Slot, "name", p.Name, "size", len(payload))
	u.publishProgress()

	return u, nil
}

func newProjectID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:projectIDLength]
}

func (u *Upload) onHandshake(frame protocol.Frame) {
	var res protocol.StartWriteResult
	if err := json.Unmarshal(frame.Result, &res); err != nil {
		u.fail(fmt.Errorf("decode upload handshake: %w", err))
		return
	}
	if res.BlockSize <= 0 || res.TransferID == "" {
		u.fail(fmt.Errorf("invalid upload handshake: blocksize %d, transfer id %q", res.BlockSize, res.TransferID))
		return
	}

	u.mu.Lock()
	if u.state != UploadAwaitingHandshake {
		u.mu.Unlock()
		return
	}
	u.state = UploadSending
	u.blockSize = res.BlockSize
	u.transferID = res.TransferID
	u.mu.Unlock()

	u.session.logger.Debug("upload handshake acknowledged", "blocksize", res.BlockSize, "transfer_id", res.TransferID)
	u.sendNextChunk()
}

// sendNextChunk sends the next block, or completes the upload once the
// whole payload has been acknowledged.
func (u *Upload) sendNextChunk() {
	u.mu.Lock()
	if u.state != UploadSending {
		u.mu.Unlock()
		return
	}
	if u.offset >= len(u.payload) {
		u.mu.Unlock()
		u.complete()
		return
	}
	end := min(u.offset+u.blockSize, len(u.payload))
	chunk := u.payload[u.offset:end]
	u.offset = end
	u.chunks++
	transferID := u.transferID
	u.mu.Unlock()

	params := protocol.WritePackageParams{
		Data:       base64.StdEncoding.EncodeToString(chunk),
		TransferID: transferID,
	}
	if _, err := u.session.request(protocol.MethodWritePackage, params, 0, nil, func(protocol.Frame) {
		u.sendNextChunk()
	}); err != nil {
		u.fail(fmt.Errorf("send upload chunk: %w", err))
		return
	}
	if m := u.session.metrics; m != nil {
		m.UploadChunks.Inc()
		m.UploadBytes.Add(float64(len(chunk)))
	}
	u.publishProgress()
}

func (u *Upload) complete() {
	u.mu.Lock()
	if u.state != UploadSending {
		u.mu.Unlock()
		return
	}
	u.state = UploadComplete
	stop := u.stopWatch
	result := UploadResult{
		Slot:     u.program.Slot,
		Name:     u.program.Name,
		Size:     len(u.payload),
		Chunks:   u.chunks,
		Duration: u.session.now().Sub(u.startedAt),
	}
	close(u.done)
	u.mu.Unlock()

	if stop != nil {
		stop()
	}
	s := u.session
	if s.metrics != nil {
		s.metrics.UploadDuration.WithLabelValues("complete").Observe(result.Duration.Seconds())
	}
	s.logger.Info("program upload complete", "slot", result.Slot, "chunks", result.Chunks, "duration", result.Duration)
	u.publishProgress()
	if s.callbacks.OnUploadComplete != nil {
		s.dispatch(func() { s.callbacks.OnUploadComplete(result) })
	}
}

func (u *Upload) fail(err error) {
	u.mu.Lock()
	if !u.state.active() {
		u.mu.Unlock()
		return
	}
	u.state = UploadFailed
	u.err = err
	stop := u.stopWatch
	elapsed := u.session.now().Sub(u.startedAt)
	close(u.done)
	u.mu.Unlock()

	if stop != nil {
		stop()
	}
	s := u.session
	if s.metrics != nil {
		outcome := "failed"
		var terr *UploadTimeoutError
		if errors.As(err, &terr) {
			outcome = "timeout"
		}
		s.metrics.UploadDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}
	u.publishProgress()
	s.reportError(err)
}

func (u *Upload) publishProgress() {
	u.mu.Lock()
	progress := connectors.UploadProgress{
		Slot:       u.program.Slot,
		Name:       u.program.Name,
		State:      u.state.String(),
		SentBytes:  u.offset,
		TotalBytes: len(u.payload),
		Chunks:     u.chunks,
	}
	if u.err != nil {
		progress.Err = u.err.Error()
	}
	u.mu.Unlock()
	u.session.publish(connectors.TopicUploadProgress, progress)
}

func (u *Upload) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.state
}

// Err returns the failure reason of a failed upload.
func (u *Upload) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.err
}

// Done is closed when the upload completes or fails.
func (u *Upload) Done() <-chan struct{} {
	return u.done
}

// Wait blocks until the upload ends, ctx is done or the session closes.
func (u *Upload) Wait(ctx context.Context) error {
	select {
	case <-u.done:
		return u.Err()
	default:
	}

	select {
	case <-u.done:
		return u.Err()
	case <-ctx.Done():
		return ctx.Err()
	case <-u.session.closed:
		return ErrSessionClosed
	}
}
