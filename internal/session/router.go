package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skobkin/spikehub/internal/connectors"
	"github.com/skobkin/spikehub/internal/hub"
	"github.com/skobkin/spikehub/internal/protocol"
)

// route handles one frame text. It is only called from the read loop.
func (s *Session) route(text string) {
	s.publish(connectors.TopicRawFrameIn, connectors.RawFrame{Text: text, Len: len(text)})

	frame, err := protocol.Decode(text)
	if err != nil {
		s.handleParseError(err)
		return
	}
	if s.metrics != nil {
		s.metrics.FramesReceived.WithLabelValues(frame.Kind.String()).Inc()
	}

	if frame.ID != "" {
		if p, ok := s.registry.take(frame.ID); ok {
			s.observePending()
			s.countResponse("matched")
			if p.resolve != nil {
				p.resolve(frame)
			}
			return
		}
		if frame.Kind == protocol.KindResponse {
			s.countResponse("unmatched")
			s.logger.Debug("ignore response without pending request", "id", frame.ID)
			return
		}
	}

	switch frame.Kind {
	case protocol.KindRuntimeError:
		s.handleRuntimeError(frame.Text)
	case protocol.KindProgramOutput:
		s.handlePrint(frame.Text)
	case protocol.KindNotification:
		s.handleNotification(frame)
	}
}

func (s *Session) handleParseError(err error) {
	var perr *protocol.ParseError
	benign := errors.As(err, &perr) && perr.Benign
	s.countParseError(benign)
	if benign {
		s.logger.Debug("drop program console output", "error", err)
		return
	}
	if s.callbacks.OnError != nil {
		s.dispatch(func() { s.callbacks.OnError(err) })
		return
	}
	if s.parseLogLimiter.Allow() {
		s.logger.Warn("drop undecodable frame", "error", err)
	}
}

func (s *Session) handleRuntimeError(traceback string) {
	s.mu.Lock()
	shift := s.preambleLines
	s.mu.Unlock()

	rerr := newRuntimeError(traceback, shift)
	s.publish(connectors.TopicError, connectors.SessionError{Err: rerr})
	s.reportError(rerr)
}

func (s *Session) handlePrint(line string) {
	s.publish(connectors.TopicPrint, connectors.ProgramPrint{Text: line})
	if s.callbacks.OnPrint != nil {
		s.dispatch(func() { s.callbacks.OnPrint(line) })
		return
	}
	s.logger.Info("program output", "line", line)
}

func (s *Session) handleNotification(frame protocol.Frame) {
	var err error
	switch frame.Tag {
	case protocol.TagTelemetry:
		err = s.applyTelemetry(frame.Payload)
	case protocol.TagStorage:
		var storage hub.Storage
		if storage, err = s.store.ApplyStorage(frame.Payload); err == nil {
			s.publish(connectors.TopicStorage, connectors.StorageUpdate{Storage: storage})
		}
	case protocol.TagBattery:
		var pct int
		if pct, err = s.store.ApplyBattery(frame.Payload); err == nil {
			s.publish(connectors.TopicBattery, connectors.BatteryUpdate{Percent: pct})
		}
	case protocol.TagButton:
		var ev hub.ButtonEvent
		if ev, err = s.store.ApplyButton(frame.Payload); err == nil {
			s.publish(connectors.TopicButton, ev)
		}
	case protocol.TagOrientation:
		var (
			o       hub.Orientation
			changed bool
		)
		if o, changed, err = s.store.ApplyOrientation(frame.Payload); err == nil && changed {
			s.publish(connectors.TopicOrientation, connectors.OrientationUpdate{Orientation: o})
		}
	case protocol.TagGesture:
		var g hub.Gesture
		if g, err = s.store.ApplyGesture(frame.Payload); err == nil {
			s.publish(connectors.TopicGesture, connectors.GestureUpdate{Gesture: g})
		}
	case protocol.TagProgramStarted, protocol.TagProgramFinished:
		s.handleProgramStatus(frame)
	case protocol.TagHubName:
		var name string
		if name, err = s.store.ApplyHubName(frame.Payload); err == nil {
			s.publish(connectors.TopicHubName, connectors.HubNameUpdate{Name: name})
		}
	case protocol.TagReserved:
		s.logger.Debug("reserved notification", "payload", string(frame.Payload))
	default:
		s.logger.Debug("unknown notification", "tag", frame.RawTag)
	}
	if err != nil {
		s.reportError(fmt.Errorf("apply %s notification: %w", frame.Tag, err))
	}
}

func (s *Session) applyTelemetry(payload json.RawMessage) error {
	update, err := s.store.ApplyTelemetry(payload)
	if err != nil {
		return err
	}
	if s.bus == nil {
		return nil
	}
	for _, port := range update.Ports {
		s.bus.Publish(connectors.TopicPort, connectors.PortUpdate{Port: port, State: s.store.Port(port)})
	}
	for _, ev := range update.ForceEvents {
		s.bus.Publish(connectors.TopicForce, ev)
	}
	if update.Motion {
		s.bus.Publish(connectors.TopicTelemetry, connectors.TelemetryUpdate{Telemetry: s.store.Telemetry()})
	}

	return nil
}

// Program start/stop payloads carry the slot number; anything else is
// reported as slot -1.
func (s *Session) handleProgramStatus(frame protocol.Frame) {
	slot := -1
	var n json.Number
	if err := json.Unmarshal(frame.Payload, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			slot = int(v)
		}
	}

	running := frame.Tag == protocol.TagProgramStarted
	s.logger.Info("hub program status", "running", running, "slot", slot)
	s.publish(connectors.TopicProgram, connectors.ProgramStatus{Running: running, Slot: slot})
	if running && s.callbacks.OnProgramStarted != nil {
		s.dispatch(func() { s.callbacks.OnProgramStarted(slot) })
	}
	if !running && s.callbacks.OnProgramStopped != nil {
		s.dispatch(func() { s.callbacks.OnProgramStopped(slot) })
	}
}

func (s *Session) countResponse(status string) {
	if s.metrics != nil {
		s.metrics.Responses.WithLabelValues(status).Inc()
	}
}
