package hub

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store is the live model of the six ports and hub-wide telemetry.
//
// Mutations come from the session read loop; reads and callback registration
// may come from any goroutine. Callbacks run after the store lock is released,
// on the goroutine that applied the triggering frame, so they may call back
// into the store but must not block.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	ports          [PortCount]PortState
	forcePressedAt [PortCount]time.Time
	telemetry      Telemetry
	storage        Storage
	hubName        string

	wasPressed          [buttonCount]bool
	orientationReplayed bool

	buttonPress   [buttonCount]oneShots[ButtonEvent]
	buttonRelease [buttonCount]oneShots[ButtonEvent]
	gesture       oneShots[Gesture]
	orientation   oneShots[Orientation]
	forcePress    [PortCount]oneShots[ForceEvent]
	forceRelease  [PortCount]oneShots[ForceEvent]
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

func NewStoreWithClock(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}

	return &Store{
		now:       now,
		telemetry: newTelemetry(),
	}
}

// TelemetryUpdate summarizes what one tag 0 snapshot changed.
type TelemetryUpdate struct {
	Ports       []Port
	ForceEvents []ForceEvent
	// Motion is set when accel, gyro or position were present.
	Motion bool
}

// ApplyTelemetry applies a tag 0 snapshot: entries 0..5 are ports A..F,
// 6 is accel, 7 gyro and 8 yaw/pitch/roll.
func (s *Store) ApplyTelemetry(payload json.RawMessage) (TelemetryUpdate, error) {
	items, err := decodeArray(payload)
	if err != nil {
		return TelemetryUpdate{}, fmt.Errorf("decode telemetry snapshot: %w", err)
	}

	var (
		update TelemetryUpdate
		fire   []func()
	)

	s.mu.Lock()
	now := s.now()
	for i := 0; i < PortCount && i < len(items); i++ {
		decoded, ok := decodePort(items[i])
		if !ok {
			continue
		}
		port := Port(i)
		if ev, ok := forceEdge(s.ports[i], decoded, port, now, s.forcePressedAt[i]); ok {
			update.ForceEvents = append(update.ForceEvents, ev)
			fire = append(fire, s.applyForceEdgeLocked(ev, now)...)
		}
		s.ports[i] = decoded.state
		update.Ports = append(update.Ports, port)
	}
	if v, ok := vectorAt(items, 6); ok {
		s.telemetry.Accel = v
		update.Motion = true
	}
	if v, ok := vectorAt(items, 7); ok {
		s.telemetry.Gyro = v
		update.Motion = true
	}
	if v, ok := vectorAt(items, 8); ok {
		s.telemetry.Position = v
		update.Motion = true
	}
	s.mu.Unlock()

	runAll(fire)

	return update, nil
}

func vectorAt(items []json.RawMessage, i int) ([3]int, bool) {
	if i >= len(items) {
		return [3]int{}, false
	}

	return decodeVector(items[i])
}

// forceEdge computes the press/release transition between prev and next.
func forceEdge(prev PortState, next decodedPort, port Port, now, pressedAt time.Time) (ForceEvent, bool) {
	nextForce, ok := next.state.Force()
	if !ok {
		return ForceEvent{}, false
	}
	prevForce, _ := prev.Force()
	switch {
	case nextForce.Pressed && !prevForce.Pressed:
		return ForceEvent{Port: port, Pressed: true}, true
	case !nextForce.Pressed && prevForce.Pressed:
		hold := 0
		if next.hasHoldMs {
			hold = next.holdMs
		} else if !pressedAt.IsZero() {
			hold = int(now.Sub(pressedAt) / time.Millisecond)
		}

		return ForceEvent{Port: port, HoldDurationMs: hold}, true
	default:
		return ForceEvent{}, false
	}
}

func (s *Store) applyForceEdgeLocked(ev ForceEvent, now time.Time) []func() {
	port := ev.Port
	if ev.Pressed {
		s.forcePressedAt[port] = now

		return s.forcePress[port].take(ev)
	}
	s.forcePressedAt[port] = time.Time{}

	return s.forceRelease[port].take(ev)
}

// ApplyButton applies a tag 3 button event.
func (s *Store) ApplyButton(payload json.RawMessage) (ButtonEvent, error) {
	ev, err := decodeButtonEvent(payload)
	if err != nil {
		return ButtonEvent{}, err
	}

	s.mu.Lock()
	var fire []func()
	if ev.Pressed {
		s.telemetry.Buttons[ev.Button] = ButtonState{Pressed: true}
		fire = s.buttonPress[ev.Button].take(ev)
	} else {
		s.telemetry.Buttons[ev.Button] = ButtonState{HoldDurationMs: ev.HoldDurationMs}
		s.wasPressed[ev.Button] = true
		fire = s.buttonRelease[ev.Button].take(ev)
	}
	s.mu.Unlock()

	runAll(fire)

	return ev, nil
}

// ApplyOrientation applies a tag 4 event. changed is false when the hub
// repeated the current orientation; no callback fires then.
func (s *Store) ApplyOrientation(payload json.RawMessage) (o Orientation, changed bool, err error) {
	o, err = decodeOrientation(payload)
	if err != nil {
		return OrientationUnknown, false, err
	}

	s.mu.Lock()
	if s.telemetry.Orientation == o {
		s.mu.Unlock()
		return o, false, nil
	}
	s.telemetry.Orientation = o
	fire := s.orientation.take(o)
	s.mu.Unlock()

	runAll(fire)

	return o, true, nil
}

// ApplyGesture applies a tag 14 event. Every gesture is a new event.
func (s *Store) ApplyGesture(payload json.RawMessage) (Gesture, error) {
	g, err := decodeGesture(payload)
	if err != nil {
		return GestureNone, err
	}

	s.mu.Lock()
	s.telemetry.LastGesture = g
	fire := s.gesture.take(g)
	s.mu.Unlock()

	runAll(fire)

	return g, nil
}

func (s *Store) ApplyBattery(payload json.RawMessage) (int, error) {
	pct, err := decodeBattery(payload)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.telemetry.BatteryPercent = pct
	s.mu.Unlock()

	return pct, nil
}

// ApplyStorage replaces the slot listing wholesale.
func (s *Store) ApplyStorage(payload json.RawMessage) (Storage, error) {
	storage, err := DecodeStorage(payload)
	if err != nil {
		return Storage{}, err
	}
	s.ReplaceStorage(storage)

	return storage, nil
}

func (s *Store) ReplaceStorage(storage Storage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = Storage{
		Info:  storage.Info,
		Slots: append([]ProjectSlot(nil), storage.Slots...),
	}
}

// ApplyHubName applies a tag 9 base64 hub name.
func (s *Store) ApplyHubName(payload json.RawMessage) (string, error) {
	var encoded string
	if err := json.Unmarshal(payload, &encoded); err != nil {
		return "", fmt.Errorf("decode hub name: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("decode hub name base64: %w", err)
	}
	name := string(raw)

	s.mu.Lock()
	s.hubName = name
	s.mu.Unlock()

	return name, nil
}

func (s *Store) Ports() [PortCount]PortState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ports
}

func (s *Store) Port(p Port) PortState {
	if !p.Valid() {
		return PortState{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ports[p]
}

func (s *Store) Telemetry() Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.telemetry
}

func (s *Store) Storage() Storage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Storage{
		Info:  s.storage.Info,
		Slots: append([]ProjectSlot(nil), s.storage.Slots...),
	}
}

func (s *Store) HubName() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hubName
}

// WasPressed reports whether b was released since the previous call for the
// same button. Reading consumes the flag.
func (s *Store) WasPressed(b Button) bool {
	if !b.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pressed := s.wasPressed[b]
	s.wasPressed[b] = false

	return pressed
}

// OnButtonPress arms fn for the next press of b.
func (s *Store) OnButtonPress(b Button, fn func(ButtonEvent)) {
	if !b.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buttonPress[b].add(fn)
}

// OnButtonRelease arms fn for the next release of b.
func (s *Store) OnButtonRelease(b Button, fn func(ButtonEvent)) {
	if !b.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buttonRelease[b].add(fn)
}

// OnGesture arms fn for the next gesture.
func (s *Store) OnGesture(fn func(Gesture)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gesture.add(fn)
}

// OnOrientation arms fn for the next orientation change. The very first
// registration on a store is answered immediately with the current
// orientation instead.
func (s *Store) OnOrientation(fn func(Orientation)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if !s.orientationReplayed {
		s.orientationReplayed = true
		current := s.telemetry.Orientation
		s.mu.Unlock()
		fn(current)

		return
	}
	s.orientation.add(fn)
	s.mu.Unlock()
}

// OnForcePress arms fn for the next press of the force sensor on p.
func (s *Store) OnForcePress(p Port, fn func(ForceEvent)) {
	if !p.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcePress[p].add(fn)
}

// OnForceRelease arms fn for the next release of the force sensor on p.
func (s *Store) OnForceRelease(p Port, fn func(ForceEvent)) {
	if !p.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceRelease[p].add(fn)
}

func (s *Store) OnLeftButtonPress(fn func(ButtonEvent))    { s.OnButtonPress(ButtonLeft, fn) }
func (s *Store) OnLeftButtonRelease(fn func(ButtonEvent))  { s.OnButtonRelease(ButtonLeft, fn) }
func (s *Store) OnRightButtonPress(fn func(ButtonEvent))   { s.OnButtonPress(ButtonRight, fn) }
func (s *Store) OnRightButtonRelease(fn func(ButtonEvent)) { s.OnButtonRelease(ButtonRight, fn) }

func (s *Store) WasLeftButtonPressed() bool  { return s.WasPressed(ButtonLeft) }
func (s *Store) WasRightButtonPressed() bool { return s.WasPressed(ButtonRight) }
