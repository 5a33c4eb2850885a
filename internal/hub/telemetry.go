package hub

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Orientation is the hub face pointing up, as reported by tag 4.
type Orientation int

const (
	OrientationUnknown Orientation = iota - 1
	OrientationUp
	OrientationDown
	OrientationFront
	OrientationBack
	OrientationLeftSide
	OrientationRightSide
)

func (o Orientation) String() string {
	switch o {
	case OrientationUp:
		return "up"
	case OrientationDown:
		return "down"
	case OrientationFront:
		return "front"
	case OrientationBack:
		return "back"
	case OrientationLeftSide:
		return "leftside"
	case OrientationRightSide:
		return "rightside"
	default:
		return "unknown"
	}
}

// Gesture is a motion event reported by tag 14.
type Gesture int

const (
	GestureNone Gesture = iota - 1
	GestureShake
	GestureFreefall
	GestureTapped
	GestureDoubleTapped
)

func (g Gesture) String() string {
	switch g {
	case GestureShake:
		return "shake"
	case GestureFreefall:
		return "freefall"
	case GestureTapped:
		return "tapped"
	case GestureDoubleTapped:
		return "doubletapped"
	default:
		return "none"
	}
}

// Button identifies one of the hub's physical buttons.
type Button int

const (
	ButtonMain Button = iota
	ButtonBluetooth
	ButtonLeft
	ButtonRight
)

const buttonCount = 4

func (b Button) String() string {
	switch b {
	case ButtonMain:
		return "main"
	case ButtonBluetooth:
		return "bluetooth"
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	default:
		return fmt.Sprintf("button(%d)", int(b))
	}
}

func (b Button) Valid() bool {
	return b >= ButtonMain && b < buttonCount
}

// The hub names the main button "center" and the bluetooth one "connect".
var buttonNames = map[string]Button{
	"center":    ButtonMain,
	"main":      ButtonMain,
	"connect":   ButtonBluetooth,
	"bluetooth": ButtonBluetooth,
	"left":      ButtonLeft,
	"right":     ButtonRight,
}

type ButtonState struct {
	Pressed bool
	// HoldDurationMs is how long the button was held before its last release.
	HoldDurationMs int
}

// ButtonEvent is one press (HoldDurationMs == 0) or release transition.
type ButtonEvent struct {
	Button         Button
	Pressed        bool
	HoldDurationMs int
}

// ForceEvent is a force sensor press or release edge on a port.
type ForceEvent struct {
	Port           Port
	Pressed        bool
	HoldDurationMs int
}

// Telemetry is the hub-wide sensor state.
type Telemetry struct {
	Gyro     [3]int
	Accel    [3]int
	Position [3]int // yaw, pitch, roll

	BatteryPercent int
	Orientation    Orientation
	LastGesture    Gesture
	Buttons        [buttonCount]ButtonState
}

func (t Telemetry) Yaw() int   { return t.Position[0] }
func (t Telemetry) Pitch() int { return t.Position[1] }
func (t Telemetry) Roll() int  { return t.Position[2] }

func (t Telemetry) Button(b Button) ButtonState {
	if !b.Valid() {
		return ButtonState{}
	}

	return t.Buttons[b]
}

func newTelemetry() Telemetry {
	return Telemetry{
		Orientation: OrientationUnknown,
		LastGesture: GestureNone,
	}
}

// Payload: [buttonName, holdDurationMs]; 0 means the button is held now.
func decodeButtonEvent(raw json.RawMessage) (ButtonEvent, error) {
	items, err := decodeArray(raw)
	if err != nil {
		return ButtonEvent{}, fmt.Errorf("decode button event: %w", err)
	}
	if len(items) < 2 {
		return ButtonEvent{}, fmt.Errorf("decode button event: want 2 items, got %d", len(items))
	}
	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return ButtonEvent{}, fmt.Errorf("decode button name: %w", err)
	}
	button, ok := buttonNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ButtonEvent{}, fmt.Errorf("unknown button %q", name)
	}
	duration, ok := intAt(items, 1)
	if !ok || duration < 0 {
		return ButtonEvent{}, fmt.Errorf("decode button hold duration %s", string(items[1]))
	}

	return ButtonEvent{
		Button:         button,
		Pressed:        duration == 0,
		HoldDurationMs: duration,
	}, nil
}

func decodeOrientation(raw json.RawMessage) (Orientation, error) {
	code, err := decodeCode(raw)
	if err != nil {
		return OrientationUnknown, fmt.Errorf("decode orientation: %w", err)
	}
	if code < int(OrientationUp) || code > int(OrientationRightSide) {
		return OrientationUnknown, fmt.Errorf("orientation code out of range: %d", code)
	}

	return Orientation(code), nil
}

func decodeGesture(raw json.RawMessage) (Gesture, error) {
	code, err := decodeCode(raw)
	if err != nil {
		return GestureNone, fmt.Errorf("decode gesture: %w", err)
	}
	if code < int(GestureShake) || code > int(GestureDoubleTapped) {
		return GestureNone, fmt.Errorf("gesture code out of range: %d", code)
	}

	return Gesture(code), nil
}

// Payload is [voltage, percent]; a bare number is taken as the percent.
func decodeBattery(raw json.RawMessage) (int, error) {
	if v, ok := decodeNumber(raw); ok {
		return clampPercent(v), nil
	}
	items, err := decodeArray(raw)
	if err != nil {
		return 0, fmt.Errorf("decode battery: %w", err)
	}
	v, ok := numberAt(items, 1)
	if !ok {
		return 0, fmt.Errorf("decode battery: missing percent")
	}

	return clampPercent(v), nil
}

func clampPercent(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v + 0.5)
	}
}
