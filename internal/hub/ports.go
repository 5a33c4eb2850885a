package hub

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Port is one of the six device connectors, A through F.
type Port int

const (
	PortA Port = iota
	PortB
	PortC
	PortD
	PortE
	PortF
)

// PortCount is the number of device connectors on the hub.
const PortCount = 6

func (p Port) String() string {
	if !p.Valid() {
		return fmt.Sprintf("port(%d)", int(p))
	}

	return string(rune('A' + int(p)))
}

func (p Port) Valid() bool {
	return p >= PortA && p <= PortF
}

// ParsePort accepts a port letter in either case.
func ParsePort(raw string) (Port, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) != 1 || s[0] < 'A' || s[0] > 'F' {
		return 0, fmt.Errorf("invalid port %q: want A-F", raw)
	}

	return Port(s[0] - 'A'), nil
}

// Force sensor sensitivity calibration bounds.
const (
	forceRawLow  = 384
	forceRawHigh = 704
)

// DeviceTelemetry is the per-device payload of a PortState.
type DeviceTelemetry interface {
	Kind() DeviceKind
}

type MotorTelemetry struct {
	Device DeviceKind
	// Speed is in percent of maximum speed.
	Speed int
	// Angle is the cumulative rotation in degrees since power-up.
	Angle int
	// UnitAngle is the absolute position on the unit circle, -180..179.
	UnitAngle int
	Power     int
}

func (t MotorTelemetry) Kind() DeviceKind { return t.Device }

type UltrasonicTelemetry struct {
	// DistanceCm is -1 when nothing is in range.
	DistanceCm int
}

func (UltrasonicTelemetry) Kind() DeviceKind { return DeviceUltrasonic }

type ForceTelemetry struct {
	Newtons int
	Pressed bool
	// Percent is the raw sensitivity reading normalized to 0..100.
	Percent int
	Raw     int
}

func (ForceTelemetry) Kind() DeviceKind { return DeviceForceSensor }

type ColorTelemetry struct {
	Reflected int
	ColorCode int
	Color     string
	RGB       [3]int
}

func (ColorTelemetry) Kind() DeviceKind { return DeviceColorSensor }

// PortState is the latest decoded state of one port.
type PortState struct {
	Kind      DeviceKind
	Telemetry DeviceTelemetry
}

func (s PortState) Motor() (MotorTelemetry, bool) {
	t, ok := s.Telemetry.(MotorTelemetry)
	return t, ok
}

func (s PortState) Ultrasonic() (UltrasonicTelemetry, bool) {
	t, ok := s.Telemetry.(UltrasonicTelemetry)
	return t, ok
}

func (s PortState) Force() (ForceTelemetry, bool) {
	t, ok := s.Telemetry.(ForceTelemetry)
	return t, ok
}

func (s PortState) Color() (ColorTelemetry, bool) {
	t, ok := s.Telemetry.(ColorTelemetry)
	return t, ok
}

// decodedPort is the result of decoding one port entry of a snapshot.
type decodedPort struct {
	state PortState
	// holdMs is an explicit force-release duration carried by the frame.
	holdMs    int
	hasHoldMs bool
}

// decodePort decodes a [code, [values...]] entry. It reports false for
// unknown device codes and for payloads too short for their device, so the
// caller can keep the previous state instead of storing a partial one.
func decodePort(raw json.RawMessage) (decodedPort, bool) {
	entry, err := decodeArray(raw)
	if err != nil || len(entry) == 0 {
		return decodedPort{}, false
	}
	code, ok := intAt(entry, 0)
	if !ok {
		return decodedPort{}, false
	}
	kind, known := deviceKindByCode[code]
	if !known {
		return decodedPort{}, false
	}
	if kind == DeviceNone {
		return decodedPort{state: PortState{Kind: DeviceNone}}, true
	}
	if len(entry) < 2 {
		return decodedPort{}, false
	}
	values, err := decodeArray(entry[1])
	if err != nil {
		return decodedPort{}, false
	}

	switch kind {
	case DeviceSmallMotor, DeviceBigMotor:
		return decodeMotor(kind, values)
	case DeviceUltrasonic:
		return decodeUltrasonic(values)
	case DeviceForceSensor:
		return decodeForce(values)
	case DeviceColorSensor:
		return decodeColor(values)
	}

	return decodedPort{}, false
}

func decodeMotor(kind DeviceKind, values []json.RawMessage) (decodedPort, bool) {
	var fields [4]int
	for i := range fields {
		v, ok := intAt(values, i)
		if !ok {
			return decodedPort{}, false
		}
		fields[i] = v
	}

	return decodedPort{state: PortState{
		Kind: kind,
		Telemetry: MotorTelemetry{
			Device:    kind,
			Speed:     fields[0],
			Angle:     fields[1],
			UnitAngle: fields[2],
			Power:     fields[3],
		},
	}}, true
}

func decodeUltrasonic(values []json.RawMessage) (decodedPort, bool) {
	if len(values) < 1 {
		return decodedPort{}, false
	}
	distance, ok := intAt(values, 0)
	if !ok {
		distance = -1
	}

	return decodedPort{state: PortState{
		Kind:      DeviceUltrasonic,
		Telemetry: UltrasonicTelemetry{DistanceCm: distance},
	}}, true
}

func decodeForce(values []json.RawMessage) (decodedPort, bool) {
	newtons, ok := intAt(values, 0)
	if !ok {
		return decodedPort{}, false
	}
	flag, ok := intAt(values, 1)
	if !ok {
		return decodedPort{}, false
	}
	raw, ok := intAt(values, 2)
	if !ok {
		return decodedPort{}, false
	}

	out := decodedPort{state: PortState{
		Kind: DeviceForceSensor,
		Telemetry: ForceTelemetry{
			Newtons: newtons,
			Pressed: flag == 1,
			Percent: forcePercent(raw),
			Raw:     raw,
		},
	}}
	if holdMs, ok := intAt(values, 3); ok {
		out.holdMs = holdMs
		out.hasHoldMs = true
	}

	return out, true
}

func forcePercent(raw int) int {
	pct := float64(raw-forceRawLow) / float64(forceRawHigh-forceRawLow) * 100
	pct = math.Max(0, math.Min(100, pct))

	return int(math.Round(pct))
}

func decodeColor(values []json.RawMessage) (decodedPort, bool) {
	var fields [5]int
	for i := range fields {
		v, ok := intAt(values, i)
		if !ok {
			// The hub reports null color when nothing is detected.
			if i == 1 {
				v = -1
			} else {
				return decodedPort{}, false
			}
		}
		fields[i] = v
	}

	return decodedPort{state: PortState{
		Kind: DeviceColorSensor,
		Telemetry: ColorTelemetry{
			Reflected: fields[0],
			ColorCode: fields[1],
			Color:     ColorName(fields[1]),
			RGB:       [3]int{fields[2], fields[3], fields[4]},
		},
	}}, true
}
