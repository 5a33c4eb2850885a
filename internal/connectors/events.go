package connectors

import (
	"time"

	"github.com/skobkin/spikehub/internal/hub"
)

// ConnectionState describes the session lifecycle state.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnectionStatus is a bus event snapshot of current session status.
type ConnectionStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// RawFrame carries frame text for debug/log views.
type RawFrame struct {
	Text string
	Len  int
}

// PortUpdate is published for every port a telemetry snapshot decoded.
type PortUpdate struct {
	Port  hub.Port
	State hub.PortState
}

// TelemetryUpdate is published after a snapshot touched hub-wide sensors.
type TelemetryUpdate struct {
	Telemetry hub.Telemetry
}

type BatteryUpdate struct {
	Percent int
}

type OrientationUpdate struct {
	Orientation hub.Orientation
}

type GestureUpdate struct {
	Gesture hub.Gesture
}

type StorageUpdate struct {
	Storage hub.Storage
}

// ProgramStatus reports a program start (Running) or finish on the hub.
type ProgramStatus struct {
	Running bool
	Slot    int
}

type HubNameUpdate struct {
	Name string
}

// ProgramPrint is one line of output from the running program.
type ProgramPrint struct {
	Text string
}

// SessionError carries any fault surfaced by the session.
type SessionError struct {
	Err error
}

// UploadProgress tracks a program upload.
type UploadProgress struct {
	Slot       int
	Name       string
	State      string
	SentBytes  int
	TotalBytes int
	Chunks     int
	Err        string
}
