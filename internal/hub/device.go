package hub

import "fmt"

// DeviceKind is the type of device attached to a port.
type DeviceKind int

const (
	DeviceNone DeviceKind = iota
	DeviceSmallMotor
	DeviceBigMotor
	DeviceUltrasonic
	DeviceForceSensor
	DeviceColorSensor
)

// Device type codes reported in telemetry snapshots.
const (
	codeNone        = 0
	codeSmallMotor  = 48
	codeBigMotor    = 49
	codeColorSensor = 61
	codeUltrasonic  = 62
	codeForceSensor = 63
)

var deviceKindByCode = map[int]DeviceKind{
	codeNone:        DeviceNone,
	codeSmallMotor:  DeviceSmallMotor,
	codeBigMotor:    DeviceBigMotor,
	codeColorSensor: DeviceColorSensor,
	codeUltrasonic:  DeviceUltrasonic,
	codeForceSensor: DeviceForceSensor,
}

func (k DeviceKind) String() string {
	switch k {
	case DeviceNone:
		return "none"
	case DeviceSmallMotor:
		return "small_motor"
	case DeviceBigMotor:
		return "big_motor"
	case DeviceUltrasonic:
		return "ultrasonic"
	case DeviceForceSensor:
		return "force_sensor"
	case DeviceColorSensor:
		return "color_sensor"
	default:
		return fmt.Sprintf("device(%d)", int(k))
	}
}

// IsMotor reports whether the device accepts motor commands.
func (k DeviceKind) IsMotor() bool {
	return k == DeviceSmallMotor || k == DeviceBigMotor
}

var colorNames = map[int]string{
	0:  "black",
	1:  "violet",
	3:  "blue",
	4:  "cyan",
	5:  "green",
	7:  "yellow",
	9:  "red",
	10: "white",
}

// ColorName maps a color sensor code to its name; unknown codes are "none".
func ColorName(code int) string {
	if name, ok := colorNames[code]; ok {
		return name
	}

	return "none"
}
