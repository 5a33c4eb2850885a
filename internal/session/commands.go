package session

import (
	"fmt"

	"github.com/skobkin/spikehub/internal/hub"
	"github.com/skobkin/spikehub/internal/protocol"
)

const (
	displaySize = 5
	maxSpeed    = 100
)

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func portName(p hub.Port) (string, error) {
	if !p.Valid() {
		return "", fmt.Errorf("%s: %w", p, ErrInvalidPort)
	}

	return p.String(), nil
}

func motorPair(left, right hub.Port) (string, string, error) {
	l, err := portName(left)
	if err != nil {
		return "", "", err
	}
	r, err := portName(right)
	if err != nil {
		return "", "", err
	}

	return l, r, nil
}

func (s *Session) DisplayText(text string) (*Call, error) {
	return s.call(protocol.MethodDisplayText, protocol.DisplayTextParams{Text: text})
}

// DisplaySetPixel lights one pixel of the 5x5 matrix; brightness is 0..100.
func (s *Session) DisplaySetPixel(x, y, brightness int) (*Call, error) {
	if x < 0 || x >= displaySize || y < 0 || y >= displaySize {
		return nil, fmt.Errorf("pixel %d,%d is outside the display", x, y)
	}

	return s.call(protocol.MethodDisplaySetPixel, protocol.DisplaySetPixelParams{
		X:          x,
		Y:          y,
		Brightness: clamp(brightness, 0, 100),
	})
}

func (s *Session) DisplayClear() (*Call, error) {
	return s.call(protocol.MethodDisplayClear, nil)
}

// MotorStart runs the motor on p until stopped. Speed is -100..100.
func (s *Session) MotorStart(p hub.Port, speed int, stall bool) (*Call, error) {
	port, err := portName(p)
	if err != nil {
		return nil, err
	}

	return s.call(protocol.MethodMotorStart, protocol.MotorStartParams{
		Port:  port,
		Speed: clamp(speed, -maxSpeed, maxSpeed),
		Stall: stall,
	})
}

func (s *Session) MotorGoToRelativePosition(p hub.Port, position, speed int, stall bool, stop protocol.StopAction) (*Call, error) {
	port, err := portName(p)
	if err != nil {
		return nil, err
	}

	return s.call(protocol.MethodMotorGoToRelativePosition, protocol.MotorGoToRelativePositionParams{
		Port:     port,
		Position: position,
		Speed:    clamp(speed, -maxSpeed, maxSpeed),
		Stall:    stall,
		Stop:     stop,
	})
}

// MotorRunTimed runs the motor on p for ms milliseconds.
func (s *Session) MotorRunTimed(p hub.Port, ms, speed int, stall bool, stop protocol.StopAction) (*Call, error) {
	port, err := portName(p)
	if err != nil {
		return nil, err
	}

	return s.call(protocol.MethodMotorRunTimed, protocol.MotorRunTimedParams{
		Port:  port,
		Time:  max(ms, 0),
		Speed: clamp(speed, -maxSpeed, maxSpeed),
		Stall: stall,
		Stop:  stop,
	})
}

func (s *Session) MotorRunForDegrees(p hub.Port, degrees, speed int, stall bool, stop protocol.StopAction) (*Call, error) {
	port, err := portName(p)
	if err != nil {
		return nil, err
	}

	return s.call(protocol.MethodMotorRunForDegrees, protocol.MotorRunForDegreesParams{
		Port:    port,
		Degrees: degrees,
		Speed:   clamp(speed, -maxSpeed, maxSpeed),
		Stall:   stall,
		Stop:    stop,
	})
}

func (s *Session) MoveTankTime(left, right hub.Port, leftSpeed, rightSpeed, ms int, stop protocol.StopAction) (*Call, error) {
	l, r, err := motorPair(left, right)
	if err != nil {
		return nil, err
	}

	return s.call(protocol.MethodMoveTankTime, protocol.MoveTankTimeParams{
		Time:       max(ms, 0),
		LeftSpeed:  clamp(leftSpeed, -maxSpeed, maxSpeed),
		RightSpeed: clamp(rightSpeed, -maxSpeed, maxSpeed),
		LeftMotor:  l,
		RightMotor: r,
		Stop:       stop,
	})
}

func (s *Session) MoveTankDegrees(left, right hub.Port, leftSpeed, rightSpeed, degrees int, stop protocol.StopAction) (*Call, error) {
	l, r, err := motorPair(left, right)
	if err != nil {
		return nil, err
	}

	return s.call(protocol.MethodMoveTankDegrees, protocol.MoveTankDegreesParams{
		Degrees:    degrees,
		LeftSpeed:  clamp(leftSpeed, -maxSpeed, maxSpeed),
		RightSpeed: clamp(rightSpeed, -maxSpeed, maxSpeed),
		LeftMotor:  l,
		RightMotor: r,
		Stop:       stop,
	})
}

func (s *Session) MoveStartSpeeds(left, right hub.Port, leftSpeed, rightSpeed int) (*Call, error) {
	l, r, err := motorPair(left, right)
	if err != nil {
		return nil, err
	}

	return s.call(protocol.MethodMoveStartSpeeds, protocol.MoveStartSpeedsParams{
		LeftSpeed:  clamp(leftSpeed, -maxSpeed, maxSpeed),
		RightSpeed: clamp(rightSpeed, -maxSpeed, maxSpeed),
		LeftMotor:  l,
		RightMotor: r,
	})
}

func (s *Session) MoveStartPowers(left, right hub.Port, leftPower, rightPower int) (*Call, error) {
	l, r, err := motorPair(left, right)
	if err != nil {
		return nil, err
	}

	return s.call(protocol.MethodMoveStartPowers, protocol.MoveStartPowersParams{
		LeftPower:  clamp(leftPower, -maxSpeed, maxSpeed),
		RightPower: clamp(rightPower, -maxSpeed, maxSpeed),
		LeftMotor:  l,
		RightMotor: r,
	})
}

// SoundBeep plays a MIDI note at volume 0..100 until SoundOff.
func (s *Session) SoundBeep(volume, note int) (*Call, error) {
	return s.call(protocol.MethodSoundBeep, protocol.SoundBeepParams{
		Volume: clamp(volume, 0, 100),
		Note:   clamp(note, 44, 123),
	})
}

func (s *Session) SoundOff() (*Call, error) {
	return s.call(protocol.MethodSoundOff, nil)
}

func (s *Session) GetHubInfo() (*Call, error) {
	return s.call(protocol.MethodGetHubInfo, nil)
}

// TriggerCurrentState asks the hub to resend its full state notifications.
func (s *Session) TriggerCurrentState() (*Call, error) {
	return s.call(protocol.MethodTriggerCurrentState, nil)
}

func (s *Session) ExecuteProgram(slot int) (*Call, error) {
	if err := validateSlot(slot); err != nil {
		return nil, err
	}

	return s.call(protocol.MethodProgramExecute, protocol.SlotParams{SlotID: slot})
}

func (s *Session) TerminateProgram() (*Call, error) {
	return s.call(protocol.MethodProgramTerminate, nil)
}

func (s *Session) GetStorageStatus() (*Call, error) {
	return s.call(protocol.MethodGetStorageStatus, nil)
}

func (s *Session) RemoveProject(slot int) (*Call, error) {
	if err := validateSlot(slot); err != nil {
		return nil, err
	}

	return s.call(protocol.MethodRemoveProject, protocol.SlotParams{SlotID: slot})
}

func (s *Session) MoveProject(from, to int) (*Call, error) {
	if err := validateSlot(from); err != nil {
		return nil, err
	}
	if err := validateSlot(to); err != nil {
		return nil, err
	}

	return s.call(protocol.MethodMoveProject, protocol.MoveProjectParams{OldSlotID: from, NewSlotID: to})
}

func validateSlot(slot int) error {
	if slot < 0 || slot >= hub.SlotCount {
		return fmt.Errorf("slot %d: %w", slot, ErrInvalidSlot)
	}

	return nil
}
