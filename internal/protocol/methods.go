package protocol

// Method is the "m" field of an outbound command.
type Method string

const (
	MethodDisplayText               Method = "scratch.display_text"
	MethodDisplaySetPixel           Method = "scratch.display_set_pixel"
	MethodDisplayClear              Method = "scratch.display_clear"
	MethodMotorStart                Method = "scratch.motor_start"
	MethodMotorGoToRelativePosition Method = "scratch.motor_go_to_relative_position"
	MethodMotorRunTimed             Method = "scratch.motor_run_timed"
	MethodMotorRunForDegrees        Method = "scratch.motor_run_for_degrees"
	MethodMoveTankTime              Method = "scratch.move_tank_time"
	MethodMoveTankDegrees           Method = "scratch.move_tank_degrees"
	MethodMoveStartSpeeds           Method = "scratch.move_start_speeds"
	MethodMoveStartPowers           Method = "scratch.move_start_powers"
	MethodSoundBeep                 Method = "scratch.sound_beep"
	MethodSoundOff                  Method = "scratch.sound_off"
	MethodGetHubInfo                Method = "get_hub_info"
	MethodTriggerCurrentState       Method = "trigger_current_state"
	MethodProgramExecute            Method = "program_execute"
	MethodProgramTerminate          Method = "program_terminate"
	MethodStartWriteProgram         Method = "start_write_program"
	MethodWritePackage              Method = "write_package"
	MethodGetStorageStatus          Method = "get_storage_status"
	MethodRemoveProject             Method = "remove_project"
	MethodMoveProject               Method = "move_project"
)

// StopAction tells a motor what to do once a bounded movement finishes.
type StopAction int

const (
	StopFloat StopAction = iota
	StopBrake
	StopHold
)

type DisplayTextParams struct {
	Text string `json:"text"`
}

type DisplaySetPixelParams struct {
	X          int `json:"x"`
	Y          int `json:"y"`
	Brightness int `json:"brightness"`
}

type MotorStartParams struct {
	Port  string `json:"port"`
	Speed int    `json:"speed"`
	Stall bool   `json:"stall"`
}

type MotorGoToRelativePositionParams struct {
	Port     string     `json:"port"`
	Position int        `json:"position"`
	Speed    int        `json:"speed"`
	Stall    bool       `json:"stall"`
	Stop     StopAction `json:"stop"`
}

type MotorRunTimedParams struct {
	Port string `json:"port"`
	// Time is in milliseconds.
	Time  int        `json:"time"`
	Speed int        `json:"speed"`
	Stall bool       `json:"stall"`
	Stop  StopAction `json:"stop"`
}

type MotorRunForDegreesParams struct {
	Port    string     `json:"port"`
	Degrees int        `json:"degrees"`
	Speed   int        `json:"speed"`
	Stall   bool       `json:"stall"`
	Stop    StopAction `json:"stop"`
}

type MoveTankTimeParams struct {
	Time       int        `json:"time"`
	LeftSpeed  int        `json:"lspeed"`
	RightSpeed int        `json:"rspeed"`
	LeftMotor  string     `json:"lmotor"`
	RightMotor string     `json:"rmotor"`
	Stop       StopAction `json:"stop"`
}

type MoveTankDegreesParams struct {
	Degrees    int        `json:"degrees"`
	LeftSpeed  int        `json:"lspeed"`
	RightSpeed int        `json:"rspeed"`
	LeftMotor  string     `json:"lmotor"`
	RightMotor string     `json:"rmotor"`
	Stop       StopAction `json:"stop"`
}

type MoveStartSpeedsParams struct {
	LeftSpeed  int    `json:"lspeed"`
	RightSpeed int    `json:"rspeed"`
	LeftMotor  string `json:"lmotor"`
	RightMotor string `json:"rmotor"`
}

type MoveStartPowersParams struct {
	LeftPower  int    `json:"lpower"`
	RightPower int    `json:"rpower"`
	LeftMotor  string `json:"lmotor"`
	RightMotor string `json:"rmotor"`
}

type SoundBeepParams struct {
	Volume int `json:"volume"`
	Note   int `json:"note"`
}

type SlotParams struct {
	SlotID int `json:"slotid"`
}

type MoveProjectParams struct {
	OldSlotID int `json:"old_slotid"`
	NewSlotID int `json:"new_slotid"`
}

// ProjectType is the numeric program kind stored in upload metadata.
type ProjectType int

const (
	ProjectTypePython ProjectType = iota
	ProjectTypeScratch
)

// ProjectMeta is the metadata envelope of start_write_program.
type ProjectMeta struct {
	Created   int64       `json:"created"`
	Modified  int64       `json:"modified"`
	Name      string      `json:"name"`
	Type      ProjectType `json:"type"`
	ProjectID string      `json:"project_id"`
}

type StartWriteProgramParams struct {
	SlotID   int         `json:"slotid"`
	Size     int         `json:"size"`
	Filename string      `json:"filename"`
	Meta     ProjectMeta `json:"meta"`
}

type WritePackageParams struct {
	Data       string `json:"data"`
	TransferID string `json:"transferid"`
}

// StartWriteResult is the handshake reply to start_write_program.
type StartWriteResult struct {
	BlockSize  int    `json:"blocksize"`
	TransferID string `json:"transferid"`
}
