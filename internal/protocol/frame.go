package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a decoded frame.
type Kind int

const (
	KindNotification Kind = iota
	KindResponse
	KindRuntimeError
	KindProgramOutput
)

func (k Kind) String() string {
	switch k {
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindRuntimeError:
		return "runtime_error"
	case KindProgramOutput:
		return "program_output"
	default:
		return "unknown"
	}
}

// Tag identifies a notification. Raw wire tags are mapped once in Decode.
type Tag int

const (
	TagUnknown Tag = iota
	TagTelemetry
	TagStorage
	TagBattery
	TagButton
	TagOrientation
	TagProgramStarted
	TagProgramFinished
	TagHubName
	TagReserved
	TagGesture
	TagRuntimeError
	TagProgramPrint
)

const (
	wireTagRuntimeError = "runtime_error"
	wireTagProgramPrint = "userProgram.print"
)

var numericTags = map[int]Tag{
	0:  TagTelemetry,
	1:  TagStorage,
	2:  TagBattery,
	3:  TagButton,
	4:  TagOrientation,
	7:  TagProgramStarted,
	8:  TagProgramFinished,
	9:  TagHubName,
	11: TagReserved,
	14: TagGesture,
}

func (t Tag) String() string {
	switch t {
	case TagTelemetry:
		return "telemetry"
	case TagStorage:
		return "storage"
	case TagBattery:
		return "battery"
	case TagButton:
		return "button"
	case TagOrientation:
		return "orientation"
	case TagProgramStarted:
		return "program_started"
	case TagProgramFinished:
		return "program_finished"
	case TagHubName:
		return "hub_name"
	case TagReserved:
		return "reserved"
	case TagGesture:
		return "gesture"
	case TagRuntimeError:
		return "runtime_error"
	case TagProgramPrint:
		return "program_print"
	default:
		return "unknown"
	}
}

// Frame is one decoded protocol message.
type Frame struct {
	Kind Kind
	// ID is set on responses and on any frame that echoes a request id.
	ID  string
	Tag Tag
	// RawTag keeps the wire value of "m" for logging unknown tags.
	RawTag  string
	Payload json.RawMessage
	Result  json.RawMessage
	// Text is the decoded base64 body of runtime errors and program output.
	Text string
}

type wireFrame struct {
	ID      *string         `json:"i"`
	Method  json.RawMessage `json:"m"`
	Payload json.RawMessage `json:"p"`
	Result  json.RawMessage `json:"r"`
}

// Decode parses one frame text.
func Decode(text string) (Frame, error) {
	var wire wireFrame
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return Frame{}, newParseError(text, err)
	}
	if dec.More() {
		return Frame{}, newParseError(text, fmt.Errorf("trailing data after frame"))
	}

	frame := Frame{
		Payload: wire.Payload,
		Result:  wire.Result,
	}
	if wire.ID != nil {
		frame.ID = *wire.ID
	}

	if len(wire.Method) == 0 || bytes.Equal(wire.Method, []byte("null")) {
		if frame.ID == "" {
			return Frame{}, newParseError(text, fmt.Errorf("frame has neither id nor method"))
		}
		frame.Kind = KindResponse

		return frame, nil
	}

	rawTag, tag, err := decodeTag(wire.Method)
	if err != nil {
		return Frame{}, newParseError(text, err)
	}
	frame.RawTag = rawTag
	frame.Tag = tag
	frame.Kind = KindNotification

	switch tag {
	case TagRuntimeError:
		body, err := decodeRuntimeErrorPayload(wire.Payload)
		if err != nil {
			return Frame{}, newParseError(text, err)
		}
		frame.Kind = KindRuntimeError
		frame.Text = body
	case TagProgramPrint:
		body, err := decodePrintPayload(wire.Payload)
		if err != nil {
			return Frame{}, newParseError(text, err)
		}
		frame.Kind = KindProgramOutput
		frame.Text = body
	}

	return frame, nil
}

func decodeTag(raw json.RawMessage) (string, Tag, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		switch asString {
		case wireTagRuntimeError:
			return asString, TagRuntimeError, nil
		case wireTagProgramPrint:
			return asString, TagProgramPrint, nil
		}
		if n, err := strconv.Atoi(asString); err == nil {
			return asString, numericTags[n], nil
		}

		return asString, TagUnknown, nil
	}

	var asNumber int
	if err := json.Unmarshal(raw, &asNumber); err != nil {
		return "", TagUnknown, fmt.Errorf("decode method tag %s: %w", string(raw), err)
	}

	return strconv.Itoa(asNumber), numericTags[asNumber], nil
}

// The traceback is the last string element of the payload array.
func decodeRuntimeErrorPayload(raw json.RawMessage) (string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return decodeBase64Text(single)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return "", fmt.Errorf("decode runtime error payload: %w", err)
	}
	for i := len(items) - 1; i >= 0; i-- {
		var s string
		if err := json.Unmarshal(items[i], &s); err == nil && s != "" {
			return decodeBase64Text(s)
		}
	}

	return "", fmt.Errorf("runtime error payload has no traceback")
}

func decodePrintPayload(raw json.RawMessage) (string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return decodeBase64Text(single)
	}

	var obj struct {
		Value *string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("decode print payload: %w", err)
	}
	if obj.Value == nil {
		return "", fmt.Errorf("print payload has no value")
	}

	return decodeBase64Text(*obj.Value)
}

func decodeBase64Text(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("decode base64 text: %w", err)
	}

	return string(raw), nil
}

// Result is the outcome reported in a response's "r" field.
type Result string

const (
	ResultDone    Result = "done"
	ResultStalled Result = "stalled"
	ResultNull    Result = "null"
)

// DecodeResult maps a numeric result code; anything that is not 0 or 2,
// including structured results, is ResultNull.
func DecodeResult(raw json.RawMessage) Result {
	var code json.Number
	if err := json.Unmarshal(raw, &code); err != nil {
		return ResultNull
	}
	switch code.String() {
	case "0":
		return ResultDone
	case "2":
		return ResultStalled
	default:
		return ResultNull
	}
}
