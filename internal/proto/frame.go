package proto

import (
	"encoding/json"
	"fmt"
)

// Opcode identifies a frame's semantic kind on the wire. The set is closed:
// decoding an unknown opcode is a protocol error, not a silent skip.
type Opcode byte

const (
	OpcodeConnect         Opcode = 0x01
	OpcodeConnACK         Opcode = 0x02
	OpcodeExecute         Opcode = 0x03
	OpcodeExecuteResponse Opcode = 0x04
)

// OpcodeNames maps opcodes to names for logging and diagnostics.
var OpcodeNames = map[Opcode]string{
	OpcodeConnect:         "CONNECT",
	OpcodeConnACK:         "CONNACK",
	OpcodeExecute:         "EXECUTE",
	OpcodeExecuteResponse: "EXECUTE_RESPONSE",
}

func (op Opcode) String() string {
	if name, ok := OpcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", byte(op))
}

// ResponseCode is carried by ConnACK to accept or refuse a connection.
type ResponseCode byte

const (
	ResponseAccepted     ResponseCode = 0x00
	ResponseUnauthorized ResponseCode = 0x01
	ResponseServerError  ResponseCode = 0x02
)

// Status is the outcome a device reports for an executed command.
type Status byte

const (
	StatusSuccess Status = 0x00
	StatusError   Status = 0x01
	StatusOffline Status = 0x02
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusOffline:
		return "offline"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(s))
	}
}

// Command tags the parameter payload of an Execute frame.
type Command uint16

const (
	CommandOnOff      Command = 0x0001
	CommandBrightness Command = 0x0002
	CommandOpenClose  Command = 0x0003
)

func (c Command) String() string {
	switch c {
	case CommandOnOff:
		return "on_off"
	case CommandBrightness:
		return "brightness"
	case CommandOpenClose:
		return "open_close"
	default:
		return fmt.Sprintf("unknown(0x%04x)", uint16(c))
	}
}

// ParseCommand maps the textual command names used by the dispatch API back to
// wire command tags.
func ParseCommand(s string) (Command, error) {
	switch s {
	case "on_off":
		return CommandOnOff, nil
	case "brightness":
		return CommandBrightness, nil
	case "open_close":
		return CommandOpenClose, nil
	default:
		return 0, fmt.Errorf("unknown command: %q", s)
	}
}

// Params is the typed parameter set of an Execute frame. Each known command
// kind owns one concrete variant; commands this broker build does not know
// decode into RawParams so newer devices and callers keep working.
type Params interface {
	command() Command
}

// OnOffParams switches a device on or off.
type OnOffParams struct {
	On bool `json:"on"`
}

func (OnOffParams) command() Command { return CommandOnOff }

// BrightnessParams sets an absolute brightness percentage.
type BrightnessParams struct {
	Brightness int `json:"brightness"`
}

func (BrightnessParams) command() Command { return CommandBrightness }

// OpenCloseParams sets how far open a device is, in percent.
type OpenCloseParams struct {
	OpenPercent int `json:"openPercent"`
}

func (OpenCloseParams) command() Command { return CommandOpenClose }

// RawParams is the forward-compatibility fallback for command kinds this
// build does not recognize. The bytes are carried verbatim.
type RawParams json.RawMessage

func (RawParams) command() Command { return 0 }

// DecodeParams parses the JSON parameter body of an Execute frame into the
// typed variant for cmd. Unknown commands fall back to RawParams.
func DecodeParams(cmd Command, body []byte) (Params, error) {
	switch cmd {
	case CommandOnOff:
		var p OnOffParams
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("failed to decode on_off params: %w", err)
		}
		return p, nil
	case CommandBrightness:
		var p BrightnessParams
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("failed to decode brightness params: %w", err)
		}
		return p, nil
	case CommandOpenClose:
		var p OpenCloseParams
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("failed to decode open_close params: %w", err)
		}
		return p, nil
	default:
		if len(body) > 0 && !json.Valid(body) {
			return nil, fmt.Errorf("invalid params body for command 0x%04x", uint16(cmd))
		}
		raw := make(RawParams, len(body))
		copy(raw, body)
		return raw, nil
	}
}

// encodeParams serializes the parameter body of an Execute frame.
func encodeParams(p Params) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	if raw, ok := p.(RawParams); ok {
		return raw, nil
	}
	return json.Marshal(p)
}

// Frame is one self-delimiting unit of the device wire protocol.
type Frame interface {
	Opcode() Opcode
}

// ConnectFrame opens the protocol exchange on a fresh connection. Credentials
// travel in the HTTP upgrade, so the frame itself carries no payload.
type ConnectFrame struct{}

func (ConnectFrame) Opcode() Opcode { return OpcodeConnect }

// ConnACKFrame acknowledges a Connect.
type ConnACKFrame struct {
	Code ResponseCode
}

func (ConnACKFrame) Opcode() Opcode { return OpcodeConnACK }

// ExecuteFrame asks the device to run one command. ID correlates the eventual
// ExecuteResponseFrame; it is unique per in-flight request on a connection.
type ExecuteFrame struct {
	ID      uint32
	Command Command
	Params  Params
}

func (ExecuteFrame) Opcode() Opcode { return OpcodeExecute }

// ExecuteResponseFrame reports the outcome of an Execute with the same ID.
// State is an opaque JSON document describing the device's resulting state.
type ExecuteResponseFrame struct {
	ID     uint32
	Status Status
	State  json.RawMessage
}

func (ExecuteResponseFrame) Opcode() Opcode { return OpcodeExecuteResponse }
