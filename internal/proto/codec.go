package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrIncomplete signals that the buffer holds only a prefix of a frame.
// The caller should read more bytes and decode again; it is not a failure.
var ErrIncomplete = errors.New("incomplete frame")

// Header layouts. Every frame begins with a one-byte opcode, and any
// variable-length section announces its length before it starts, so a decoder
// can always tell how many bytes it still needs from what it already has.
const (
	connectFrameSize = 1
	connACKFrameSize = 2

	// opcode + correlation id + command + params length
	executeHeaderSize = 1 + 4 + 2 + 2
	// opcode + correlation id + status + state length
	executeResponseHeaderSize = 1 + 4 + 1 + 2
)

// Encode serializes a frame to its wire representation, appending nothing
// beyond the frame itself. It fails only when a params body cannot be
// serialized, which cannot happen for the typed variants.
func Encode(f Frame) ([]byte, error) {
	switch frame := f.(type) {
	case ConnectFrame:
		return []byte{byte(OpcodeConnect)}, nil

	case ConnACKFrame:
		return []byte{byte(OpcodeConnACK), byte(frame.Code)}, nil

	case ExecuteFrame:
		body, err := encodeParams(frame.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s params: %w", frame.Command, err)
		}
		if len(body) > 0xFFFF {
			return nil, &InvalidSizeError{Expected: 0xFFFF, Received: len(body)}
		}
		buf := make([]byte, executeHeaderSize, executeHeaderSize+len(body))
		buf[0] = byte(OpcodeExecute)
		binary.BigEndian.PutUint32(buf[1:5], frame.ID)
		binary.BigEndian.PutUint16(buf[5:7], uint16(frame.Command))
		binary.BigEndian.PutUint16(buf[7:9], uint16(len(body)))
		return append(buf, body...), nil

	case ExecuteResponseFrame:
		if len(frame.State) > 0xFFFF {
			return nil, &InvalidSizeError{Expected: 0xFFFF, Received: len(frame.State)}
		}
		buf := make([]byte, executeResponseHeaderSize, executeResponseHeaderSize+len(frame.State))
		buf[0] = byte(OpcodeExecuteResponse)
		binary.BigEndian.PutUint32(buf[1:5], frame.ID)
		buf[5] = byte(frame.Status)
		binary.BigEndian.PutUint16(buf[6:8], uint16(len(frame.State)))
		return append(buf, frame.State...), nil

	default:
		return nil, fmt.Errorf("unknown frame type %T", f)
	}
}

// Decode parses the first frame out of buf and returns it together with the
// number of bytes consumed. It never blocks and never consumes on failure:
// ErrIncomplete means feed more bytes and retry with the grown buffer, any
// other error means the stream is out of protocol and the connection must be
// torn down.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrIncomplete
	}

	switch Opcode(buf[0]) {
	case OpcodeConnect:
		return ConnectFrame{}, connectFrameSize, nil

	case OpcodeConnACK:
		if len(buf) < connACKFrameSize {
			return nil, 0, ErrIncomplete
		}
		return ConnACKFrame{Code: ResponseCode(buf[1])}, connACKFrameSize, nil

	case OpcodeExecute:
		if len(buf) < executeHeaderSize {
			return nil, 0, ErrIncomplete
		}
		bodyLen := int(binary.BigEndian.Uint16(buf[7:9]))
		total := executeHeaderSize + bodyLen
		if len(buf) < total {
			return nil, 0, ErrIncomplete
		}
		cmd := Command(binary.BigEndian.Uint16(buf[5:7]))
		params, err := DecodeParams(cmd, buf[executeHeaderSize:total])
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode execute frame: %w", err)
		}
		return ExecuteFrame{
			ID:      binary.BigEndian.Uint32(buf[1:5]),
			Command: cmd,
			Params:  params,
		}, total, nil

	case OpcodeExecuteResponse:
		if len(buf) < executeResponseHeaderSize {
			return nil, 0, ErrIncomplete
		}
		stateLen := int(binary.BigEndian.Uint16(buf[6:8]))
		total := executeResponseHeaderSize + stateLen
		if len(buf) < total {
			return nil, 0, ErrIncomplete
		}
		state := make([]byte, stateLen)
		copy(state, buf[executeResponseHeaderSize:total])
		return ExecuteResponseFrame{
			ID:     binary.BigEndian.Uint32(buf[1:5]),
			Status: Status(buf[5]),
			State:  state,
		}, total, nil

	default:
		return nil, 0, InvalidOpcodeError(buf[0])
	}
}
