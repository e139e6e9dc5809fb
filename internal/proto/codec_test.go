package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func validFrames() []Frame {
	return []Frame{
		ConnectFrame{},
		ConnACKFrame{Code: ResponseAccepted},
		ConnACKFrame{Code: ResponseUnauthorized},
		ExecuteFrame{ID: 1, Command: CommandOnOff, Params: OnOffParams{On: true}},
		ExecuteFrame{ID: 7, Command: CommandBrightness, Params: BrightnessParams{Brightness: 40}},
		ExecuteFrame{ID: 42, Command: CommandOpenClose, Params: OpenCloseParams{OpenPercent: 80}},
		ExecuteFrame{ID: 9, Command: Command(0x7FFF), Params: RawParams(`{"speed":3}`)},
		ExecuteResponseFrame{ID: 1, Status: StatusSuccess, State: json.RawMessage(`{"on":true}`)},
		ExecuteResponseFrame{ID: 42, Status: StatusError, State: json.RawMessage(`{}`)},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, frame := range validFrames() {
		t.Run(frame.Opcode().String(), func(t *testing.T) {
			encoded, err := Encode(frame)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, n, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if n != len(encoded) {
				t.Errorf("Expected %d bytes consumed, got %d", len(encoded), n)
			}
			if !framesEqual(frame, decoded) {
				t.Errorf("Round trip mismatch: sent %#v, got %#v", frame, decoded)
			}
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	// Every proper prefix of a valid encoding must report ErrIncomplete,
	// consume nothing, and never panic.
	for _, frame := range validFrames() {
		encoded, err := Encode(frame)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}

		for cut := 0; cut < len(encoded); cut++ {
			decoded, n, err := Decode(encoded[:cut])
			if !errors.Is(err, ErrIncomplete) {
				t.Fatalf("Decode of %s truncated to %d bytes: expected ErrIncomplete, got frame=%v n=%d err=%v",
					frame.Opcode(), cut, decoded, n, err)
			}
			if n != 0 {
				t.Errorf("Truncated decode consumed %d bytes, expected 0", n)
			}
		}
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	for _, b := range []byte{0x00, 0x05, 0x7F, 0xFF} {
		_, _, err := Decode([]byte{b, 0x00, 0x00, 0x00})
		var opErr InvalidOpcodeError
		if !errors.As(err, &opErr) {
			t.Fatalf("Expected InvalidOpcodeError for 0x%02x, got %v", b, err)
		}
		if byte(opErr) != b {
			t.Errorf("Expected error to carry 0x%02x, got 0x%02x", b, byte(opErr))
		}
	}
}

func TestDecodeStream(t *testing.T) {
	// Several frames concatenated in one buffer decode in order, each
	// reporting its own length.
	frames := []Frame{
		ConnACKFrame{Code: ResponseAccepted},
		ExecuteFrame{ID: 3, Command: CommandOnOff, Params: OnOffParams{On: false}},
		ExecuteResponseFrame{ID: 3, Status: StatusSuccess, State: json.RawMessage(`{"on":false}`)},
	}

	var stream []byte
	for _, f := range frames {
		encoded, err := Encode(f)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		stream = append(stream, encoded...)
	}

	for i, want := range frames {
		got, n, err := Decode(stream)
		if err != nil {
			t.Fatalf("Decode of frame %d failed: %v", i, err)
		}
		if !framesEqual(want, got) {
			t.Errorf("Frame %d mismatch: want %#v, got %#v", i, want, got)
		}
		stream = stream[n:]
	}
	if len(stream) != 0 {
		t.Errorf("Expected empty buffer after decoding all frames, %d bytes left", len(stream))
	}
}

func TestDecodeBadParams(t *testing.T) {
	frame := ExecuteFrame{ID: 5, Command: CommandOnOff, Params: OnOffParams{On: true}}
	encoded, err := Encode(frame)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Corrupt the JSON params body while keeping the advertised length intact.
	for i := executeHeaderSize; i < len(encoded); i++ {
		encoded[i] = 0xC3
	}

	if _, _, err := Decode(encoded); err == nil {
		t.Fatal("Expected decode error for corrupt params body")
	}
}

func TestDecodeUnknownCommandFallsBack(t *testing.T) {
	frame := ExecuteFrame{ID: 11, Command: Command(0x9999), Params: RawParams(`{"mode":"eco"}`)}
	encoded, err := Encode(frame)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, _, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	execute, ok := decoded.(ExecuteFrame)
	if !ok {
		t.Fatalf("Expected ExecuteFrame, got %T", decoded)
	}
	raw, ok := execute.Params.(RawParams)
	if !ok {
		t.Fatalf("Expected RawParams fallback, got %T", execute.Params)
	}
	if !bytes.Equal(raw, []byte(`{"mode":"eco"}`)) {
		t.Errorf("Expected params carried verbatim, got %s", raw)
	}
}

// framesEqual compares frames structurally. RawParams and json.RawMessage are
// compared byte for byte.
func framesEqual(a, b Frame) bool {
	return reflect.DeepEqual(a, b)
}
