// Package proto defines the binary wire protocol spoken between the broker
// and connected devices: frame types, opcodes, and the stream codec.
package proto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// IDSize is the length in bytes of device and client identifiers.
const IDSize = 16

// DeviceID identifies a physical device. It is an opaque token assigned at
// provisioning time; equality is by raw bytes and the canonical text form is
// lowercase hex.
type DeviceID [IDSize]byte

// ClientID identifies an API client. Structurally identical to DeviceID but a
// distinct type so the two namespaces cannot be mixed up.
type ClientID [IDSize]byte

// NewDeviceID generates a random device identifier.
func NewDeviceID() (DeviceID, error) {
	var id DeviceID
	if _, err := rand.Read(id[:]); err != nil {
		return DeviceID{}, fmt.Errorf("failed to generate device id: %w", err)
	}
	return id, nil
}

// ParseDeviceID parses the canonical lowercase hex form of a device ID.
func ParseDeviceID(s string) (DeviceID, error) {
	var id DeviceID
	b, err := hex.DecodeString(s)
	if err != nil {
		return DeviceID{}, fmt.Errorf("invalid device id: %w", err)
	}
	if len(b) != IDSize {
		return DeviceID{}, &InvalidSizeError{Expected: IDSize, Received: len(b)}
	}
	copy(id[:], b)
	return id, nil
}

func (id DeviceID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is the all-zero value, which is never assigned
// to a provisioned device.
func (id DeviceID) IsZero() bool {
	return id == DeviceID{}
}

// MarshalText implements encoding.TextMarshaler so IDs round-trip through JSON
// request bodies and log fields as hex strings.
func (id DeviceID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *DeviceID) UnmarshalText(text []byte) error {
	parsed, err := ParseDeviceID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewClientID generates a random client identifier.
func NewClientID() (ClientID, error) {
	var id ClientID
	if _, err := rand.Read(id[:]); err != nil {
		return ClientID{}, fmt.Errorf("failed to generate client id: %w", err)
	}
	return id, nil
}

// ParseClientID parses the canonical lowercase hex form of a client ID.
func ParseClientID(s string) (ClientID, error) {
	var id ClientID
	b, err := hex.DecodeString(s)
	if err != nil {
		return ClientID{}, fmt.Errorf("invalid client id: %w", err)
	}
	if len(b) != IDSize {
		return ClientID{}, &InvalidSizeError{Expected: IDSize, Received: len(b)}
	}
	copy(id[:], b)
	return id, nil
}

func (id ClientID) String() string {
	return hex.EncodeToString(id[:])
}

// InvalidSizeError reports a fixed-size field whose length does not match the
// advertised length. It is unrecoverable for the connection that produced it.
type InvalidSizeError struct {
	Expected int
	Received int
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("invalid size: expected %d bytes, received %d", e.Expected, e.Received)
}

// InvalidOpcodeError reports an opcode byte that matches no known frame kind.
// Decoding cannot resynchronize past it; the connection must be terminated.
type InvalidOpcodeError byte

func (e InvalidOpcodeError) Error() string {
	return fmt.Sprintf("invalid opcode: 0x%02x", byte(e))
}
