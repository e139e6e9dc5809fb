package broker

import "errors"

// Dispatch errors surfaced verbatim to internal callers. Protocol and
// authentication failures never reach this taxonomy; they are handled at the
// connection and only show up upstream as a closed connection.
var (
	// ErrDeviceNotConnected means no session exists for the identity. The
	// caller may retry once the device reconnects.
	ErrDeviceNotConnected = errors.New("device not connected")

	// ErrBusy means a command is already in flight on the session. Callers
	// should retry with backoff.
	ErrBusy = errors.New("command already in flight")

	// ErrTimeout means the device did not answer within the configured bound.
	// The connection may still be healthy.
	ErrTimeout = errors.New("device did not respond in time")

	// ErrDisconnected means the connection dropped while the command was in
	// flight. Retry only after the device reconnects.
	ErrDisconnected = errors.New("device disconnected")
)
