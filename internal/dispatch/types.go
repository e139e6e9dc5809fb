// Package dispatch defines the internal command-dispatch API: the wire types
// shared by the broker's HTTP surface and the Go client other services use to
// invoke commands on a connected device.
package dispatch

import (
	"encoding/json"

	"beacon/internal/proto"
)

// ExecuteRequest asks the broker to run one command on a specific device.
type ExecuteRequest struct {
	DeviceID proto.DeviceID  `json:"device_id"`
	Command  string          `json:"command"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// ExecuteResponse carries the device's answer back to the caller.
type ExecuteResponse struct {
	Status string          `json:"status"`
	State  json.RawMessage `json:"state,omitempty"`
}

// ErrorResponse is the structured error body for failed dispatch calls.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Error codes used in ErrorResponse.Error. They mirror the broker's dispatch
// error taxonomy one to one.
const (
	ErrorCodeDeviceNotConnected = "device_not_connected"
	ErrorCodeBusy               = "busy"
	ErrorCodeTimeout            = "timeout"
	ErrorCodeDisconnected       = "disconnected"
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeUnauthorized       = "unauthorized"
	ErrorCodeInternal           = "internal"
)

// StatusResponse is returned by the broker status endpoint.
type StatusResponse struct {
	Status           string        `json:"status"`
	ConnectedDevices int           `json:"connected_devices"`
	Uptime           string        `json:"uptime"`
	Sessions         []SessionInfo `json:"sessions,omitempty"`
	Version          string        `json:"version"`
	Timestamp        string        `json:"timestamp"`
}

// SessionInfo describes one connected device in a status response.
type SessionInfo struct {
	DeviceID    proto.DeviceID `json:"device_id"`
	RemoteAddr  string         `json:"remote_addr"`
	ConnectedAt string         `json:"connected_at"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  string            `json:"timestamp"`
}
