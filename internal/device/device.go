// Package device is the device-side counterpart of the broker: it dials the
// websocket endpoint, authenticates, and answers command frames through a
// Handler. Production firmware speaks the same protocol; this package powers
// the simulator command and integration tests.
package device

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"beacon/internal/logger"
	"beacon/internal/proto"
)

// Handler executes one command on the device and returns the outcome plus the
// device's resulting state, which is serialized to JSON for the response frame.
type Handler interface {
	Handle(command proto.Command, params proto.Params) (proto.Status, any)
}

// Client is one device's connection to the broker.
type Client struct {
	brokerURL string
	deviceID  proto.DeviceID
	secret    string
	handler   Handler
	conn      *websocket.Conn
	logger    zerolog.Logger
}

// NewClient creates a device client for a broker at brokerURL
// (e.g. "http://localhost:8080"; http/https are rewritten to ws/wss).
func NewClient(brokerURL string, id proto.DeviceID, secret string, handler Handler) *Client {
	return &Client{
		brokerURL: brokerURL,
		deviceID:  id,
		secret:    secret,
		handler:   handler,
		logger:    logger.New().With().Str("device_id", id.String()).Logger(),
	}
}

// Connect dials the broker, authenticates, and waits for the CONNACK.
func (c *Client) Connect(ctx context.Context) error {
	wsURL := toWebsocketURL(c.brokerURL) + "/ws"

	credentials := base64.StdEncoding.EncodeToString(
		[]byte(c.deviceID.String() + ":" + c.secret))
	header := http.Header{"Authorization": []string{"Basic " + credentials}}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("broker rejected credentials: %w", err)
		}
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	c.conn = conn

	frame, err := c.readFrame()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read CONNACK: %w", err)
	}
	ack, ok := frame.(proto.ConnACKFrame)
	if !ok {
		conn.Close()
		return fmt.Errorf("expected CONNACK, got %s", frame.Opcode())
	}
	if ack.Code != proto.ResponseAccepted {
		conn.Close()
		return fmt.Errorf("broker refused connection: code 0x%02x", byte(ack.Code))
	}

	c.logger.Info().Str("broker", c.brokerURL).Msg("Connected to broker")
	return nil
}

// Run answers command frames until the connection closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if c.conn == nil {
		return errors.New("not connected")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	for {
		frame, err := c.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		execute, ok := frame.(proto.ExecuteFrame)
		if !ok {
			c.logger.Debug().Str("opcode", frame.Opcode().String()).Msg("Ignoring frame")
			continue
		}

		status, state := c.handler.Handle(execute.Command, execute.Params)
		stateJSON, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal device state: %w", err)
		}

		if err := c.writeFrame(proto.ExecuteResponseFrame{
			ID:     execute.ID,
			Status: status,
			State:  stateJSON,
		}); err != nil {
			return fmt.Errorf("failed to send response: %w", err)
		}

		c.logger.Debug().
			Uint32("correlation_id", execute.ID).
			Str("command", execute.Command.String()).
			Str("status", status.String()).
			Msg("Command handled")
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// readFrame reads websocket messages until one complete frame is decoded.
// Device-bound frames are small, so a frame split across messages is the only
// case the loop has to cover.
func (c *Client) readFrame() (proto.Frame, error) {
	var buf []byte
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		buf = append(buf, data...)

		frame, _, err := proto.Decode(buf)
		if errors.Is(err, proto.ErrIncomplete) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return frame, nil
	}
}

func (c *Client) writeFrame(frame proto.Frame) error {
	encoded, err := proto.Encode(frame)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, encoded)
}

func toWebsocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
