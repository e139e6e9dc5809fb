package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"beacon/internal/dispatch"
	"beacon/internal/logger"
	"beacon/internal/proto"
	"beacon/internal/store"
)

// Version is reported by the status endpoint.
const Version = "0.2.0"

// Server is the broker's HTTP front door: it accepts device websocket
// connections on /ws and command-dispatch calls from internal services on
// /api/v1.
type Server struct {
	config     *Config
	store      *store.Store
	registry   *Registry
	tokens     *TokenValidator
	logger     zerolog.Logger
	httpServer *http.Server
	upgrader   websocket.Upgrader
	startTime  time.Time
}

// NewServer creates a broker server around a provisioning store.
func NewServer(config *Config, st *store.Store) *Server {
	s := &Server{
		config:   config,
		store:    st,
		registry: NewRegistry(),
		logger:   logger.New(),
		upgrader: websocket.Upgrader{
			// Devices are not browsers; the credential check below is the
			// real gate.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	if config.Security.RequireAuth {
		s.tokens = NewTokenValidator(config.Security.JWT.SecretKey, config.Security.JWT.Issuer)
	}

	return s
}

// Registry exposes the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Handler builds the broker's HTTP handler. Split out from Start so tests can
// mount it on an httptest server.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	// Device-facing websocket endpoint. Devices authenticate with basic
	// credentials, not bearer tokens, so it sits outside requireAuth.
	router.HandleFunc("/ws", s.handleDeviceConnect).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.Handle("/execute", s.requireAuth(http.HandlerFunc(s.handleExecute))).Methods("POST")
	api.Handle("/broker/status", s.requireAuth(http.HandlerFunc(s.handleStatus))).Methods("GET")
	api.Handle("/devices", s.requireAuth(http.HandlerFunc(s.handleListDevices))).Methods("GET")

	return router
}

// Start runs the HTTP server until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Server.Address,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout(),
		WriteTimeout: s.config.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().
		Str("address", s.config.Server.Address).
		Bool("require_auth", s.config.Security.RequireAuth).
		Msg("Starting broker server")

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP listener down and tears down every device session.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping broker server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.registry.Close()
	return err
}

// handleDeviceConnect authenticates an inbound device connection and, on
// success, upgrades it and registers a session. Credentials are checked before
// the upgrade: unauthenticated bytes are never decoded as protocol frames.
func (s *Server) handleDeviceConnect(w http.ResponseWriter, r *http.Request) {
	idText, secret, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="beacon"`)
		http.Error(w, "device credentials required", http.StatusUnauthorized)
		return
	}

	deviceID, err := proto.ParseDeviceID(idText)
	if err != nil {
		s.logger.Warn().Str("device_id", idText).Err(err).Msg("Malformed device id in connect")
		http.Error(w, "malformed device id", http.StatusUnauthorized)
		return
	}

	valid, err := s.store.VerifySecret(deviceID, secret)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			s.logger.Warn().Str("device_id", idText).Msg("Connect from unknown device")
			http.Error(w, "unknown device", http.StatusUnauthorized)
			return
		}
		s.logger.Error().Err(err).Msg("Credential check failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !valid {
		s.logger.Warn().Str("device_id", idText).Msg("Connect with wrong secret")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	session := newSession(deviceID, r.RemoteAddr, conn, s.registry, s.config.ExecuteTimeout())
	s.registry.Register(session)

	if err := session.sendFrame(proto.ConnACKFrame{Code: proto.ResponseAccepted}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send CONNACK")
		session.teardown()
		return
	}

	if err := s.store.TouchDevice(deviceID); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record device connection time")
	}

	s.logger.Info().
		Str("device_id", deviceID.String()).
		Str("remote_addr", r.RemoteAddr).
		Msg("Device connected")

	go session.readLoop()
}

// handleExecute routes a command to the device's session and relays its
// answer. Dispatch errors map one to one onto the structured error body.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var request dispatch.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeError(w, http.StatusBadRequest, dispatch.ErrorCodeInvalidRequest, err.Error())
		return
	}
	if request.DeviceID.IsZero() {
		s.writeError(w, http.StatusBadRequest, dispatch.ErrorCodeInvalidRequest, "device_id is required")
		return
	}

	command, err := proto.ParseCommand(request.Command)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, dispatch.ErrorCodeInvalidRequest, err.Error())
		return
	}

	params, err := proto.DecodeParams(command, request.Params)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, dispatch.ErrorCodeInvalidRequest, err.Error())
		return
	}

	session, ok := s.registry.Lookup(request.DeviceID)
	if !ok {
		s.writeError(w, http.StatusNotFound, dispatch.ErrorCodeDeviceNotConnected, ErrDeviceNotConnected.Error())
		return
	}

	result, err := session.Execute(r.Context(), proto.ExecuteFrame{
		Command: command,
		Params:  params,
	})
	if err != nil {
		status, code := dispatchErrorStatus(err)
		s.writeError(w, status, code, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, dispatch.ExecuteResponse{
		Status: result.Status.String(),
		State:  result.State,
	})
}

// handleStatus reports broker uptime and the connected-device table.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.registry.Snapshot()
	sessions := make([]dispatch.SessionInfo, 0, len(snapshot))
	for _, info := range snapshot {
		sessions = append(sessions, dispatch.SessionInfo{
			DeviceID:    info.DeviceID,
			RemoteAddr:  info.RemoteAddr,
			ConnectedAt: info.ConnectedAt.UTC().Format(time.RFC3339),
		})
	}

	s.writeJSON(w, http.StatusOK, dispatch.StatusResponse{
		Status:           "ok",
		ConnectedDevices: len(sessions),
		Uptime:           time.Since(s.startTime).Round(time.Second).String(),
		Sessions:         sessions,
		Version:          Version,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListDevices returns every provisioned device with its connection state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list devices")
		s.writeError(w, http.StatusInternalServerError, dispatch.ErrorCodeInternal, "failed to list devices")
		return
	}

	type deviceEntry struct {
		store.Device
		Connected bool `json:"connected"`
	}

	entries := make([]deviceEntry, 0, len(devices))
	for _, device := range devices {
		_, connected := s.registry.Lookup(device.ID)
		entries = append(entries, deviceEntry{Device: device, Connected: connected})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"devices": entries})
}

// handleHealth reports component health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"registry": "healthy",
		"database": "healthy",
	}
	status := "healthy"

	if _, err := s.store.ListDevices(); err != nil {
		components["database"] = "unhealthy"
		status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, dispatch.HealthResponse{
		Status:     status,
		Components: components,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// dispatchErrorStatus maps a dispatch error onto an HTTP status and the
// external error code.
func dispatchErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrDeviceNotConnected):
		return http.StatusNotFound, dispatch.ErrorCodeDeviceNotConnected
	case errors.Is(err, ErrBusy):
		return http.StatusConflict, dispatch.ErrorCodeBusy
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout, dispatch.ErrorCodeTimeout
	case errors.Is(err, ErrDisconnected):
		return http.StatusBadGateway, dispatch.ErrorCodeDisconnected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, dispatch.ErrorCodeTimeout
	default:
		return http.StatusInternalServerError, dispatch.ErrorCodeInternal
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, dispatch.ErrorResponse{Error: code, Message: message})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs every API request with a correlation id.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket handler hijacks the connection; wrapping its writer
		// breaks the upgrade.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		requestID := uuid.New().String()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}
