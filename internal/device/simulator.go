package device

import (
	"sync"

	"beacon/internal/proto"
)

// Simulator is a Handler that models a simple light-with-blinds fixture. It
// keeps its state in memory and echoes it back after every command.
type Simulator struct {
	mu          sync.Mutex
	on          bool
	brightness  int
	openPercent int
}

// SimulatorState is the state document the simulator reports.
type SimulatorState struct {
	On          bool `json:"on"`
	Brightness  int  `json:"brightness"`
	OpenPercent int  `json:"openPercent"`
}

// NewSimulator creates a simulator that starts switched off.
func NewSimulator() *Simulator {
	return &Simulator{brightness: 100}
}

// Handle implements Handler.
func (s *Simulator) Handle(command proto.Command, params proto.Params) (proto.Status, any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p := params.(type) {
	case proto.OnOffParams:
		s.on = p.On
	case proto.BrightnessParams:
		if p.Brightness < 0 || p.Brightness > 100 {
			return proto.StatusError, s.stateLocked()
		}
		s.brightness = p.Brightness
	case proto.OpenCloseParams:
		if p.OpenPercent < 0 || p.OpenPercent > 100 {
			return proto.StatusError, s.stateLocked()
		}
		s.openPercent = p.OpenPercent
	default:
		return proto.StatusError, s.stateLocked()
	}

	return proto.StatusSuccess, s.stateLocked()
}

// State returns a snapshot of the simulator's state.
func (s *Simulator) State() SimulatorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Simulator) stateLocked() SimulatorState {
	return SimulatorState{
		On:          s.on,
		Brightness:  s.brightness,
		OpenPercent: s.openPercent,
	}
}
