package device

import (
	"testing"

	"beacon/internal/proto"
)

func TestSimulatorHandle(t *testing.T) {
	tests := []struct {
		name       string
		command    proto.Command
		params     proto.Params
		wantStatus proto.Status
		wantState  SimulatorState
	}{
		{
			name:       "TurnOn",
			command:    proto.CommandOnOff,
			params:     proto.OnOffParams{On: true},
			wantStatus: proto.StatusSuccess,
			wantState:  SimulatorState{On: true, Brightness: 100},
		},
		{
			name:       "SetBrightness",
			command:    proto.CommandBrightness,
			params:     proto.BrightnessParams{Brightness: 25},
			wantStatus: proto.StatusSuccess,
			wantState:  SimulatorState{Brightness: 25},
		},
		{
			name:       "BrightnessOutOfRange",
			command:    proto.CommandBrightness,
			params:     proto.BrightnessParams{Brightness: 150},
			wantStatus: proto.StatusError,
			wantState:  SimulatorState{Brightness: 100},
		},
		{
			name:       "OpenBlinds",
			command:    proto.CommandOpenClose,
			params:     proto.OpenCloseParams{OpenPercent: 60},
			wantStatus: proto.StatusSuccess,
			wantState:  SimulatorState{Brightness: 100, OpenPercent: 60},
		},
		{
			name:       "NegativeOpenPercent",
			command:    proto.CommandOpenClose,
			params:     proto.OpenCloseParams{OpenPercent: -1},
			wantStatus: proto.StatusError,
			wantState:  SimulatorState{Brightness: 100},
		},
		{
			name:       "UnknownParams",
			command:    proto.Command(0x0FFF),
			params:     proto.RawParams(`{"defrost":true}`),
			wantStatus: proto.StatusError,
			wantState:  SimulatorState{Brightness: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			simulator := NewSimulator()
			status, state := simulator.Handle(tt.command, tt.params)
			if status != tt.wantStatus {
				t.Errorf("Expected status %v, got %v", tt.wantStatus, status)
			}
			if state != tt.wantState {
				t.Errorf("Expected state %+v, got %+v", tt.wantState, state)
			}
			if simulator.State() != tt.wantState {
				t.Errorf("Expected snapshot %+v, got %+v", tt.wantState, simulator.State())
			}
		})
	}
}

func TestSimulatorAccumulatesState(t *testing.T) {
	simulator := NewSimulator()

	simulator.Handle(proto.CommandOnOff, proto.OnOffParams{On: true})
	simulator.Handle(proto.CommandBrightness, proto.BrightnessParams{Brightness: 40})
	simulator.Handle(proto.CommandOpenClose, proto.OpenCloseParams{OpenPercent: 80})

	want := SimulatorState{On: true, Brightness: 40, OpenPercent: 80}
	if got := simulator.State(); got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}
