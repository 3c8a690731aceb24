// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vcu

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/Thermoquad/bmslink/internal/log"
	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

// Mode selects the content of outgoing VCU heartbeats
type Mode int

const (
	ModeStandby Mode = iota
	ModeDischarge
	// ModeNone suppresses heartbeat transmission entirely.
	ModeNone
)

var modeNames = map[Mode]string{
	ModeStandby:   "standby",
	ModeDischarge: "discharge",
	ModeNone:      "none",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a mode name back to a Mode
func ParseMode(name string) (Mode, error) {
	for m, n := range modeNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown heartbeat mode %q", name)
}

// StateMachine tracks the operator-selected heartbeat mode. Every mode is
// reachable from every other mode.
type StateMachine struct {
	fsm *fsm.FSM
	log log.Logger
}

// NewStateMachine creates a state machine in the initial mode
func NewStateMachine(initial Mode, logger log.Logger) *StateMachine {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &StateMachine{log: logger}

	all := []string{ModeStandby.String(), ModeDischarge.String(), ModeNone.String()}
	events := fsm.Events{
		{Name: ModeStandby.String(), Src: all, Dst: ModeStandby.String()},
		{Name: ModeDischarge.String(), Src: all, Dst: ModeDischarge.String()},
		{Name: ModeNone.String(), Src: all, Dst: ModeNone.String()},
	}

	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			s.log.Info("heartbeat mode changed", "from", e.Src, "to", e.Dst)
		},
	}

	s.fsm = fsm.NewFSM(initial.String(), events, callbacks)
	return s
}

// Mode returns the current mode
func (s *StateMachine) Mode() Mode {
	m, err := ParseMode(s.fsm.Current())
	if err != nil {
		return ModeNone
	}
	return m
}

// Set moves to mode m. Selecting the current mode is not an error.
func (s *StateMachine) Set(ctx context.Context, m Mode) error {
	if _, ok := modeNames[m]; !ok {
		return fmt.Errorf("unknown heartbeat mode %d", int(m))
	}
	err := s.fsm.Event(ctx, m.String())
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return fmt.Errorf("set heartbeat mode %s: %w", m, err)
	}
	return nil
}

// HeartbeatState maps the mode to the heartbeat tag; ok is false for ModeNone
func (s *StateMachine) HeartbeatState() (bmscan.VCUHeartbeatState, bool) {
	switch s.Mode() {
	case ModeStandby:
		return bmscan.VCUHeartbeatStandby, true
	case ModeDischarge:
		return bmscan.VCUHeartbeatDischarge, true
	default:
		return 0, false
	}
}

// Render returns the one-byte heartbeat payload; ok is false when no
// heartbeat should be sent
func (s *StateMachine) Render() (byte, bool) {
	state, ok := s.HeartbeatState()
	if !ok {
		return 0, false
	}
	return bmscan.EncodeHeartbeatCommand(state), true
}
