// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bmssim simulates the BMS side of the link: it broadcasts heartbeats,
// follows the VCU heartbeat mode and answers discharge requests.
package bmssim

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/bmslink/internal/log"
	"github.com/Thermoquad/bmslink/internal/vcu"
	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

// Config holds the simulated pack parameters
type Config struct {
	IDs             bmscan.IDs `mapstructure:"ids"`
	HeartbeatPeriod uint32     `mapstructure:"heartbeat-period"`
	InitialSOC      uint16     `mapstructure:"initial-soc"`

	// DrainPeriod is the number of ticks per 1% SOC lost while discharging.
	DrainPeriod uint32 `mapstructure:"drain-period"`

	// VCUTimeout drops back to standby when no VCU heartbeat arrives for this
	// many ticks. Zero disables the check.
	VCUTimeout uint32 `mapstructure:"vcu-timeout"`
}

func DefaultConfig() Config {
	return Config{
		IDs:             bmscan.DefaultIDs(),
		HeartbeatPeriod: vcu.DefaultHeartbeatPeriod,
		InitialSOC:      80,
		DrainPeriod:     2000,
		VCUTimeout:      3000,
	}
}

// Simulator is driven by Step from a single goroutine
type Simulator struct {
	cfg     Config
	t       vcu.Transport
	decoder *bmscan.Decoder
	sched   *vcu.Scheduler
	log     log.Logger

	state     bmscan.BMSState
	soc       uint16
	granted   bool
	vcuSeen   bool
	lastVCU   uint32
	lastDrain uint32
}

func New(cfg Config, t vcu.Transport, logger log.Logger) *Simulator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Simulator{
		cfg:     cfg,
		t:       t,
		decoder: bmscan.NewDecoder(cfg.IDs),
		sched:   vcu.NewScheduler(cfg.HeartbeatPeriod),
		log:     logger,
		state:   bmscan.BMSStateInit,
		soc:     cfg.InitialSOC,
	}
}

// State returns the simulated BMS state and SOC
func (s *Simulator) State() bmscan.BMSHeartbeat {
	return bmscan.BMSHeartbeat{State: s.state, SOCPercentage: s.soc}
}

// Run steps the simulator every millisecond until ctx is done
func (s *Simulator) Run(ctx context.Context, clock vcu.Clock) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if err := s.Step(clock.NowTicks()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Step drains inbound frames, advances the pack model and sends a heartbeat
// when one is due
func (s *Simulator) Step(now uint32) error {
	for {
		f, ok, err := s.t.Receive()
		if err != nil {
			return fmt.Errorf("bms receive: %w", err)
		}
		if !ok {
			break
		}
		if err := s.handle(now, s.decoder.Decode(f)); err != nil {
			return err
		}
	}

	if s.cfg.VCUTimeout > 0 && s.vcuSeen && now-s.lastVCU > s.cfg.VCUTimeout && s.state == bmscan.BMSStateDischarge {
		s.log.Warn("VCU heartbeat lost, leaving discharge")
		s.enter(bmscan.BMSStateStandby)
		s.granted = false
	}

	if s.state == bmscan.BMSStateDischarge && s.cfg.DrainPeriod > 0 && now-s.lastDrain > s.cfg.DrainPeriod {
		s.lastDrain = now
		if s.soc > 0 {
			s.soc--
		}
		if s.soc == 0 {
			s.enter(bmscan.BMSStateStandby)
			s.granted = false
		}
	}

	if s.sched.Due(now) {
		s.sched.Fire(now)
		if err := s.t.Transmit(bmscan.NewBMSHeartbeatFrame(s.cfg.IDs, s.State())); err != nil {
			return fmt.Errorf("bms heartbeat: %w", err)
		}
	}
	return nil
}

func (s *Simulator) handle(now uint32, msg bmscan.Message) error {
	switch msg.Kind {
	case bmscan.KindVCUHeartbeat:
		s.vcuSeen = true
		s.lastVCU = now
		switch {
		case s.state == bmscan.BMSStateInit:
			s.enter(bmscan.BMSStateStandby)
		case msg.VCUHeartbeat == bmscan.VCUHeartbeatDischarge && s.granted && s.state != bmscan.BMSStateDischarge:
			s.lastDrain = now
			s.enter(bmscan.BMSStateDischarge)
		case msg.VCUHeartbeat == bmscan.VCUHeartbeatStandby && s.state == bmscan.BMSStateDischarge:
			s.enter(bmscan.BMSStateStandby)
			s.granted = false
		}

	case bmscan.KindVCUDischargeRequest:
		if !msg.DischargeRequest {
			return nil
		}
		s.granted = s.soc > 0 && s.state != bmscan.BMSStateError && s.state != bmscan.BMSStateInit
		resp := bmscan.DischargeNotReady
		if s.granted {
			resp = bmscan.DischargeReady
		}
		s.log.Info("discharge request", "response", bmscan.DischargeResponseName(resp))
		if err := s.t.Transmit(bmscan.NewDischargeResponseFrame(s.cfg.IDs, resp)); err != nil {
			return fmt.Errorf("bms discharge response: %w", err)
		}
	}
	return nil
}

func (s *Simulator) enter(state bmscan.BMSState) {
	if s.state == state {
		return
	}
	s.log.Info("BMS state changed",
		"from", bmscan.BMSStateName(s.state), "to", bmscan.BMSStateName(state), "soc", s.soc)
	s.state = state
}
