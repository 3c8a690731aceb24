// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vcu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/bmslink/internal/log"
	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

const (
	msgStartedUp     = "Started up"
	msgStartupHelp   = "Enter 'h' for help"
	msgResetting     = "Attempting to reset CAN peripheral..."
	msgResetDone     = "Reset CAN peripheral."
	msgUnexpectedBMS = "Unexpected BMS State. You should never reach here"
	msgUnrecognized  = "Unrecognized CAN message"
)

// DefaultIdleInterval is the pause between loop iterations
const DefaultIdleInterval = time.Millisecond

// Config holds the tunables of the control loop
type Config struct {
	IDs             bmscan.IDs    `mapstructure:"ids"`
	HeartbeatPeriod uint32        `mapstructure:"heartbeat-period"`
	IdleInterval    time.Duration `mapstructure:"idle-interval"`
	InitialMode     Mode          `mapstructure:"-"`
}

// DefaultConfig returns the firmware defaults
func DefaultConfig() Config {
	return Config{
		IDs:             bmscan.DefaultIDs(),
		HeartbeatPeriod: DefaultHeartbeatPeriod,
		IdleInterval:    DefaultIdleInterval,
		InitialMode:     ModeStandby,
	}
}

// EventKind identifies what happened inside the loop
type EventKind int

const (
	EventFrameReceived EventKind = iota
	EventFrameSent
	EventModeChanged
	EventFault
	EventReset
)

// Event is published to the Observer after the loop acts
type Event struct {
	Kind EventKind
	Time time.Time

	// Set for EventFrameReceived.
	Message   bmscan.Message
	Anomalies []bmscan.ValidationError

	// Set for EventFrameSent.
	Frame bmscan.Frame

	// Set for EventModeChanged.
	Mode Mode

	// Set for EventFault.
	Fault FaultCode
}

// Observer follows the control loop without sharing its state
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans an event out to several observers
type Observers []Observer

func (o Observers) OnEvent(e Event) {
	for _, obs := range o {
		obs.OnEvent(e)
	}
}

// Option configures a Controller
type Option func(*Controller)

func WithLogger(l log.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// Controller owns the control loop context: heartbeat mode, scheduler and
// the pending reset request. Exactly one goroutine may call Step.
type Controller struct {
	cfg       Config
	transport Transport
	clock     Clock
	out       Sink
	interp    *Interpreter
	decoder   *bmscan.Decoder
	mode      *StateMachine
	sched     *Scheduler
	log       log.Logger
	observer  Observer

	resetRequested bool
}

// NewController wires the loop to its collaborators
func NewController(cfg Config, t Transport, clk Clock, in CharInput, out Sink, opts ...Option) *Controller {
	if cfg.IdleInterval < 0 {
		cfg.IdleInterval = 0
	}

	c := &Controller{
		cfg:       cfg,
		transport: t,
		clock:     clk,
		out:       out,
		interp:    NewInterpreter(in, out),
		decoder:   bmscan.NewDecoder(cfg.IDs),
		sched:     NewScheduler(cfg.HeartbeatPeriod),
		log:       log.NewNopLogger(),
		observer:  ObserverFunc(func(Event) {}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mode = NewStateMachine(cfg.InitialMode, c.log.WithName("mode"))
	return c
}

// Mode returns the current heartbeat mode
func (c *Controller) Mode() Mode {
	return c.mode.Mode()
}

// ResetRequested reports whether a peripheral reset is pending
func (c *Controller) ResetRequested() bool {
	return c.resetRequested
}

// Scheduler exposes the heartbeat scheduler
func (c *Controller) Scheduler() *Scheduler {
	return c.sched
}

// Run prints the startup banner and steps the loop until ctx is done
func (c *Controller) Run(ctx context.Context) error {
	c.out.Println(msgStartedUp)
	c.out.Println(msgStartupHelp)
	c.log.Info("control loop started",
		"heartbeat_period", c.sched.Period(), "mode", c.Mode().String())

	var idle <-chan time.Time
	if c.cfg.IdleInterval > 0 {
		ticker := time.NewTicker(c.cfg.IdleInterval)
		defer ticker.Stop()
		idle = ticker.C
	}

	for {
		if err := c.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		if idle == nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-idle:
		}
	}
}

// Step runs one loop iteration: pending reset, fault check, inbound frame,
// operator input, heartbeat. The order is fixed because the heartbeat payload
// depends on a mode change made by this same iteration.
func (c *Controller) Step(ctx context.Context) error {
	if c.resetRequested {
		c.resetPeripheral()
	}

	c.checkErrorStatus()
	c.processInbound()

	cmd, err := c.interp.Poll(ctx)
	if err != nil {
		return err
	}
	if err := c.apply(ctx, cmd); err != nil {
		return err
	}

	c.processHeartbeat()
	return nil
}

func (c *Controller) resetPeripheral() {
	c.out.Println(msgResetting)
	if err := c.transport.Reset(); err != nil {
		// Flag stays set; retried next iteration.
		c.log.Error(err, "CAN peripheral reset failed")
		return
	}
	c.out.Println(msgResetDone)
	c.resetRequested = false
	c.log.Info("CAN peripheral reset")
	c.publish(Event{Kind: EventReset})
}

func (c *Controller) checkErrorStatus() {
	if status := c.transport.ErrorStatus(); status != 0 {
		c.fault(FaultCode(status), nil)
	}
}

func (c *Controller) fault(code FaultCode, err error) {
	c.out.Println(fmt.Sprintf("CAN Error: %x    Will attempt to reset CAN peripheral.", uint32(code)))
	c.resetRequested = true
	c.log.Warn("CAN fault", "code", fmt.Sprintf("0x%X", uint32(code)), "cause", err)
	c.publish(Event{Kind: EventFault, Fault: code})
}

func (c *Controller) processInbound() {
	f, ok, err := c.transport.Receive()
	if err != nil {
		c.fault(FaultCodeOf(err), err)
		return
	}
	if !ok {
		return
	}

	msg := c.decoder.Decode(f)
	anomalies := bmscan.ValidateMessage(msg)
	for _, a := range anomalies {
		c.log.Debug("frame anomaly", "frame", f, "anomaly", a.Message)
	}

	c.out.Println(describe(msg))
	c.publish(Event{Kind: EventFrameReceived, Message: msg, Anomalies: anomalies})
}

// describe renders the operator line for an inbound message
func describe(msg bmscan.Message) string {
	switch msg.Kind {
	case bmscan.KindBMSHeartbeat:
		hb := msg.Heartbeat
		if !hb.State.Valid() {
			return "BMS Heartbeat:    " + msgUnexpectedBMS
		}
		return fmt.Sprintf("BMS Heartbeat:    BMS State: %s    BMS SOC Percentage: %d",
			bmscan.BMSStateName(hb.State), hb.SOCPercentage)
	case bmscan.KindBMSDischargeResponse:
		return "BMS Discharge Response    " + bmscan.DischargeResponseName(msg.DischargeResponse.Response)
	case bmscan.KindBMSPackStatus:
		return "BMS Pack Status"
	case bmscan.KindBMSCellTemps:
		return "BMS Cell Temp"
	case bmscan.KindBMSErrors:
		return "BMS Errors"
	default:
		return msgUnrecognized
	}
}

func (c *Controller) apply(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case ActionSetMode:
		if err := c.mode.Set(ctx, cmd.Mode); err != nil {
			return err
		}
		c.publish(Event{Kind: EventModeChanged, Mode: cmd.Mode})
	case ActionDischargeRequest:
		c.transmit(bmscan.NewDischargeRequestFrame(c.cfg.IDs))
		c.out.Println(msgSentDischargeRequest)
	}
	return nil
}

func (c *Controller) processHeartbeat() {
	now := c.clock.NowTicks()
	if !c.sched.Due(now) {
		return
	}
	if state, ok := c.mode.HeartbeatState(); ok {
		c.transmit(bmscan.NewVCUHeartbeatFrame(c.cfg.IDs, state))
	}
	// The window restarts even when nothing was sent.
	c.sched.Fire(now)
}

func (c *Controller) transmit(f bmscan.Frame) {
	if err := c.transport.Transmit(f); err != nil {
		c.fault(FaultCodeOf(err), err)
	} else {
		c.publish(Event{Kind: EventFrameSent, Frame: f})
	}
	c.checkErrorStatus()
}

func (c *Controller) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	c.observer.OnEvent(e)
}
