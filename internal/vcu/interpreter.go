// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vcu

import (
	"context"
	"fmt"
)

// Operator keys
const (
	KeyConfigureHeartbeat = 'v'
	KeySendDischarge      = 'd'
	KeyHelp               = 'h'

	KeyHeartbeatStandby   = 's'
	KeyHeartbeatDischarge = 'd'
	KeyHeartbeatNone      = 'n'
)

const (
	msgHelp                 = "Enter 'v' to configure VCU heartbeat. Enter 'd' to send discharge request."
	msgConfigureHelp        = "Enter 's' to send VCU heartbeats with Standby state.\r\nEnter 'd' to send VCU heartbeats with Discharge state.\r\nEnter 'n' to stop sending VCU heartbeats."
	msgHeartbeatStandby     = "Sending VCU heartbeat with Stanby state"
	msgHeartbeatDischarge   = "Sending VCU heartbeat with Discharge state"
	msgHeartbeatNone        = "Not sending VCU heartbeat"
	msgUnrecognizedSubKey   = "Unrecognized key. Please enter 's', 'd', or 'n'."
	msgUnrecognizedKey      = "unrecognized key"
	msgSentDischargeRequest = "Sent discharge request"
)

// Action is what the interpreter asks the controller to do
type Action int

const (
	ActionNone Action = iota
	ActionSetMode
	ActionDischargeRequest
)

// Command is the result of one interpreter poll
type Command struct {
	Action Action
	Mode   Mode
}

// Interpreter maps single-character operator input to commands. The top
// level key is polled; the heartbeat sub-menu key is read blocking.
type Interpreter struct {
	in  CharInput
	out Sink
}

func NewInterpreter(in CharInput, out Sink) *Interpreter {
	return &Interpreter{in: in, out: out}
}

// Poll handles at most one top-level key. It only returns an error when the
// blocking sub-menu read is interrupted.
func (i *Interpreter) Poll(ctx context.Context) (Command, error) {
	c, ok := i.in.PollChar()
	if !ok {
		return Command{}, nil
	}
	i.echo(c)

	switch c {
	case KeyConfigureHeartbeat:
		i.out.Println(msgConfigureHelp)
		sub, err := i.in.ReadChar(ctx)
		if err != nil {
			return Command{}, fmt.Errorf("read heartbeat mode key: %w", err)
		}
		i.echo(sub)
		return i.configure(sub), nil

	case KeySendDischarge:
		return Command{Action: ActionDischargeRequest}, nil

	case KeyHelp:
		i.out.Println(msgHelp)

	default:
		i.out.Println(msgUnrecognizedKey)
	}

	return Command{}, nil
}

func (i *Interpreter) configure(c byte) Command {
	switch c {
	case KeyHeartbeatStandby:
		i.out.Println(msgHeartbeatStandby)
		return Command{Action: ActionSetMode, Mode: ModeStandby}
	case KeyHeartbeatDischarge:
		i.out.Println(msgHeartbeatDischarge)
		return Command{Action: ActionSetMode, Mode: ModeDischarge}
	case KeyHeartbeatNone:
		i.out.Println(msgHeartbeatNone)
		return Command{Action: ActionSetMode, Mode: ModeNone}
	default:
		i.out.Println(msgUnrecognizedSubKey)
		return Command{}
	}
}

func (i *Interpreter) echo(c byte) {
	i.out.Println(string(rune(c)))
}
