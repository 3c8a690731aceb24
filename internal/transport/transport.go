// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides CAN transports for the VCU control loop: an
// in-memory loopback pair, SLCAN over a serial or WebSocket byte stream, and
// Linux SocketCAN.
package transport

import (
	"errors"
	"io"

	"github.com/Thermoquad/bmslink/internal/vcu"
)

// ErrClosed is returned after a transport has been closed
var ErrClosed = errors.New("transport closed")

// DefaultQueueSize is the receive buffer depth of device-backed transports
const DefaultQueueSize = 64

// Transport is a closable vcu.Transport
type Transport interface {
	vcu.Transport
	io.Closer
}
