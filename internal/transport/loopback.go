// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"sync"
	"sync/atomic"

	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

// Loopback is one end of an in-memory CAN link. Frames transmitted on one
// end are received on the peer.
type Loopback struct {
	rx     chan bmscan.Frame
	peer   *Loopback
	status atomic.Uint32
	resets atomic.Int32

	mu     sync.Mutex
	closed bool
}

// NewLoopbackPair returns two connected endpoints
func NewLoopbackPair(queueSize int) (*Loopback, *Loopback) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	a := &Loopback{rx: make(chan bmscan.Frame, queueSize)}
	b := &Loopback{rx: make(chan bmscan.Frame, queueSize)}
	a.peer, b.peer = b, a
	return a, b
}

func (l *Loopback) Receive() (bmscan.Frame, bool, error) {
	select {
	case f, ok := <-l.rx:
		if !ok {
			return bmscan.Frame{}, false, ErrClosed
		}
		return f, true, nil
	default:
		if l.isClosed() {
			return bmscan.Frame{}, false, ErrClosed
		}
		return bmscan.Frame{}, false, nil
	}
}

// Transmit delivers f to the peer. A full peer queue drops the frame, as a
// bus would when nobody acknowledges it.
func (l *Loopback) Transmit(f bmscan.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if l.isClosed() {
		return ErrClosed
	}

	l.peer.mu.Lock()
	defer l.peer.mu.Unlock()
	if l.peer.closed {
		return ErrClosed
	}
	select {
	case l.peer.rx <- f:
	default:
	}
	return nil
}

func (l *Loopback) ErrorStatus() uint32 {
	return l.status.Load()
}

// SetErrorStatus injects a peripheral error code, cleared by Reset
func (l *Loopback) SetErrorStatus(code uint32) {
	l.status.Store(code)
}

func (l *Loopback) Reset() error {
	l.status.Store(0)
	l.resets.Add(1)
	return nil
}

// Resets returns how many times Reset was called
func (l *Loopback) Resets() int {
	return int(l.resets.Load())
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.rx)
	return nil
}

func (l *Loopback) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
