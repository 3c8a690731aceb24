// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vcu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

// Transport is the CAN peripheral as seen by the control loop
type Transport interface {
	// Receive returns the next pending frame without blocking. ok is false
	// when no frame is waiting.
	Receive() (f bmscan.Frame, ok bool, err error)

	// Transmit queues a frame for sending. A peripheral fault is reported as
	// a FaultCode.
	Transmit(f bmscan.Frame) error

	// ErrorStatus returns the peripheral error register, zero when healthy.
	ErrorStatus() uint32

	// Reset reinitializes the peripheral after a fault.
	Reset() error
}

// Clock returns milliseconds since start. It wraps at 2^32.
type Clock interface {
	NowTicks() uint32
}

// CharInput delivers operator key presses
type CharInput interface {
	// PollChar returns immediately; ok is false when nothing was typed.
	PollChar() (c byte, ok bool)

	// ReadChar blocks until a key arrives or ctx is done.
	ReadChar(ctx context.Context) (byte, error)
}

// Sink receives operator-visible diagnostics
type Sink interface {
	Println(line string)
}

// FaultCode is a non-zero CAN peripheral error code
type FaultCode uint32

// FaultUnknown is reported for transport errors that carry no code
const FaultUnknown FaultCode = 0xFFFFFFFF

func (c FaultCode) Error() string {
	return fmt.Sprintf("CAN fault 0x%X", uint32(c))
}

// FaultCodeOf extracts the fault code carried by err
func FaultCodeOf(err error) FaultCode {
	var code FaultCode
	if errors.As(err, &code) && code != 0 {
		return code
	}
	return FaultUnknown
}

// SystemClock counts milliseconds since it was created
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) NowTicks() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// WriterSink writes each line to w followed by the line ending
type WriterSink struct {
	mu         sync.Mutex
	w          io.Writer
	lineEnding string
}

// NewWriterSink creates a sink. Raw-mode terminals need "\r\n".
func NewWriterSink(w io.Writer, lineEnding string) *WriterSink {
	if lineEnding == "" {
		lineEnding = "\n"
	}
	return &WriterSink{w: w, lineEnding: lineEnding}
}

func (s *WriterSink) Println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, line, s.lineEnding)
}

// KeyQueue is a channel-backed CharInput fed by a terminal reader or the TUI
type KeyQueue struct {
	ch chan byte
}

func NewKeyQueue(size int) *KeyQueue {
	if size <= 0 {
		size = 16
	}
	return &KeyQueue{ch: make(chan byte, size)}
}

// Push enqueues a key, dropping it if the queue is full
func (q *KeyQueue) Push(c byte) bool {
	select {
	case q.ch <- c:
		return true
	default:
		return false
	}
}

func (q *KeyQueue) PollChar() (byte, bool) {
	select {
	case c := <-q.ch:
		return c, true
	default:
		return 0, false
	}
}

func (q *KeyQueue) ReadChar(ctx context.Context) (byte, error) {
	select {
	case c := <-q.ch:
		return c, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
