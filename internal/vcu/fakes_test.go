// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vcu

import (
	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

// fakeTransport records transmitted frames and replays queued inbound frames
type fakeTransport struct {
	inbound []bmscan.Frame
	rxErr   error
	txErr   error
	status  uint32
	resets  int
	sent    []bmscan.Frame
}

func (t *fakeTransport) Receive() (bmscan.Frame, bool, error) {
	if t.rxErr != nil {
		err := t.rxErr
		t.rxErr = nil
		return bmscan.Frame{}, false, err
	}
	if len(t.inbound) == 0 {
		return bmscan.Frame{}, false, nil
	}
	f := t.inbound[0]
	t.inbound = t.inbound[1:]
	return f, true, nil
}

func (t *fakeTransport) Transmit(f bmscan.Frame) error {
	if t.txErr != nil {
		return t.txErr
	}
	t.sent = append(t.sent, f)
	return nil
}

func (t *fakeTransport) ErrorStatus() uint32 { return t.status }

func (t *fakeTransport) Reset() error {
	t.resets++
	return nil
}

type fakeClock struct {
	now uint32
}

func (c *fakeClock) NowTicks() uint32 { return c.now }

type lineSink struct {
	lines []string
}

func (s *lineSink) Println(line string) { s.lines = append(s.lines, line) }

func (s *lineSink) contains(line string) bool {
	for _, l := range s.lines {
		if l == line {
			return true
		}
	}
	return false
}

type harness struct {
	transport *fakeTransport
	clock     *fakeClock
	keys      *KeyQueue
	sink      *lineSink
	events    []Event
	ctrl      *Controller
}

func newHarness() *harness {
	h := &harness{
		transport: &fakeTransport{},
		clock:     &fakeClock{},
		keys:      NewKeyQueue(16),
		sink:      &lineSink{},
	}
	h.ctrl = NewController(DefaultConfig(), h.transport, h.clock, h.keys, h.sink,
		WithObserver(ObserverFunc(func(e Event) { h.events = append(h.events, e) })))
	return h
}

func (h *harness) press(keys string) {
	for i := 0; i < len(keys); i++ {
		h.keys.Push(keys[i])
	}
}
