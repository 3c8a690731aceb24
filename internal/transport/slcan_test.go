// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

var _ Transport = (*SLCAN)(nil)

// ============================================================================
// Codec
// ============================================================================

func TestEncodeSLCAN(t *testing.T) {
	ids := bmscan.DefaultIDs()
	ext, _ := bmscan.NewFrame(0x18FF50E5, []byte{0xDE, 0xAD})

	tests := []struct {
		name  string
		frame bmscan.Frame
		want  string
	}{
		{"vcu heartbeat", bmscan.NewVCUHeartbeatFrame(ids, bmscan.VCUHeartbeatDischarge), "t020180\r"},
		{"bms heartbeat", bmscan.NewBMSHeartbeatFrame(ids, bmscan.BMSHeartbeat{State: bmscan.BMSStateStandby, SOCPercentage: 1}),
			"t01082008000000000000\r"},
		{"extended", ext, "T18FF50E52DEAD\r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeSLCAN(tt.frame); got != tt.want {
				t.Errorf("EncodeSLCAN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeSLCAN(t *testing.T) {
	f, err := DecodeSLCAN("t0108200800000000000001F4")
	if err != nil {
		t.Fatalf("DecodeSLCAN: %v", err)
	}
	if f.ID != 0x010 || f.Len != 8 {
		t.Fatalf("got %s", f)
	}
	hb := bmscan.DecodeHeartbeat(f.Payload())
	if hb.State != bmscan.BMSStateStandby || hb.SOCPercentage != 1 {
		t.Errorf("decoded %+v", hb)
	}

	short, err := DecodeSLCAN("t0211C0")
	if err != nil || short.Len != 1 || short.Data[0] != 0xC0 {
		t.Errorf("DecodeSLCAN(short) = (%s, %v)", short, err)
	}

	ext, err := DecodeSLCAN("T18FF50E52DEAD")
	if err != nil || ext.ID != 0x18FF50E5 || !ext.Extended() {
		t.Errorf("DecodeSLCAN(ext) = (%s, %v)", ext, err)
	}
}

func TestDecodeSLCAN_Malformed(t *testing.T) {
	for _, line := range []string{
		"",
		"x0101",
		"t01",
		"t0109",
		"t0102AA",
		"t010GZZ",
		"t8001AA",
		"t0101ZZ",
	} {
		if _, err := DecodeSLCAN(line); !errors.Is(err, ErrSLCANSyntax) {
			t.Errorf("DecodeSLCAN(%q) error = %v, want ErrSLCANSyntax", line, err)
		}
	}
}

func TestSLCANBitrateCommand(t *testing.T) {
	cmd, err := SLCANBitrateCommand(500000)
	if err != nil || cmd != "S6\r" {
		t.Errorf("SLCANBitrateCommand(500000) = (%q, %v)", cmd, err)
	}
	if _, err := SLCANBitrateCommand(333333); !errors.Is(err, ErrUnsupportedBitrate) {
		t.Errorf("unsupported bitrate error = %v", err)
	}
}

// ============================================================================
// Transport
// ============================================================================

// fakeAdapter plays the SLCAN device: tests write adapter output into in,
// and everything the transport sends is captured in out
type fakeAdapter struct {
	r  *io.PipeReader
	in *io.PipeWriter

	// replies maps a command to the adapter's answer
	replies map[string]string

	mu  sync.Mutex
	out bytes.Buffer
}

func newFakeAdapter() *fakeAdapter {
	r, w := io.Pipe()
	return &fakeAdapter{r: r, in: w}
}

func (a *fakeAdapter) Read(p []byte) (int, error) { return a.r.Read(p) }

func (a *fakeAdapter) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if reply, ok := a.replies[string(p)]; ok {
		go a.in.Write([]byte(reply))
	}
	return a.out.Write(p)
}

func (a *fakeAdapter) Close() error { return a.r.Close() }

func (a *fakeAdapter) sent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out.String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestSLCAN(t *testing.T) (*SLCAN, *fakeAdapter) {
	t.Helper()
	adapter := newFakeAdapter()
	opts := DefaultSLCANOptions()
	opts.StatusInterval = 0
	opts.ReplyTimeout = 5 * time.Millisecond
	s, err := NewSLCAN(adapter, opts, nil)
	if err != nil {
		t.Fatalf("NewSLCAN: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, adapter
}

func TestSLCAN_OpenSequence(t *testing.T) {
	_, adapter := newTestSLCAN(t)
	if got := adapter.sent(); got != "C\rS6\rO\r" {
		t.Errorf("open sequence = %q", got)
	}
}

func TestSLCAN_ReceiveAndTransmit(t *testing.T) {
	s, adapter := newTestSLCAN(t)

	go adapter.in.Write([]byte("\rz\rt01188000000000000000\r"))

	var f bmscan.Frame
	waitFor(t, func() bool {
		var ok bool
		f, ok, _ = s.Receive()
		return ok
	})
	if f.ID != 0x011 || bmscan.DecodeDischargeResponse(f.Payload()).Response != bmscan.DischargeReady {
		t.Errorf("received %s", f)
	}

	if err := s.Transmit(bmscan.NewDischargeRequestFrame(bmscan.DefaultIDs())); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if !strings.HasSuffix(adapter.sent(), "t021180\r") {
		t.Errorf("sent = %q", adapter.sent())
	}
}

func TestSLCAN_StatusAndReset(t *testing.T) {
	s, adapter := newTestSLCAN(t)

	go adapter.in.Write([]byte("F84\r\a"))
	waitFor(t, func() bool {
		return s.ErrorStatus() == SLCANStatusBusError|SLCANStatusErrorWarn|SLCANStatusRejected
	})

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if s.ErrorStatus() != 0 {
		t.Errorf("ErrorStatus() = 0x%X after Reset", s.ErrorStatus())
	}
	if got := strings.Count(adapter.sent(), "O\r"); got != 2 {
		t.Errorf("channel opened %d times, want 2", got)
	}
}

func TestSLCAN_ReadErrorSurfaces(t *testing.T) {
	s, adapter := newTestSLCAN(t)
	adapter.in.CloseWithError(errors.New("unplugged"))

	var err error
	waitFor(t, func() bool {
		_, _, err = s.Receive()
		return err != nil
	})
	if !strings.Contains(err.Error(), "unplugged") {
		t.Errorf("Receive error = %v", err)
	}
}

func TestSLCAN_OpenIgnoresBellToClose(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.replies = map[string]string{"C\r": "\a", "S6\r": "\r", "O\r": "\r"}

	opts := DefaultSLCANOptions()
	opts.StatusInterval = 0
	opts.ReplyTimeout = time.Second
	s, err := NewSLCAN(adapter, opts, nil)
	if err != nil {
		t.Fatalf("NewSLCAN: %v", err)
	}
	defer s.Close()

	if s.ErrorStatus() != 0 {
		t.Fatalf("ErrorStatus() = 0x%X after a clean open", s.ErrorStatus())
	}

	// The same answers during a reset leave no fault behind either.
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if s.ErrorStatus() != 0 {
		t.Errorf("ErrorStatus() = 0x%X after Reset", s.ErrorStatus())
	}

	// Outside the open sequence BEL is still a fault.
	go adapter.in.Write([]byte("\a"))
	waitFor(t, func() bool { return s.ErrorStatus() == SLCANStatusRejected })
}

func TestSLCAN_OpenRejected(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.replies = map[string]string{"C\r": "\r", "S6\r": "\r", "O\r": "\a"}

	opts := DefaultSLCANOptions()
	opts.StatusInterval = 0
	opts.ReplyTimeout = time.Second
	if _, err := NewSLCAN(adapter, opts, nil); !errors.Is(err, ErrSLCANRejected) {
		t.Errorf("NewSLCAN error = %v, want ErrSLCANRejected", err)
	}
}

func TestSLCAN_DiscardsOverlongLines(t *testing.T) {
	s, adapter := newTestSLCAN(t)

	noise := "t010" + strings.Repeat("8", 60)
	go adapter.in.Write([]byte(noise + "\rt0211C0\r"))

	var f bmscan.Frame
	waitFor(t, func() bool {
		var ok bool
		f, ok, _ = s.Receive()
		return ok
	})
	if f.ID != 0x021 || f.Len != 1 || f.Data[0] != 0xC0 {
		t.Errorf("first frame after noise = %s", f)
	}
	if _, ok, _ := s.Receive(); ok {
		t.Error("overlong line produced a frame")
	}
}
