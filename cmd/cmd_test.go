// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmslink/internal/transport"
	"github.com/Thermoquad/bmslink/internal/vcu"
	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

func newConfigCommand() *cobra.Command {
	c := &cobra.Command{Use: "test"}
	c.Flags().Int("bitrate", 500000, "")
	c.Flags().Uint32("heartbeat-period", 1000, "")
	return c
}

// ============================================================================
// Config
// ============================================================================

func TestLoadConfig_Defaults(t *testing.T) {
	c, err := LoadConfig(newConfigCommand(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.VCU.IDs != bmscan.DefaultIDs() {
		t.Errorf("IDs = %+v", c.VCU.IDs)
	}
	if c.VCU.HeartbeatPeriod != vcu.DefaultHeartbeatPeriod || c.VCU.InitialMode != vcu.ModeStandby {
		t.Errorf("VCU = %+v", c.VCU)
	}
	if c.SLCAN.Bitrate != 500000 || c.VCU.IdleInterval != vcu.DefaultIdleInterval {
		t.Errorf("SLCAN = %+v, idle = %s", c.SLCAN, c.VCU.IdleInterval)
	}
	if c.Sim.IDs != c.VCU.IDs {
		t.Error("simulator IDs differ from VCU IDs")
	}
}

func TestLoadConfig_FileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bmslink.yaml")
	yaml := `vcu:
  ids:
    bms-heartbeat: 0x18FF0010
  heartbeat-period: 500
  idle-interval: 5ms
initial-mode: none
slcan:
  bitrate: 250000
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BMSLINK_VCU_HEARTBEAT_PERIOD", "750")

	command := newConfigCommand()
	if err := command.Flags().Set("bitrate", "125000"); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(command, path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if c.VCU.IDs.BMSHeartbeat != 0x18FF0010 {
		t.Errorf("BMSHeartbeat id = 0x%X", c.VCU.IDs.BMSHeartbeat)
	}
	if c.VCU.IDs.VCUHeartbeat != bmscan.DefaultVCUHeartbeatID {
		t.Errorf("unset id lost its default: 0x%X", c.VCU.IDs.VCUHeartbeat)
	}
	if c.VCU.HeartbeatPeriod != 750 {
		t.Errorf("HeartbeatPeriod = %d, want env value 750", c.VCU.HeartbeatPeriod)
	}
	if c.VCU.IdleInterval != 5*time.Millisecond {
		t.Errorf("IdleInterval = %s", c.VCU.IdleInterval)
	}
	if c.VCU.InitialMode != vcu.ModeNone {
		t.Errorf("InitialMode = %s", c.VCU.InitialMode)
	}
	if c.SLCAN.Bitrate != 125000 {
		t.Errorf("Bitrate = %d, want flag value 125000", c.SLCAN.Bitrate)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(newConfigCommand(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}

	t.Setenv("BMSLINK_INITIAL_MODE", "turbo")
	if _, err := LoadConfig(newConfigCommand(), ""); err == nil {
		t.Error("expected error for unknown initial mode")
	}
}

// ============================================================================
// Replay
// ============================================================================

func TestReplayCapture(t *testing.T) {
	ids := bmscan.DefaultIDs()
	var capture bytes.Buffer
	w := bmscan.NewCaptureWriter(&capture)

	frames := []bmscan.Frame{
		bmscan.NewBMSHeartbeatFrame(ids, bmscan.BMSHeartbeat{State: bmscan.BMSStateStandby, SOCPercentage: 55}),
		bmscan.NewBMSHeartbeatFrame(ids, bmscan.BMSHeartbeat{State: bmscan.BMSStateCharge, SOCPercentage: 140}),
		bmscan.NewDischargeResponseFrame(ids, bmscan.DischargeReady),
	}
	for i, f := range frames {
		f.Timestamp = time.Unix(1700000000, int64(i)*int64(time.Second))
		if err := w.Write(f); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	var out bytes.Buffer
	stats, err := replayCapture(&capture, &out, bmscan.NewDecoder(ids), true)
	if err != nil {
		t.Fatalf("replayCapture: %v", err)
	}

	if stats.TotalFrames != 3 || stats.SOCOutOfRange != 1 || stats.ValidFrames != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if strings.Count(out.String(), "[ANOMALY]") != 1 {
		t.Errorf("output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Capture span: 2s") {
		t.Errorf("missing capture span in:\n%s", out.String())
	}
}

// ============================================================================
// Frame test
// ============================================================================

func TestWaitForHeartbeat(t *testing.T) {
	ids := bmscan.DefaultIDs()
	a, b := transport.NewLoopbackPair(8)
	defer a.Close()
	defer b.Close()

	b.Transmit(bmscan.NewDischargeResponseFrame(ids, bmscan.DischargeNotReady))
	b.Transmit(bmscan.NewBMSHeartbeatFrame(ids, bmscan.BMSHeartbeat{State: bmscan.BMSStateDischarge, SOCPercentage: 12}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, skipped, err := waitForHeartbeat(ctx, a, bmscan.NewDecoder(ids))
	if err != nil {
		t.Fatalf("waitForHeartbeat: %v", err)
	}
	if skipped != 1 || msg.Heartbeat.State != bmscan.BMSStateDischarge || msg.Heartbeat.SOCPercentage != 12 {
		t.Errorf("got %+v, skipped %d", msg.Heartbeat, skipped)
	}
}

func TestWaitForHeartbeat_Timeout(t *testing.T) {
	a, b := transport.NewLoopbackPair(8)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := waitForHeartbeat(ctx, a, bmscan.NewDecoder(bmscan.DefaultIDs()))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

// ============================================================================
// TUI model
// ============================================================================

func TestModel_AppliesLoopEvents(t *testing.T) {
	ids := bmscan.DefaultIDs()
	keys := vcu.NewKeyQueue(4)
	m := initialModel("test", keys, vcu.DefaultConfig())

	msg := bmscan.NewDecoder(ids).Decode(
		bmscan.NewBMSHeartbeatFrame(ids, bmscan.BMSHeartbeat{State: bmscan.BMSStateBalance, SOCPercentage: 64}))

	updated, _ := m.Update(loopEventMsg(vcu.Event{Kind: vcu.EventFrameReceived, Message: msg, Time: time.Now()}))
	updated, _ = updated.Update(loopEventMsg(vcu.Event{Kind: vcu.EventModeChanged, Mode: vcu.ModeDischarge}))
	updated, _ = updated.Update(operatorLineMsg("CAN Error: 20    Will attempt to reset CAN peripheral."))
	got := updated.(model)

	if got.heartbeat == nil || got.heartbeat.SOCPercentage != 64 {
		t.Fatalf("heartbeat = %+v", got.heartbeat)
	}
	if got.mode != vcu.ModeDischarge {
		t.Errorf("mode = %s", got.mode)
	}
	if len(got.eventLog) != 1 || !got.eventLog[0].isError {
		t.Errorf("eventLog = %+v", got.eventLog)
	}
	if !strings.Contains(got.View(), "Balance") {
		t.Error("view does not show the BMS state")
	}
}

// ============================================================================
// WebSocket bridge
// ============================================================================

func TestWebSocketBridge_ReassemblesStream(t *testing.T) {
	lines := []string{"t0211C0\rt01", "188000000000000000\r"}
	received := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, l := range lines {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(l)); err != nil {
				return
			}
		}
		kind, data, err := conn.ReadMessage()
		if err == nil && kind == websocket.TextMessage {
			received <- string(data)
		}
		// Wait for the client to hang up.
		conn.ReadMessage()
	}))
	defer srv.Close()

	bridge, err := OpenWebSocketConnection("ws"+strings.TrimPrefix(srv.URL, "http"), "", "", false)
	if err != nil {
		t.Fatalf("OpenWebSocketConnection: %v", err)
	}
	defer bridge.Close()

	want := strings.Join(lines, "")
	buf := make([]byte, len(want))
	if _, err := io.ReadFull(bridge, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != want {
		t.Errorf("stream = %q, want %q", buf, want)
	}

	if _, err := bridge.Write([]byte("O\r")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case got := <-received:
		if got != "O\r" {
			t.Errorf("bridge received %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("bridge never received the command")
	}
}

func TestOpenWebSocketConnection_RejectsScheme(t *testing.T) {
	if _, err := OpenWebSocketConnection("http://localhost/slcan", "", "", false); err == nil {
		t.Error("expected error for http:// URL")
	}
}
