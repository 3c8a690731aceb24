// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmscan

import (
	"testing"
)

// ============================================================
// Bit-Field Table Tests
// ============================================================

func TestFieldGeometry(t *testing.T) {
	tests := []struct {
		field Field
		width uint
		shift uint
		mask  uint64
	}{
		{BMSHeartbeatState, 3, 61, 0xE000000000000000},
		{BMSHeartbeatSOCPercentage, 10, 51, 0x1FF8000000000000},
		{BMSDischargeResponseField, 1, 63, 0x8000000000000000},
		{VCUHeartbeatStateField, 1, 63, 0x8000000000000000},
		{VCUDischargeRequestField, 1, 63, 0x8000000000000000},
		{Field{Name: "all", Start: 63, End: 0}, 64, 0, 0xFFFFFFFFFFFFFFFF},
		{Field{Name: "lsb", Start: 0, End: 0}, 1, 0, 0x1},
	}

	for _, tt := range tests {
		t.Run(tt.field.Name, func(t *testing.T) {
			if got := tt.field.Width(); got != tt.width {
				t.Errorf("Width() = %d, want %d", got, tt.width)
			}
			if got := tt.field.Shift(); got != tt.shift {
				t.Errorf("Shift() = %d, want %d", got, tt.shift)
			}
			if got := tt.field.Mask(); got != tt.mask {
				t.Errorf("Mask() = 0x%016X, want 0x%016X", got, tt.mask)
			}
		})
	}
}

func TestLayoutsDoNotOverlap(t *testing.T) {
	for kind, fields := range Layouts {
		var seen uint64
		for _, f := range fields {
			if f.Start < f.End || f.Start > 63 {
				t.Errorf("%s.%s: invalid range %d..%d", FormatMessageKind(kind), f.Name, f.Start, f.End)
			}
			if seen&f.Mask() != 0 {
				t.Errorf("%s.%s overlaps another field", FormatMessageKind(kind), f.Name)
			}
			seen |= f.Mask()
		}
	}
}

func TestFieldInsertTruncates(t *testing.T) {
	got := BMSHeartbeatState.Insert(0, 0xFF)
	if got != BMSHeartbeatState.Mask() {
		t.Errorf("Insert(0xFF) = 0x%016X, want 0x%016X", got, BMSHeartbeatState.Mask())
	}

	// Inserting must leave neighbouring bits alone
	all := ^uint64(0)
	got = BMSHeartbeatSOCPercentage.Insert(all, 0)
	if got != all&^BMSHeartbeatSOCPercentage.Mask() {
		t.Errorf("Insert(0) cleared bits outside the field: 0x%016X", got)
	}
}

// ============================================================
// Heartbeat Decode Tests
// ============================================================

func TestDecodeHeartbeat_NoOneBitsAtFieldEdges(t *testing.T) {
	payload := uint64(BMSStateStandby)<<61 | uint64(1)<<51

	hb := DecodeHeartbeat(payload)
	if hb.State != BMSStateStandby {
		t.Errorf("State = %d, want %d", hb.State, BMSStateStandby)
	}
	if hb.SOCPercentage != 1 {
		t.Errorf("SOCPercentage = %d, want 1", hb.SOCPercentage)
	}
}

func TestDecodeHeartbeat_OneBitsAtFieldEdges(t *testing.T) {
	const soc = 0b1000000001
	payload := uint64(BMSStateError)<<61 | uint64(soc)<<51

	hb := DecodeHeartbeat(payload)
	if hb.State != BMSStateError {
		t.Errorf("State = %d, want %d", hb.State, BMSStateError)
	}
	if hb.SOCPercentage != soc {
		t.Errorf("SOCPercentage = %b, want %b", hb.SOCPercentage, soc)
	}
}

func TestDecodeHeartbeat_FromFrameBytes(t *testing.T) {
	tests := []struct {
		name  string
		state BMSState
		soc   uint16
	}{
		{"standby soc 1", BMSStateStandby, 1},
		{"error soc edges", BMSStateError, 0b1000000001},
		{"discharge full", BMSStateDischarge, 100},
		{"init empty", BMSStateInit, 0},
		{"max soc field", BMSStateBalance, 1023},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Pack by hand: state in byte 0 bits 7..5, soc split over bytes 0 and 1
			data := []byte{
				byte(tt.state)<<5 | byte(tt.soc>>5),
				byte(tt.soc&0x1F) << 3,
				0, 0, 0, 0, 0, 0,
			}
			f, err := NewFrame(DefaultBMSHeartbeatID, data)
			if err != nil {
				t.Fatalf("NewFrame failed: %v", err)
			}

			hb := DecodeHeartbeat(f.Payload())
			if hb.State != tt.state || hb.SOCPercentage != tt.soc {
				t.Errorf("decoded %+v, want state=%d soc=%d", hb, tt.state, tt.soc)
			}
		})
	}
}

func TestDecodeHeartbeat_ReservedStatePassesThrough(t *testing.T) {
	for _, state := range []BMSState{6, 7} {
		hb := DecodeHeartbeat(uint64(state) << 61)
		if hb.State != state {
			t.Errorf("State = %d, want %d", hb.State, state)
		}
		if hb.State.Valid() {
			t.Errorf("state %d should not be valid", state)
		}
	}
}

func TestDecodeHeartbeat_RoundTrip(t *testing.T) {
	for state := BMSStateInit; state <= BMSStateError; state++ {
		for soc := uint16(0); soc <= uint16(BMSHeartbeatSOCPercentage.Max()); soc++ {
			in := BMSHeartbeat{State: state, SOCPercentage: soc}
			out := DecodeHeartbeat(EncodeHeartbeat(in))
			if out != in {
				t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
			}
		}
	}
}

// ============================================================
// Discharge Response Tests
// ============================================================

func TestDecodeDischargeResponse(t *testing.T) {
	tests := []struct {
		name    string
		payload uint64
		want    DischargeResponse
	}{
		{"ready", 0x8000000000000000, DischargeReady},
		{"not ready", 0x0000000000000000, DischargeNotReady},
		{"ready with noise", 0xFFFFFFFFFFFFFFFF, DischargeReady},
		{"not ready with noise", 0x7FFFFFFFFFFFFFFF, DischargeNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeDischargeResponse(tt.payload)
			if got.Response != tt.want {
				t.Errorf("Response = %d, want %d", got.Response, tt.want)
			}
		})
	}
}

func TestDischargeResponseFrame(t *testing.T) {
	for _, r := range []DischargeResponse{DischargeNotReady, DischargeReady} {
		f := NewDischargeResponseFrame(DefaultIDs(), r)
		if f.Len != BMSDischargeResponseLen {
			t.Errorf("Len = %d, want %d", f.Len, BMSDischargeResponseLen)
		}
		if f.Data[0] != byte(r)<<7 {
			t.Errorf("Data[0] = 0x%02X, want 0x%02X", f.Data[0], byte(r)<<7)
		}
		if got := DecodeDischargeResponse(f.Payload()).Response; got != r {
			t.Errorf("decoded %d, want %d", got, r)
		}
	}
}

// ============================================================
// Encode Tests
// ============================================================

func TestEncodeHeartbeatCommand(t *testing.T) {
	tests := []struct {
		state VCUHeartbeatState
		want  byte
	}{
		{VCUHeartbeatStandby, 0x00},
		{VCUHeartbeatDischarge, 0x80},
	}

	for _, tt := range tests {
		if got := EncodeHeartbeatCommand(tt.state); got != tt.want {
			t.Errorf("EncodeHeartbeatCommand(%d) = 0x%02X, want 0x%02X", tt.state, got, tt.want)
		}
	}
}

func TestEncodeDischargeRequest(t *testing.T) {
	if got := EncodeDischargeRequest(); got != 0x80 {
		t.Errorf("EncodeDischargeRequest() = 0x%02X, want 0x80", got)
	}
}

func TestVCUFramesDecodeBack(t *testing.T) {
	ids := DefaultIDs()
	dec := NewDecoder(ids)

	for _, state := range []VCUHeartbeatState{VCUHeartbeatStandby, VCUHeartbeatDischarge} {
		f := NewVCUHeartbeatFrame(ids, state)
		if f.Len != 1 {
			t.Errorf("VCU heartbeat Len = %d, want 1", f.Len)
		}
		msg := dec.Decode(f)
		if msg.Kind != KindVCUHeartbeat || msg.VCUHeartbeat != state {
			t.Errorf("decoded %+v, want VCU heartbeat state %d", msg, state)
		}
	}

	msg := dec.Decode(NewDischargeRequestFrame(ids))
	if msg.Kind != KindVCUDischargeRequest || !msg.DischargeRequest {
		t.Errorf("decoded %+v, want discharge request", msg)
	}
}

// ============================================================
// Decoder Routing Tests
// ============================================================

func TestDecoderClassify(t *testing.T) {
	ids := DefaultIDs()
	dec := NewDecoder(ids)

	tests := []struct {
		id   uint32
		want MessageKind
	}{
		{ids.BMSHeartbeat, KindBMSHeartbeat},
		{ids.BMSDischargeResponse, KindBMSDischargeResponse},
		{ids.BMSPackStatus, KindBMSPackStatus},
		{ids.BMSCellTemps, KindBMSCellTemps},
		{ids.BMSErrors, KindBMSErrors},
		{ids.VCUHeartbeat, KindVCUHeartbeat},
		{ids.VCUDischargeRequest, KindVCUDischargeRequest},
		{0x7FF, KindUnknown},
	}

	for _, tt := range tests {
		if got := dec.Classify(tt.id); got != tt.want {
			t.Errorf("Classify(0x%03X) = %s, want %s", tt.id, FormatMessageKind(got), FormatMessageKind(tt.want))
		}
	}
}

func TestDecoderDecode_CustomIDs(t *testing.T) {
	ids := DefaultIDs()
	ids.BMSHeartbeat = 0x18FF50E5

	f := NewBMSHeartbeatFrame(ids, BMSHeartbeat{State: BMSStateCharge, SOCPercentage: 77})
	if !f.Extended() {
		t.Fatal("expected extended identifier")
	}

	msg := NewDecoder(ids).Decode(f)
	if msg.Kind != KindBMSHeartbeat {
		t.Fatalf("Kind = %s, want BMS_HEARTBEAT", FormatMessageKind(msg.Kind))
	}
	if msg.Heartbeat.State != BMSStateCharge || msg.Heartbeat.SOCPercentage != 77 {
		t.Errorf("decoded %+v", msg.Heartbeat)
	}
}
