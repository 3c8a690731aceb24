// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmscan

// Frame builder functions create frames ready for transmission.
// These wrap the encoders and apply the length each message uses on the bus.

// Message lengths in bytes
const (
	BMSHeartbeatLen         = 8
	BMSDischargeResponseLen = 8
	VCUHeartbeatLen         = 1
	VCUDischargeRequestLen  = 1
)

// NewVCUHeartbeatFrame creates a 1-byte VCU heartbeat frame
func NewVCUHeartbeatFrame(ids IDs, state VCUHeartbeatState) Frame {
	f := FrameFromPayload(ids.VCUHeartbeat, 0, VCUHeartbeatLen)
	f.Data[0] = EncodeHeartbeatCommand(state)
	return f
}

// NewDischargeRequestFrame creates a 1-byte VCU discharge request frame
func NewDischargeRequestFrame(ids IDs) Frame {
	f := FrameFromPayload(ids.VCUDischargeRequest, 0, VCUDischargeRequestLen)
	f.Data[0] = EncodeDischargeRequest()
	return f
}

// NewBMSHeartbeatFrame creates an 8-byte BMS heartbeat frame.
// Used by the BMS simulator and tests.
func NewBMSHeartbeatFrame(ids IDs, hb BMSHeartbeat) Frame {
	return FrameFromPayload(ids.BMSHeartbeat, EncodeHeartbeat(hb), BMSHeartbeatLen)
}

// NewDischargeResponseFrame creates an 8-byte BMS discharge response frame
func NewDischargeResponseFrame(ids IDs, r DischargeResponse) Frame {
	payload := EncodeDischargeResponse(BMSDischargeResponse{Response: r})
	return FrameFromPayload(ids.BMSDischargeResponse, payload, BMSDischargeResponseLen)
}
