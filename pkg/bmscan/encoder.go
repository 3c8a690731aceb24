// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmscan

// EncodeHeartbeatCommand returns the one-byte VCU heartbeat payload with the
// state tag in the most significant bit
func EncodeHeartbeatCommand(state VCUHeartbeatState) byte {
	return byteField(VCUHeartbeatStateField, uint64(state))
}

// EncodeDischargeRequest returns the one-byte "enter discharge" payload
func EncodeDischargeRequest() byte {
	return byteField(VCUDischargeRequestField, DischargeRequestEnter)
}

// EncodeHeartbeat packs a BMS heartbeat into a 64-bit payload.
// Values wider than their field are truncated to the field width.
func EncodeHeartbeat(hb BMSHeartbeat) uint64 {
	var payload uint64
	payload = BMSHeartbeatState.Insert(payload, uint64(hb.State))
	payload = BMSHeartbeatSOCPercentage.Insert(payload, uint64(hb.SOCPercentage))
	return payload
}

// EncodeDischargeResponse packs a discharge response into a 64-bit payload
func EncodeDischargeResponse(r BMSDischargeResponse) uint64 {
	return BMSDischargeResponseField.Insert(0, uint64(r.Response))
}
