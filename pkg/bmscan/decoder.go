// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmscan

// BMSHeartbeat is the periodic status broadcast by the BMS
type BMSHeartbeat struct {
	State         BMSState
	SOCPercentage uint16
}

// BMSDischargeResponse is the BMS answer to a VCU discharge request
type BMSDischargeResponse struct {
	Response DischargeResponse
}

// DecodeHeartbeat extracts a BMS heartbeat from a 64-bit payload.
// Reserved states and SOC values above 100 are returned as-is.
func DecodeHeartbeat(payload uint64) BMSHeartbeat {
	return BMSHeartbeat{
		State:         BMSState(BMSHeartbeatState.Extract(payload)),
		SOCPercentage: uint16(BMSHeartbeatSOCPercentage.Extract(payload)),
	}
}

// DecodeDischargeResponse extracts the discharge response bit
func DecodeDischargeResponse(payload uint64) BMSDischargeResponse {
	return BMSDischargeResponse{
		Response: DischargeResponse(BMSDischargeResponseField.Extract(payload)),
	}
}

// Message is a classified and decoded frame.
// Only the field matching Kind is meaningful.
type Message struct {
	Kind              MessageKind
	Frame             Frame
	Heartbeat         BMSHeartbeat
	DischargeResponse BMSDischargeResponse
	VCUHeartbeat      VCUHeartbeatState
	DischargeRequest  bool
}

// Decoder classifies frames by identifier and decodes the known payloads
type Decoder struct {
	ids IDs
}

// NewDecoder creates a decoder for the given identifier set
func NewDecoder(ids IDs) *Decoder {
	return &Decoder{ids: ids}
}

// IDs returns the identifier set the decoder routes on
func (d *Decoder) IDs() IDs {
	return d.ids
}

// Classify maps an identifier to its message kind
func (d *Decoder) Classify(id uint32) MessageKind {
	switch id {
	case d.ids.BMSHeartbeat:
		return KindBMSHeartbeat
	case d.ids.BMSDischargeResponse:
		return KindBMSDischargeResponse
	case d.ids.BMSPackStatus:
		return KindBMSPackStatus
	case d.ids.BMSCellTemps:
		return KindBMSCellTemps
	case d.ids.BMSErrors:
		return KindBMSErrors
	case d.ids.VCUHeartbeat:
		return KindVCUHeartbeat
	case d.ids.VCUDischargeRequest:
		return KindVCUDischargeRequest
	default:
		return KindUnknown
	}
}

// Decode classifies f and decodes its payload. Decoding never fails; pack
// status, cell temperature and error frames are routed without decoding.
func (d *Decoder) Decode(f Frame) Message {
	msg := Message{Kind: d.Classify(f.ID), Frame: f}
	payload := f.Payload()

	switch msg.Kind {
	case KindBMSHeartbeat:
		msg.Heartbeat = DecodeHeartbeat(payload)
	case KindBMSDischargeResponse:
		msg.DischargeResponse = DecodeDischargeResponse(payload)
	case KindVCUHeartbeat:
		msg.VCUHeartbeat = VCUHeartbeatState(VCUHeartbeatStateField.Extract(payload))
	case KindVCUDischargeRequest:
		msg.DischargeRequest = VCUDischargeRequestField.Extract(payload) == DischargeRequestEnter
	}

	return msg
}
