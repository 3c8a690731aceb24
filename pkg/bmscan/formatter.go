// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmscan

import (
	"fmt"
	"strings"
)

// FormatMessage formats a decoded message into a human-readable string
func FormatMessage(m Message) string {
	timestamp := m.Frame.Timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%03X) len=%d\n", timestamp, FormatMessageKind(m.Kind), m.Frame.ID, m.Frame.Len)
	return result + FormatPayload(m)
}

// FormatMessageKind returns the human-readable name for a message kind
func FormatMessageKind(kind MessageKind) string {
	switch kind {
	case KindBMSHeartbeat:
		return "BMS_HEARTBEAT"
	case KindBMSDischargeResponse:
		return "BMS_DISCHARGE_RESPONSE"
	case KindBMSPackStatus:
		return "BMS_PACK_STATUS"
	case KindBMSCellTemps:
		return "BMS_CELL_TEMPS"
	case KindBMSErrors:
		return "BMS_ERRORS"
	case KindVCUHeartbeat:
		return "VCU_HEARTBEAT"
	case KindVCUDischargeRequest:
		return "VCU_DISCHARGE_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// BMSStateName returns the display name of a BMS state
func BMSStateName(s BMSState) string {
	switch s {
	case BMSStateInit:
		return "Init"
	case BMSStateStandby:
		return "Standby"
	case BMSStateCharge:
		return "Charge"
	case BMSStateBalance:
		return "Balance"
	case BMSStateDischarge:
		return "Discharge"
	case BMSStateError:
		return "Error"
	default:
		return "UNKNOWN"
	}
}

// DischargeResponseName returns the display name of a discharge response
func DischargeResponseName(r DischargeResponse) string {
	switch r {
	case DischargeNotReady:
		return "Not Ready"
	case DischargeReady:
		return "Ready"
	default:
		return "UNKNOWN"
	}
}

// VCUHeartbeatStateName returns the display name of a VCU heartbeat tag
func VCUHeartbeatStateName(s VCUHeartbeatState) string {
	switch s {
	case VCUHeartbeatStandby:
		return "Standby"
	case VCUHeartbeatDischarge:
		return "Discharge"
	default:
		return "UNKNOWN"
	}
}

// FormatPayload renders the decoded fields of a message, one per line
func FormatPayload(m Message) string {
	switch m.Kind {
	case KindBMSHeartbeat:
		return fmt.Sprintf("  State: %s (%d), SOC: %d%%\n",
			BMSStateName(m.Heartbeat.State), m.Heartbeat.State, m.Heartbeat.SOCPercentage)

	case KindBMSDischargeResponse:
		return fmt.Sprintf("  Response: %s\n", DischargeResponseName(m.DischargeResponse.Response))

	case KindVCUHeartbeat:
		return fmt.Sprintf("  State: %s\n", VCUHeartbeatStateName(m.VCUHeartbeat))

	case KindVCUDischargeRequest:
		return fmt.Sprintf("  Enter discharge: %t\n", m.DischargeRequest)
	}

	// Default: hex dump
	if m.Frame.Len == 0 {
		return "  (no payload)\n"
	}
	var s strings.Builder
	s.WriteString("  Payload: ")
	for _, b := range m.Frame.Bytes() {
		fmt.Fprintf(&s, "%02X ", b)
	}
	s.WriteString("\n")
	return s.String()
}

// FormatFields renders a payload against a field layout, e.g. for debugging
// a new message definition: "state=5 soc_percentage=513"
func FormatFields(payload uint64, fields []Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%d", f.Name, f.Extract(payload)))
	}
	return strings.Join(parts, " ")
}
