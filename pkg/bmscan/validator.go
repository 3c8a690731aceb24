// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmscan

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyInvalidState
	AnomalySOCRange
	AnomalyInvalidValue
	AnomalyUnknownID
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyLengthMismatch:
		return "length_mismatch"
	case AnomalyInvalidState:
		return "invalid_state"
	case AnomalySOCRange:
		return "soc_range"
	case AnomalyInvalidValue:
		return "invalid_value"
	case AnomalyUnknownID:
		return "unknown_id"
	default:
		return fmt.Sprintf("anomaly(%d)", int(a))
	}
}

// ValidationError represents a frame validation failure.
// Anomalies are reported, never fatal: the decoded values stay usable.
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateMessage checks a decoded message for protocol violations.
// Returns a slice of validation errors (empty if the message is valid)
func ValidateMessage(m Message) []ValidationError {
	errors := []ValidationError{}

	if m.Kind == KindUnknown {
		return append(errors, ValidationError{
			Type:    AnomalyUnknownID,
			Message: fmt.Sprintf("Unrecognized CAN message id=0x%03X", m.Frame.ID),
			Details: map[string]interface{}{"id": m.Frame.ID},
		})
	}

	if fields, ok := Layouts[m.Kind]; ok {
		if need := requiredLen(fields); int(m.Frame.Len) < need {
			errors = append(errors, ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("%s too short (len=%d, need %d)", FormatMessageKind(m.Kind), m.Frame.Len, need),
				Details: map[string]interface{}{"length": int(m.Frame.Len), "expected": need},
			})
		}
	}

	switch m.Kind {
	case KindBMSHeartbeat:
		errors = append(errors, validateHeartbeat(m.Heartbeat)...)
	case KindBMSDischargeResponse:
		if m.DischargeResponse.Response > DischargeReady {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("Invalid discharge response=%d", m.DischargeResponse.Response),
				Details: map[string]interface{}{"value": m.DischargeResponse.Response},
			})
		}
	}

	return errors
}

// validateHeartbeat validates BMS heartbeat field values
func validateHeartbeat(hb BMSHeartbeat) []ValidationError {
	errors := []ValidationError{}

	if !hb.State.Valid() {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidState,
			Message: fmt.Sprintf("Unexpected BMS state=%d (max %d)", hb.State, BMSStateError),
			Details: map[string]interface{}{"state": hb.State, "max": BMSStateError},
		})
	}

	if hb.SOCPercentage > SOCMaxPercentage {
		errors = append(errors, ValidationError{
			Type:    AnomalySOCRange,
			Message: fmt.Sprintf("SOC out of range (%d%%, max %d%%)", hb.SOCPercentage, SOCMaxPercentage),
			Details: map[string]interface{}{"soc_percentage": hb.SOCPercentage, "max": SOCMaxPercentage},
		})
	}

	return errors
}

// requiredLen returns the number of data bytes needed to carry every field
func requiredLen(fields []Field) int {
	need := 0
	for _, f := range fields {
		n := int(63-f.End)/8 + 1
		if n > need {
			need = n
		}
	}
	return need
}
