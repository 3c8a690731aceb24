// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bmscan implements the CAN frame codec shared by the VCU and the BMS.
//
// Every message payload is treated as a 64-bit big-endian word: byte 0 of the
// frame holds bits 63-56. Frames shorter than 8 bytes are zero-extended before
// any field is extracted, so field positions never depend on the frame length.
package bmscan

// Frame limits
const (
	MaxDataLen = 8
	maxStdID   = 0x7FF
	maxExtID   = 0x1FFFFFFF
)

// Default message identifiers. Deployments override them through IDs.
const (
	DefaultBMSHeartbeatID         = 0x010
	DefaultBMSDischargeResponseID = 0x011
	DefaultBMSPackStatusID        = 0x012
	DefaultBMSCellTempsID         = 0x013
	DefaultBMSErrorsID            = 0x014
	DefaultVCUHeartbeatID         = 0x020
	DefaultVCUDischargeRequestID  = 0x021
)

// IDs holds the identifier assigned to each message on a particular bus.
type IDs struct {
	BMSHeartbeat         uint32 `mapstructure:"bms-heartbeat"`
	BMSDischargeResponse uint32 `mapstructure:"bms-discharge-response"`
	BMSPackStatus        uint32 `mapstructure:"bms-pack-status"`
	BMSCellTemps         uint32 `mapstructure:"bms-cell-temps"`
	BMSErrors            uint32 `mapstructure:"bms-errors"`
	VCUHeartbeat         uint32 `mapstructure:"vcu-heartbeat"`
	VCUDischargeRequest  uint32 `mapstructure:"vcu-discharge-request"`
}

// DefaultIDs returns the identifier set used when nothing is configured.
func DefaultIDs() IDs {
	return IDs{
		BMSHeartbeat:         DefaultBMSHeartbeatID,
		BMSDischargeResponse: DefaultBMSDischargeResponseID,
		BMSPackStatus:        DefaultBMSPackStatusID,
		BMSCellTemps:         DefaultBMSCellTempsID,
		BMSErrors:            DefaultBMSErrorsID,
		VCUHeartbeat:         DefaultVCUHeartbeatID,
		VCUDischargeRequest:  DefaultVCUDischargeRequestID,
	}
}

// MessageKind classifies a frame by its identifier
type MessageKind int

// Message kinds
const (
	KindUnknown MessageKind = iota
	KindBMSHeartbeat
	KindBMSDischargeResponse
	KindBMSPackStatus
	KindBMSCellTemps
	KindBMSErrors
	KindVCUHeartbeat
	KindVCUDischargeRequest
)

// BMSState is the 3-bit state carried in a BMS heartbeat.
// Values 6 and 7 are reserved and are passed through undecoded.
type BMSState uint8

// BMS state values
const (
	BMSStateInit BMSState = iota
	BMSStateStandby
	BMSStateCharge
	BMSStateBalance
	BMSStateDischarge
	BMSStateError
)

// Valid reports whether s is one of the defined BMS states
func (s BMSState) Valid() bool {
	return s <= BMSStateError
}

// DischargeResponse is the 1-bit answer to a discharge request
type DischargeResponse uint8

// Discharge response values
const (
	DischargeNotReady DischargeResponse = 0
	DischargeReady    DischargeResponse = 1
)

// VCUHeartbeatState selects the 1-bit tag sent in a VCU heartbeat
type VCUHeartbeatState uint8

// VCU heartbeat tag values
const (
	VCUHeartbeatStandby   VCUHeartbeatState = 0
	VCUHeartbeatDischarge VCUHeartbeatState = 1
)

// Discharge request tag value
const DischargeRequestEnter = 1

// SOCMaxPercentage is the largest meaningful state of charge.
// Larger values are protocol violations but still decode faithfully.
const SOCMaxPercentage = 100
