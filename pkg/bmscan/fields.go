// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmscan

// Field describes a bit range inside the 64-bit payload.
// Start and End count down from bit 63 (the MSB of data byte 0) and are both
// inclusive, so Start >= End.
type Field struct {
	Name  string
	Start uint
	End   uint
}

// Width returns the number of bits in the field
func (f Field) Width() uint {
	return f.Start - f.End + 1
}

// Shift returns the field offset from the least significant bit
func (f Field) Shift() uint {
	return f.End
}

// Max returns the largest value the field can hold
func (f Field) Max() uint64 {
	if f.Width() >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<f.Width() - 1
}

// Mask returns the field's bits in payload position
func (f Field) Mask() uint64 {
	return f.Max() << f.Shift()
}

// Extract returns the field value with its low bit moved to bit 0
func (f Field) Extract(payload uint64) uint64 {
	return (payload & f.Mask()) >> f.Shift()
}

// Insert returns payload with the field set to v. Bits of v above the field
// width are dropped.
func (f Field) Insert(payload uint64, v uint64) uint64 {
	return payload&^f.Mask() | (v&f.Max())<<f.Shift()
}

// Field layout, shared by every encoder and decoder
var (
	BMSHeartbeatState         = Field{Name: "state", Start: 63, End: 61}
	BMSHeartbeatSOCPercentage = Field{Name: "soc_percentage", Start: 60, End: 51}

	BMSDischargeResponseField = Field{Name: "discharge_response", Start: 63, End: 63}

	VCUHeartbeatStateField   = Field{Name: "state", Start: 63, End: 63}
	VCUDischargeRequestField = Field{Name: "discharge_request", Start: 63, End: 63}
)

// Layouts lists the fields of each message kind in wire order
var Layouts = map[MessageKind][]Field{
	KindBMSHeartbeat:         {BMSHeartbeatState, BMSHeartbeatSOCPercentage},
	KindBMSDischargeResponse: {BMSDischargeResponseField},
	KindVCUHeartbeat:         {VCUHeartbeatStateField},
	KindVCUDischargeRequest:  {VCUDischargeRequestField},
}

// byteField narrows a field that lives in the first data byte to that byte.
// The result is the value of data[0] for a one-byte frame.
func byteField(f Field, v uint64) byte {
	return byte(f.Insert(0, v) >> 56)
}
