// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmscan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidID  = errors.New("bmscan: invalid identifier")
	ErrInvalidLen = errors.New("bmscan: invalid data length")
)

// Frame is one classical CAN data frame: an identifier plus up to 8 bytes.
// Bytes at index >= Len are kept zero and never interpreted.
type Frame struct {
	ID        uint32
	Len       uint8
	Data      [MaxDataLen]byte
	Timestamp time.Time
}

// NewFrame creates a frame from a byte slice, zero-filling unused bytes
func NewFrame(id uint32, data []byte) (Frame, error) {
	if len(data) > MaxDataLen {
		return Frame{}, ErrInvalidLen
	}
	f := Frame{ID: id, Len: uint8(len(data)), Timestamp: time.Now()}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// FrameFromPayload builds a frame of the given length from a 64-bit payload.
// Only the length most significant bytes of the payload are kept.
func FrameFromPayload(id uint32, payload uint64, length uint8) Frame {
	if length > MaxDataLen {
		length = MaxDataLen
	}
	f := Frame{ID: id, Len: length, Timestamp: time.Now()}
	var buf [MaxDataLen]byte
	binary.BigEndian.PutUint64(buf[:], payload)
	copy(f.Data[:length], buf[:length])
	return f
}

// Validate returns an error if the frame is not a valid classical CAN frame
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	if f.ID > maxExtID {
		return ErrInvalidID
	}
	return nil
}

// Extended reports whether the identifier needs 29 bits
func (f Frame) Extended() bool {
	return f.ID > maxStdID
}

// Bytes returns the used data bytes
func (f Frame) Bytes() []byte {
	n := f.Len
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// Payload returns the frame data as a big-endian 64-bit word.
// Bytes past Len read as zero whatever the transport left in them.
func (f Frame) Payload() uint64 {
	var buf [MaxDataLen]byte
	copy(buf[:], f.Bytes())
	return binary.BigEndian.Uint64(buf[:])
}

// String renders the frame in candump style, e.g. "010 [2] 20 08"
func (f Frame) String() string {
	var s strings.Builder
	if f.Extended() {
		fmt.Fprintf(&s, "%08X", f.ID)
	} else {
		fmt.Fprintf(&s, "%03X", f.ID)
	}
	fmt.Fprintf(&s, " [%d]", f.Len)
	for _, b := range f.Bytes() {
		fmt.Fprintf(&s, " %02X", b)
	}
	return s.String()
}
