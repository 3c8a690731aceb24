// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

// SLCAN (Lawicel) ASCII protocol. Every command and frame ends with '\r';
// the adapter answers '\r' for OK and BEL for an error.
const (
	slcanTerminator = '\r'
	slcanBell       = 0x07
)

var (
	ErrSLCANSyntax        = errors.New("malformed SLCAN line")
	ErrSLCANRejected      = errors.New("SLCAN adapter rejected command")
	ErrUnsupportedBitrate = errors.New("unsupported SLCAN bitrate")
)

var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// SLCANBitrateCommand returns the "Sn" command selecting bitrate
func SLCANBitrateCommand(bitrate int) (string, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedBitrate, bitrate)
	}
	return "S" + string(code) + "\r", nil
}

// EncodeSLCAN renders f as a 't' (11-bit) or 'T' (29-bit) line
func EncodeSLCAN(f bmscan.Frame) string {
	var b strings.Builder
	if f.Extended() {
		b.WriteByte('T')
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		b.WriteByte('t')
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	b.WriteByte('0' + f.Len)
	for _, d := range f.Bytes() {
		fmt.Fprintf(&b, "%02X", d)
	}
	b.WriteByte(slcanTerminator)
	return b.String()
}

// DecodeSLCAN parses a 't' or 'T' line without its terminator. An optional
// 4-digit timestamp after the data is ignored.
func DecodeSLCAN(line string) (bmscan.Frame, error) {
	if line == "" {
		return bmscan.Frame{}, ErrSLCANSyntax
	}

	var idLen int
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
	default:
		return bmscan.Frame{}, fmt.Errorf("%w: unexpected type %q", ErrSLCANSyntax, line[0])
	}

	if len(line) < 1+idLen+1 {
		return bmscan.Frame{}, fmt.Errorf("%w: %q too short", ErrSLCANSyntax, line)
	}

	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return bmscan.Frame{}, fmt.Errorf("%w: id: %v", ErrSLCANSyntax, err)
	}

	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return bmscan.Frame{}, fmt.Errorf("%w: dlc %q", ErrSLCANSyntax, dlc)
	}
	n := int(dlc - '0')

	hex := line[2+idLen:]
	if len(hex) != 2*n && len(hex) != 2*n+4 {
		return bmscan.Frame{}, fmt.Errorf("%w: %d data digits for dlc %d", ErrSLCANSyntax, len(hex), n)
	}

	data := make([]byte, n)
	for i := range data {
		v, err := strconv.ParseUint(hex[2*i:2*i+2], 16, 8)
		if err != nil {
			return bmscan.Frame{}, fmt.Errorf("%w: data: %v", ErrSLCANSyntax, err)
		}
		data[i] = byte(v)
	}

	f, err := bmscan.NewFrame(uint32(id), data)
	if err != nil {
		return bmscan.Frame{}, fmt.Errorf("%w: %v", ErrSLCANSyntax, err)
	}
	if line[0] == 't' && f.Extended() {
		return bmscan.Frame{}, fmt.Errorf("%w: standard id 0x%X out of range", ErrSLCANSyntax, id)
	}
	return f, nil
}

// parseSLCANStatus parses an "Fxx" status flags reply
func parseSLCANStatus(line string) (uint32, error) {
	if len(line) != 3 || line[0] != 'F' {
		return 0, fmt.Errorf("%w: status %q", ErrSLCANSyntax, line)
	}
	v, err := strconv.ParseUint(line[1:], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: status: %v", ErrSLCANSyntax, err)
	}
	return uint32(v), nil
}
