// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmscan

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Capture files are a sequence of CBOR maps, one per frame:
// {0: unix_nanos, 1: id, 2: data}

type captureRecord struct {
	Timestamp int64  `cbor:"0,keyasint"`
	ID        uint32 `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint"`
}

// CaptureWriter appends frames to a capture stream
type CaptureWriter struct {
	enc *cbor.Encoder
}

// NewCaptureWriter creates a capture writer on w
func NewCaptureWriter(w io.Writer) *CaptureWriter {
	return &CaptureWriter{enc: cbor.NewEncoder(w)}
}

// Write records a single frame
func (c *CaptureWriter) Write(f Frame) error {
	rec := captureRecord{
		Timestamp: f.Timestamp.UnixNano(),
		ID:        f.ID,
		Data:      append([]byte(nil), f.Bytes()...),
	}
	if err := c.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode capture record: %w", err)
	}
	return nil
}

// CaptureReader reads frames back from a capture stream
type CaptureReader struct {
	dec *cbor.Decoder
}

// NewCaptureReader creates a capture reader on r
func NewCaptureReader(r io.Reader) *CaptureReader {
	return &CaptureReader{dec: cbor.NewDecoder(r)}
}

// Read returns the next frame, or io.EOF at the end of the stream
func (c *CaptureReader) Read() (Frame, error) {
	var rec captureRecord
	if err := c.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("failed to decode capture record: %w", err)
	}
	f, err := NewFrame(rec.ID, rec.Data)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid capture record: %w", err)
	}
	f.Timestamp = time.Unix(0, rec.Timestamp)
	return f, nil
}
