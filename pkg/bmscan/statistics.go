// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmscan

import (
	"fmt"
	"time"
)

// Statistics tracks frame statistics and anomaly rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames      uint64
	ValidFrames      uint64
	UnknownFrames    uint64
	LengthMismatches uint64
	InvalidStates    uint64
	SOCOutOfRange    uint64
	InvalidValues    uint64
	TransportFaults  uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // anomalies/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a message and its validation errors
func (s *Statistics) Update(validationErrors []ValidationError) {
	s.TotalFrames++

	if len(validationErrors) == 0 {
		s.ValidFrames++
	}
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyUnknownID:
			s.UnknownFrames++
		case AnomalyLengthMismatch:
			s.LengthMismatches++
		case AnomalyInvalidState:
			s.InvalidStates++
		case AnomalySOCRange:
			s.SOCOutOfRange++
		case AnomalyInvalidValue:
			s.InvalidValues++
		}
	}

	s.LastUpdateTime = time.Now()
}

// RecordFault counts a transport fault
func (s *Statistics) RecordFault() {
	s.TransportFaults++
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) anomalies() uint64 {
	return s.UnknownFrames + s.LengthMismatches + s.InvalidStates + s.SOCOutOfRange + s.InvalidValues
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.anomalies()+s.TransportFaults) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.UnknownFrames > 0 {
		result += fmt.Sprintf("Unknown IDs:     %8d\n", s.UnknownFrames)
	}
	if s.LengthMismatches > 0 {
		result += fmt.Sprintf("Short Frames:    %8d\n", s.LengthMismatches)
	}
	if s.InvalidStates > 0 {
		result += fmt.Sprintf("Invalid States:  %8d\n", s.InvalidStates)
	}
	if s.SOCOutOfRange > 0 {
		result += fmt.Sprintf("SOC > 100%%:      %8d\n", s.SOCOutOfRange)
	}
	if s.InvalidValues > 0 {
		result += fmt.Sprintf("Invalid Values:  %8d\n", s.InvalidValues)
	}
	if s.TransportFaults > 0 {
		result += fmt.Sprintf("CAN Faults:      %8d\n", s.TransportFaults)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
