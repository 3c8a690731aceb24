// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vcu

// DefaultHeartbeatPeriod is the heartbeat interval in ticks
const DefaultHeartbeatPeriod uint32 = 1000

// Scheduler decides when the next heartbeat is due. Elapsed time is computed
// with unsigned subtraction so a single tick counter wrap is harmless.
type Scheduler struct {
	period uint32
	last   uint32
}

// NewScheduler creates a scheduler; a zero period selects the default
func NewScheduler(period uint32) *Scheduler {
	if period == 0 {
		period = DefaultHeartbeatPeriod
	}
	return &Scheduler{period: period}
}

// Due reports whether more than one period has elapsed since the last fire
func (s *Scheduler) Due(now uint32) bool {
	return now-s.last > s.period
}

// Fire records now as the last fire tick
func (s *Scheduler) Fire(now uint32) {
	s.last = now
}

func (s *Scheduler) Last() uint32 {
	return s.last
}

func (s *Scheduler) Period() uint32 {
	return s.period
}
