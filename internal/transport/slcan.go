// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/bmslink/internal/log"
	"github.com/Thermoquad/bmslink/internal/vcu"
	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

// SLCAN status flag bits reported by the "F" command
const (
	SLCANStatusRxFull       = 1 << 0
	SLCANStatusTxFull       = 1 << 1
	SLCANStatusErrorWarn    = 1 << 2
	SLCANStatusDataOverrun  = 1 << 3
	SLCANStatusErrorPassive = 1 << 5
	SLCANStatusArbLost      = 1 << 6
	SLCANStatusBusError     = 1 << 7
)

// SLCANStatusRejected is reported when the adapter answers BEL
const SLCANStatusRejected = 1 << 8

// slcanMaxLine is the longest valid line: "T", 8 id digits, dlc, 16 data
// digits and a 4 digit timestamp
const slcanMaxLine = 30

// SLCANOptions configures an SLCAN transport
type SLCANOptions struct {
	Bitrate int `mapstructure:"bitrate"`

	// StatusInterval is how often the adapter's status flags are polled.
	// Zero disables polling.
	StatusInterval time.Duration `mapstructure:"status-interval"`

	QueueSize int `mapstructure:"queue-size"`

	// ReplyTimeout bounds the wait for the CR/BEL answer to each command of
	// the open sequence. Adapters that never answer only cost this delay.
	ReplyTimeout time.Duration `mapstructure:"reply-timeout"`
}

// DefaultSLCANOptions matches the firmware's 500 kbit/s bus
func DefaultSLCANOptions() SLCANOptions {
	return SLCANOptions{
		Bitrate:        500000,
		StatusInterval: time.Second,
		QueueSize:      DefaultQueueSize,
		ReplyTimeout:   100 * time.Millisecond,
	}
}

// SLCAN runs the Lawicel ASCII protocol over a byte stream such as a serial
// port or a WebSocket bridge
type SLCAN struct {
	conn io.ReadWriteCloser
	opts SLCANOptions
	log  log.Logger

	rx     chan bmscan.Frame
	rxErr  chan error
	status atomic.Uint32

	// While opening, bare CR and BEL replies go to replies instead of
	// being latched into status.
	opening atomic.Bool
	replies chan byte

	writeMu sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewSLCAN configures the adapter, opens the channel and starts reading
func NewSLCAN(conn io.ReadWriteCloser, opts SLCANOptions, logger log.Logger) (*SLCAN, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	s := &SLCAN{
		conn:  conn,
		opts:  opts,
		log:   logger,
		rx:    make(chan bmscan.Frame, opts.QueueSize),
		rxErr:   make(chan error, 1),
		replies: make(chan byte, 1),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.readLoop()

	if err := s.open(); err != nil {
		close(s.done)
		_ = s.conn.Close()
		s.wg.Wait()
		return nil, err
	}

	if opts.StatusInterval > 0 {
		s.wg.Add(1)
		go s.statusLoop()
	}

	return s, nil
}

func (s *SLCAN) open() error {
	bitrate, err := SLCANBitrateCommand(s.opts.Bitrate)
	if err != nil {
		return err
	}

	s.opening.Store(true)
	defer s.opening.Store(false)

	// Close first in case the adapter was left open by a previous session.
	// An adapter whose channel is already closed answers that with BEL.
	for _, cmd := range []string{"C\r", bitrate, "O\r"} {
		name := cmd[:len(cmd)-1]
		select {
		case <-s.replies:
		default:
		}
		if err := s.write(cmd); err != nil {
			return fmt.Errorf("slcan %q: %w", name, err)
		}
		reply, ok := s.awaitReply()
		if !ok {
			s.log.Debug("no SLCAN reply", "command", name)
			continue
		}
		if reply == slcanBell && name != "C" {
			return fmt.Errorf("slcan %q: %w", name, ErrSLCANRejected)
		}
	}
	s.log.Info("SLCAN channel open", "bitrate", s.opts.Bitrate)
	return nil
}

func (s *SLCAN) awaitReply() (byte, bool) {
	if s.opts.ReplyTimeout <= 0 {
		return 0, false
	}
	timer := time.NewTimer(s.opts.ReplyTimeout)
	defer timer.Stop()
	select {
	case b := <-s.replies:
		return b, true
	case <-timer.C:
		return 0, false
	case <-s.done:
		return 0, false
	}
}

// openReply hands a bare CR or BEL to open. It reports false outside the
// open sequence.
func (s *SLCAN) openReply(b byte) bool {
	if !s.opening.Load() {
		return false
	}
	select {
	case s.replies <- b:
	default:
	}
	return true
}

func (s *SLCAN) write(cmd string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := io.WriteString(s.conn, cmd)
	return err
}

func (s *SLCAN) readLoop() {
	defer s.wg.Done()

	r := bufio.NewReader(s.conn)
	var line []byte
	discarding := false

	for {
		b, err := r.ReadByte()
		if err != nil {
			select {
			case <-s.done:
			default:
				select {
				case s.rxErr <- err:
				default:
				}
			}
			return
		}

		switch b {
		case slcanBell:
			line = line[:0]
			discarding = false
			if s.openReply(b) {
				continue
			}
			s.status.Or(SLCANStatusRejected)
			s.log.Warn("SLCAN adapter rejected command")
		case slcanTerminator, '\n':
			switch {
			case discarding:
				discarding = false
			case len(line) > 0:
				s.handleLine(string(line))
			case b == slcanTerminator:
				s.openReply(b)
			}
			line = line[:0]
		default:
			if discarding {
				continue
			}
			if len(line) == slcanMaxLine {
				s.log.Debug("discarding overlong SLCAN line", "prefix", string(line[:8]))
				line = line[:0]
				discarding = true
				continue
			}
			line = append(line, b)
		}
	}
}

func (s *SLCAN) handleLine(line string) {
	switch line[0] {
	case 't', 'T':
		f, err := DecodeSLCAN(line)
		if err != nil {
			s.log.Debug("dropping SLCAN line", "line", line, "error", err)
			return
		}
		f.Timestamp = time.Now()
		select {
		case s.rx <- f:
		default:
			s.status.Or(SLCANStatusRxFull)
		}
	case 'F':
		flags, err := parseSLCANStatus(line)
		if err != nil {
			s.log.Debug("dropping SLCAN status", "line", line, "error", err)
			return
		}
		s.status.Or(flags)
	case 'z', 'Z':
		// Transmit acknowledgement.
	default:
		s.log.Debug("ignoring SLCAN line", "line", line)
	}
}

func (s *SLCAN) statusLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write("F\r"); err != nil {
				s.log.Debug("SLCAN status poll failed", "error", err)
			}
		}
	}
}

func (s *SLCAN) Receive() (bmscan.Frame, bool, error) {
	select {
	case f := <-s.rx:
		return f, true, nil
	default:
	}
	select {
	case err := <-s.rxErr:
		if errors.Is(err, io.EOF) {
			return bmscan.Frame{}, false, ErrClosed
		}
		return bmscan.Frame{}, false, fmt.Errorf("slcan read: %w", err)
	default:
		return bmscan.Frame{}, false, nil
	}
}

func (s *SLCAN) Transmit(f bmscan.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if err := s.write(EncodeSLCAN(f)); err != nil {
		return fmt.Errorf("slcan transmit: %w", errors.Join(err, vcu.FaultCode(SLCANStatusTxFull)))
	}
	return nil
}

func (s *SLCAN) ErrorStatus() uint32 {
	return s.status.Load()
}

// Reset closes and reopens the CAN channel and clears the latched status
func (s *SLCAN) Reset() error {
	s.status.Store(0)
	return s.open()
}

func (s *SLCAN) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.write("C\r")
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
