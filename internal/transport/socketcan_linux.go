// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package transport

import (
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brutella/can"
	"golang.org/x/sys/unix"

	"github.com/Thermoquad/bmslink/internal/log"
	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

// canDialer opens a fresh raw CAN connection
type canDialer func() (can.ReadWriteCloser, error)

// canConn is one bound socket and the goroutine publishing from it.
// done is closed when that goroutine returns.
type canConn struct {
	bus  *can.Bus
	done chan struct{}
}

// SocketCAN is a transport bound to a Linux CAN network interface
type SocketCAN struct {
	name string
	dial canDialer
	log  log.Logger

	rx     chan bmscan.Frame
	rxErr  chan error
	status atomic.Uint32

	mu   sync.Mutex
	conn *canConn
}

// NewSocketCAN binds to the named interface, e.g. can0 or vcan0
func NewSocketCAN(name string, queueSize int, logger log.Logger) (*SocketCAN, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("could not find network interface %s: %w", name, err)
	}
	return newSocketCAN(name, func() (can.ReadWriteCloser, error) {
		return openRawCAN(iface)
	}, queueSize, logger)
}

func newSocketCAN(name string, dial canDialer, queueSize int, logger log.Logger) (*SocketCAN, error) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	s := &SocketCAN{
		name:  name,
		dial:  dial,
		log:   logger,
		rx:    make(chan bmscan.Frame, queueSize),
		rxErr: make(chan error, 1),
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// openRawCAN binds a CAN_RAW socket with every error class enabled, so bus
// errors reach the transport as error frames
func openRawCAN(iface *net.Interface) (can.ReadWriteCloser, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, unix.CAN_ERR_MASK); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set error filter: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return can.NewReadWriteCloser(os.NewFile(uintptr(fd), iface.Name)), nil
}

func (s *SocketCAN) connect() error {
	rwc, err := s.dial()
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.name, err)
	}

	c := &canConn{bus: can.NewBus(rwc), done: make(chan struct{})}
	c.bus.SubscribeFunc(func(frm can.Frame) { s.handle(c, frm) })

	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()

	go func() {
		defer close(c.done)
		err := c.bus.ConnectAndPublish()
		if err == nil || !s.current(c) {
			return
		}
		select {
		case s.rxErr <- err:
		default:
		}
	}()

	s.log.Info("SocketCAN bound", "iface", s.name)
	return nil
}

// current reports whether c is the live connection. A replaced socket can
// still be blocked in read and wake up with one last frame or a close error.
func (s *SocketCAN) current(c *canConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == c
}

func (s *SocketCAN) handle(c *canConn, frm can.Frame) {
	if !s.current(c) {
		return
	}
	if frm.ID&unix.CAN_ERR_FLAG != 0 {
		s.status.Or(frm.ID & unix.CAN_ERR_MASK)
		return
	}
	if frm.ID&unix.CAN_RTR_FLAG != 0 {
		return
	}

	id := frm.ID & unix.CAN_SFF_MASK
	if frm.ID&unix.CAN_EFF_FLAG != 0 {
		id = frm.ID & unix.CAN_EFF_MASK
	}
	n := frm.Length
	if n > bmscan.MaxDataLen {
		n = bmscan.MaxDataLen
	}

	f, err := bmscan.NewFrame(id, frm.Data[:n])
	if err != nil {
		s.log.Debug("dropping SocketCAN frame", "id", frm.ID, "error", err)
		return
	}
	f.Timestamp = time.Now()

	select {
	case s.rx <- f:
	default:
		s.log.Warn("receive queue full, dropping frame", "frame", f)
	}
}

func (s *SocketCAN) Receive() (bmscan.Frame, bool, error) {
	select {
	case f := <-s.rx:
		return f, true, nil
	default:
	}
	select {
	case err := <-s.rxErr:
		return bmscan.Frame{}, false, fmt.Errorf("socketcan read: %w", err)
	default:
		return bmscan.Frame{}, false, nil
	}
}

func (s *SocketCAN) Transmit(f bmscan.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	frm := can.Frame{ID: f.ID, Length: f.Len, Data: f.Data}
	if f.Extended() {
		frm.ID |= unix.CAN_EFF_FLAG
	}

	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return ErrClosed
	}
	if err := c.bus.Publish(frm); err != nil {
		return fmt.Errorf("socketcan transmit: %w", err)
	}
	return nil
}

func (s *SocketCAN) ErrorStatus() uint32 {
	return s.status.Load()
}

// Reset rebinds the socket and clears the latched error class
func (s *SocketCAN) Reset() error {
	if err := s.disconnect(); err != nil {
		s.log.Debug("disconnect before reset failed", "error", err)
	}
	s.status.Store(0)
	select {
	case <-s.rxErr:
	default:
	}
	return s.connect()
}

func (s *SocketCAN) Close() error {
	return s.disconnect()
}

func (s *SocketCAN) disconnect() error {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.bus.Disconnect()
}
