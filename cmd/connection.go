// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/bmslink/internal/bmssim"
	"github.com/Thermoquad/bmslink/internal/transport"
	"github.com/Thermoquad/bmslink/internal/vcu"
)

// Connection is the byte stream under an SLCAN transport: a serial port or a
// WebSocket bridge
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// WebSocketBridge carries SLCAN lines over a WebSocket. A bridge may pack
// several lines into one message or split a line across messages, so the
// stream is reassembled byte by byte.
type WebSocketBridge struct {
	conn    *websocket.Conn
	pending []byte
	err     error
}

func (b *WebSocketBridge) Read(p []byte) (int, error) {
	for len(b.pending) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		kind, data, err := b.conn.ReadMessage()
		if err != nil {
			b.err = fmt.Errorf("bridge read: %w", err)
			continue
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			b.pending = data
		}
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

// Write sends each SLCAN command as one text message
func (b *WebSocketBridge) Write(p []byte) (int, error) {
	if err := b.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, fmt.Errorf("bridge write: %w", err)
	}
	return len(p), nil
}

func (b *WebSocketBridge) Close() error {
	return b.conn.Close()
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection dials an SLCAN bridge, with HTTP Basic auth when
// username and password are both set
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge connection failed: %w", err)
	}
	return &WebSocketBridge{conn: conn}, nil
}

// GetPassword reads the bridge password from BMSLINK_PASSWORD, or prompts
// on the terminal without echo
func GetPassword() (string, error) {
	if pw := os.Getenv(EnvPrefix + "_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	pw, err := term.ReadPassword(int(syscall.Stdin))
	if err == nil {
		return string(pw), nil
	}

	// Not a terminal, e.g. piped input.
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens either a serial or WebSocket connection based on flags
func OpenConnection() (Connection, string, error) {
	if wsURL != "" {
		// WebSocket mode
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		// Serial mode
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("one of --iface, --port, --url or --simulate must be specified")
}

// OpenTransport opens the CAN transport selected by flags. With --simulate
// the simulated BMS runs until ctx is done.
func OpenTransport(ctx context.Context) (transport.Transport, string, error) {
	if simulate {
		vcuEnd, bmsEnd := transport.NewLoopbackPair(cfg.SLCAN.QueueSize)
		sim := bmssim.New(cfg.Sim, bmsEnd, logger.WithName("bmssim"))
		go func() {
			if err := sim.Run(ctx, vcu.NewSystemClock()); err != nil {
				logger.Error(err, "simulated BMS stopped")
			}
		}()
		return vcuEnd, fmt.Sprintf("Simulated BMS (SOC %d%%)", cfg.Sim.InitialSOC), nil
	}

	if ifaceName != "" {
		t, err := transport.NewSocketCAN(ifaceName, cfg.SLCAN.QueueSize, logger.WithName("socketcan"))
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("SocketCAN: %s", ifaceName), nil
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, "", err
	}

	t, err := transport.NewSLCAN(conn, cfg.SLCAN, logger.WithName("slcan"))
	if err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("SLCAN setup on %s: %w", connInfo, err)
	}
	return t, fmt.Sprintf("SLCAN %s @ %d bit/s", connInfo, cfg.SLCAN.Bitrate), nil
}
