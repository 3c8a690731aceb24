// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/Thermoquad/bmslink/internal/metrics"
	"github.com/Thermoquad/bmslink/internal/vcu"
)

const keyCtrlC = 0x03

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Run the VCU control loop with single-key operator commands",
	Long: `Run the VCU control loop on the terminal.

Keys:
  v  configure the VCU heartbeat, then
       s  send heartbeats with Standby state
       d  send heartbeats with Discharge state
       n  stop sending heartbeats
  d  send a discharge request
  h  help

Received BMS frames are printed as they arrive. Heartbeats are sent every
--heartbeat-period milliseconds. Structured logs go to stderr.

Supports SocketCAN, SLCAN over serial or WebSocket, and --simulate.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, connInfo, err := OpenTransport(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	fmt.Printf("bmslink - VCU Console\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	keys := vcu.NewKeyQueue(16)
	restore, err := startTerminalInput(keys, stop)
	if err != nil {
		return err
	}
	defer restore()

	observers := vcu.Observers{}
	var m *metrics.Metrics
	if metricsAddr != "" {
		m = metrics.New(cfg.VCU.IDs)
		m.SetMode(cfg.VCU.InitialMode)
		observers = append(observers, m)
	}

	ctrl := vcu.NewController(cfg.VCU, t, vcu.NewSystemClock(), keys,
		vcu.NewWriterSink(os.Stdout, "\r\n"),
		vcu.WithLogger(logger.WithName("vcu")),
		vcu.WithObserver(observers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	if m != nil {
		g.Go(func() error {
			logger.Info("serving metrics", "addr", metricsAddr)
			return m.Serve(gctx, metricsAddr)
		})
	}

	return g.Wait()
}

// startTerminalInput feeds stdin into keys one byte at a time. A terminal is
// put in raw mode so keys arrive without Enter; Ctrl+C then arrives as a byte
// and calls interrupt.
func startTerminalInput(keys *vcu.KeyQueue, interrupt func()) (func(), error) {
	fd := int(os.Stdin.Fd())
	restore := func() {}

	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return nil, fmt.Errorf("failed to set raw mode: %w", err)
		}
		restore = func() { _ = term.Restore(fd, oldState) }
	}

	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			if buf[0] == keyCtrlC {
				interrupt()
				return
			}
			if !keys.Push(buf[0]) {
				logger.Warn("key queue full, dropping key", "key", string(rune(buf[0])))
			}
		}
	}()

	return restore, nil
}
