// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmslink/internal/vcu"
	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

var frameTestTimeout int

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid BMS heartbeat",
	Long: `Wait for a BMS heartbeat on the bus until timeout.

Other frames are counted and ignored. A heartbeat with a reserved state or a
SOC above 100% still ends the wait but is reported.

Exit codes:
  0 - BMS heartbeat received before timeout
  1 - Timeout reached without receiving a BMS heartbeat
  2 - Connection error

Useful for checking wiring, bitrate and identifiers before a session.`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a heartbeat")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(frameTestTimeout)*time.Second)
	defer cancel()

	t, connInfo, err := OpenTransport(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer t.Close()

	fmt.Printf("bmslink - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for BMS heartbeat...\n\n")

	msg, skipped, err := waitForHeartbeat(ctx, t, bmscan.NewDecoder(cfg.VCU.IDs))
	switch {
	case err == nil:
		if skipped > 0 {
			fmt.Printf("(skipped %d other frames)\n", skipped)
		}
		fmt.Printf("SUCCESS: Received BMS heartbeat\n")
		fmt.Printf("  ID: 0x%03X\n", msg.Frame.ID)
		fmt.Printf("  Length: %d bytes\n", msg.Frame.Len)
		fmt.Printf("  State: %s (%d)\n", bmscan.BMSStateName(msg.Heartbeat.State), msg.Heartbeat.State)
		fmt.Printf("  SOC: %d%%\n", msg.Heartbeat.SOCPercentage)
		for _, a := range bmscan.ValidateMessage(msg) {
			fmt.Printf("  WARNING: %s\n", a.Message)
		}
		os.Exit(0)

	case ctx.Err() != nil:
		fmt.Fprintf(os.Stderr, "TIMEOUT: No BMS heartbeat received within %d seconds\n", frameTestTimeout)
		os.Exit(1)

	default:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	}

	return nil
}

// waitForHeartbeat polls t until a BMS heartbeat arrives or ctx is done
func waitForHeartbeat(ctx context.Context, t vcu.Transport, decoder *bmscan.Decoder) (bmscan.Message, int, error) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	skipped := 0
	for {
		frame, ok, err := t.Receive()
		if err != nil {
			return bmscan.Message{}, skipped, err
		}
		if ok {
			msg := decoder.Decode(frame)
			if msg.Kind == bmscan.KindBMSHeartbeat {
				return msg, skipped, nil
			}
			skipped++
			continue
		}

		select {
		case <-ctx.Done():
			return bmscan.Message{}, skipped, ctx.Err()
		case <-ticker.C:
		}
	}
}
