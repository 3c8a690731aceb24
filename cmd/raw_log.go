// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

var (
	recordFile string
	showStats  bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display received CAN frames in human-readable format",
	Long: `Continuously decode and display CAN frames as they arrive.

Each frame is shown with its timestamp, message kind, identifier and decoded
fields. Anomalies (reserved BMS state, SOC above 100%, short frames, unknown
identifiers) are flagged inline. Nothing is transmitted.

With --record, every frame is also appended to a CBOR capture file that the
replay command can decode later.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVarP(&recordFile, "record", "r", "", "Append received frames to a CBOR capture file")
	rawLogCmd.Flags().BoolVar(&showStats, "stats", false, "Print statistics on exit")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, connInfo, err := OpenTransport(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	var capture *bmscan.CaptureWriter
	if recordFile != "" {
		f, err := os.OpenFile(recordFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open capture file: %w", err)
		}
		defer f.Close()
		capture = bmscan.NewCaptureWriter(f)
	}

	fmt.Printf("bmslink - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if recordFile != "" {
		fmt.Printf("Recording: %s\n", recordFile)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := bmscan.NewDecoder(cfg.VCU.IDs)
	stats := bmscan.NewStatistics()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		frame, ok, err := t.Receive()
		if err != nil {
			logger.Error(err, "receive failed")
			stats.RecordFault()
			return err
		}

		if !ok {
			select {
			case <-ctx.Done():
				if showStats {
					stats.CalculateRates()
					fmt.Print(stats.String())
				}
				return nil
			case <-ticker.C:
			}
			continue
		}

		msg := decoder.Decode(frame)
		anomalies := bmscan.ValidateMessage(msg)
		stats.Update(anomalies)

		fmt.Print(bmscan.FormatMessage(msg))
		for _, a := range anomalies {
			fmt.Printf("  [ANOMALY] %s\n", a.Message)
		}

		if capture != nil {
			if err := capture.Write(frame); err != nil {
				return fmt.Errorf("failed to record frame: %w", err)
			}
		}
	}
}
