// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

var replayAnomaliesOnly bool

var replayCmd = &cobra.Command{
	Use:   "replay <capture.cbor>",
	Short: "Decode a CBOR capture file recorded by raw_log",
	Long: `Decode every frame of a capture file offline and print a summary.

No connection is opened. Identifiers come from the config file or
environment, so a capture can be re-decoded with a different ID table.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayAnomaliesOnly, "anomalies", false, "Only print frames with anomalies")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	stats, err := replayCapture(f, cmd.OutOrStdout(), bmscan.NewDecoder(cfg.VCU.IDs), replayAnomaliesOnly)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), stats.String())
	return nil
}

// replayCapture decodes every frame in r and writes the formatted output to w
func replayCapture(r io.Reader, w io.Writer, decoder *bmscan.Decoder, anomaliesOnly bool) (*bmscan.Statistics, error) {
	reader := bmscan.NewCaptureReader(r)
	stats := bmscan.NewStatistics()

	var first, last bmscan.Frame
	for {
		frame, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("capture frame %d: %w", stats.TotalFrames+1, err)
		}
		if stats.TotalFrames == 0 {
			first = frame
		}
		last = frame

		msg := decoder.Decode(frame)
		anomalies := bmscan.ValidateMessage(msg)
		stats.Update(anomalies)

		if anomaliesOnly && len(anomalies) == 0 {
			continue
		}
		fmt.Fprint(w, bmscan.FormatMessage(msg))
		for _, a := range anomalies {
			fmt.Fprintf(w, "  [ANOMALY] %s\n", a.Message)
		}
	}

	if stats.TotalFrames > 0 {
		fmt.Fprintf(w, "\nCapture span: %s\n", last.Timestamp.Sub(first.Timestamp))
	}
	return stats, nil
}
