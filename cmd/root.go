// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmslink/internal/log"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// SocketCAN flags
	ifaceName string

	// In-process simulated BMS instead of a real bus
	simulate bool

	configFile  string
	metricsAddr string
	logOptions  = log.NewOptions()

	// Set by PersistentPreRunE
	cfg    *Config
	logger log.Logger = log.NewNopLogger()
)

var rootCmd = &cobra.Command{
	Use:   "bmslink",
	Short: "VCU/BMS CAN console",
	Long: `bmslink - drive the VCU side of a VCU/BMS CAN link and watch what the BMS reports.

Decodes BMS heartbeat and discharge response frames, sends VCU heartbeats once
per second in the selected mode, and sends discharge requests on demand.

Connection modes:
  SocketCAN: --iface can0
  Serial:    --port /dev/ttyACM0 [--baud 115200] [--bitrate 500000]   (SLCAN adapter)
  WebSocket: --url ws://host/path [--username user]                  (SLCAN bridge)
  Simulated: --simulate                                               (in-process BMS)

For WebSocket authentication, the password is read from the BMSLINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Message identifiers, heartbeat period and SLCAN settings can be set in a YAML
file (--config) or through BMSLINK_* environment variables.`,
	Version:      "1.0.0",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = LoadConfig(cmd, configFile)
		if err != nil {
			return err
		}
		logger, err = log.NewLogger(logOptions)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Serial connection flags
	flags.StringVarP(&portName, "port", "p", "", "Serial port of an SLCAN adapter")
	flags.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringVarP(&wsURL, "url", "u", "", "WebSocket URL of an SLCAN bridge (ws:// or wss://)")
	flags.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	flags.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	flags.StringVarP(&ifaceName, "iface", "i", "", "SocketCAN interface (Linux)")
	flags.BoolVar(&simulate, "simulate", false, "Talk to an in-process simulated BMS")

	flags.Int("bitrate", 500000, "CAN bitrate for SLCAN adapters")
	flags.Uint32("heartbeat-period", 1000, "VCU heartbeat period in milliseconds")

	flags.StringVarP(&configFile, "config", "c", "", "YAML config file")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	logOptions.AddFlags(flags)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
