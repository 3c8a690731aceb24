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

	"github.com/Thermoquad/bmslink/internal/bmssim"
	"github.com/Thermoquad/bmslink/internal/vcu"
)

var bmsSimCmd = &cobra.Command{
	Use:   "bms_sim",
	Short: "Simulate a BMS on the bus",
	Long: `Act as the BMS end of the link for bench testing a VCU.

Sends a BMS heartbeat every heartbeat period with the simulated state and state
of charge, leaves INIT on the first VCU heartbeat, answers discharge requests
with READY while the pack has charge, enters DISCHARGE when the VCU heartbeat
asks for it, and drains the SOC while discharging.

Needs --iface, --port or --url (--simulate has no effect here).`,
	RunE: runBMSSim,
}

func init() {
	rootCmd.AddCommand(bmsSimCmd)
	bmsSimCmd.Flags().Uint16("soc", 80, "Initial state of charge in percent")
}

func runBMSSim(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	simulate = false
	t, connInfo, err := OpenTransport(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	simCfg := cfg.Sim
	if cmd.Flags().Changed("soc") {
		simCfg.InitialSOC, _ = cmd.Flags().GetUint16("soc")
	}

	fmt.Printf("bmslink - BMS Simulator\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Initial SOC: %d%%\n", simCfg.InitialSOC)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sim := bmssim.New(simCfg, t, logger.WithName("bmssim"))
	return sim.Run(ctx, vcu.NewSystemClock())
}
