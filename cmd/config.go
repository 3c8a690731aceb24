// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/bmslink/internal/bmssim"
	"github.com/Thermoquad/bmslink/internal/transport"
	"github.com/Thermoquad/bmslink/internal/vcu"
)

// EnvPrefix prefixes every environment override, e.g. BMSLINK_VCU_HEARTBEAT_PERIOD
const EnvPrefix = "BMSLINK"

// Config is the file/env/flag configuration shared by all commands
type Config struct {
	VCU         vcu.Config             `mapstructure:"vcu"`
	InitialMode string                 `mapstructure:"initial-mode"`
	SLCAN       transport.SLCANOptions `mapstructure:"slcan"`
	Sim         bmssim.Config          `mapstructure:"sim"`
}

// LoadConfig layers defaults, the optional YAML file, BMSLINK_* environment
// variables and command-line flags, later layers winning
func LoadConfig(cmd *cobra.Command, file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	bindings := map[string]string{
		"slcan.bitrate":        "bitrate",
		"vcu.heartbeat-period": "heartbeat-period",
	}
	for key, flag := range bindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	mode, err := vcu.ParseMode(c.InitialMode)
	if err != nil {
		return nil, err
	}
	c.VCU.InitialMode = mode
	c.Sim.IDs = c.VCU.IDs
	c.Sim.HeartbeatPeriod = c.VCU.HeartbeatPeriod

	return &c, nil
}

func setDefaults(v *viper.Viper) {
	vc := vcu.DefaultConfig()
	ids := vc.IDs
	v.SetDefault("vcu.ids.bms-heartbeat", ids.BMSHeartbeat)
	v.SetDefault("vcu.ids.bms-discharge-response", ids.BMSDischargeResponse)
	v.SetDefault("vcu.ids.bms-pack-status", ids.BMSPackStatus)
	v.SetDefault("vcu.ids.bms-cell-temps", ids.BMSCellTemps)
	v.SetDefault("vcu.ids.bms-errors", ids.BMSErrors)
	v.SetDefault("vcu.ids.vcu-heartbeat", ids.VCUHeartbeat)
	v.SetDefault("vcu.ids.vcu-discharge-request", ids.VCUDischargeRequest)
	v.SetDefault("vcu.heartbeat-period", vc.HeartbeatPeriod)
	v.SetDefault("vcu.idle-interval", vc.IdleInterval)
	v.SetDefault("initial-mode", vc.InitialMode.String())

	so := transport.DefaultSLCANOptions()
	v.SetDefault("slcan.bitrate", so.Bitrate)
	v.SetDefault("slcan.status-interval", so.StatusInterval)
	v.SetDefault("slcan.queue-size", so.QueueSize)
	v.SetDefault("slcan.reply-timeout", so.ReplyTimeout)

	sc := bmssim.DefaultConfig()
	v.SetDefault("sim.initial-soc", sc.InitialSOC)
	v.SetDefault("sim.drain-period", sc.DrainPeriod)
	v.SetDefault("sim.vcu-timeout", sc.VCUTimeout)
}
