// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ffutop/modbuskit/internal/config"
)

// flagKeys maps command line flags to configuration keys. Flags set on the
// command line win over the config file.
var flagKeys = map[string]string{
	"log-level": "log.level",
	"log-file":  "log.file",
	"type":      "client.type",
	"address":   "client.tcp.address",
	"slave-id":  "client.slave_id",
	"timeout":   "client.timeout",
	"device":    "client.serial.device",
	"baud-rate": "client.serial.baud_rate",
	"parity":    "client.serial.parity",
}

// registerClientFlags adds the flags selecting the slave a master command
// talks to.
func registerClientFlags(flags *pflag.FlagSet) {
	flags.StringP("type", "t", "tcp", "Transport to the slave (tcp, rtu, rtu-over-tcp).")
	flags.StringP("address", "A", "127.0.0.1:502", "Slave TCP address.")
	flags.IntP("slave-id", "u", 1, "Slave (unit) ID.")
	flags.DurationP("timeout", "W", 0, "Response wait time.")
	flags.StringP("device", "p", "", "Serial port device name.")
	flags.IntP("baud-rate", "s", 0, "Serial port speed.")
	flags.String("parity", "", "Serial parity (N, E, O).")
}

// loadConfig reads the configuration of cmd: defaults, the config file
// named by --config and the flags that were set explicitly.
func loadConfig(cmd *cobra.Command, required bool) (*config.Config, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	v := config.New(configFile)

	var bindErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	cfg, err := config.Load(v, required)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Log)
	return cfg, nil
}
