// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ffutop/modbuskit/internal/config"
	"github.com/ffutop/modbuskit/internal/master"
	"github.com/ffutop/modbuskit/internal/router"
)

type requestFlags struct {
	address uint16
	count   uint16
	output  string
}

// readOutput is what read and write print.
type readOutput struct {
	Slave   int    `yaml:"slave"`
	Table   string `yaml:"table"`
	Address uint16 `yaml:"address"`
	Values  any    `yaml:"values"`
}

func newReadCmd() *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "read <coils|discrete|holding|input>",
		Short: "Read a range of a slave's data table",
		Example: `  modbuskit read holding --addr 0 --count 10
  modbuskit read coils -t rtu -p /dev/ttyUSB0 -u 3 --count 16 --output yaml`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"coils", "discrete", "holding", "input"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMaster(cmd, func(ctx context.Context, m *master.Master, slaveID int) error {
				out := readOutput{Slave: slaveID, Table: args[0], Address: flags.address}
				var err error
				switch args[0] {
				case "coils":
					out.Values, err = m.ReadCoils(ctx, flags.address, flags.count)
				case "discrete":
					out.Values, err = m.ReadDiscreteInputs(ctx, flags.address, flags.count)
				case "holding":
					out.Values, err = m.ReadHoldingRegisters(ctx, flags.address, flags.count)
				case "input":
					out.Values, err = m.ReadInputRegisters(ctx, flags.address, flags.count)
				default:
					return fmt.Errorf("unknown table %q", args[0])
				}
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), flags.output, out)
			})
		},
	}
	registerClientFlags(cmd.Flags())
	cmd.Flags().Uint16Var(&flags.address, "addr", 0, "Starting address (0-based).")
	cmd.Flags().Uint16VarP(&flags.count, "count", "n", 1, "Number of items to read.")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "text", "Output format (text, yaml).")
	return cmd
}

func newWriteCmd() *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "write <coil|register|coils|registers> <value>...",
		Short: "Write values to a slave",
		Example: `  modbuskit write register --addr 10 0xBEEF
  modbuskit write coils --addr 0 1 0 1 1`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, raw := args[0], args[1:]
			if (kind == "coil" || kind == "register") && len(raw) != 1 {
				return fmt.Errorf("%s takes exactly one value", kind)
			}
			return withMaster(cmd, func(ctx context.Context, m *master.Master, slaveID int) error {
				out := readOutput{Slave: slaveID, Table: kind, Address: flags.address}
				switch kind {
				case "coil", "coils":
					values, err := parseCoils(raw)
					if err != nil {
						return err
					}
					if kind == "coil" {
						err = m.WriteSingleCoil(ctx, flags.address, values[0])
					} else {
						err = m.WriteMultipleCoils(ctx, flags.address, values)
					}
					if err != nil {
						return err
					}
					out.Values = values
				case "register", "registers":
					values, err := parseRegisters(raw)
					if err != nil {
						return err
					}
					if kind == "register" {
						err = m.WriteSingleRegister(ctx, flags.address, values[0])
					} else {
						err = m.WriteMultipleRegisters(ctx, flags.address, values)
					}
					if err != nil {
						return err
					}
					out.Values = values
				default:
					return fmt.Errorf("unknown write kind %q", kind)
				}
				return printOutput(cmd.OutOrStdout(), flags.output, out)
			})
		},
	}
	registerClientFlags(cmd.Flags())
	cmd.Flags().Uint16Var(&flags.address, "addr", 0, "Starting address (0-based).")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "text", "Output format (text, yaml).")
	return cmd
}

// withMaster loads the client configuration, connects to the slave and
// runs fn with a Master bound to it.
func withMaster(cmd *cobra.Command, fn func(ctx context.Context, m *master.Master, slaveID int) error) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	ds, err := router.NewDownstream(config.UnitConfig{
		Name:   "client",
		Type:   cfg.Client.Type,
		Tcp:    cfg.Client.Tcp,
		Serial: cfg.Client.Serial,
	})
	if err != nil {
		return err
	}
	defer ds.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Client.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Client.Timeout)
		defer cancel()
	}
	if err := ds.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return fn(ctx, master.New(ds, byte(cfg.Client.SlaveID)), cfg.Client.SlaveID)
}

func parseCoils(raw []string) ([]bool, error) {
	values := make([]bool, len(raw))
	for i, s := range raw {
		switch strings.ToLower(s) {
		case "1", "on", "true":
			values[i] = true
		case "0", "off", "false":
		default:
			return nil, fmt.Errorf("invalid coil value %q", s)
		}
	}
	return values, nil
}

func parseRegisters(raw []string) ([]uint16, error) {
	values := make([]uint16, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid register value %q: %w", s, err)
		}
		values[i] = uint16(v)
	}
	return values, nil
}

func printOutput(w io.Writer, format string, out readOutput) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(out)
	case "", "text":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	switch values := out.Values.(type) {
	case []bool:
		for i, v := range values {
			state := 0
			if v {
				state = 1
			}
			fmt.Fprintf(w, "%d\t%d\n", int(out.Address)+i, state)
		}
	case []uint16:
		for i, v := range values {
			fmt.Fprintf(w, "%d\t%d\t0x%04X\n", int(out.Address)+i, v, v)
		}
	}
	return nil
}
