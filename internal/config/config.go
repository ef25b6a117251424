// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Servers []ServerConfig `mapstructure:"servers"`
	Client  ClientConfig   `mapstructure:"client"`
	Log     LogConfig      `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path, "-" or empty for stdout
}

// ServerConfig defines one served bus: the upstreams masters reach us on
// and the units answering behind them.
type ServerConfig struct {
	Name      string           `mapstructure:"name"`
	Upstreams []UpstreamConfig `mapstructure:"upstreams"`
	Units     []UnitConfig     `mapstructure:"units"`
}

// UpstreamConfig defines a master connecting to the server
type UpstreamConfig struct {
	Type   string       `mapstructure:"type"`   // "tcp", "rtu", "rtu-over-tcp"
	Tcp    TcpConfig    `mapstructure:"tcp"`    // Used if Type is "tcp" or "rtu-over-tcp"
	Serial SerialConfig `mapstructure:"serial"` // Used if Type is "rtu"
}

// UnitConfig defines who answers a set of unit IDs: a local slave backed
// by a data model, or a remote slave requests are forwarded to.
type UnitConfig struct {
	Name     string       `mapstructure:"name"`      // Optional name for logging
	Type     string       `mapstructure:"type"`      // "local", "tcp", "rtu", "rtu-over-tcp"
	SlaveIDs string       `mapstructure:"slave_ids"` // Routing rules: "1", "1,2", "1-10", "*"
	Tcp      TcpConfig    `mapstructure:"tcp"`       // Used if Type is "tcp" or "rtu-over-tcp"
	Serial   SerialConfig `mapstructure:"serial"`    // Used if Type is "rtu"
	Local    LocalConfig  `mapstructure:"local"`     // Used if Type is "local"
}

// LocalConfig defines settings for local modbus slave device
type LocalConfig struct {
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// ClientConfig defines the slave the read and write commands talk to.
type ClientConfig struct {
	Type    string        `mapstructure:"type"` // "tcp", "rtu", "rtu-over-tcp"
	SlaveID int           `mapstructure:"slave_id"`
	Timeout time.Duration `mapstructure:"timeout"`
	Tcp     TcpConfig     `mapstructure:"tcp"`
	Serial  SerialConfig  `mapstructure:"serial"`
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:502" or "192.168.1.100:502"
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device    string        `mapstructure:"device"`
	BaudRate  int           `mapstructure:"baud_rate"`
	DataBits  int           `mapstructure:"data_bits"`
	Parity    string        `mapstructure:"parity"`
	StopBits  int           `mapstructure:"stop_bits"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RqstPause time.Duration `mapstructure:"rqst_pause"` // Pause between requests

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

var (
	upstreamTypes = []string{"tcp", "rtu", "rtu-over-tcp"}
	unitTypes     = []string{"local", "tcp", "rtu", "rtu-over-tcp"}
	storageTypes  = []string{"", "memory", "file", "mmap"}
)

// New returns a viper instance with defaults set and the config search
// path configured. configFile overrides the search path.
func New(configFile string) *viper.Viper {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbuskit/")
		v.AddConfigPath("$HOME/.modbuskit")
		v.AddConfigPath(".")
	}

	v.SetDefault("log.level", "info")
	v.SetDefault("client.type", "tcp")
	v.SetDefault("client.slave_id", 1)
	v.SetDefault("client.timeout", time.Second)
	v.SetDefault("client.tcp.address", "127.0.0.1:502")
	v.SetDefault("client.serial.baud_rate", 19200)
	v.SetDefault("client.serial.data_bits", 8)
	v.SetDefault("client.serial.stop_bits", 1)
	v.SetDefault("client.serial.parity", "E")
	return v
}

// LoadConfig loads configuration from file
func LoadConfig(configFile string) (*Config, error) {
	return Load(New(configFile), true)
}

// Load reads the config file of v, if any, and decodes it together with
// defaults and bound flags. A missing file is only an error when required.
func Load(v *viper.Viper, required bool) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if required {
			return nil, fmt.Errorf("failed to find config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	for i := range config.Servers {
		srv := &config.Servers[i]

		for j := range srv.Units {
			fixupSerial(&srv.Units[j].Serial)
		}

		for j := range srv.Upstreams {
			fixupSerial(&srv.Upstreams[j].Serial)
		}
	}
	fixupSerial(&config.Client.Serial)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the enumerated fields. Slave ID expressions are checked
// when routes are built.
func (c *Config) Validate() error {
	for _, srv := range c.Servers {
		for _, us := range srv.Upstreams {
			if !slices.Contains(upstreamTypes, us.Type) {
				return fmt.Errorf("server %q: unknown upstream type %q", srv.Name, us.Type)
			}
		}
		for _, unit := range srv.Units {
			if !slices.Contains(unitTypes, unit.Type) {
				return fmt.Errorf("server %q: unit %q: unknown type %q", srv.Name, unit.Name, unit.Type)
			}
			if !slices.Contains(storageTypes, unit.Local.Persistence.Type) {
				return fmt.Errorf("server %q: unit %q: unknown persistence type %q", srv.Name, unit.Name, unit.Local.Persistence.Type)
			}
		}
	}
	if c.Client.Type != "" && !slices.Contains(upstreamTypes, c.Client.Type) {
		return fmt.Errorf("client: unknown type %q", c.Client.Type)
	}
	if c.Client.SlaveID < 0 || c.Client.SlaveID > 247 {
		return fmt.Errorf("client: slave id %d out of range [0, 247]", c.Client.SlaveID)
	}
	return nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
	if s.RqstPause == 0 {
		s.RqstPause = 100 * time.Millisecond
	}
}
