// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package router

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ffutop/modbuskit/internal/config"
	localslave "github.com/ffutop/modbuskit/internal/local-slave"
	"github.com/ffutop/modbuskit/modbus"
	"github.com/ffutop/modbuskit/transport"
	"github.com/ffutop/modbuskit/transport/local"
	"github.com/ffutop/modbuskit/transport/rtu"
	rtuovertcp "github.com/ffutop/modbuskit/transport/rtu-over-tcp"
	"github.com/ffutop/modbuskit/transport/tcp"
)

// Wildcard as a unit's slave_ids makes it the default route.
const Wildcard = "*"

// FromConfig builds the router for one configured server.
func FromConfig(cfg config.ServerConfig) (*Router, error) {
	var upstreams []transport.Upstream
	for _, usCfg := range cfg.Upstreams {
		us, err := NewUpstream(usCfg)
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", cfg.Name, err)
		}
		upstreams = append(upstreams, us)
	}

	r := New(cfg.Name, upstreams, make(map[byte]transport.Downstream), nil)
	for _, unit := range cfg.Units {
		if err := r.addUnit(unit); err != nil {
			for _, ds := range r.downstreams() {
				ds.Close()
			}
			return nil, fmt.Errorf("server %q: unit %q: %w", cfg.Name, unit.Name, err)
		}
	}
	return r, nil
}

func (r *Router) addUnit(unit config.UnitConfig) error {
	var ids []byte
	wildcard := strings.TrimSpace(unit.SlaveIDs) == Wildcard
	if !wildcard {
		var err error
		if ids, err = ParseSlaveIDs(unit.SlaveIDs); err != nil {
			return err
		}
		for _, id := range ids {
			if _, dup := r.Routes[id]; dup {
				return fmt.Errorf("slave id %d is routed twice", id)
			}
		}
	} else if r.DefaultRoute != nil {
		return fmt.Errorf("more than one default route")
	}

	ds, err := NewDownstream(unit)
	if err != nil {
		return err
	}
	if wildcard {
		r.DefaultRoute = ds
	}
	for _, id := range ids {
		r.Routes[id] = ds
	}
	slog.Info("Unit routed", "router", r.Name, "unit", unit.Name, "type", unit.Type, "slave_ids", unit.SlaveIDs)
	return nil
}

// NewUpstream creates the listener side transport described by cfg.
func NewUpstream(cfg config.UpstreamConfig) (transport.Upstream, error) {
	switch cfg.Type {
	case "tcp":
		return tcp.NewServer(cfg.Tcp.Address), nil
	case "rtu":
		return rtu.NewServer(cfg.Serial), nil
	case "rtu-over-tcp":
		return rtuovertcp.NewServer(cfg.Tcp.Address), nil
	default:
		return nil, fmt.Errorf("unknown upstream type %q", cfg.Type)
	}
}

// NewDownstream creates the unit behind a route: a local slave served in
// process, or a client forwarding to a remote slave.
func NewDownstream(unit config.UnitConfig) (transport.Downstream, error) {
	switch unit.Type {
	case "local":
		slave, err := localslave.Open(unit.Local)
		if err != nil {
			return nil, err
		}
		srv := modbus.NewServer(modbus.WithServerLogger(slog.Default().With("unit", unit.Name)))
		slave.Register(srv)
		return local.NewClient(srv, slave.Close), nil
	case "tcp":
		return tcp.NewClient(unit.Tcp.Address), nil
	case "rtu":
		return rtu.NewClient(unit.Serial), nil
	case "rtu-over-tcp":
		return rtuovertcp.NewClient(unit.Tcp.Address), nil
	default:
		return nil, fmt.Errorf("unknown unit type %q", unit.Type)
	}
}
