// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package router dispatches requests from upstream masters to the unit
// answering their slave ID.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ffutop/modbuskit/modbus"
	"github.com/ffutop/modbuskit/transport"
)

// DefaultTimeout bounds a forwarded request when the upstream sets no
// deadline of its own.
const DefaultTimeout = 2 * time.Second

// Router represents a single served bus.
// It bridges multiple Upstreams (Masters) to multiple Downstreams (Slaves) by slave ID.
type Router struct {
	Name         string
	Upstreams    []transport.Upstream
	Routes       map[byte]transport.Downstream
	DefaultRoute transport.Downstream
	Timeout      time.Duration
}

// New creates a new Router instance
func New(name string, upstreams []transport.Upstream, routes map[byte]transport.Downstream, defaultRoute transport.Downstream) *Router {
	return &Router{
		Name:         name,
		Upstreams:    upstreams,
		Routes:       routes,
		DefaultRoute: defaultRoute,
		Timeout:      DefaultTimeout,
	}
}

// ParseSlaveIDs parses a string of slave IDs (e.g. "1,2,5-10") into a slice of bytes.
func ParseSlaveIDs(input string) ([]byte, error) {
	var ids []byte
	parts := strings.Split(input, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			ranges := strings.Split(part, "-")
			if len(ranges) != 2 {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			start, err := parseID(ranges[0])
			if err != nil {
				return nil, fmt.Errorf("invalid start of range: %w", err)
			}
			end, err := parseID(ranges[1])
			if err != nil {
				return nil, fmt.Errorf("invalid end of range: %w", err)
			}
			if start > end {
				return nil, fmt.Errorf("start of range %d is greater than end %d", start, end)
			}
			for i := start; i <= end; i++ {
				ids = append(ids, byte(i))
			}
		} else {
			id, err := parseID(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, byte(id))
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no slave ids in %q", input)
	}
	return ids, nil
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}
	if id < 0 || id > 255 {
		return 0, fmt.Errorf("id out of range: %d", id)
	}
	return id, nil
}

func (r *Router) downstreams() []transport.Downstream {
	seen := make(map[transport.Downstream]struct{})
	var out []transport.Downstream
	add := func(ds transport.Downstream) {
		if _, ok := seen[ds]; ok || ds == nil {
			return
		}
		seen[ds] = struct{}{}
		out = append(out, ds)
	}
	for _, ds := range r.Routes {
		add(ds)
	}
	add(r.DefaultRoute)
	return out
}

// Start connects the downstreams, serves every upstream and blocks until
// ctx is done. Everything is closed on return.
func (r *Router) Start(ctx context.Context) error {
	downstreams := r.downstreams()
	for _, ds := range downstreams {
		if err := ds.Connect(ctx); err != nil {
			// Serial ports and remote slaves may come up later; Send reconnects.
			slog.Error("Failed to connect downstream", "router", r.Name, "err", err)
		}
	}

	var wg sync.WaitGroup
	for i, us := range r.Upstreams {
		wg.Add(1)
		go func(ups transport.Upstream, idx int) {
			defer wg.Done()
			slog.Info("Starting upstream", "router", r.Name, "index", idx)
			if err := ups.Start(ctx, r.Handle); err != nil {
				slog.Error("Upstream stopped with error", "router", r.Name, "index", idx, "err", err)
			}
		}(us, i)
	}

	<-ctx.Done()

	for _, us := range r.Upstreams {
		us.Close()
	}
	wg.Wait()
	for _, ds := range downstreams {
		if err := ds.Close(); err != nil {
			slog.Warn("Failed to close downstream", "router", r.Name, "err", err)
		}
	}
	return nil
}

// Handle forwards one request to the downstream routed for slaveID. It
// satisfies transport.RequestHandler.
func (r *Router) Handle(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	target, ok := r.Routes[slaveID]
	if !ok {
		target = r.DefaultRoute
	}
	if target == nil {
		slog.Warn("No route found for slave ID", "router", r.Name, "slaveID", slaveID)
		return modbus.ProtocolDataUnit{}, modbus.ExceptionCodeGatewayPathUnavailable
	}

	if _, ok := ctx.Deadline(); !ok && r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	resp, err := target.Send(ctx, slaveID, pdu)
	if err != nil {
		slog.Error("Downstream request failed", "router", r.Name, "slaveID", slaveID, "func", modbus.FunctionCode(pdu.FunctionCode), "err", err)
		return modbus.ProtocolDataUnit{}, err
	}
	return resp, nil
}
