// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package local provides an in-process Downstream backed by a dispatcher.
package local

import (
	"context"
	"errors"
	"sync"

	"github.com/ffutop/modbuskit/modbus"
)

var errClosed = errors.New("local: client closed")

// Client implements the Downstream interface for a slave served in the
// same process.
type Client struct {
	server *modbus.Server
	closer func() error

	// mu is held for reading by every Send, so Close waits for them.
	mu     sync.RWMutex
	closed bool
}

// NewClient creates a Client dispatching into server. closer, if not nil,
// is called once by Close.
func NewClient(server *modbus.Server, closer func() error) *Client {
	return &Client{
		server: server,
		closer: closer,
	}
}

// Send runs the PDU through the dispatcher. The dispatcher is synchronous,
// so ctx is only checked before the call.
func (c *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return modbus.ProtocolDataUnit{}, errClosed
	}
	if err := ctx.Err(); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	return c.server.ServePDU(ctx, slaveID, pdu)
}

// Connect is a no-op for a local slave.
func (c *Client) Connect(ctx context.Context) error {
	return nil
}

// Close waits for in-flight Sends and runs the closer once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.closer != nil {
		return c.closer()
	}
	return nil
}
