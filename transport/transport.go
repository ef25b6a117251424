// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the boundary between MODBUS framings (TCP, RTU)
// and the PDU level dispatch. Upstreams deframe requests and pass the PDU
// with its unit ID to a RequestHandler; Downstreams frame a PDU, send it to
// a remote slave and return the deframed response.
package transport

import (
	"context"
	"errors"

	"github.com/ffutop/modbuskit/modbus"
)

// RequestHandler serves one request PDU addressed to slaveID.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Upstream represents a source of requests (A Modbus Master connected to us).
// It acts as a Server.
type Upstream interface {
	// Start serves requests until ctx is done or the listener fails.
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}

// Downstream represents a destination for requests (A Modbus Slave we connect to).
// It acts as a Client.
type Downstream interface {
	// Send sends a PDU to a specific SlaveID and returns the response PDU.
	Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)
	Connect(ctx context.Context) error
	Close() error
}

// ExceptionResponse builds the exception PDU an upstream sends back when
// its handler fails. Exception codes carried by err are kept; a deadline
// maps to GatewayTargetDeviceFailedToRespond, anything else to
// ServerDeviceFailure.
func ExceptionResponse(req modbus.ProtocolDataUnit, err error) modbus.ProtocolDataUnit {
	code := modbus.ExceptionCodeServerDeviceFailure
	var ec modbus.ExceptionCode
	switch {
	case errors.As(err, &ec):
		code = ec
	case errors.Is(err, context.DeadlineExceeded):
		code = modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: byte(modbus.FunctionCode(req.FunctionCode).Exception()),
		Data:         []byte{byte(code)},
	}
}
