// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package master issues requests to one slave and waits for the decoded
// results.
package master

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ffutop/modbuskit/modbus"
	"github.com/ffutop/modbuskit/transport"
)

// ErrUnexpectedResponse is returned when the reply does not answer the
// request that was sent.
var ErrUnexpectedResponse = errors.New("master: unexpected response")

// Master sends one request at a time through a Downstream.
type Master struct {
	downstream transport.Downstream
	slaveID    byte
	client     *modbus.Client

	mu sync.Mutex
}

// New creates a Master talking to slaveID behind downstream.
func New(downstream transport.Downstream, slaveID byte, opts ...modbus.ClientOption) *Master {
	return &Master{
		downstream: downstream,
		slaveID:    slaveID,
		client:     modbus.NewClient(opts...),
	}
}

// Do sends req and returns the decoded result. Exception responses are
// returned as *modbus.Error.
func (m *Master) Do(ctx context.Context, req modbus.Request) (modbus.Result, error) {
	raw, err := modbus.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	pdu, err := modbus.ParsePDU(raw)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		result modbus.Result
		resErr error
		done   bool
	)
	if err := m.client.Expect(req.FunctionCode(), func(r modbus.Result, err error) {
		result, resErr, done = r, err, true
	}); err != nil {
		return nil, err
	}

	resp, err := m.downstream.Send(ctx, m.slaveID, pdu)
	if err != nil {
		m.client.Cancel()
		return nil, err
	}
	m.client.HandleResponse(resp.Bytes())
	if !done {
		m.client.Cancel()
		return nil, fmt.Errorf("%w: function %v", ErrUnexpectedResponse, modbus.FunctionCode(resp.FunctionCode))
	}
	return result, resErr
}

// ReadCoils reads quantity coils starting at address.
func (m *Master) ReadCoils(ctx context.Context, address, quantity uint16) ([]bool, error) {
	return m.readBits(ctx, modbus.FuncCodeReadCoils, address, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address.
func (m *Master) ReadDiscreteInputs(ctx context.Context, address, quantity uint16) ([]bool, error) {
	return m.readBits(ctx, modbus.FuncCodeReadDiscreteInputs, address, quantity)
}

// ReadHoldingRegisters reads quantity holding registers starting at address.
func (m *Master) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	return m.readRegisters(ctx, modbus.FuncCodeReadHoldingRegisters, address, quantity)
}

// ReadInputRegisters reads quantity input registers starting at address.
func (m *Master) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	return m.readRegisters(ctx, modbus.FuncCodeReadInputRegisters, address, quantity)
}

func (m *Master) WriteSingleCoil(ctx context.Context, address uint16, value bool) error {
	_, err := m.Do(ctx, modbus.WriteSingleCoilRequest{Address: address, Value: value})
	return err
}

func (m *Master) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	_, err := m.Do(ctx, modbus.WriteSingleRegisterRequest{Address: address, Value: value})
	return err
}

func (m *Master) WriteMultipleCoils(ctx context.Context, address uint16, values []bool) error {
	_, err := m.Do(ctx, modbus.WriteMultipleCoilsRequest{Address: address, Values: values})
	return err
}

func (m *Master) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error {
	_, err := m.Do(ctx, modbus.WriteMultipleRegistersRequest{Address: address, Values: values})
	return err
}

func (m *Master) readBits(ctx context.Context, fc modbus.FunctionCode, address, quantity uint16) ([]bool, error) {
	res, err := m.Do(ctx, modbus.ReadRequest{Function: fc, Address: address, Quantity: quantity})
	if err != nil {
		return nil, err
	}
	bits, ok := res.(modbus.BitsResult)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedResponse, res)
	}
	// The last byte is padded up to a multiple of eight.
	if len(bits.Values) < int(quantity) {
		return nil, fmt.Errorf("%w: %d bits for quantity %d", ErrUnexpectedResponse, len(bits.Values), quantity)
	}
	return bits.Values[:quantity], nil
}

func (m *Master) readRegisters(ctx context.Context, fc modbus.FunctionCode, address, quantity uint16) ([]uint16, error) {
	res, err := m.Do(ctx, modbus.ReadRequest{Function: fc, Address: address, Quantity: quantity})
	if err != nil {
		return nil, err
	}
	regs, ok := res.(modbus.RegistersResult)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedResponse, res)
	}
	if len(regs.Values) != int(quantity) {
		return nil, fmt.Errorf("%w: %d registers for quantity %d", ErrUnexpectedResponse, len(regs.Values), quantity)
	}
	return regs.Values, nil
}
