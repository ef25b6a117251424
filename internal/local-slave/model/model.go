// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package model holds the four MODBUS data tables of a local slave.
package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/TheCount/go-multilocker/multilocker"
)

const (
	MaxAddress = 65535
)

// ErrOutOfRange is returned when an access runs past the end of a table.
var ErrOutOfRange = errors.New("model: address range out of bounds")

// TableType represents the type of Modbus data table.
type TableType int

const (
	TableCoils TableType = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

func (t TableType) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableDiscreteInputs:
		return "discrete inputs"
	case TableHoldingRegisters:
		return "holding registers"
	case TableInputRegisters:
		return "input registers"
	}
	return fmt.Sprintf("TableType(%d)", int(t))
}

// DataModel holds the modbus data in memory.
// It uses a simple flat memory model covering the full 16-bit address space.
// Each table has its own lock; the exported slices may be backed by a
// storage mapping and must only be touched through the methods once the
// model is shared.
type DataModel struct {
	coilsMu    sync.RWMutex
	discreteMu sync.RWMutex
	holdingMu  sync.RWMutex
	inputMu    sync.RWMutex

	// 0x Coils (Read/Write). Stored as 1 (ON) or 0 (OFF).
	Coils []byte
	// 1x Discrete Inputs (Read Only). Stored as 1 (ON) or 0 (OFF).
	DiscreteInputs []byte
	// 4x Holding Registers (Read/Write).
	HoldingRegisters []uint16
	// 3x Input Registers (Read Only).
	InputRegisters []uint16
}

// NewDataModel creates a new memory model initialized to zero.
func NewDataModel() *DataModel {
	return &DataModel{
		Coils:            make([]byte, MaxAddress+1),
		DiscreteInputs:   make([]byte, MaxAddress+1),
		HoldingRegisters: make([]uint16, MaxAddress+1),
		InputRegisters:   make([]uint16, MaxAddress+1),
	}
}

func (m *DataModel) ReadCoils(address, quantity uint16) ([]bool, error) {
	m.coilsMu.RLock()
	defer m.coilsMu.RUnlock()
	return readBits(m.Coils, address, quantity)
}

func (m *DataModel) ReadDiscreteInputs(address, quantity uint16) ([]bool, error) {
	m.discreteMu.RLock()
	defer m.discreteMu.RUnlock()
	return readBits(m.DiscreteInputs, address, quantity)
}

func (m *DataModel) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	m.holdingMu.RLock()
	defer m.holdingMu.RUnlock()
	return readWords(m.HoldingRegisters, address, quantity)
}

func (m *DataModel) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	m.inputMu.RLock()
	defer m.inputMu.RUnlock()
	return readWords(m.InputRegisters, address, quantity)
}

// WriteCoils stores values starting at address.
func (m *DataModel) WriteCoils(address uint16, values []bool) error {
	m.coilsMu.Lock()
	defer m.coilsMu.Unlock()
	return writeBits(m.Coils, address, values)
}

// WriteHoldingRegisters stores values starting at address.
func (m *DataModel) WriteHoldingRegisters(address uint16, values []uint16) error {
	m.holdingMu.Lock()
	defer m.holdingMu.Unlock()
	return writeWords(m.HoldingRegisters, address, values)
}

// SetDiscreteInputs updates the read-only inputs from the device side.
func (m *DataModel) SetDiscreteInputs(address uint16, values []bool) error {
	m.discreteMu.Lock()
	defer m.discreteMu.Unlock()
	return writeBits(m.DiscreteInputs, address, values)
}

// SetInputRegisters updates the read-only registers from the device side.
func (m *DataModel) SetInputRegisters(address uint16, values []uint16) error {
	m.inputMu.Lock()
	defer m.inputMu.Unlock()
	return writeWords(m.InputRegisters, address, values)
}

// ReadLocker returns a locker that read-locks all four tables at once.
// Storages hold it while copying the model out.
func (m *DataModel) ReadLocker() sync.Locker {
	return multilocker.New(
		m.coilsMu.RLocker(),
		m.discreteMu.RLocker(),
		m.holdingMu.RLocker(),
		m.inputMu.RLocker(),
	)
}

// WriteLocker returns a locker that write-locks all four tables at once.
func (m *DataModel) WriteLocker() sync.Locker {
	return multilocker.New(&m.coilsMu, &m.discreteMu, &m.holdingMu, &m.inputMu)
}

// Snapshot is a consistent copy of the four tables.
type Snapshot struct {
	Coils            []byte
	DiscreteInputs   []byte
	HoldingRegisters []uint16
	InputRegisters   []uint16
}

// Snapshot copies all tables under a single atomic read lock, so no write
// is observed half applied across tables.
func (m *DataModel) Snapshot() Snapshot {
	l := m.ReadLocker()
	l.Lock()
	defer l.Unlock()
	return Snapshot{
		Coils:            append([]byte(nil), m.Coils...),
		DiscreteInputs:   append([]byte(nil), m.DiscreteInputs...),
		HoldingRegisters: append([]uint16(nil), m.HoldingRegisters...),
		InputRegisters:   append([]uint16(nil), m.InputRegisters...),
	}
}

// Restore overwrites all tables with s.
func (m *DataModel) Restore(s Snapshot) {
	l := m.WriteLocker()
	l.Lock()
	defer l.Unlock()
	copy(m.Coils, s.Coils)
	copy(m.DiscreteInputs, s.DiscreteInputs)
	copy(m.HoldingRegisters, s.HoldingRegisters)
	copy(m.InputRegisters, s.InputRegisters)
}

func readBits(table []byte, address, quantity uint16) ([]bool, error) {
	if err := validateRange(address, int(quantity)); err != nil {
		return nil, err
	}
	out := make([]bool, quantity)
	for i := range out {
		out[i] = table[int(address)+i] != 0
	}
	return out, nil
}

func writeBits(table []byte, address uint16, values []bool) error {
	if err := validateRange(address, len(values)); err != nil {
		return err
	}
	for i, v := range values {
		var b byte
		if v {
			b = 1
		}
		table[int(address)+i] = b
	}
	return nil
}

func readWords(table []uint16, address, quantity uint16) ([]uint16, error) {
	if err := validateRange(address, int(quantity)); err != nil {
		return nil, err
	}
	return append([]uint16(nil), table[address:int(address)+int(quantity)]...), nil
}

func writeWords(table []uint16, address uint16, values []uint16) error {
	if err := validateRange(address, len(values)); err != nil {
		return err
	}
	copy(table[address:], values)
	return nil
}

func validateRange(address uint16, quantity int) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	// address is 0-based.
	if int(address)+quantity > MaxAddress+1 {
		return fmt.Errorf("%w: %d+%d", ErrOutOfRange, address, quantity)
	}
	return nil
}
