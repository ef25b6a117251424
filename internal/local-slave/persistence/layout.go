// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"unsafe"

	"github.com/ffutop/modbuskit/internal/local-slave/model"
)

// On-disk layout shared by FileStorage and MmapStorage:
//
//	Coils:            65536 bytes      (offset 0)
//	DiscreteInputs:   65536 bytes      (offset 65536)
//	HoldingRegisters: 65536 * 2 bytes  (offset 131072)
//	InputRegisters:   65536 * 2 bytes  (offset 262144)
//	Total:            393216 bytes
const (
	sizeCoils    = model.MaxAddress + 1
	sizeDiscrete = model.MaxAddress + 1
	sizeHolding  = (model.MaxAddress + 1) * 2
	sizeInput    = (model.MaxAddress + 1) * 2
	totalSize    = sizeCoils + sizeDiscrete + sizeHolding + sizeInput

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeCoils
	offsetHolding  = offsetDiscrete + sizeDiscrete
	offsetInput    = offsetHolding + sizeHolding
)

// mapBytesToModel constructs a DataModel backed by the provided data slice.
// Registers are viewed in host byte order, so a data file is only portable
// between hosts of the same endianness.
func mapBytesToModel(data []byte) *model.DataModel {
	m := &model.DataModel{}

	m.Coils = data[offsetCoils : offsetCoils+sizeCoils]
	m.DiscreteInputs = data[offsetDiscrete : offsetDiscrete+sizeDiscrete]

	holdingBytes := data[offsetHolding : offsetHolding+sizeHolding]
	m.HoldingRegisters = unsafe.Slice((*uint16)(unsafe.Pointer(&holdingBytes[0])), sizeHolding/2)

	inputBytes := data[offsetInput : offsetInput+sizeInput]
	m.InputRegisters = unsafe.Slice((*uint16)(unsafe.Pointer(&inputBytes[0])), sizeInput/2)

	return m
}

// region returns the byte range of the layout holding quantity entries of
// table starting at address.
func region(table model.TableType, address, quantity uint16) (off, n int) {
	switch table {
	case model.TableCoils:
		return offsetCoils + int(address), int(quantity)
	case model.TableDiscreteInputs:
		return offsetDiscrete + int(address), int(quantity)
	case model.TableHoldingRegisters:
		return offsetHolding + 2*int(address), 2 * int(quantity)
	case model.TableInputRegisters:
		return offsetInput + 2*int(address), 2 * int(quantity)
	}
	return 0, totalSize
}
