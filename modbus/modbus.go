// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

/*
Package modbus implements the MODBUS application layer: the PDU codec for
each supported function code, the server side dispatch pipeline that turns a
request PDU into a call against user handlers, and the client side response
pipeline that turns a response PDU into a structured result.

Framing (MBAP header, RTU address and CRC) is handled elsewhere; everything in
this package works on complete, already deframed PDUs.
*/
package modbus

import (
	"errors"
	"fmt"
)

const (
	// MaxPDUSize is the largest PDU allowed by the application protocol
	// (256 byte RTU ADU - address - CRC).
	MaxPDUSize = 253
)

var (
	// ErrShortPDU is returned when a buffer is shorter than the fixed
	// layout of its function code.
	ErrShortPDU = errors.New("modbus: pdu too short")
	// ErrPDUTooLarge is returned when an encoded PDU would exceed MaxPDUSize.
	ErrPDUTooLarge = errors.New("modbus: pdu exceeds maximum size")
	// ErrInvalidCoilValue is returned for a single coil value other than
	// 0xFF00 or 0x0000.
	ErrInvalidCoilValue = errors.New("modbus: invalid coil value")
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Bytes returns the PDU as a single buffer: function code followed by data.
func (pdu ProtocolDataUnit) Bytes() []byte {
	raw := make([]byte, 1+len(pdu.Data))
	raw[0] = pdu.FunctionCode
	copy(raw[1:], pdu.Data)
	return raw
}

// ParsePDU splits a raw buffer into function code and data.
// The data slice aliases raw.
func ParsePDU(raw []byte) (ProtocolDataUnit, error) {
	if len(raw) < 1 {
		return ProtocolDataUnit{}, ErrShortPDU
	}
	return ProtocolDataUnit{FunctionCode: raw[0], Data: raw[1:]}, nil
}

func shortPDU(fc FunctionCode, got, need int) error {
	return fmt.Errorf("%w: %v needs %d bytes, got %d", ErrShortPDU, fc, need, got)
}
