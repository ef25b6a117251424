// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ffutop/modbuskit/modbus"
)

const (
	// MBAP header: transaction ID, protocol ID, length, unit ID.
	headerSize = 7

	tcpMinSize = headerSize + 1
	tcpMaxSize = headerSize + modbus.MaxPDUSize
)

// ApplicationDataUnit is a MODBUS TCP frame: MBAP header and PDU.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	// Length counts the unit ID and the PDU. Encode fills it in.
	Length  uint16
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

func Decode(raw []byte) (*ApplicationDataUnit, error) {
	if len(raw) < tcpMinSize {
		return nil, fmt.Errorf("modbus: frame length '%v' does not meet minimum '%v'", len(raw), tcpMinSize)
	}
	adu := &ApplicationDataUnit{
		TransactionID: binary.BigEndian.Uint16(raw[0:]),
		ProtocolID:    binary.BigEndian.Uint16(raw[2:]),
		Length:        binary.BigEndian.Uint16(raw[4:]),
		SlaveID:       raw[6],
	}
	if int(adu.Length) != len(raw)-headerSize+1 {
		return nil, fmt.Errorf("modbus: length in header '%v' does not match frame length '%v'", adu.Length, len(raw)-headerSize+1)
	}
	adu.Pdu.FunctionCode = raw[7]
	adu.Pdu.Data = raw[8:]
	return adu, nil
}

func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + tcpMinSize
	if length > tcpMaxSize {
		return nil, fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, tcpMaxSize)
	}
	adu.Length = uint16(length - headerSize + 1)

	raw := make([]byte, length)
	binary.BigEndian.PutUint16(raw[0:], adu.TransactionID)
	binary.BigEndian.PutUint16(raw[2:], adu.ProtocolID)
	binary.BigEndian.PutUint16(raw[4:], adu.Length)
	raw[6] = adu.SlaveID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)
	return raw, nil
}

// Verify checks that resp answers req.
func (adu *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) error {
	if resp.TransactionID != adu.TransactionID {
		return fmt.Errorf("modbus: response transaction id '%v' does not match request '%v'", resp.TransactionID, adu.TransactionID)
	}
	if resp.ProtocolID != adu.ProtocolID {
		return fmt.Errorf("modbus: response protocol id '%v' does not match request '%v'", resp.ProtocolID, adu.ProtocolID)
	}
	if resp.SlaveID != adu.SlaveID {
		return fmt.Errorf("modbus: response unit id '%v' does not match request '%v'", resp.SlaveID, adu.SlaveID)
	}
	return nil
}

// ReadFrame reads one complete frame from r: the MBAP header, then as many
// bytes as its length field announces.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(header[4:]))
	if length < 2 || headerSize-1+length > tcpMaxSize {
		return nil, fmt.Errorf("modbus: length in header '%v' must be between '%v' and '%v'", length, 2, tcpMaxSize-headerSize+1)
	}
	raw := make([]byte, headerSize-1+length)
	copy(raw, header)
	if _, err := io.ReadFull(r, raw[headerSize:]); err != nil {
		return nil, err
	}
	return raw, nil
}
