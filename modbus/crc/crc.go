// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc computes the CRC-16/MODBUS checksum carried by RTU frames.
package crc

import "github.com/sigurn/crc16"

var table = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC is an incremental CRC-16/MODBUS. The zero value must be Reset before use.
type CRC struct {
	sum uint16
}

func (crc *CRC) Reset() *CRC {
	crc.sum = crc16.Init(table)
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	crc.sum = crc16.Update(crc.sum, bs, table)
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc16.Complete(crc.sum, table)
}

// Checksum returns the CRC of bs.
func Checksum(bs []byte) uint16 {
	return crc16.Checksum(bs, table)
}
