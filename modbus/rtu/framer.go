// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ffutop/modbuskit/modbus"
)

var ErrRequestTimedOut = errors.New("modbus: request timed out")

const (
	stateSlaveID = 1 << iota
	stateFunctionCode
	stateReadLength
	stateReadPayload
	stateCRC
)

type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

// UnsupportedFunctionError reports a request whose length cannot be
// determined from its function code.
type UnsupportedFunctionError struct {
	SlaveID  byte
	Function modbus.FunctionCode
}

func (e *UnsupportedFunctionError) Error() string {
	return fmt.Sprintf("unsupported function code: 0x%02X", byte(e.Function))
}

// CalculateResponseLength returns the expected length of the response to the
// request frame adu, or MinSize when it cannot be determined up front.
func CalculateResponseLength(adu []byte) int {
	length := MinSize
	if len(adu) < 6 {
		return length
	}
	switch modbus.FunctionCode(adu[1]) {
	case modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadCoils:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + (count+7)/8
	case modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadWriteMultipleRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleRegisters:
		length += 4
	case modbus.FuncCodeMaskWriteRegister:
		length += 6
	default:
		// undetermined
	}
	return length
}

// CalculateRequestLength returns the expected total length of a request
// frame from its header. Write multiple requests need the byte count, so
// header must then hold at least 7 bytes.
func CalculateRequestLength(fc modbus.FunctionCode, header []byte) (int, error) {
	switch fc {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// [SlaveID, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// [SlaveID, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)]
		if len(header) < requestHeaderSize {
			return 0, fmt.Errorf("need %d bytes to determine length for %v, got %d", requestHeaderSize, fc, len(header))
		}
		return requestHeaderSize + int(header[6]) + 2, nil
	default:
		e := &UnsupportedFunctionError{Function: fc}
		if len(header) > 0 {
			e.SlaveID = header[0]
		}
		return 0, e
	}
}

// ReadResponse reads an RTU frame incrementally from r. Bytes are discarded
// until the expected slave ID and function code (or its exception form)
// appear; the frame is returned without CRC verification.
func ReadResponse(slaveID byte, fc modbus.FunctionCode, r io.Reader, deadline time.Time) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	buf := make([]byte, 1)
	data := make([]byte, MaxSize)

	state := stateSlaveID
	var toRead byte
	var n, crcCount int

	for {
		if time.Now().After(deadline) {
			return nil, ErrRequestTimedOut
		}

		if _, err := io.ReadAtLeast(r, buf, 1); err != nil {
			return nil, err
		}

		switch state {
		case stateSlaveID:
			if buf[0] == slaveID {
				state = stateFunctionCode
				data[n] = buf[0]
				n++
			}
		case stateFunctionCode:
			got := modbus.FunctionCode(buf[0])
			switch {
			case got == fc:
				switch fc {
				case modbus.FuncCodeReadDiscreteInputs,
					modbus.FuncCodeReadCoils,
					modbus.FuncCodeReadHoldingRegisters,
					modbus.FuncCodeReadInputRegisters,
					modbus.FuncCodeReadWriteMultipleRegisters,
					modbus.FuncCodeReadFIFOQueue:
					state = stateReadLength
				case modbus.FuncCodeWriteSingleCoil,
					modbus.FuncCodeWriteSingleRegister,
					modbus.FuncCodeWriteMultipleRegisters,
					modbus.FuncCodeWriteMultipleCoils:
					state = stateReadPayload
					toRead = 4
				case modbus.FuncCodeMaskWriteRegister:
					state = stateReadPayload
					toRead = 6
				default:
					return nil, fmt.Errorf("functioncode not handled: %v", fc)
				}
			case got == fc.Exception():
				state = stateReadPayload
				toRead = 1
			default:
				// not our frame, resynchronise on the slave ID
				state = stateSlaveID
				n = 0
				continue
			}
			data[n] = buf[0]
			n++
		case stateReadLength:
			length := buf[0]
			if length > MaxSize-5 || length == 0 {
				return nil, &InvalidLengthError{Length: length}
			}
			toRead = length
			data[n] = length
			n++
			state = stateReadPayload
		case stateReadPayload:
			data[n] = buf[0]
			toRead--
			n++
			if toRead == 0 {
				state = stateCRC
			}
		case stateCRC:
			data[n] = buf[0]
			crcCount++
			n++
			if crcCount == 2 {
				return data[:n], nil
			}
		}
	}
}

// ReadRequest reads one request frame from a byte stream into buf, which
// must hold MaxSize bytes, and returns the frame. The length is derived from
// the header with CalculateRequestLength; CRC is checked by Decode.
func ReadRequest(r io.Reader, buf []byte) ([]byte, error) {
	if _, err := io.ReadFull(r, buf[:requestHeaderSize]); err != nil {
		return nil, err
	}
	length, err := CalculateRequestLength(modbus.FunctionCode(buf[1]), buf[:requestHeaderSize])
	if err != nil {
		return nil, err
	}
	if length > len(buf) {
		return nil, &InvalidLengthError{Length: buf[6]}
	}
	if _, err := io.ReadFull(r, buf[requestHeaderSize:length]); err != nil {
		return nil, err
	}
	return buf[:length], nil
}
