// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Quantity limits, section 6 of the application protocol specification.
const (
	maxReadBits       = 2000
	maxWriteBits      = 1968
	maxReadRegisters  = 125
	maxWriteRegisters = 123
)

const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)

var errNilRequest = errors.New("modbus: nil request")

// codec groups the encode and decode steps of one function code.
// All functions work on complete PDUs, function code included.
type codec struct {
	// server side
	decodeRequest  func(pdu []byte) (Request, error)
	encodeResponse func(fc FunctionCode, resp Response) ([]byte, error)
	// client side
	encodeRequest  func(req Request) ([]byte, error)
	decodeResponse func(pdu []byte) (Result, error)
}

// codecs is the dispatch table shared by Server and Client. It is built once
// and never modified.
var codecs = map[FunctionCode]codec{
	FuncCodeReadCoils: {
		decodeRequest:  readRequestDecoder(FuncCodeReadCoils, maxReadBits),
		encodeResponse: encodeBitsResponse,
		encodeRequest:  readRequestEncoder(FuncCodeReadCoils, maxReadBits),
		decodeResponse: decodeBitsResponse,
	},
	FuncCodeReadDiscreteInputs: {
		decodeRequest:  readRequestDecoder(FuncCodeReadDiscreteInputs, maxReadBits),
		encodeResponse: encodeBitsResponse,
		encodeRequest:  readRequestEncoder(FuncCodeReadDiscreteInputs, maxReadBits),
		decodeResponse: decodeBitsResponse,
	},
	FuncCodeReadHoldingRegisters: {
		decodeRequest:  readRequestDecoder(FuncCodeReadHoldingRegisters, maxReadRegisters),
		encodeResponse: encodeRegistersResponse,
		encodeRequest:  readRequestEncoder(FuncCodeReadHoldingRegisters, maxReadRegisters),
		decodeResponse: decodeRegistersResponse,
	},
	FuncCodeReadInputRegisters: {
		decodeRequest:  readRequestDecoder(FuncCodeReadInputRegisters, maxReadRegisters),
		encodeResponse: encodeRegistersResponse,
		encodeRequest:  readRequestEncoder(FuncCodeReadInputRegisters, maxReadRegisters),
		decodeResponse: decodeRegistersResponse,
	},
	FuncCodeWriteSingleCoil: {
		decodeRequest:  decodeWriteSingleCoilRequest,
		encodeResponse: encodeWriteSingleCoilResponse,
		encodeRequest:  encodeWriteSingleCoilRequest,
		decodeResponse: decodeWriteSingleCoilResponse,
	},
	FuncCodeWriteSingleRegister: {
		decodeRequest:  decodeWriteSingleRegisterRequest,
		encodeResponse: encodeWriteSingleRegisterResponse,
		encodeRequest:  encodeWriteSingleRegisterRequest,
		decodeResponse: decodeWriteSingleRegisterResponse,
	},
	FuncCodeWriteMultipleCoils: {
		decodeRequest:  decodeWriteMultipleCoilsRequest,
		encodeResponse: encodeWriteMultipleResponse,
		encodeRequest:  encodeWriteMultipleCoilsRequest,
		decodeResponse: decodeWriteMultipleResponse,
	},
	FuncCodeWriteMultipleRegisters: {
		decodeRequest:  decodeWriteMultipleRegistersRequest,
		encodeResponse: encodeWriteMultipleResponse,
		encodeRequest:  encodeWriteMultipleRegistersRequest,
		decodeResponse: decodeWriteMultipleResponse,
	},
}

// DecodeRequest decodes a request PDU into its typed parameters. Validation
// failures are returned as ExceptionCode; buffers shorter than the layout of
// their function code yield an error wrapping ErrShortPDU.
func DecodeRequest(pdu []byte) (Request, error) {
	if len(pdu) < 1 {
		return nil, ErrShortPDU
	}
	c, ok := codecs[FunctionCode(pdu[0])]
	if !ok {
		return nil, ExceptionCodeIllegalFunction
	}
	return c.decodeRequest(pdu)
}

// EncodeResponse builds the response PDU of fc from a handler response.
func EncodeResponse(fc FunctionCode, resp Response) ([]byte, error) {
	c, ok := codecs[fc]
	if !ok {
		return nil, ExceptionCodeIllegalFunction
	}
	return c.encodeResponse(fc, resp)
}

// DecodeResponse decodes a normal (non exception) response PDU.
func DecodeResponse(pdu []byte) (Result, error) {
	if len(pdu) < 1 {
		return nil, ErrShortPDU
	}
	c, ok := codecs[FunctionCode(pdu[0])]
	if !ok {
		return nil, fmt.Errorf("modbus: no response decoder for %v", FunctionCode(pdu[0]))
	}
	return c.decodeResponse(pdu)
}

// Read requests: [fc, address(2), quantity(2)]

func readRequestDecoder(fc FunctionCode, max uint16) func([]byte) (Request, error) {
	return func(pdu []byte) (Request, error) {
		if len(pdu) < 5 {
			return nil, shortPDU(fc, len(pdu), 5)
		}
		address := binary.BigEndian.Uint16(pdu[1:3])
		quantity := binary.BigEndian.Uint16(pdu[3:5])
		if quantity < 1 || quantity > max {
			return nil, ExceptionCodeIllegalDataValue
		}
		return ReadRequest{Function: fc, Address: address, Quantity: quantity}, nil
	}
}

func readRequestEncoder(fc FunctionCode, max uint16) func(Request) ([]byte, error) {
	return func(req Request) ([]byte, error) {
		r, ok := req.(ReadRequest)
		if !ok || r.Function != fc {
			return nil, mismatch(fc, req)
		}
		if r.Quantity < 1 || r.Quantity > max {
			return nil, fmt.Errorf("modbus: %v quantity %d out of range [1, %d]", fc, r.Quantity, max)
		}
		return addressAndValue(fc, r.Address, r.Quantity), nil
	}
}

func encodeBitsResponse(fc FunctionCode, resp Response) ([]byte, error) {
	r, ok := resp.(BitsResponse)
	if !ok {
		return nil, mismatch(fc, resp)
	}
	packed := PackBits(r.Values)
	if 2+len(packed) > MaxPDUSize {
		return nil, fmt.Errorf("%w: %d coils", ErrPDUTooLarge, len(r.Values))
	}
	pdu := make([]byte, 2, 2+len(packed))
	pdu[0] = byte(fc)
	pdu[1] = byte(len(packed))
	return append(pdu, packed...), nil
}

func decodeBitsResponse(pdu []byte) (Result, error) {
	fc := FunctionCode(pdu[0])
	if len(pdu) < 2 {
		return nil, shortPDU(fc, len(pdu), 2)
	}
	byteCount := int(pdu[1])
	if len(pdu) < 2+byteCount {
		return nil, shortPDU(fc, len(pdu), 2+byteCount)
	}
	return BitsResult{
		Function:  fc,
		ByteCount: byteCount,
		Values:    UnpackBits(pdu[2:2+byteCount], byteCount*8),
	}, nil
}

func encodeRegistersResponse(fc FunctionCode, resp Response) ([]byte, error) {
	r, ok := resp.(RegistersResponse)
	if !ok {
		return nil, mismatch(fc, resp)
	}
	if 2+2*len(r.Values) > MaxPDUSize {
		return nil, fmt.Errorf("%w: %d registers", ErrPDUTooLarge, len(r.Values))
	}
	pdu := make([]byte, 2+2*len(r.Values))
	pdu[0] = byte(fc)
	pdu[1] = byte(2 * len(r.Values))
	for i, v := range r.Values {
		binary.BigEndian.PutUint16(pdu[2+2*i:], v)
	}
	return pdu, nil
}

func decodeRegistersResponse(pdu []byte) (Result, error) {
	fc := FunctionCode(pdu[0])
	if len(pdu) < 2 {
		return nil, shortPDU(fc, len(pdu), 2)
	}
	byteCount := int(pdu[1])
	if byteCount%2 != 0 {
		return nil, fmt.Errorf("modbus: %v odd byte count %d", fc, byteCount)
	}
	if len(pdu) < 2+byteCount {
		return nil, shortPDU(fc, len(pdu), 2+byteCount)
	}
	values := make([]uint16, byteCount/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(pdu[2+2*i:])
	}
	return RegistersResult{Function: fc, ByteCount: byteCount, Values: values}, nil
}

// Write single coil: [0x05, address(2), 0xFF00|0x0000]

func decodeCoilValue(v uint16) (bool, error) {
	switch v {
	case coilOn:
		return true, nil
	case coilOff:
		return false, nil
	default:
		return false, fmt.Errorf("%w: 0x%04X", ErrInvalidCoilValue, v)
	}
}

func encodeCoilValue(v bool) uint16 {
	if v {
		return coilOn
	}
	return coilOff
}

func decodeWriteSingleCoilRequest(pdu []byte) (Request, error) {
	if len(pdu) < 5 {
		return nil, shortPDU(FuncCodeWriteSingleCoil, len(pdu), 5)
	}
	value, err := decodeCoilValue(binary.BigEndian.Uint16(pdu[3:5]))
	if err != nil {
		return nil, ExceptionCodeIllegalDataValue
	}
	return WriteSingleCoilRequest{Address: binary.BigEndian.Uint16(pdu[1:3]), Value: value}, nil
}

func encodeWriteSingleCoilRequest(req Request) ([]byte, error) {
	r, ok := req.(WriteSingleCoilRequest)
	if !ok {
		return nil, mismatch(FuncCodeWriteSingleCoil, req)
	}
	return addressAndValue(FuncCodeWriteSingleCoil, r.Address, encodeCoilValue(r.Value)), nil
}

func encodeWriteSingleCoilResponse(fc FunctionCode, resp Response) ([]byte, error) {
	r, ok := resp.(WriteSingleCoilResponse)
	if !ok {
		return nil, mismatch(fc, resp)
	}
	return addressAndValue(fc, r.Address, encodeCoilValue(r.Value)), nil
}

func decodeWriteSingleCoilResponse(pdu []byte) (Result, error) {
	if len(pdu) < 5 {
		return nil, shortPDU(FuncCodeWriteSingleCoil, len(pdu), 5)
	}
	value, err := decodeCoilValue(binary.BigEndian.Uint16(pdu[3:5]))
	if err != nil {
		return nil, err
	}
	return WriteSingleCoilResult{
		Function: FunctionCode(pdu[0]),
		Address:  binary.BigEndian.Uint16(pdu[1:3]),
		Value:    value,
	}, nil
}

// Write single register: [0x06, address(2), value(2)]

func decodeWriteSingleRegisterRequest(pdu []byte) (Request, error) {
	if len(pdu) < 5 {
		return nil, shortPDU(FuncCodeWriteSingleRegister, len(pdu), 5)
	}
	return WriteSingleRegisterRequest{
		Address: binary.BigEndian.Uint16(pdu[1:3]),
		Value:   binary.BigEndian.Uint16(pdu[3:5]),
	}, nil
}

func encodeWriteSingleRegisterRequest(req Request) ([]byte, error) {
	r, ok := req.(WriteSingleRegisterRequest)
	if !ok {
		return nil, mismatch(FuncCodeWriteSingleRegister, req)
	}
	return addressAndValue(FuncCodeWriteSingleRegister, r.Address, r.Value), nil
}

func encodeWriteSingleRegisterResponse(fc FunctionCode, resp Response) ([]byte, error) {
	r, ok := resp.(WriteSingleRegisterResponse)
	if !ok {
		return nil, mismatch(fc, resp)
	}
	return addressAndValue(fc, r.Address, r.Value), nil
}

func decodeWriteSingleRegisterResponse(pdu []byte) (Result, error) {
	if len(pdu) < 5 {
		return nil, shortPDU(FuncCodeWriteSingleRegister, len(pdu), 5)
	}
	return WriteSingleRegisterResult{
		Function: FunctionCode(pdu[0]),
		Address:  binary.BigEndian.Uint16(pdu[1:3]),
		Value:    binary.BigEndian.Uint16(pdu[3:5]),
	}, nil
}

// Write multiple: [fc, address(2), quantity(2), byteCount, payload...]

func decodeWriteMultipleCoilsRequest(pdu []byte) (Request, error) {
	fc := FuncCodeWriteMultipleCoils
	if len(pdu) < 6 {
		return nil, shortPDU(fc, len(pdu), 6)
	}
	address := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])
	if quantity < 1 || quantity > maxWriteBits || byteCount != (int(quantity)+7)/8 {
		return nil, ExceptionCodeIllegalDataValue
	}
	if len(pdu) < 6+byteCount {
		return nil, shortPDU(fc, len(pdu), 6+byteCount)
	}
	return WriteMultipleCoilsRequest{
		Address: address,
		Values:  UnpackBits(pdu[6:6+byteCount], int(quantity)),
	}, nil
}

func encodeWriteMultipleCoilsRequest(req Request) ([]byte, error) {
	fc := FuncCodeWriteMultipleCoils
	r, ok := req.(WriteMultipleCoilsRequest)
	if !ok {
		return nil, mismatch(fc, req)
	}
	if len(r.Values) < 1 || len(r.Values) > maxWriteBits {
		return nil, fmt.Errorf("modbus: %v quantity %d out of range [1, %d]", fc, len(r.Values), maxWriteBits)
	}
	packed := PackBits(r.Values)
	pdu := addressAndValue(fc, r.Address, uint16(len(r.Values)))
	pdu = append(pdu, byte(len(packed)))
	return append(pdu, packed...), nil
}

func decodeWriteMultipleRegistersRequest(pdu []byte) (Request, error) {
	fc := FuncCodeWriteMultipleRegisters
	if len(pdu) < 6 {
		return nil, shortPDU(fc, len(pdu), 6)
	}
	address := binary.BigEndian.Uint16(pdu[1:3])
	count := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])
	if count < 1 || count > maxWriteRegisters || byteCount != 2*int(count) {
		return nil, ExceptionCodeIllegalDataValue
	}
	if len(pdu) < 6+byteCount {
		return nil, shortPDU(fc, len(pdu), 6+byteCount)
	}
	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(pdu[6+2*i:])
	}
	return WriteMultipleRegistersRequest{Address: address, Values: values}, nil
}

func encodeWriteMultipleRegistersRequest(req Request) ([]byte, error) {
	fc := FuncCodeWriteMultipleRegisters
	r, ok := req.(WriteMultipleRegistersRequest)
	if !ok {
		return nil, mismatch(fc, req)
	}
	if len(r.Values) < 1 || len(r.Values) > maxWriteRegisters {
		return nil, fmt.Errorf("modbus: %v quantity %d out of range [1, %d]", fc, len(r.Values), maxWriteRegisters)
	}
	pdu := addressAndValue(fc, r.Address, uint16(len(r.Values)))
	pdu = append(pdu, byte(2*len(r.Values)))
	for _, v := range r.Values {
		pdu = binary.BigEndian.AppendUint16(pdu, v)
	}
	return pdu, nil
}

// encodeWriteMultipleResponse echoes address and quantity, no payload.
func encodeWriteMultipleResponse(fc FunctionCode, resp Response) ([]byte, error) {
	r, ok := resp.(WriteMultipleResponse)
	if !ok {
		return nil, mismatch(fc, resp)
	}
	return addressAndValue(fc, r.Address, r.Quantity), nil
}

func decodeWriteMultipleResponse(pdu []byte) (Result, error) {
	fc := FunctionCode(pdu[0])
	if len(pdu) < 5 {
		return nil, shortPDU(fc, len(pdu), 5)
	}
	return WriteMultipleResult{
		Function: fc,
		Address:  binary.BigEndian.Uint16(pdu[1:3]),
		Quantity: binary.BigEndian.Uint16(pdu[3:5]),
	}, nil
}

// addressAndValue builds the common 5 byte layout [fc, hi, lo, hi, lo].
func addressAndValue(fc FunctionCode, address, value uint16) []byte {
	pdu := make([]byte, 5, 6)
	pdu[0] = byte(fc)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], value)
	return pdu
}

func mismatch(fc FunctionCode, v any) error {
	return fmt.Errorf("modbus: %v cannot encode %T", fc, v)
}
