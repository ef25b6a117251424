// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// Request holds the decoded parameters of a request PDU.
// It is one of ReadRequest, WriteSingleCoilRequest,
// WriteSingleRegisterRequest, WriteMultipleCoilsRequest or
// WriteMultipleRegistersRequest.
type Request interface {
	FunctionCode() FunctionCode
}

// ReadRequest covers ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters
// and ReadInputRegisters, which share the same layout.
type ReadRequest struct {
	Function FunctionCode
	Address  uint16
	Quantity uint16
}

func (r ReadRequest) FunctionCode() FunctionCode { return r.Function }

type WriteSingleCoilRequest struct {
	Address uint16
	Value   bool
}

func (WriteSingleCoilRequest) FunctionCode() FunctionCode { return FuncCodeWriteSingleCoil }

type WriteSingleRegisterRequest struct {
	Address uint16
	Value   uint16
}

func (WriteSingleRegisterRequest) FunctionCode() FunctionCode { return FuncCodeWriteSingleRegister }

type WriteMultipleCoilsRequest struct {
	Address uint16
	Values  []bool
}

func (WriteMultipleCoilsRequest) FunctionCode() FunctionCode { return FuncCodeWriteMultipleCoils }

type WriteMultipleRegistersRequest struct {
	Address uint16
	Values  []uint16
}

func (WriteMultipleRegistersRequest) FunctionCode() FunctionCode {
	return FuncCodeWriteMultipleRegisters
}

// EncodeRequest builds the request PDU for req. It is the client side
// counterpart of the server's request decoder and applies the same limits.
func EncodeRequest(req Request) ([]byte, error) {
	if req == nil {
		return nil, errNilRequest
	}
	c, ok := codecs[req.FunctionCode()]
	if !ok || c.encodeRequest == nil {
		return nil, ExceptionCodeIllegalFunction
	}
	return c.encodeRequest(req)
}
