// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// Response is what a server Handler returns on success. The dispatcher
// encodes it with the encoder of the request's function code, so the
// concrete type has to match:
//
//	ReadCoils, ReadDiscreteInputs          BitsResponse
//	ReadHoldingRegisters, ReadInputRegisters RegistersResponse
//	WriteSingleCoil                        WriteSingleCoilResponse
//	WriteSingleRegister                    WriteSingleRegisterResponse
//	WriteMultipleCoils, WriteMultipleRegisters WriteMultipleResponse
type Response interface {
	isResponse()
}

type BitsResponse struct {
	Values []bool
}

type RegistersResponse struct {
	Values []uint16
}

type WriteSingleCoilResponse struct {
	Address uint16
	Value   bool
}

type WriteSingleRegisterResponse struct {
	Address uint16
	Value   uint16
}

type WriteMultipleResponse struct {
	Address  uint16
	Quantity uint16
}

func (BitsResponse) isResponse()                {}
func (RegistersResponse) isResponse()           {}
func (WriteSingleCoilResponse) isResponse()     {}
func (WriteSingleRegisterResponse) isResponse() {}
func (WriteMultipleResponse) isResponse()       {}

// Result is a decoded response PDU delivered to a client Continuation.
// Every result carries the function code it was decoded from.
type Result interface {
	FunctionCode() FunctionCode
}

// BitsResult is decoded from ReadCoils and ReadDiscreteInputs responses.
// Values holds 8*ByteCount entries; bits beyond the requested quantity are
// the padding of the last byte.
type BitsResult struct {
	Function  FunctionCode
	ByteCount int
	Values    []bool
}

// RegistersResult is decoded from ReadHoldingRegisters and
// ReadInputRegisters responses.
type RegistersResult struct {
	Function  FunctionCode
	ByteCount int
	Values    []uint16
}

type WriteSingleCoilResult struct {
	Function FunctionCode
	Address  uint16
	Value    bool
}

type WriteSingleRegisterResult struct {
	Function FunctionCode
	Address  uint16
	Value    uint16
}

// WriteMultipleResult is decoded from WriteMultipleCoils and
// WriteMultipleRegisters responses.
type WriteMultipleResult struct {
	Function FunctionCode
	Address  uint16
	Quantity uint16
}

func (r BitsResult) FunctionCode() FunctionCode                { return r.Function }
func (r RegistersResult) FunctionCode() FunctionCode           { return r.Function }
func (r WriteSingleCoilResult) FunctionCode() FunctionCode     { return r.Function }
func (r WriteSingleRegisterResult) FunctionCode() FunctionCode { return r.Function }
func (r WriteMultipleResult) FunctionCode() FunctionCode       { return r.Function }
