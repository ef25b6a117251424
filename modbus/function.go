// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "fmt"

// FunctionCode identifies a MODBUS operation.
type FunctionCode byte

// Function codes, section 5.1 of the MODBUS Application Protocol
// Specification V1.1b3.
const (
	// Bit access
	FuncCodeReadCoils          FunctionCode = 0x01
	FuncCodeReadDiscreteInputs FunctionCode = 0x02
	FuncCodeWriteSingleCoil    FunctionCode = 0x05
	FuncCodeWriteMultipleCoils FunctionCode = 0x0F

	// 16-bit access
	FuncCodeReadHoldingRegisters       FunctionCode = 0x03
	FuncCodeReadInputRegisters         FunctionCode = 0x04
	FuncCodeWriteSingleRegister        FunctionCode = 0x06
	FuncCodeWriteMultipleRegisters     FunctionCode = 0x10
	FuncCodeMaskWriteRegister          FunctionCode = 0x16
	FuncCodeReadWriteMultipleRegisters FunctionCode = 0x17
	FuncCodeReadFIFOQueue              FunctionCode = 0x18

	// File record access
	FuncCodeReadFileRecord  FunctionCode = 0x14
	FuncCodeWriteFileRecord FunctionCode = 0x15
)

// exceptionBit is set in the function code of an exception response.
const exceptionBit FunctionCode = 0x80

var functionNames = map[FunctionCode]string{
	FuncCodeReadCoils:                  "ReadCoils",
	FuncCodeReadDiscreteInputs:         "ReadDiscreteInputs",
	FuncCodeReadHoldingRegisters:       "ReadHoldingRegisters",
	FuncCodeReadInputRegisters:         "ReadInputRegisters",
	FuncCodeWriteSingleCoil:            "WriteSingleCoil",
	FuncCodeWriteSingleRegister:        "WriteSingleRegister",
	FuncCodeWriteMultipleCoils:         "WriteMultipleCoils",
	FuncCodeWriteMultipleRegisters:     "WriteMultipleRegisters",
	FuncCodeReadFileRecord:             "ReadFileRecord",
	FuncCodeWriteFileRecord:            "WriteFileRecord",
	FuncCodeMaskWriteRegister:          "MaskWriteRegister",
	FuncCodeReadWriteMultipleRegisters: "ReadWriteMultipleRegisters",
	FuncCodeReadFIFOQueue:              "ReadFIFOQueue",
}

func (fc FunctionCode) String() string {
	if fc.IsException() {
		return fc.Base().String() + "Exception"
	}
	if name, ok := functionNames[fc]; ok {
		return name
	}
	return fmt.Sprintf("Function(0x%02X)", byte(fc))
}

// Known reports whether fc is part of the registry, whether or not a codec
// exists for it.
func (fc FunctionCode) Known() bool {
	_, ok := functionNames[fc]
	return ok
}

// Supported reports whether the codec can decode and encode fc.
func (fc FunctionCode) Supported() bool {
	_, ok := codecs[fc]
	return ok
}

// IsException reports whether the exception bit is set.
func (fc FunctionCode) IsException() bool {
	return fc&exceptionBit != 0
}

// Exception returns fc with the exception bit set.
func (fc FunctionCode) Exception() FunctionCode {
	return fc | exceptionBit
}

// Base returns fc with the exception bit cleared.
func (fc FunctionCode) Base() FunctionCode {
	return fc &^ exceptionBit
}
