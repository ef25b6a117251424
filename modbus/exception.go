// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "fmt"

// ExceptionCode is the single byte carried by an exception response.
// It implements error so handlers can return it as their failure outcome.
type ExceptionCode byte

const (
	ExceptionCodeIllegalFunction                    ExceptionCode = 0x01
	ExceptionCodeIllegalDataAddress                 ExceptionCode = 0x02
	ExceptionCodeIllegalDataValue                   ExceptionCode = 0x03
	ExceptionCodeServerDeviceFailure                ExceptionCode = 0x04
	ExceptionCodeAcknowledge                        ExceptionCode = 0x05
	ExceptionCodeServerDeviceBusy                   ExceptionCode = 0x06
	ExceptionCodeMemoryParityError                  ExceptionCode = 0x08
	ExceptionCodeGatewayPathUnavailable             ExceptionCode = 0x0A
	ExceptionCodeGatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

var exceptionMessages = map[ExceptionCode]string{
	ExceptionCodeIllegalFunction:                    "ILLEGAL FUNCTION",
	ExceptionCodeIllegalDataAddress:                 "ILLEGAL DATA ADDRESS",
	ExceptionCodeIllegalDataValue:                   "ILLEGAL DATA VALUE",
	ExceptionCodeServerDeviceFailure:                "SLAVE DEVICE FAILURE",
	ExceptionCodeAcknowledge:                        "ACKNOWLEDGE",
	ExceptionCodeServerDeviceBusy:                   "SLAVE DEVICE BUSY",
	ExceptionCodeMemoryParityError:                  "MEMORY PARITY ERROR",
	ExceptionCodeGatewayPathUnavailable:             "GATEWAY PATH UNAVAILABLE",
	ExceptionCodeGatewayTargetDeviceFailedToRespond: "GATEWAY TARGET DEVICE FAILED TO RESPOND",
}

// String returns the canonical description of the exception.
func (ec ExceptionCode) String() string {
	if msg, ok := exceptionMessages[ec]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN EXCEPTION 0x%02X", byte(ec))
}

// Known reports whether ec is one of the enumerated exception codes.
func (ec ExceptionCode) Known() bool {
	_, ok := exceptionMessages[ec]
	return ok
}

func (ec ExceptionCode) Error() string {
	return "modbus: exception " + ec.String()
}

// Error is the client side view of an exception response.
type Error struct {
	FunctionCode  FunctionCode
	ExceptionCode ExceptionCode
}

func (e *Error) Error() string {
	return fmt.Sprintf("modbus: exception '%d' (%v), function '%v'", byte(e.ExceptionCode), e.ExceptionCode.String(), e.FunctionCode.Base())
}

// Unwrap lets errors.Is match the exception code itself.
func (e *Error) Unwrap() error {
	return e.ExceptionCode
}

// EncodeException builds the two byte exception response [fc|0x80, code].
func EncodeException(fc FunctionCode, code ExceptionCode) []byte {
	return []byte{byte(fc.Exception()), byte(code)}
}
