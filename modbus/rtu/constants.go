// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize covers slave ID, function code and CRC.
	MinSize = 4
	MaxSize = 256

	ExceptionSize = 5

	// requestHeaderSize is enough of a request to know its total length:
	// slave ID, function code, address, quantity and byte count.
	requestHeaderSize = 7
)
