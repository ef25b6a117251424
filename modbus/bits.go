// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// PackBits packs values 8 per byte, least significant bit first.
// Unused high bits of the last byte are zero.
func PackBits(values []bool) []byte {
	packed := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	return packed
}

// UnpackBits returns the first n bits of packed, least significant bit first.
// n is clamped to the number of bits available.
func UnpackBits(packed []byte, n int) []bool {
	if n > len(packed)*8 {
		n = len(packed) * 8
	}
	if n < 0 {
		n = 0
	}
	values := make([]bool, n)
	for i := range values {
		values[i] = packed[i/8]&(1<<uint(i%8)) != 0
	}
	return values
}
