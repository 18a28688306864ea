// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package wire

import "math/bits"

// SwapBlock copies src to dst reversing the bytes of each 32-bit word.
// It's used for payloads that are entirely big-endian words. The length
// must be a multiple of 4 and dst must be at least as long as src;
// otherwise nothing is copied.
func SwapBlock(dst, src []byte) (int, error) {
	if len(src)%4 != 0 {
		return 0, ErrUnaligned
	}
	if len(dst) < len(src) {
		return 0, ErrShort
	}
	for i := 0; i < len(src); i += 4 {
		// src and dst may be the same slice.
		w := uint32(src[i]) | uint32(src[i+1])<<8 |
			uint32(src[i+2])<<16 | uint32(src[i+3])<<24
		w = bits.ReverseBytes32(w)
		dst[i] = byte(w)
		dst[i+1] = byte(w >> 8)
		dst[i+2] = byte(w >> 16)
		dst[i+3] = byte(w >> 24)
	}
	return len(src), nil
}
