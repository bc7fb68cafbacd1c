package ump

// Up-scaling follows the MIDI 2.0 default translation scheme: values at or
// below the source center are bit-shifted, values above it additionally
// repeat their low bits into the new fractional space so that the source
// maximum maps to the destination maximum. Down-scaling truncates to the top
// bits, which inverts the up-scaling exactly, so a 7-bit value survives a
// round trip through the wider field byte-for-byte.

// Scale7To16 widens a 7-bit value to 16 bits.
func Scale7To16(v uint8) uint16 {
	shifted := uint16(v) << 9
	if v <= 0x40 {
		return shifted
	}
	repeat := uint16(v) & 0x3f
	return shifted | repeat<<3 | repeat>>3
}

// Scale7To32 widens a 7-bit value to 32 bits.
func Scale7To32(v uint8) uint32 {
	shifted := uint32(v) << 25
	if v <= 0x40 {
		return shifted
	}
	repeat := uint32(v) & 0x3f
	return shifted | repeat<<19 | repeat<<13 | repeat<<7 | repeat<<1 | repeat>>5
}

// Scale14To32 widens a 14-bit value to 32 bits.
func Scale14To32(v uint16) uint32 {
	shifted := uint32(v) << 18
	if v <= 0x2000 {
		return shifted
	}
	repeat := uint32(v) & 0x1fff
	return shifted | repeat<<5 | repeat>>8
}

// Scale16To7 narrows a 16-bit value back to 7 bits by truncation.
func Scale16To7(v uint16) uint8 { return uint8(v >> 9) }

// Scale32To7 narrows a 32-bit value back to 7 bits by truncation.
func Scale32To7(v uint32) uint8 { return uint8(v >> 25) }

// Scale32To14 narrows a 32-bit value back to 14 bits by truncation.
func Scale32To14(v uint32) uint16 { return uint16(v >> 18) }
