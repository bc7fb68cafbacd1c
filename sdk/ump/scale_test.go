package ump

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// scaleUpRef is the generic min-center-max up-scaling from the MIDI 2.0
// translation rules, used as a reference for the specialized converters.
func scaleUpRef(srcBits, dstBits uint, srcVal uint32) uint32 {
	scaleBits := dstBits - srcBits
	shifted := srcVal << scaleBits
	srcCenter := uint32(1) << (srcBits - 1)
	if srcVal <= srcCenter {
		return shifted
	}
	repeatBits := srcBits - 1
	repeatMask := uint32(1)<<repeatBits - 1
	repeatValue := srcVal & repeatMask
	if scaleBits > repeatBits {
		repeatValue <<= scaleBits - repeatBits
	} else {
		repeatValue >>= repeatBits - scaleBits
	}
	for repeatValue != 0 {
		shifted |= repeatValue
		repeatValue >>= repeatBits
	}
	return shifted
}

func TestScale7To16(t *testing.T) {
	for v := 0; v < 128; v++ {
		assert.Equal(t, scaleUpRef(7, 16, uint32(v)), uint32(Scale7To16(uint8(v))), "value %d", v)
	}
}

func TestScale7To32(t *testing.T) {
	for v := 0; v < 128; v++ {
		assert.Equal(t, scaleUpRef(7, 32, uint32(v)), Scale7To32(uint8(v)), "value %d", v)
	}
}

func TestScale14To32(t *testing.T) {
	for v := 0; v < 1<<14; v++ {
		assert.Equal(t, scaleUpRef(14, 32, uint32(v)), Scale14To32(uint16(v)), "value %d", v)
	}
}

func TestScaleRoundTrip(t *testing.T) {
	for v := 0; v < 128; v++ {
		assert.Equal(t, uint8(v), Scale16To7(Scale7To16(uint8(v))))
		assert.Equal(t, uint8(v), Scale32To7(Scale7To32(uint8(v))))
	}
	for v := 0; v < 1<<14; v++ {
		assert.Equal(t, uint16(v), Scale32To14(Scale14To32(uint16(v))))
	}
}
