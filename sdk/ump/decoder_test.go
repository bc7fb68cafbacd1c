package ump

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeWords feeds the bytes through a fresh decoder and flattens the
// emitted packets into their words.
func decodeWords(d *StreamDecoder, data []byte) []uint32 {
	var words []uint32
	d.Feed(data, func(p Packet) {
		words = append(words, p.Words()...)
	})
	return words
}

func TestDecodeSystemCommonAndRealTime(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{
		0xf1, 0x7f,
		0xf2, 0x7f, 0x7f,
		0xf3, 0x7f,
		0xf6,
		0xf8, 0xfa, 0xfb, 0xfc, 0xfe,
	})
	assert.Equal(t, []uint32{
		0x10f17f00,
		0x10f27f7f,
		0x10f37f00,
		0x10f60000,
		0x10f80000, 0x10fa0000, 0x10fb0000, 0x10fc0000, 0x10fe0000,
	}, got)
}

func TestDecodeNoteOffRunningStatus(t *testing.T) {
	d := NewStreamDecoder(4)
	got := decodeWords(d, []byte{
		0x89, 0x40, 0x7f,
		0x41, 0x40,
		0x82, 0x18, 0x00,
	})
	assert.Equal(t, []uint32{
		0x44894000, 0xffff0000,
		0x44894100, 0x80000000,
		0x44821800, 0x00000000,
	}, got)
}

func TestDecodeNoteOnVelocityZeroStaysNoteOn(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{
		0x99, 0x40, 0x7f,
		0x92, 0x18, 0x00,
	})
	assert.Equal(t, []uint32{
		0x40994000, 0xffff0000,
		0x40921800, 0x00000000,
	}, got)
}

func TestDecodePolyPressure(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{
		0xa9, 0x40, 0x7f,
		0x18, 0x00,
	})
	assert.Equal(t, []uint32{
		0x40a94000, 0xffffffff,
		0x40a91800, 0x00000000,
	}, got)
}

func TestDecodeControlChange(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{
		0xb9, 0x07, 0x7f,
		0x07, 0x40,
	})
	assert.Equal(t, []uint32{
		0x40b90700, 0xffffffff,
		0x40b90700, 0x80000000,
	}, got)
}

func TestDecodeProgramChange(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{
		0xc9, 0x40,
		0x05,
	})
	assert.Equal(t, []uint32{
		0x40c90000, 0x40000000,
		0x40c90000, 0x05000000,
	}, got)
}

func TestDecodeChannelPressure(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{
		0xd9, 0x7f,
		0x00,
	})
	assert.Equal(t, []uint32{
		0x40d90000, 0xffffffff,
		0x40d90000, 0x00000000,
	}, got)
}

func TestDecodePitchBend(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{
		0xe9, 0x00, 0x40,
		0x7f, 0x7f,
		0x00, 0x00,
	})
	assert.Equal(t, []uint32{
		0x40e90000, 0x80000000,
		0x40e90000, 0xffffffff,
		0x40e90000, 0x00000000,
	}, got)
}

func TestDecodeRealTimeInterleavesPendingMessage(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{0x89, 0x40, 0xfa, 0x7f, 0xfb, 0x41, 0xfc, 0x40})
	assert.Equal(t, []uint32{
		0x10fa0000,
		0x40894000, 0xffff0000,
		0x10fb0000,
		0x10fc0000,
		0x40894100, 0x80000000,
	}, got)
}

func TestDecodeSysexComplete(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{0xf0, 0x01, 0x02, 0x03, 0x04, 0xf7})
	assert.Equal(t, []uint32{0x30040102, 0x03040000}, got)
}

func TestDecodeSysexSegmented(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []uint32
	}{
		{
			name: "six bytes split into start and empty end",
			in:   []byte{0xf0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0xf7},
			want: []uint32{0x30160102, 0x03040506, 0x30300000, 0x00000000},
		},
		{
			name: "seven bytes split into start and end",
			in:   []byte{0xf0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0xf7},
			want: []uint32{0x30160102, 0x03040506, 0x30310700, 0x00000000},
		},
		{
			name: "thirteen bytes split into start continue end",
			in: []byte{
				0xf0,
				0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
				0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c,
				0x0d, 0xf7,
			},
			want: []uint32{
				0x30160102, 0x03040506,
				0x30260708, 0x090a0b0c,
				0x30310d00, 0x00000000,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewStreamDecoder(0)
			assert.Equal(t, tt.want, decodeWords(d, tt.in))
		})
	}
}

func TestDecodeSysexSurvivesRealTime(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{0xf0, 0x01, 0x02, 0xf8, 0x03, 0xf7})
	assert.Equal(t, []uint32{
		0x10f80000,
		0x30030102, 0x03000000,
	}, got)
}

func TestDecodeSystemResetClearsState(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{0x82, 0x18, 0xff, 0x00})
	assert.Equal(t, []uint32{0x10ff0000}, got)
}

func TestDecodeReservedStatusCountedAndSkipped(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{0xf4, 0xf5, 0x90, 0x3c, 0x64})
	assert.Equal(t, []uint32{0x40903c00, 0xc9240000}, got)
	assert.Equal(t, uint64(2), d.Unknown())
}

func TestDecodeStrayDataSkipped(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{0x00, 0x25, 0x90, 0x3c, 0x64})
	assert.Equal(t, []uint32{0x40903c00, 0xc9240000}, got)
}

func TestDecodeSystemCommonCancelsRunningStatus(t *testing.T) {
	d := NewStreamDecoder(0)
	got := decodeWords(d, []byte{0x90, 0x3c, 0x64, 0xf1, 0x01, 0x3c, 0x64})
	assert.Equal(t, []uint32{
		0x40903c00, 0xc9240000,
		0x10f10100,
	}, got)
}

func TestWordDecoderReassembles(t *testing.T) {
	var d WordDecoder

	p, ok := d.Push(0x20903c64)
	require.True(t, ok)
	assert.Equal(t, []uint32{0x20903c64}, p.Words())

	_, ok = d.Push(0x40903c00)
	require.False(t, ok)
	p, ok = d.Push(0xc9240000)
	require.True(t, ok)
	assert.Equal(t, []uint32{0x40903c00, 0xc9240000}, p.Words())
}

func TestWordDecoderReservedTypeKeepsAlignment(t *testing.T) {
	var d WordDecoder

	// Type 0xd is reserved and carries four words.
	var got Packet
	var emitted int
	for _, w := range []uint32{0xd0000001, 2, 3, 4} {
		if p, ok := d.Push(w); ok {
			got = p
			emitted++
		}
	}
	require.Equal(t, 1, emitted)
	assert.Equal(t, []uint32{0xd0000001, 2, 3, 4}, got.Words())
	assert.False(t, got.KnownType())

	p, ok := d.Push(0x10f80000)
	require.True(t, ok)
	assert.Equal(t, []uint32{0x10f80000}, p.Words())
}
