package ump

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip decodes a byte stream into packets and re-encodes them through a
// stream encoder, which must reproduce the input byte for byte.
func roundTrip(t *testing.T, in []byte) {
	t.Helper()
	d := NewStreamDecoder(0)
	var enc StreamEncoder
	var out []byte
	d.Feed(in, func(p Packet) {
		var err error
		out, err = enc.Encode(out, p)
		require.NoError(t, err)
	})
	assert.Equal(t, in, out)
}

func TestStreamRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"note on", []byte{0x90, 0x3c, 0x64}},
		{"note on velocity zero", []byte{0x92, 0x18, 0x00}},
		{"running status", []byte{0x90, 0x3c, 0x64, 0x3e, 0x60, 0x80, 0x3c, 0x40}},
		{"program change", []byte{0xc2, 0x18}},
		{"channel pressure", []byte{0xd9, 0x45}},
		{"poly pressure", []byte{0xa0, 0x40, 0x51}},
		{"control change", []byte{0xb3, 0x07, 0x22}},
		{"pitch bend center", []byte{0xe9, 0x00, 0x40}},
		{"song position", []byte{0xf2, 0x10, 0x20}},
		{"song select", []byte{0xf3, 0x05}},
		{"tune request", []byte{0xf6}},
		{"timing clock", []byte{0xf8}},
		{"sysex complete", []byte{0xf0, 0x01, 0x02, 0x03, 0xf7}},
		{
			"sysex segmented",
			[]byte{
				0xf0,
				0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
				0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c,
				0x0d, 0xf7,
			},
		},
		{
			"real time keeps running status",
			[]byte{0x90, 0x3c, 0x64, 0xf8, 0x3e, 0x60},
		},
		{
			"system common cancels running status",
			[]byte{0x90, 0x3c, 0x64, 0xf3, 0x05, 0x90, 0x3e, 0x60},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roundTrip(t, tt.in)
		})
	}
}

func TestEncodeMIDI1StatelessNeverElides(t *testing.T) {
	out, err := EncodeMIDI1(nil, NewNoteOn(0, 0, 0x3c, Scale7To16(0x64)))
	require.NoError(t, err)
	out, err = EncodeMIDI1(out, NewNoteOn(0, 0, 0x3e, Scale7To16(0x60)))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x3c, 0x64, 0x90, 0x3e, 0x60}, out)
}

func TestEncodeProgramChangeWithBank(t *testing.T) {
	p := NewProgramChange(0, 1, 0x05, true, 0x02<<8|0x03)

	out, err := EncodeMIDI1(nil, p)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xb1, 0x00, 0x02, 0xb1, 0x20, 0x03, 0xc1, 0x05}, out)

	var enc StreamEncoder
	out, err = enc.Encode(nil, p)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xb1, 0x00, 0x02, 0x20, 0x03, 0xc1, 0x05}, out)
}

func TestEncodeMIDI1Voice(t *testing.T) {
	p, err := FromWords(0x20903c64)
	require.NoError(t, err)
	out, err := EncodeMIDI1(nil, p)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x3c, 0x64}, out)
}

func TestEncodeUnsupportedDowngrade(t *testing.T) {
	tests := []struct {
		name  string
		words []uint32
	}{
		{"per-note controller", []uint32{0x40003c01, 0x00000000}},
		{"per-note management", []uint32{0x40f03c00, 0x00000000}},
		{"utility", []uint32{0x00000000}},
		{"data 128", []uint32{0x50000000, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := FromWords(tt.words...)
			require.NoError(t, err)
			out, err := EncodeMIDI1(nil, p)
			assert.ErrorIs(t, err, ErrUnsupportedDowngrade)
			assert.Empty(t, out)
		})
	}
}

func TestEncodeUnknownMessageType(t *testing.T) {
	p, err := FromWords(0x80000000, 0)
	require.NoError(t, err)
	_, err = EncodeMIDI1(nil, p)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}
