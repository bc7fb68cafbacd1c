package ump

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromWordsValidatesLength(t *testing.T) {
	_, err := FromWords()
	assert.Error(t, err)

	_, err = FromWords(0x20903c64, 0)
	assert.Error(t, err)

	_, err = FromWords(0x40903c00)
	assert.Error(t, err)

	p, err := FromWords(0x40903c00, 0xc9240000)
	require.NoError(t, err)
	assert.Equal(t, 2, p.WordCount())
}

func TestWordCountForType(t *testing.T) {
	assert.Equal(t, 1, WordCountForType(TypeUtility))
	assert.Equal(t, 1, WordCountForType(TypeSystem))
	assert.Equal(t, 1, WordCountForType(TypeMIDI1Voice))
	assert.Equal(t, 2, WordCountForType(TypeData64))
	assert.Equal(t, 2, WordCountForType(TypeMIDI2Voice))
	assert.Equal(t, 4, WordCountForType(TypeData128))
	assert.Equal(t, 3, WordCountForType(0xb))
	assert.Equal(t, 4, WordCountForType(0xf))
}

func TestPacketAccessors(t *testing.T) {
	p := NewNoteOn(4, 9, 0x40, 0xffff)
	assert.Equal(t, uint8(TypeMIDI2Voice), p.MessageType())
	assert.True(t, p.KnownType())
	assert.Equal(t, uint8(4), p.Group())
	assert.Equal(t, uint8(OpNoteOn), p.Opcode())
	assert.Equal(t, uint8(9), p.Channel())
	assert.Equal(t, uint32(0x44994000), p.Word(0))
	assert.Equal(t, uint32(0xffff0000), p.Word(1))
	assert.Equal(t, "[44994000 ffff0000]", p.String())

	s := NewSystem(0, 0xf2, 0x10, 0x20)
	assert.Equal(t, uint8(TypeSystem), s.MessageType())
	assert.Equal(t, uint8(0xf2), s.Status())
	assert.Equal(t, 1, s.WordCount())
	assert.Equal(t, uint32(0x10f21020), s.Word(0))
}

func TestProgramChangeBankFlag(t *testing.T) {
	plain := NewProgramChange(0, 2, 0x18, false, 0)
	assert.Equal(t, uint32(0x40c20000), plain.Word(0))
	assert.Equal(t, uint32(0x18000000), plain.Word(1))

	banked := NewProgramChange(0, 2, 0x18, true, 0x0102)
	assert.Equal(t, uint32(0x40c20001), banked.Word(0))
	assert.Equal(t, uint32(0x18000102), banked.Word(1))
}
