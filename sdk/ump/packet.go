// Package ump implements the Universal MIDI Packet message model and the
// translation between legacy MIDI 1.0 byte streams and packets.
package ump

import (
	"errors"
	"fmt"
)

// Error definitions for the data path. Both are per-message conditions: the
// surrounding stream stays decodable after either one.
var (
	// ErrUnknownMessageType indicates a reserved or unrecognized packet type.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrUnsupportedDowngrade indicates a packet with no MIDI 1.0 representation.
	ErrUnsupportedDowngrade = errors.New("unsupported downgrade to MIDI 1.0")
)

// Message types (high nibble of the first packet word).
const (
	TypeUtility    = 0x0 // 32-bit utility messages.
	TypeSystem     = 0x1 // 32-bit system common and real-time messages.
	TypeMIDI1Voice = 0x2 // 32-bit MIDI 1.0 channel voice messages.
	TypeData64     = 0x3 // 64-bit data messages (7-bit system exclusive).
	TypeMIDI2Voice = 0x4 // 64-bit MIDI 2.0 channel voice messages.
	TypeData128    = 0x5 // 128-bit data messages.
)

// MIDI 2.0 channel voice opcodes (bits 20-23 of the first word).
const (
	OpRegPerNoteController    = 0x0
	OpAssignPerNoteController = 0x1
	OpRegController           = 0x2
	OpAssignController        = 0x3
	OpRelRegController        = 0x4
	OpRelAssignController     = 0x5
	OpPerNotePitchBend        = 0x6
	OpNoteOff                 = 0x8
	OpNoteOn                  = 0x9
	OpPolyPressure            = 0xA
	OpControlChange           = 0xB
	OpProgramChange           = 0xC
	OpChannelPressure         = 0xD
	OpPitchBend               = 0xE
	OpPerNoteManagement       = 0xF
)

// wordCounts maps every message type nibble to its packet size in 32-bit
// words, including the reserved types, so a word stream stays in sync even
// when it carries types this implementation does not interpret.
var wordCounts = [16]uint8{
	TypeUtility:    1,
	TypeSystem:     1,
	TypeMIDI1Voice: 1,
	TypeData64:     2,
	TypeMIDI2Voice: 2,
	TypeData128:    4,
	0x6:            1, 0x7: 1,
	0x8: 2, 0x9: 2, 0xA: 2,
	0xB: 3, 0xC: 3,
	0xD: 4, 0xE: 4, 0xF: 4,
}

// WordCountForType returns the packet size in words for a message type nibble.
func WordCountForType(mtype uint8) int {
	return int(wordCounts[mtype&0x0f])
}

// Packet is one Universal MIDI Packet. It is an immutable value: construct
// it with the builders or FromWords and copy it freely.
type Packet struct {
	words [4]uint32
	count uint8
}

// FromWords builds a packet from raw words. It fails when the slice length
// does not match the size implied by the message type nibble.
func FromWords(words ...uint32) (Packet, error) {
	if len(words) == 0 || len(words) > 4 {
		return Packet{}, fmt.Errorf("packet must carry 1 to 4 words, got %d", len(words))
	}
	mtype := uint8(words[0] >> 28)
	if want := WordCountForType(mtype); want != len(words) {
		return Packet{}, fmt.Errorf("message type %#x carries %d words, got %d", mtype, want, len(words))
	}
	var p Packet
	p.count = uint8(copy(p.words[:], words))
	return p, nil
}

// MessageType returns the type nibble of the packet.
func (p Packet) MessageType() uint8 { return uint8(p.words[0] >> 28) }

// KnownType reports whether the message type is one this implementation
// interprets, as opposed to a reserved type carried only for resync.
func (p Packet) KnownType() bool { return p.MessageType() <= TypeData128 }

// Group returns the group field (0-15).
func (p Packet) Group() uint8 { return uint8(p.words[0]>>24) & 0x0f }

// Status returns the status byte (bits 16-23 of the first word). For MIDI 2.0
// channel voice packets this is opcode and channel; for system messages it is
// the MIDI 1.0 status byte.
func (p Packet) Status() uint8 { return uint8(p.words[0] >> 16) }

// Opcode returns the channel voice opcode nibble.
func (p Packet) Opcode() uint8 { return uint8(p.words[0]>>20) & 0x0f }

// Channel returns the channel field (0-15) of a channel voice packet.
func (p Packet) Channel() uint8 { return uint8(p.words[0]>>16) & 0x0f }

// WordCount returns the number of 32-bit words in the packet.
func (p Packet) WordCount() int { return int(p.count) }

// Word returns the i-th word. Words beyond WordCount are zero.
func (p Packet) Word(i int) uint32 { return p.words[i] }

// Words returns a copy of the packet's words.
func (p Packet) Words() []uint32 {
	out := make([]uint32, p.count)
	copy(out, p.words[:p.count])
	return out
}

// String renders the packet words in hex for logs and test failures.
func (p Packet) String() string {
	switch p.count {
	case 1:
		return fmt.Sprintf("[%08x]", p.words[0])
	case 2:
		return fmt.Sprintf("[%08x %08x]", p.words[0], p.words[1])
	case 3:
		return fmt.Sprintf("[%08x %08x %08x]", p.words[0], p.words[1], p.words[2])
	default:
		return fmt.Sprintf("[%08x %08x %08x %08x]", p.words[0], p.words[1], p.words[2], p.words[3])
	}
}

func pack1(w0 uint32) Packet {
	return Packet{words: [4]uint32{w0}, count: 1}
}

func pack2(w0, w1 uint32) Packet {
	return Packet{words: [4]uint32{w0, w1}, count: 2}
}

func voiceWord0(group, opcode, channel uint8, index uint16) uint32 {
	return uint32(TypeMIDI2Voice)<<28 |
		uint32(group&0x0f)<<24 |
		uint32(opcode&0x0f)<<20 |
		uint32(channel&0x0f)<<16 |
		uint32(index)
}

// NewNoteOn builds a MIDI 2.0 note-on packet with a 16-bit velocity.
func NewNoteOn(group, channel, note uint8, velocity uint16) Packet {
	return pack2(voiceWord0(group, OpNoteOn, channel, uint16(note&0x7f)<<8), uint32(velocity)<<16)
}

// NewNoteOff builds a MIDI 2.0 note-off packet with a 16-bit velocity.
func NewNoteOff(group, channel, note uint8, velocity uint16) Packet {
	return pack2(voiceWord0(group, OpNoteOff, channel, uint16(note&0x7f)<<8), uint32(velocity)<<16)
}

// NewPolyPressure builds a per-note pressure packet with a 32-bit value.
func NewPolyPressure(group, channel, note uint8, pressure uint32) Packet {
	return pack2(voiceWord0(group, OpPolyPressure, channel, uint16(note&0x7f)<<8), pressure)
}

// NewControlChange builds a control change packet with a 32-bit value.
func NewControlChange(group, channel, index uint8, value uint32) Packet {
	return pack2(voiceWord0(group, OpControlChange, channel, uint16(index&0x7f)<<8), value)
}

// NewProgramChange builds a program change packet. When withBank is true the
// bank valid flag is set and bank carries MSB<<8|LSB.
func NewProgramChange(group, channel, program uint8, withBank bool, bank uint16) Packet {
	var flags uint16
	var w1 uint32
	if withBank {
		flags = 1
		w1 = uint32(bank) & 0x7f7f
	}
	return pack2(voiceWord0(group, OpProgramChange, channel, flags), uint32(program&0x7f)<<24|w1)
}

// NewChannelPressure builds a channel pressure packet with a 32-bit value.
func NewChannelPressure(group, channel uint8, pressure uint32) Packet {
	return pack2(voiceWord0(group, OpChannelPressure, channel, 0), pressure)
}

// NewPitchBend builds a pitch bend packet. The value is an unsigned bipolar
// 32-bit quantity centered at 0x80000000.
func NewPitchBend(group, channel uint8, value uint32) Packet {
	return pack2(voiceWord0(group, OpPitchBend, channel, 0), value)
}

// NewSystem builds a system common or real-time packet from the MIDI 1.0
// status byte and up to two data bytes.
func NewSystem(group, status, data0, data1 uint8) Packet {
	return pack1(uint32(TypeSystem)<<28 |
		uint32(group&0x0f)<<24 |
		uint32(status)<<16 |
		uint32(data0&0x7f)<<8 |
		uint32(data1&0x7f))
}
