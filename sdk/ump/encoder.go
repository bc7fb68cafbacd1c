package ump

import "fmt"

// EncodeMIDI1 renders a packet as a MIDI 1.0 byte sequence with an explicit
// status byte, appending to dst. Wide values narrow by truncation, which is
// the exact inverse of the up-scaling the decoder applies. Packets with no
// MIDI 1.0 vocabulary fail with ErrUnsupportedDowngrade and append nothing;
// the caller decides whether to drop or buffer them.
func EncodeMIDI1(dst []byte, p Packet) ([]byte, error) {
	var enc StreamEncoder
	enc.noRunningStatus = true
	return enc.Encode(dst, p)
}

// StreamEncoder renders packets as one continuous MIDI 1.0 byte stream,
// compressing repeated channel voice statuses with running status. One
// instance per output stream.
type StreamEncoder struct {
	running         uint8
	noRunningStatus bool
}

// Reset clears the tracked running status.
func (e *StreamEncoder) Reset() { e.running = 0 }

// Encode appends the packet's MIDI 1.0 bytes to dst.
func (e *StreamEncoder) Encode(dst []byte, p Packet) ([]byte, error) {
	switch p.MessageType() {
	case TypeSystem:
		return e.encodeSystem(dst, p), nil
	case TypeMIDI1Voice:
		return e.encodeVoice1(dst, p), nil
	case TypeData64:
		return e.encodeSysex(dst, p), nil
	case TypeMIDI2Voice:
		return e.encodeVoice2(dst, p)
	case TypeUtility, TypeData128:
		return dst, fmt.Errorf("%w: message type %#x", ErrUnsupportedDowngrade, p.MessageType())
	default:
		return dst, fmt.Errorf("%w: %#x", ErrUnknownMessageType, p.MessageType())
	}
}

// status appends a channel voice status byte unless running status elides it.
func (e *StreamEncoder) status(dst []byte, status uint8) []byte {
	if !e.noRunningStatus && e.running == status {
		return dst
	}
	e.running = status
	return append(dst, status)
}

func (e *StreamEncoder) encodeSystem(dst []byte, p Packet) []byte {
	status := p.Status()
	d0 := uint8(p.Word(0)>>8) & 0x7f
	d1 := uint8(p.Word(0)) & 0x7f
	if status < 0xf8 {
		// System common cancels running status; real-time leaves it intact.
		e.running = 0
	}
	switch status {
	case 0xf1, 0xf3:
		return append(dst, status, d0)
	case 0xf2:
		return append(dst, status, d0, d1)
	default:
		return append(dst, status)
	}
}

func (e *StreamEncoder) encodeVoice1(dst []byte, p Packet) []byte {
	status := p.Status()
	d0 := uint8(p.Word(0)>>8) & 0x7f
	d1 := uint8(p.Word(0)) & 0x7f
	dst = e.status(dst, status)
	switch status & 0xf0 {
	case 0xc0, 0xd0:
		return append(dst, d0)
	default:
		return append(dst, d0, d1)
	}
}

func (e *StreamEncoder) encodeSysex(dst []byte, p Packet) []byte {
	nibble := uint8(p.Word(0)>>20) & 0x0f
	n := int(p.Word(0)>>16) & 0x0f
	if n > sysexChunkLen {
		n = sysexChunkLen
	}
	e.running = 0
	if nibble == sysexComplete || nibble == sysexStart {
		dst = append(dst, sysexStartStatus)
	}
	bytes := [sysexChunkLen]uint8{
		uint8(p.Word(0) >> 8), uint8(p.Word(0)),
		uint8(p.Word(1) >> 24), uint8(p.Word(1) >> 16),
		uint8(p.Word(1) >> 8), uint8(p.Word(1)),
	}
	dst = append(dst, bytes[:n]...)
	if nibble == sysexComplete || nibble == sysexEnd {
		dst = append(dst, sysexEndStatus)
	}
	return dst
}

func (e *StreamEncoder) encodeVoice2(dst []byte, p Packet) ([]byte, error) {
	opcode := p.Opcode()
	status := opcode<<4 | p.Channel()
	w0, w1 := p.Word(0), p.Word(1)
	switch opcode {
	case OpNoteOff, OpNoteOn:
		note := uint8(w0>>8) & 0x7f
		velocity := Scale16To7(uint16(w1 >> 16))
		return append(e.status(dst, status), note, velocity), nil
	case OpPolyPressure:
		note := uint8(w0>>8) & 0x7f
		return append(e.status(dst, status), note, Scale32To7(w1)), nil
	case OpControlChange:
		index := uint8(w0>>8) & 0x7f
		return append(e.status(dst, status), index, Scale32To7(w1)), nil
	case OpProgramChange:
		program := uint8(w1>>24) & 0x7f
		if w0&0x1 != 0 {
			// Bank valid: emit the bank select controllers first.
			bankStatus := 0xb0 | p.Channel()
			dst = append(e.status(dst, bankStatus), 0x00, uint8(w1>>8)&0x7f)
			dst = append(e.status(dst, bankStatus), 0x20, uint8(w1)&0x7f)
		}
		return append(e.status(dst, status), program), nil
	case OpChannelPressure:
		return append(e.status(dst, status), Scale32To7(w1)), nil
	case OpPitchBend:
		value := Scale32To14(w1)
		return append(e.status(dst, status), uint8(value)&0x7f, uint8(value>>7)&0x7f), nil
	default:
		// Per-note controllers, registered/assignable controllers and
		// per-note management exist only in MIDI 2.0.
		return dst, fmt.Errorf("%w: channel voice opcode %#x", ErrUnsupportedDowngrade, opcode)
	}
}
