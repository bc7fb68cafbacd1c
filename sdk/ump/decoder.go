package ump

import "sync/atomic"

const (
	nullStatus       = 0x00
	sysexStartStatus = 0xf0
	sysexEndStatus   = 0xf7
	sysexChunkLen    = 6
)

// sysex segment status nibbles in 64-bit data packets.
const (
	sysexComplete = 0x0
	sysexStart    = 0x1
	sysexContinue = 0x2
	sysexEnd      = 0x3
)

// StreamDecoder translates one MIDI 1.0 byte stream into Universal MIDI
// Packets. Running status is resolved per decoder, so every endpoint or port
// gets its own instance and simultaneous streams stay independent.
//
// The decoder allocates nothing after construction and takes no locks: it is
// safe to feed from the driver notification context. Each MIDI 1.0 message
// maps to exactly one packet (no note-on-velocity-zero rewriting, no
// controller coalescing), which keeps decode followed by encode byte-exact.
type StreamDecoder struct {
	group  uint8
	status uint8
	need   int
	have   int
	data   [2]uint8

	sysexBuf  [sysexChunkLen]uint8
	sysexLen  int
	sysexCont bool

	unknown atomic.Uint64
}

// NewStreamDecoder creates a decoder emitting packets on the given group.
func NewStreamDecoder(group uint8) *StreamDecoder {
	return &StreamDecoder{group: group & 0x0f}
}

// Unknown returns how many reserved status bytes the stream carried so far.
func (d *StreamDecoder) Unknown() uint64 { return d.unknown.Load() }

// Reset drops any partially accumulated message and clears running status.
func (d *StreamDecoder) Reset() {
	d.status = nullStatus
	d.need = 0
	d.have = 0
	d.sysexLen = 0
	d.sysexCont = false
}

// Feed consumes a chunk of stream bytes, invoking emit for every completed
// packet. A malformed or reserved byte never desynchronizes the stream: it
// is counted and decoding resumes at the next status byte.
func (d *StreamDecoder) Feed(data []byte, emit func(Packet)) {
	for _, b := range data {
		d.push(b, emit)
	}
}

func (d *StreamDecoder) push(b uint8, emit func(Packet)) {
	if b&0x80 == 0 {
		d.pushData(b, emit)
		return
	}
	if b >= 0xf8 {
		// Real-time bytes interleave without disturbing pending message or
		// sysex state. System reset additionally clears the decoder.
		emit(NewSystem(d.group, b, 0, 0))
		if b == 0xff {
			d.Reset()
		}
		return
	}
	d.pushStatus(b, emit)
}

func (d *StreamDecoder) pushStatus(status uint8, emit func(Packet)) {
	if d.status == sysexStartStatus {
		d.emitSysex(true, emit)
	}
	d.have = 0
	d.need = 0
	d.status = nullStatus

	switch {
	case status == sysexStartStatus:
		d.status = status
		d.sysexLen = 0
		d.sysexCont = false
	case status == sysexEndStatus:
		// Terminator already handled by the sysex flush above.
	case status == 0xf4 || status == 0xf5:
		// Reserved system common statuses.
		d.unknown.Add(1)
	case status == 0xf6:
		emit(NewSystem(d.group, status, 0, 0))
	default:
		d.status = status
		d.need = expectedLen(status)
	}
}

func (d *StreamDecoder) pushData(b uint8, emit func(Packet)) {
	switch {
	case d.status == nullStatus:
		// Stray data byte with no status to attach to; skip for resync.
	case d.status == sysexStartStatus:
		d.sysexBuf[d.sysexLen] = b
		d.sysexLen++
		if d.sysexLen == sysexChunkLen {
			d.emitSysex(false, emit)
		}
	default:
		d.data[d.have] = b
		d.have++
		if d.have == d.need {
			d.emitMessage(emit)
			d.have = 0
		}
	}
}

func (d *StreamDecoder) emitMessage(emit func(Packet)) {
	status := d.status
	channel := status & 0x0f
	switch status & 0xf0 {
	case 0x80:
		emit(NewNoteOff(d.group, channel, d.data[0], Scale7To16(d.data[1]&0x7f)))
	case 0x90:
		emit(NewNoteOn(d.group, channel, d.data[0], Scale7To16(d.data[1]&0x7f)))
	case 0xa0:
		emit(NewPolyPressure(d.group, channel, d.data[0], Scale7To32(d.data[1]&0x7f)))
	case 0xb0:
		emit(NewControlChange(d.group, channel, d.data[0], Scale7To32(d.data[1]&0x7f)))
	case 0xc0:
		emit(NewProgramChange(d.group, channel, d.data[0], false, 0))
	case 0xd0:
		emit(NewChannelPressure(d.group, channel, Scale7To32(d.data[0]&0x7f)))
	case 0xe0:
		value := uint16(d.data[1]&0x7f)<<7 | uint16(d.data[0]&0x7f)
		emit(NewPitchBend(d.group, channel, Scale14To32(value)))
	case 0xf0:
		emit(NewSystem(d.group, status, d.data[0], d.data[1]))
		// System common messages cancel running status.
		d.status = nullStatus
		d.need = 0
	}
}

func (d *StreamDecoder) emitSysex(endOfSysex bool, emit func(Packet)) {
	nibble := uint32(sysexStart)
	switch {
	case !d.sysexCont && endOfSysex:
		nibble = sysexComplete
	case d.sysexCont && !endOfSysex:
		nibble = sysexContinue
	case d.sysexCont && endOfSysex:
		nibble = sysexEnd
	}

	at := func(i int, shift uint) uint32 {
		if i < d.sysexLen {
			return uint32(d.sysexBuf[i]) << shift
		}
		return 0
	}
	w0 := uint32(TypeData64)<<28 |
		uint32(d.group)<<24 |
		nibble<<20 |
		uint32(d.sysexLen)<<16 |
		at(0, 8) | at(1, 0)
	w1 := at(2, 24) | at(3, 16) | at(4, 8) | at(5, 0)
	emit(pack2(w0, w1))

	d.sysexLen = 0
	d.sysexCont = true
	if endOfSysex {
		d.status = nullStatus
		d.sysexCont = false
	}
}

// expectedLen returns the data byte count for a channel voice or system
// common status.
func expectedLen(status uint8) int {
	switch status & 0xf0 {
	case 0xc0, 0xd0:
		return 1
	case 0xf0:
		switch status {
		case 0xf1, 0xf3:
			return 1
		case 0xf2:
			return 2
		default:
			return 0
		}
	default:
		return 2
	}
}

// WordDecoder reassembles a raw word stream from a native MIDI 2.0 transport
// into packets. One instance per stream; no allocation after construction.
type WordDecoder struct {
	words [4]uint32
	have  int
	need  int
}

// Push consumes one stream word. It returns the completed packet once all
// the words the message type calls for have arrived. Reserved types use the
// documented reserved sizes, so an unknown packet passes through intact and
// the following message stays aligned.
func (d *WordDecoder) Push(w uint32) (Packet, bool) {
	if d.have == 0 {
		d.need = WordCountForType(uint8(w >> 28))
	}
	d.words[d.have] = w
	d.have++
	if d.have < d.need {
		return Packet{}, false
	}
	p := Packet{words: d.words, count: uint8(d.need)}
	for i := d.need; i < 4; i++ {
		p.words[i] = 0
	}
	d.Reset()
	return p, true
}

// Reset drops any partially accumulated packet.
func (d *WordDecoder) Reset() {
	d.have = 0
	d.need = 0
}
