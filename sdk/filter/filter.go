// Package filter implements the composable predicate chain applied to a
// drained packet sequence before callback delivery.
package filter

import (
	"time"

	"github.com/leandrodaf/midi2/sdk/ump"
)

// Verdict is a stage's decision about one packet.
type Verdict int

const (
	// Keep passes the packet unchanged to the next stage.
	Keep Verdict = iota
	// Drop discards the packet and short-circuits the remaining stages.
	Drop
	// Replace passes the stage's returned packet to the next stage.
	Replace
)

// Stage inspects one packet. Stateless stages are safe to share across
// subscriptions; stateful stages must be constructed per subscription.
type Stage func(ump.Packet) (ump.Packet, Verdict)

// Pipeline composes stages left to right.
type Pipeline []Stage

// Apply runs the packet through every stage in order. The second result is
// false when some stage dropped the packet; stages after that one never see it.
func (pl Pipeline) Apply(p ump.Packet) (ump.Packet, bool) {
	for _, stage := range pl {
		next, verdict := stage(p)
		switch verdict {
		case Drop:
			return ump.Packet{}, false
		case Replace:
			p = next
		}
	}
	return p, true
}

// Mask selects packets by message type, group and per-group channel, each as
// a 16-wide bitmask. The zero configuration from NewMask passes everything;
// the With methods narrow one dimension at a time.
type Mask struct {
	mtypes   uint16
	groups   uint16
	channels [16]uint16
}

// NewMask returns a mask that passes every packet.
func NewMask() Mask {
	m := Mask{mtypes: 0xffff, groups: 0xffff}
	for i := range m.channels {
		m.channels[i] = 0xffff
	}
	return m
}

// WithMessageTypes narrows the mask to the given message type nibbles.
func (m Mask) WithMessageTypes(types ...uint8) Mask {
	m.mtypes = 0
	for _, t := range types {
		m.mtypes |= 1 << (t & 0x0f)
	}
	return m
}

// WithGroups narrows the mask to the given groups (0-15).
func (m Mask) WithGroups(groups ...uint8) Mask {
	m.groups = 0
	for _, g := range groups {
		m.groups |= 1 << (g & 0x0f)
	}
	return m
}

// WithChannels narrows one group's channel mask to the given channels (0-15).
func (m Mask) WithChannels(group uint8, channels ...uint8) Mask {
	var mask uint16
	for _, c := range channels {
		mask |= 1 << (c & 0x0f)
	}
	m.channels[group&0x0f] = mask
	return m
}

// Pass reports whether the packet clears the mask. The channel dimension
// only applies to channel voice packets.
func (m Mask) Pass(p ump.Packet) bool {
	mtype := p.MessageType()
	if m.mtypes&(1<<mtype) == 0 {
		return false
	}
	if m.groups&(1<<p.Group()) == 0 {
		return false
	}
	if mtype == ump.TypeMIDI1Voice || mtype == ump.TypeMIDI2Voice {
		if m.channels[p.Group()]&(1<<p.Channel()) == 0 {
			return false
		}
	}
	return true
}

// Stage adapts the mask into a pipeline stage.
func (m Mask) Stage() Stage {
	return func(p ump.Packet) (ump.Packet, Verdict) {
		if m.Pass(p) {
			return p, Keep
		}
		return p, Drop
	}
}

// ChannelMap returns a stateless stage rewriting channel voice packets from
// one channel to another. Other packets pass unchanged.
func ChannelMap(from, to uint8) Stage {
	from &= 0x0f
	mask := uint32(to&0x0f) << 16
	return func(p ump.Packet) (ump.Packet, Verdict) {
		mtype := p.MessageType()
		if (mtype != ump.TypeMIDI1Voice && mtype != ump.TypeMIDI2Voice) || p.Channel() != from {
			return p, Keep
		}
		words := p.Words()
		words[0] = words[0]&^uint32(0x0f<<16) | mask
		mapped, err := ump.FromWords(words...)
		if err != nil {
			return p, Keep
		}
		return mapped, Replace
	}
}

// RateLimit returns a stateful stage passing at most one packet per status
// byte within the given interval. Construct a fresh stage per subscription.
func RateLimit(interval time.Duration) Stage {
	last := make(map[uint8]time.Time, 16)
	return func(p ump.Packet) (ump.Packet, Verdict) {
		now := time.Now()
		status := p.Status()
		if prev, ok := last[status]; ok && now.Sub(prev) < interval {
			return p, Drop
		}
		last[status] = now
		return p, Keep
	}
}
