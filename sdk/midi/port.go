package midi

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/leandrodaf/midi2/sdk/contracts"
	"github.com/leandrodaf/midi2/sdk/ring"
	"github.com/leandrodaf/midi2/sdk/ump"
)

// Port is an application-held open binding to an endpoint. Its identity is
// stable across transient disconnects of the underlying endpoint: after a
// reconnect the same Port keeps working and keeps its alias.
type Port struct {
	id        uuid.UUID
	endpoint  contracts.EndpointInfo
	direction contracts.Direction
	alias     string

	// handle is the current driver binding. It is rebound after a
	// reconnect, hence the atomic.
	handle atomic.Uint64

	// in is the inbound data path, nil for output ports.
	in *ingest
}

// ingest is the per-port real-time data path: the driver sink feeds it, one
// drain goroutine empties it. All state is allocated at open time.
type ingest struct {
	ring *ring.Ring
	dec  *ump.StreamDecoder
	wdec ump.WordDecoder
	emit func(ump.Packet)
}

func newIngest(capacity int) *ingest {
	in := &ingest{
		ring: ring.New(capacity),
		dec:  ump.NewStreamDecoder(0),
	}
	in.emit = func(p ump.Packet) { in.ring.TryPush(p) }
	return in
}

// ID returns the stable port identity.
func (p *Port) ID() uuid.UUID { return p.id }

// Endpoint returns the endpoint the port is bound to.
func (p *Port) Endpoint() contracts.EndpointInfo { return p.endpoint }

// Direction returns the port direction.
func (p *Port) Direction() contracts.Direction { return p.direction }

// Alias returns the rule-assigned alias, empty for explicitly opened ports.
func (p *Port) Alias() string { return p.alias }

// Dropped returns how many inbound packets the port's ring rejected.
// Always zero for output ports.
func (p *Port) Dropped() uint64 {
	if p.in == nil {
		return 0
	}
	return p.in.ring.Dropped()
}

func (p *Port) driverHandle() contracts.PortHandle {
	return contracts.PortHandle(p.handle.Load())
}

func (p *Port) setDriverHandle(h contracts.PortHandle) {
	p.handle.Store(uint64(h))
}
