// Package virtual implements the driver contract fully in-process. It backs
// the "virtual" transport kind, the test suites and applications that wire
// MIDI streams between components without OS devices.
package virtual

import (
	"fmt"
	"sync"

	"github.com/leandrodaf/midi2/sdk/contracts"
	"github.com/leandrodaf/midi2/sdk/ump"
)

// Driver is an in-process backend. Endpoints are added and removed
// programmatically; every change is announced to the subscribed sink the
// same way an OS backend would announce hot-plug.
type Driver struct {
	mu          sync.Mutex
	sink        contracts.EventSink
	endpoints   map[contracts.EndpointID]contracts.EndpointInfo
	ports       map[contracts.PortHandle]*port
	open        map[string]contracts.PortHandle
	next        contracts.PortHandle
	unavailable bool
	stopped     bool
}

type port struct {
	endpoint  contracts.EndpointID
	direction contracts.Direction
	sent      []ump.Packet
}

// New creates an empty virtual driver.
func New() *Driver {
	return &Driver{
		endpoints: make(map[contracts.EndpointID]contracts.EndpointInfo),
		ports:     make(map[contracts.PortHandle]*port),
		open:      make(map[string]contracts.PortHandle),
	}
}

func openKey(id contracts.EndpointID, direction contracts.Direction) string {
	return string(id) + "/" + direction.String()
}

// SetUnavailable makes Enumerate fail, simulating an unreachable OS service.
func (d *Driver) SetUnavailable(unavailable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unavailable = unavailable
}

// AddEndpoint registers an endpoint and announces its arrival.
func (d *Driver) AddEndpoint(info contracts.EndpointInfo) {
	d.mu.Lock()
	if info.Transport == contracts.TransportUnknown {
		info.Transport = contracts.TransportVirtual
	}
	d.endpoints[info.ID] = info
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink.HotPlug(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: info})
	}
}

// RemoveEndpoint unregisters an endpoint and announces its departure. Open
// ports on it stay allocated but refuse traffic, like a yanked USB cable.
func (d *Driver) RemoveEndpoint(id contracts.EndpointID) {
	d.mu.Lock()
	info, ok := d.endpoints[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.endpoints, id)
	for handle, p := range d.ports {
		if p.endpoint == id {
			delete(d.ports, handle)
			delete(d.open, openKey(id, p.direction))
		}
	}
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink.HotPlug(contracts.HotPlugEvent{Kind: contracts.HotPlugDeparted, Endpoint: info})
	}
}

// Feed pushes raw MIDI 1.0 bytes through the open input port of an endpoint,
// as if the device had sent them.
func (d *Driver) Feed(id contracts.EndpointID, timestamp uint64, data []byte) error {
	d.mu.Lock()
	handle, ok := d.open[openKey(id, contracts.DirectionInput)]
	sink := d.sink
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no open input on %s", contracts.ErrPortClosed, id)
	}
	if sink != nil {
		sink.Deliver(handle, timestamp, data)
	}
	return nil
}

// FeedWords pushes native packet words through the open input port of an
// endpoint.
func (d *Driver) FeedWords(id contracts.EndpointID, timestamp uint64, words []uint32) error {
	d.mu.Lock()
	handle, ok := d.open[openKey(id, contracts.DirectionInput)]
	sink := d.sink
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no open input on %s", contracts.ErrPortClosed, id)
	}
	if sink != nil {
		sink.DeliverWords(handle, timestamp, words)
	}
	return nil
}

// Sent returns a copy of the packets written to an output port so far.
func (d *Driver) Sent(handle contracts.PortHandle) []ump.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.ports[handle]
	if !ok {
		return nil
	}
	out := make([]ump.Packet, len(p.sent))
	copy(out, p.sent)
	return out
}

// Enumerate implements contracts.Driver.
func (d *Driver) Enumerate() ([]contracts.EndpointInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unavailable {
		return nil, contracts.ErrDriverUnavailable
	}
	out := make([]contracts.EndpointInfo, 0, len(d.endpoints))
	for _, info := range d.endpoints {
		out = append(out, info)
	}
	return out, nil
}

// Open implements contracts.Driver.
func (d *Driver) Open(id contracts.EndpointID, direction contracts.Direction) (contracts.PortHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.endpoints[id]; !ok {
		return 0, fmt.Errorf("%w: %s", contracts.ErrEndpointNotFound, id)
	}
	key := openKey(id, direction)
	if _, ok := d.open[key]; ok {
		return 0, fmt.Errorf("%w: %s %s", contracts.ErrAlreadyOpen, id, direction)
	}
	d.next++
	handle := d.next
	d.ports[handle] = &port{endpoint: id, direction: direction}
	d.open[key] = handle
	return handle, nil
}

// ClosePort implements contracts.Driver.
func (d *Driver) ClosePort(handle contracts.PortHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.ports[handle]
	if !ok {
		return contracts.ErrPortClosed
	}
	delete(d.ports, handle)
	delete(d.open, openKey(p.endpoint, p.direction))
	return nil
}

// Send implements contracts.Driver. The packet is captured for inspection.
func (d *Driver) Send(handle contracts.PortHandle, packet ump.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.ports[handle]
	if !ok {
		return contracts.ErrPortClosed
	}
	if p.direction != contracts.DirectionOutput {
		return fmt.Errorf("%w: send on input port", contracts.ErrTransport)
	}
	p.sent = append(p.sent, packet)
	return nil
}

// Subscribe implements contracts.Driver.
func (d *Driver) Subscribe(sink contracts.EventSink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
	return nil
}

// Stop implements contracts.Driver.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.sink = nil
	d.ports = make(map[contracts.PortHandle]*port)
	d.open = make(map[string]contracts.PortHandle)
	return nil
}
