//go:build darwin
// +build darwin

// Package mididarwin implements the driver contract on top of CoreMIDI via
// github.com/youpy/go-coremidi.
package mididarwin

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	coremidi "github.com/youpy/go-coremidi"

	"github.com/leandrodaf/midi2/sdk/contracts"
	"github.com/leandrodaf/midi2/sdk/ump"
)

// hotplugPollInterval paces source/destination list polling.
const hotplugPollInterval = 2 * time.Second

type portConnection interface {
	Disconnect()
}

// openPort is one CoreMIDI binding.
type openPort struct {
	handle    contracts.PortHandle
	endpoint  contracts.EndpointID
	direction contracts.Direction
	conn      portConnection        // input connection, nil for outputs
	dest      *coremidi.Destination // output target, nil for inputs
}

// Driver is the CoreMIDI backend.
type Driver struct {
	logger contracts.Logger
	client coremidi.Client
	out    coremidi.OutputPort

	mu       sync.Mutex
	sink     atomic.Value // contracts.EventSink
	ports    map[contracts.PortHandle]*openPort
	open     map[contracts.EndpointID]contracts.PortHandle
	next     uint64
	known    map[contracts.EndpointID]contracts.EndpointInfo
	quit     chan struct{}
	stopOnce sync.Once
}

// NewDriver creates a CoreMIDI-backed driver.
func NewDriver(options *contracts.RuntimeOptions) (contracts.Driver, error) {
	client, err := coremidi.NewClient(options.ClientName)
	if err != nil {
		return nil, fmt.Errorf("%w: creating CoreMIDI client: %v", contracts.ErrDriverUnavailable, err)
	}
	out, err := coremidi.NewOutputPort(client, options.ClientName+" Out")
	if err != nil {
		return nil, fmt.Errorf("%w: creating output port: %v", contracts.ErrDriverUnavailable, err)
	}
	options.Logger.Info("CoreMIDI driver created",
		options.Logger.Field().String("client", options.ClientName))
	return &Driver{
		logger: options.Logger,
		client: client,
		out:    out,
		ports:  make(map[contracts.PortHandle]*openPort),
		open:   make(map[contracts.EndpointID]contracts.PortHandle),
		known:  make(map[contracts.EndpointID]contracts.EndpointInfo),
		quit:   make(chan struct{}),
	}, nil
}

func sourceID(name string) contracts.EndpointID {
	return contracts.EndpointID("mac:in:" + name)
}

func destinationID(name string) contracts.EndpointID {
	return contracts.EndpointID("mac:out:" + name)
}

// Enumerate implements contracts.Driver.
func (d *Driver) Enumerate() ([]contracts.EndpointInfo, error) {
	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, fmt.Errorf("%w: listing sources: %v", contracts.ErrDriverUnavailable, err)
	}
	destinations, err := coremidi.AllDestinations()
	if err != nil {
		return nil, fmt.Errorf("%w: listing destinations: %v", contracts.ErrDriverUnavailable, err)
	}

	out := make([]contracts.EndpointInfo, 0, len(sources)+len(destinations))
	for _, source := range sources {
		out = append(out, contracts.EndpointInfo{
			ID:        sourceID(source.Name()),
			Name:      source.Name(),
			Direction: contracts.DirectionInput,
			Transport: contracts.TransportUSB,
			Protocol:  contracts.ProtocolMIDI1,
		})
	}
	for _, destination := range destinations {
		out = append(out, contracts.EndpointInfo{
			ID:        destinationID(destination.Name()),
			Name:      destination.Name(),
			Direction: contracts.DirectionOutput,
			Transport: contracts.TransportUSB,
			Protocol:  contracts.ProtocolMIDI1,
		})
	}
	return out, nil
}

func (d *Driver) findSource(id contracts.EndpointID) (coremidi.Source, error) {
	sources, err := coremidi.AllSources()
	if err != nil {
		return coremidi.Source{}, fmt.Errorf("%w: listing sources: %v", contracts.ErrDriverUnavailable, err)
	}
	for _, source := range sources {
		if sourceID(source.Name()) == id {
			return source, nil
		}
	}
	return coremidi.Source{}, fmt.Errorf("%w: %s", contracts.ErrEndpointNotFound, id)
}

func (d *Driver) findDestination(id contracts.EndpointID) (coremidi.Destination, error) {
	destinations, err := coremidi.AllDestinations()
	if err != nil {
		return coremidi.Destination{}, fmt.Errorf("%w: listing destinations: %v", contracts.ErrDriverUnavailable, err)
	}
	for _, destination := range destinations {
		if destinationID(destination.Name()) == id {
			return destination, nil
		}
	}
	return coremidi.Destination{}, fmt.Errorf("%w: %s", contracts.ErrEndpointNotFound, id)
}

// Open implements contracts.Driver.
func (d *Driver) Open(id contracts.EndpointID, direction contracts.Direction) (contracts.PortHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.open[id]; exists {
		return 0, fmt.Errorf("%w: %s", contracts.ErrAlreadyOpen, id)
	}

	d.next++
	port := &openPort{
		handle:    contracts.PortHandle(d.next),
		endpoint:  id,
		direction: direction,
	}

	if direction == contracts.DirectionInput {
		source, err := d.findSource(id)
		if err != nil {
			return 0, err
		}
		handle := port.handle
		inputPort, err := coremidi.NewInputPort(d.client, string(id),
			func(src coremidi.Source, packet coremidi.Packet) {
				sink, _ := d.sink.Load().(contracts.EventSink)
				if sink != nil {
					sink.Deliver(handle, uint64(time.Now().UnixNano()), packet.Data)
				}
			})
		if err != nil {
			return 0, fmt.Errorf("%w: creating input port: %v", contracts.ErrTransport, err)
		}
		conn, err := inputPort.Connect(source)
		if err != nil {
			return 0, fmt.Errorf("%w: connecting source: %v", contracts.ErrTransport, err)
		}
		port.conn = conn
	} else {
		destination, err := d.findDestination(id)
		if err != nil {
			return 0, err
		}
		port.dest = &destination
	}

	d.ports[port.handle] = port
	d.open[id] = port.handle
	d.logger.Info("CoreMIDI port opened",
		d.logger.Field().String("endpoint", string(id)),
		d.logger.Field().Uint64("handle", uint64(port.handle)))
	return port.handle, nil
}

// ClosePort implements contracts.Driver.
func (d *Driver) ClosePort(handle contracts.PortHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked(handle)
}

func (d *Driver) closeLocked(handle contracts.PortHandle) error {
	port, ok := d.ports[handle]
	if !ok {
		return contracts.ErrPortClosed
	}
	delete(d.ports, handle)
	delete(d.open, port.endpoint)
	if port.conn != nil {
		port.conn.Disconnect()
	}
	return nil
}

// Send implements contracts.Driver. The packet narrows to MIDI 1.0 bytes and
// goes out through the shared output port.
func (d *Driver) Send(handle contracts.PortHandle, packet ump.Packet) error {
	d.mu.Lock()
	port, ok := d.ports[handle]
	d.mu.Unlock()
	if !ok {
		return contracts.ErrPortClosed
	}
	if port.direction != contracts.DirectionOutput {
		return fmt.Errorf("%w: send on input port", contracts.ErrTransport)
	}

	bytes, err := ump.EncodeMIDI1(nil, packet)
	if err != nil {
		return err
	}
	out := coremidi.NewPacket(bytes, 0)
	if err := out.Send(&d.out, port.dest); err != nil {
		return fmt.Errorf("%w: sending packet: %v", contracts.ErrTransport, err)
	}
	return nil
}

// Subscribe implements contracts.Driver. It also starts the hot-plug poller.
func (d *Driver) Subscribe(sink contracts.EventSink) error {
	d.sink.Store(sink)
	go d.pollHotPlug()
	return nil
}

// Stop implements contracts.Driver.
func (d *Driver) Stop() error {
	d.stopOnce.Do(func() { close(d.quit) })
	d.mu.Lock()
	defer d.mu.Unlock()
	for handle := range d.ports {
		_ = d.closeLocked(handle)
	}
	d.logger.Info("CoreMIDI driver stopped")
	return nil
}

// pollHotPlug re-enumerates periodically and reports the difference as
// hot-plug events.
func (d *Driver) pollHotPlug() {
	ticker := time.NewTicker(hotplugPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
		}
		current, err := d.Enumerate()
		if err != nil {
			continue
		}
		sink, _ := d.sink.Load().(contracts.EventSink)
		if sink == nil {
			return
		}

		seen := make(map[contracts.EndpointID]contracts.EndpointInfo, len(current))
		for _, info := range current {
			seen[info.ID] = info
		}
		d.mu.Lock()
		previous := d.known
		d.known = seen
		d.mu.Unlock()

		for id, info := range seen {
			if _, ok := previous[id]; !ok {
				sink.HotPlug(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: info})
			}
		}
		for id, info := range previous {
			if _, ok := seen[id]; !ok {
				sink.HotPlug(contracts.HotPlugEvent{Kind: contracts.HotPlugDeparted, Endpoint: info})
			}
		}
	}
}
