package contracts

import (
	"errors"

	"github.com/leandrodaf/midi2/sdk/ump"
)

// Error definitions for driver and port operations.
var (
	// ErrDriverUnavailable indicates the OS MIDI service could not be reached.
	// It is fatal to the backend instance that returns it.
	ErrDriverUnavailable = errors.New("midi driver unavailable")
	// ErrEndpointNotFound indicates the endpoint vanished between enumeration and open.
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrAlreadyOpen indicates the endpoint already has an open port.
	ErrAlreadyOpen = errors.New("endpoint already open")
	// ErrPortClosed indicates an operation on a closed or stale port.
	ErrPortClosed = errors.New("port closed")
	// ErrTransport indicates the OS transport rejected or lost a send.
	ErrTransport = errors.New("transport error")
)

// PortHandle identifies one open binding inside a driver backend.
type PortHandle uint64

// EventSink receives notifications from a driver backend.
//
// All methods are invoked on the OS notification thread. That context is
// real-time sensitive: implementations must not block, allocate, log, or
// acquire a lock a non-real-time thread might hold for an unbounded duration.
type EventSink interface {
	// HotPlug reports endpoint arrival or departure.
	HotPlug(event HotPlugEvent)
	// Deliver hands over a raw MIDI 1.0 byte chunk read from an open input port.
	Deliver(port PortHandle, timestamp uint64, data []byte)
	// DeliverWords hands over native Universal MIDI Packet words from an
	// open input port on a MIDI 2.0 capable endpoint.
	DeliverWords(port PortHandle, timestamp uint64, words []uint32)
}

// Driver is the capability set every OS backend must implement. One variant
// exists per OS; the runtime selects it at construction and never inspects
// the concrete type afterwards.
type Driver interface {
	// Enumerate returns a snapshot of the endpoints currently visible to the OS.
	Enumerate() ([]EndpointInfo, error)
	// Open binds the endpoint in the given direction and returns a handle.
	Open(id EndpointID, direction Direction) (PortHandle, error)
	// ClosePort releases an open binding. Closing twice returns ErrPortClosed.
	ClosePort(port PortHandle) error
	// Send encodes the packet to the OS-native form and writes it to an open
	// output port. Safe to call from any non-real-time thread; may block
	// briefly on the OS transport.
	Send(port PortHandle, packet ump.Packet) error
	// Subscribe registers the sink for hot-plug and data notifications.
	// A driver supports exactly one sink at a time.
	Subscribe(sink EventSink) error
	// Stop releases all ports and OS resources. The sink receives no
	// notifications after Stop returns.
	Stop() error
}
