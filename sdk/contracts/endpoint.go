package contracts

// EndpointID is the stable identifier the OS assigns to a MIDI source or
// destination. It survives disconnect/reconnect cycles of the same device.
type EndpointID string

// Direction tells whether an endpoint produces or consumes MIDI data.
type Direction int

const (
	// DirectionInput identifies an endpoint that sends data to us (a source).
	DirectionInput Direction = iota
	// DirectionOutput identifies an endpoint that receives data from us (a destination).
	DirectionOutput
)

// String returns "input" or "output".
func (d Direction) String() string {
	if d == DirectionInput {
		return "input"
	}
	return "output"
}

// Transport is the physical or logical transport an endpoint is reachable over.
type Transport int

const (
	TransportUnknown Transport = iota
	TransportUSB
	TransportVirtual
	TransportNetwork
)

// String returns the lowercase transport name.
func (t Transport) String() string {
	switch t {
	case TransportUSB:
		return "usb"
	case TransportVirtual:
		return "virtual"
	case TransportNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Protocol is the native protocol capability of an endpoint.
type Protocol int

const (
	// ProtocolMIDI1 marks endpoints that speak legacy MIDI 1.0 byte streams.
	ProtocolMIDI1 Protocol = iota
	// ProtocolMIDI2 marks endpoints that speak Universal MIDI Packets natively.
	ProtocolMIDI2
)

// EndpointInfo describes one OS-visible MIDI endpoint.
type EndpointInfo struct {
	ID        EndpointID // Stable identifier assigned by the OS.
	Name      string     // Human-readable endpoint name.
	Direction Direction  // Input (source) or output (destination).
	Transport Transport  // USB, virtual, network or unknown.
	Protocol  Protocol   // Native protocol capability.
}

// HotPlugKind distinguishes device arrival from departure.
type HotPlugKind int

const (
	// HotPlugArrived is emitted when the OS reports a new endpoint.
	HotPlugArrived HotPlugKind = iota
	// HotPlugDeparted is emitted when the OS reports an endpoint went away.
	HotPlugDeparted
)

// HotPlugEvent is an OS notification of endpoint arrival or departure.
type HotPlugEvent struct {
	Kind     HotPlugKind
	Endpoint EndpointInfo
}
