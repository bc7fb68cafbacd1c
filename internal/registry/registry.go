// Package registry keeps the authoritative record of endpoints and ports.
// Hot-plug events and port operations funnel through one apply goroutine, so
// every mutation observes a consistent state; readers get immutable snapshots
// swapped atomically and never wait on the writer.
package registry

import (
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/leandrodaf/midi2/sdk/contracts"
)

// Error definitions for registry operations.
var (
	ErrPortNotFound   = errors.New("port not found")
	ErrRegistryClosed = errors.New("registry closed")
	ErrSubscriberName = errors.New("subscriber name already in use")
)

// eventBuffer bounds the hot-plug queue between the notification thread and
// the apply loop. Overflow is counted, never blocked on.
const eventBuffer = 256

// EndpointState is the lifecycle state of an endpoint record.
type EndpointState int

const (
	// StateDiscovered is the creation state, before the first connect is announced.
	StateDiscovered EndpointState = iota
	// StateConnected means the OS currently exposes the endpoint.
	StateConnected
	// StateDisconnected means the endpoint departed while ports still reference it.
	StateDisconnected
	// StateRemoved is terminal: the endpoint departed and nothing references it.
	StateRemoved
)

// PortState is the lifecycle state of a port record.
type PortState int

const (
	// PortOpen is a live binding to a connected endpoint.
	PortOpen PortState = iota
	// PortStale marks a port whose endpoint disconnected. The binding is kept
	// so the application can retry or release; it is never force-closed.
	PortStale
	// PortClosed is terminal.
	PortClosed
)

// Endpoint is one endpoint record as seen in a snapshot.
type Endpoint struct {
	Info  contracts.EndpointInfo
	State EndpointState
}

// Port is one port record as seen in a snapshot. ID is stable across
// disconnect/reconnect cycles of the underlying endpoint, which is what lets
// an alias keep referring to the same logical port.
type Port struct {
	ID        uuid.UUID
	Endpoint  contracts.EndpointID
	Direction contracts.Direction
	Handle    contracts.PortHandle
	Alias     string
	State     PortState
}

// Snapshot is a point-in-time view of the registry. It is immutable; a new
// snapshot replaces it wholesale after every applied event.
type Snapshot struct {
	Endpoints map[contracts.EndpointID]Endpoint
	Ports     map[uuid.UUID]Port
}

// Endpoint looks up an endpoint record by ID.
func (s Snapshot) Endpoint(id contracts.EndpointID) (Endpoint, bool) {
	e, ok := s.Endpoints[id]
	return e, ok
}

// PortByAlias looks up a port record by its rule-assigned alias.
func (s Snapshot) PortByAlias(alias string) (Port, bool) {
	for _, p := range s.Ports {
		if p.Alias == alias && p.State != PortClosed {
			return p, true
		}
	}
	return Port{}, false
}

// PortsOn returns the non-closed ports bound to an endpoint.
func (s Snapshot) PortsOn(id contracts.EndpointID) []Port {
	var out []Port
	for _, p := range s.Ports {
		if p.Endpoint == id && p.State != PortClosed {
			out = append(out, p)
		}
	}
	return out
}

// ChangeKind discriminates registry change notifications.
type ChangeKind int

const (
	EndpointConnected ChangeKind = iota
	EndpointDisconnected
	EndpointRemoved
	PortOpened
	PortStaleChange
	PortRestored
	PortClosedChange
	RuleFailed
)

// Change is one registry change notification. Subscribers receive changes in
// apply order; Snapshot is the state right after the change took effect.
type Change struct {
	Kind     ChangeKind
	Endpoint contracts.EndpointInfo
	Port     Port
	Err      error
	Snapshot Snapshot
}

type command struct {
	hotplug   contracts.HotPlugEvent
	isHotplug bool
	fn        func() // port operations and subscriptions, run on the apply loop
	done      chan struct{}
}

type subscriber struct {
	ch      chan Change
	dropped atomic.Uint64
}

// Registry owns all endpoint and port records for one runtime instance.
type Registry struct {
	log contracts.Logger

	commands chan command
	snapshot atomic.Value // Snapshot

	endpoints map[contracts.EndpointID]*Endpoint
	ports     map[uuid.UUID]*Port
	subs      map[string]*subscriber

	droppedEvents atomic.Uint64
	closed        atomic.Bool
	quit          chan struct{}
	stopped       chan struct{}
}

// New creates a registry and starts its apply loop.
func New(log contracts.Logger) *Registry {
	r := &Registry{
		log:       log,
		commands:  make(chan command, eventBuffer),
		endpoints: make(map[contracts.EndpointID]*Endpoint),
		ports:     make(map[uuid.UUID]*Port),
		subs:      make(map[string]*subscriber),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	r.snapshot.Store(Snapshot{
		Endpoints: map[contracts.EndpointID]Endpoint{},
		Ports:     map[uuid.UUID]Port{},
	})
	go r.run()
	return r
}

// Snapshot returns the current immutable view. It never blocks the writer.
func (r *Registry) Snapshot() Snapshot {
	return r.snapshot.Load().(Snapshot)
}

// DroppedEvents returns how many hot-plug events overflowed the apply queue.
func (r *Registry) DroppedEvents() uint64 { return r.droppedEvents.Load() }

// Apply enqueues a hot-plug event for serialized processing. It never
// blocks: called from the driver notification thread, it degrades to a
// counter when the queue is full.
func (r *Registry) Apply(event contracts.HotPlugEvent) {
	if r.closed.Load() {
		return
	}
	select {
	case r.commands <- command{hotplug: event, isHotplug: true}:
	default:
		r.droppedEvents.Add(1)
	}
}

// exec runs fn on the apply loop and waits for it. Port operations use this
// so they serialize with hot-plug processing.
func (r *Registry) exec(fn func()) error {
	if r.closed.Load() {
		return ErrRegistryClosed
	}
	done := make(chan struct{})
	select {
	case r.commands <- command{fn: fn, done: done}:
	case <-r.quit:
		return ErrRegistryClosed
	}
	select {
	case <-done:
		return nil
	case <-r.stopped:
		return ErrRegistryClosed
	}
}

// OpenPort records a new open binding and announces it.
func (r *Registry) OpenPort(endpoint contracts.EndpointID, direction contracts.Direction, handle contracts.PortHandle, alias string) (Port, error) {
	var port Port
	err := r.exec(func() {
		p := &Port{
			ID:        uuid.New(),
			Endpoint:  endpoint,
			Direction: direction,
			Handle:    handle,
			Alias:     alias,
			State:     PortOpen,
		}
		r.ports[p.ID] = p
		port = *p
		info := r.endpointInfo(endpoint)
		r.publish(Change{Kind: PortOpened, Endpoint: info, Port: *p})
	})
	return port, err
}

// ClosePort retires a port. When it was the last reference to a
// disconnected endpoint, the endpoint becomes Removed and is dropped.
func (r *Registry) ClosePort(id uuid.UUID) error {
	var opErr error
	err := r.exec(func() {
		p, ok := r.ports[id]
		if !ok || p.State == PortClosed {
			opErr = ErrPortNotFound
			return
		}
		p.State = PortClosed
		delete(r.ports, id)
		info := r.endpointInfo(p.Endpoint)
		r.publish(Change{Kind: PortClosedChange, Endpoint: info, Port: *p})
		r.collectEndpoint(p.Endpoint)
	})
	if err != nil {
		return err
	}
	return opErr
}

// ReportRuleFailure publishes a rule action failure through the same channel
// as registry changes.
func (r *Registry) ReportRuleFailure(info contracts.EndpointInfo, err error) {
	_ = r.exec(func() {
		r.publish(Change{Kind: RuleFailed, Endpoint: info, Err: err})
	})
}

// Subscribe registers a named change subscriber with its own buffer.
// Notifications that would overrun the buffer are counted and dropped rather
// than blocking the apply loop.
func (r *Registry) Subscribe(name string, buffer int) (<-chan Change, error) {
	var ch chan Change
	var opErr error
	err := r.exec(func() {
		if _, exists := r.subs[name]; exists {
			opErr = ErrSubscriberName
			return
		}
		ch = make(chan Change, buffer)
		r.subs[name] = &subscriber{ch: ch}
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return ch, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (r *Registry) Unsubscribe(name string) error {
	var opErr error
	err := r.exec(func() {
		sub, ok := r.subs[name]
		if !ok {
			opErr = ErrPortNotFound
			return
		}
		delete(r.subs, name)
		close(sub.ch)
	})
	if err != nil {
		return err
	}
	return opErr
}

// SubscriberDropped returns the drop counter of one subscriber.
func (r *Registry) SubscriberDropped(name string) uint64 {
	var n uint64
	_ = r.exec(func() {
		if sub, ok := r.subs[name]; ok {
			n = sub.dropped.Load()
		}
	})
	return n
}

// Stop shuts the apply loop down and closes every subscriber channel.
func (r *Registry) Stop() {
	if r.closed.CompareAndSwap(false, true) {
		close(r.quit)
		<-r.stopped
	}
}

func (r *Registry) run() {
	defer close(r.stopped)
	for {
		select {
		case cmd := <-r.commands:
			r.handle(cmd)
		case <-r.quit:
			// Drain what was already queued, then release subscribers.
			for {
				select {
				case cmd := <-r.commands:
					r.handle(cmd)
				default:
					for name, sub := range r.subs {
						delete(r.subs, name)
						close(sub.ch)
					}
					return
				}
			}
		}
	}
}

func (r *Registry) handle(cmd command) {
	switch {
	case cmd.isHotplug:
		r.applyHotPlug(cmd.hotplug)
	case cmd.fn != nil:
		cmd.fn()
		close(cmd.done)
	}
}

func (r *Registry) applyHotPlug(event contracts.HotPlugEvent) {
	switch event.Kind {
	case contracts.HotPlugArrived:
		r.applyArrived(event.Endpoint)
	case contracts.HotPlugDeparted:
		r.applyDeparted(event.Endpoint)
	}
}

func (r *Registry) applyArrived(info contracts.EndpointInfo) {
	e, known := r.endpoints[info.ID]
	if !known {
		e = &Endpoint{Info: info, State: StateDiscovered}
		r.endpoints[info.ID] = e
	}
	if e.State == StateConnected {
		return
	}
	reconnect := e.State == StateDisconnected
	e.Info = info
	e.State = StateConnected
	r.publish(Change{Kind: EndpointConnected, Endpoint: info})
	if !reconnect {
		return
	}
	// Stale ports on a reappearing endpoint come back under the same
	// identity, so alias references keep working without re-subscription.
	for _, p := range r.ports {
		if p.Endpoint == info.ID && p.State == PortStale {
			p.State = PortOpen
			r.publish(Change{Kind: PortRestored, Endpoint: info, Port: *p})
		}
	}
}

func (r *Registry) applyDeparted(info contracts.EndpointInfo) {
	e, known := r.endpoints[info.ID]
	if !known || e.State == StateDisconnected {
		return
	}
	e.State = StateDisconnected
	for _, p := range r.ports {
		if p.Endpoint == info.ID && p.State == PortOpen {
			p.State = PortStale
			r.publish(Change{Kind: PortStaleChange, Endpoint: e.Info, Port: *p})
		}
	}
	r.publish(Change{Kind: EndpointDisconnected, Endpoint: e.Info})
	r.collectEndpoint(info.ID)
}

// collectEndpoint removes a disconnected endpoint once no port references it.
func (r *Registry) collectEndpoint(id contracts.EndpointID) {
	e, ok := r.endpoints[id]
	if !ok || e.State != StateDisconnected {
		return
	}
	for _, p := range r.ports {
		if p.Endpoint == id {
			return
		}
	}
	e.State = StateRemoved
	delete(r.endpoints, id)
	r.publish(Change{Kind: EndpointRemoved, Endpoint: e.Info})
}

func (r *Registry) endpointInfo(id contracts.EndpointID) contracts.EndpointInfo {
	if e, ok := r.endpoints[id]; ok {
		return e.Info
	}
	return contracts.EndpointInfo{ID: id}
}

// publish rebuilds the snapshot and fans the change out to subscribers.
func (r *Registry) publish(change Change) {
	snap := Snapshot{
		Endpoints: make(map[contracts.EndpointID]Endpoint, len(r.endpoints)),
		Ports:     make(map[uuid.UUID]Port, len(r.ports)),
	}
	for id, e := range r.endpoints {
		snap.Endpoints[id] = *e
	}
	for id, p := range r.ports {
		snap.Ports[id] = *p
	}
	r.snapshot.Store(snap)
	change.Snapshot = snap

	for name, sub := range r.subs {
		select {
		case sub.ch <- change:
		default:
			sub.dropped.Add(1)
			if r.log != nil {
				r.log.Warn("registry subscriber lagging; change dropped",
					r.log.Field().String("subscriber", name))
			}
		}
	}
}
