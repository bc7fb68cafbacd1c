// Package midi is the entry point of the MIDI 2.0 runtime: it wires the OS
// driver backend, the device registry, the rule engine and the per-port data
// paths into one instance. Several independent runtimes can coexist in one
// process; nothing here is global.
package midi

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/leandrodaf/midi2/internal/engine"
	"github.com/leandrodaf/midi2/internal/registry"
	"github.com/leandrodaf/midi2/sdk/contracts"
	"github.com/leandrodaf/midi2/sdk/filter"
	"github.com/leandrodaf/midi2/sdk/ump"
)

// Error definitions for runtime operations.
var (
	// ErrNotInput is returned when subscribing to an output port.
	ErrNotInput = errors.New("port is not an input")
	// ErrAlreadySubscribed is returned on a second subscription to the same
	// port. The ring has one consumer; fan-out belongs to the application.
	ErrAlreadySubscribed = errors.New("port already has a subscriber")
)

// Counters is a point-in-time read of the runtime's observable counters.
// Real-time paths never raise errors; they land here instead.
type Counters struct {
	// PacketsDropped counts inbound packets rejected by full rings.
	PacketsDropped uint64
	// EventsDropped counts hot-plug events that overflowed the apply queue.
	EventsDropped uint64
	// UnknownMessages counts reserved status bytes and reserved packet types.
	UnknownMessages uint64
	// UnsupportedDowngrades counts sends that had no MIDI 1.0 form.
	UnsupportedDowngrades uint64
	// RuleFailures counts rule actions that could not be executed.
	RuleFailures uint64
	// OrphanData counts data chunks delivered for ports with no data path.
	OrphanData uint64
}

// Runtime owns all state of one MIDI runtime instance.
type Runtime struct {
	log    contracts.Logger
	opts   contracts.RuntimeOptions
	driver contracts.Driver
	reg    *registry.Registry
	engine *engine.Engine

	mu         sync.Mutex
	ports      map[uuid.UUID]*Port
	subscribed map[uuid.UUID]bool
	ingests    atomic.Value // map[contracts.PortHandle]*ingest

	unknownWords atomic.Uint64
	downgrades   atomic.Uint64
	orphanData   atomic.Uint64

	// Counts carried over from closed ports, so totals never go backwards.
	retiredDropped atomic.Uint64
	retiredUnknown atomic.Uint64

	appOnce sync.Once
	appCh   <-chan registry.Change

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRuntime creates a runtime with the specified options, selects the OS
// backend (unless WithDriver overrides it), seeds the registry from the
// driver's current endpoint list and starts rule evaluation.
func NewRuntime(opts ...contracts.Option) (*Runtime, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}

	drv, err := newDriver(&options)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		log:        options.Logger,
		opts:       options,
		driver:     drv,
		reg:        registry.New(options.Logger),
		ports:      make(map[uuid.UUID]*Port),
		subscribed: make(map[uuid.UUID]bool),
	}
	rt.ingests.Store(map[contracts.PortHandle]*ingest{})

	watch, err := rt.reg.Subscribe("runtime", 64)
	if err != nil {
		rt.reg.Stop()
		return nil, err
	}
	rt.wg.Add(1)
	go rt.watch(watch)

	rt.engine, err = engine.New(options.Logger, rt.reg, rt.ruleOpener, options.Rules)
	if err != nil {
		rt.reg.Stop()
		rt.wg.Wait()
		return nil, err
	}

	if err := drv.Subscribe(runtimeSink{rt}); err != nil {
		rt.shutdown()
		return nil, fmt.Errorf("subscribing to driver: %w", err)
	}

	endpoints, err := drv.Enumerate()
	if err != nil {
		rt.shutdown()
		return nil, fmt.Errorf("enumerating endpoints: %w", err)
	}
	for _, info := range endpoints {
		rt.reg.Apply(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: info})
	}

	rt.log.Info("midi runtime started",
		rt.log.Field().String("client", options.ClientName),
		rt.log.Field().Int("endpoints", len(endpoints)),
		rt.log.Field().Int("rules", len(options.Rules)))
	return rt, nil
}

// Endpoints returns the current registry snapshot.
func (r *Runtime) Endpoints() registry.Snapshot {
	return r.reg.Snapshot()
}

// Notifications returns the stream of registry changes and rule failures
// for application consumption. The same channel comes back on every call.
func (r *Runtime) Notifications() <-chan registry.Change {
	r.appOnce.Do(func() {
		ch, err := r.reg.Subscribe("application", 64)
		if err != nil {
			closed := make(chan registry.Change)
			close(closed)
			ch = closed
		}
		r.appCh = ch
	})
	return r.appCh
}

// Counters reads all observable counters.
func (r *Runtime) Counters() Counters {
	c := Counters{
		PacketsDropped:        r.retiredDropped.Load(),
		EventsDropped:         r.reg.DroppedEvents(),
		UnknownMessages:       r.unknownWords.Load() + r.retiredUnknown.Load(),
		UnsupportedDowngrades: r.downgrades.Load(),
		RuleFailures:          r.engine.Failures(),
		OrphanData:            r.orphanData.Load(),
	}
	r.mu.Lock()
	for _, p := range r.ports {
		if p.in != nil {
			c.PacketsDropped += p.in.ring.Dropped()
			c.UnknownMessages += p.in.dec.Unknown()
		}
	}
	r.mu.Unlock()
	return c
}

// SetRules compiles and installs a new ordered rule list, re-evaluating
// endpoints that are connected but unbound.
func (r *Runtime) SetRules(rules []contracts.Rule) error {
	if err := contracts.CompileRules(rules); err != nil {
		return err
	}
	r.engine.SetRules(rules)
	return nil
}

// Open opens a port on an endpoint. The reference is resolved as a
// rule-assigned alias, then as an endpoint identifier, then as an exact
// endpoint name. Opening an alias returns the port the rule engine already
// holds open.
func (r *Runtime) Open(ref string) (*Port, error) {
	snap := r.reg.Snapshot()

	if rec, ok := snap.PortByAlias(ref); ok {
		r.mu.Lock()
		p, ok := r.ports[rec.ID]
		r.mu.Unlock()
		if ok {
			return p, nil
		}
	}

	if e, ok := snap.Endpoint(contracts.EndpointID(ref)); ok {
		return r.openEndpoint(e, "")
	}
	for _, e := range snap.Endpoints {
		if e.Info.Name == ref {
			return r.openEndpoint(e, "")
		}
	}
	return nil, fmt.Errorf("%w: %q", contracts.ErrEndpointNotFound, ref)
}

// ruleOpener is the open path the rule engine drives.
func (r *Runtime) ruleOpener(info contracts.EndpointInfo, alias string) error {
	snap := r.reg.Snapshot()
	e, ok := snap.Endpoint(info.ID)
	if !ok {
		return fmt.Errorf("%w: %s", contracts.ErrEndpointNotFound, info.ID)
	}
	_, err := r.openEndpoint(e, alias)
	return err
}

func (r *Runtime) openEndpoint(e registry.Endpoint, alias string) (*Port, error) {
	if e.State != registry.StateConnected {
		return nil, fmt.Errorf("%w: %s is disconnected", contracts.ErrEndpointNotFound, e.Info.ID)
	}
	handle, err := r.driver.Open(e.Info.ID, e.Info.Direction)
	if err != nil {
		return nil, err
	}

	port := &Port{
		endpoint:  e.Info,
		direction: e.Info.Direction,
		alias:     alias,
	}
	port.setDriverHandle(handle)
	if e.Info.Direction == contracts.DirectionInput {
		port.in = newIngest(r.opts.RingCapacity)
		r.bindIngest(handle, port.in)
	}

	rec, err := r.reg.OpenPort(e.Info.ID, e.Info.Direction, handle, alias)
	if err != nil {
		r.unbindIngest(handle)
		_ = r.driver.ClosePort(handle)
		return nil, err
	}
	port.id = rec.ID

	r.mu.Lock()
	r.ports[port.id] = port
	r.mu.Unlock()
	return port, nil
}

// Close releases a port: the driver binding, the registry record and, for
// inputs, the data path. A draining subscriber sees end-of-stream.
func (r *Runtime) Close(p *Port) error {
	r.mu.Lock()
	_, known := r.ports[p.id]
	delete(r.ports, p.id)
	delete(r.subscribed, p.id)
	r.mu.Unlock()
	if !known {
		return contracts.ErrPortClosed
	}

	handle := p.driverHandle()
	r.unbindIngest(handle)
	if p.in != nil {
		p.in.ring.Close()
		r.retiredDropped.Add(p.in.ring.Dropped())
		r.retiredUnknown.Add(p.in.dec.Unknown())
	}
	driverErr := r.driver.ClosePort(handle)
	if err := r.reg.ClosePort(p.id); err != nil && !errors.Is(err, registry.ErrPortNotFound) {
		return err
	}
	if driverErr != nil && !errors.Is(driverErr, contracts.ErrPortClosed) {
		return driverErr
	}
	return nil
}

// Send writes a packet to an open output port. Sends on a stale port fail
// until the endpoint reconnects; the application decides whether to retry.
func (r *Runtime) Send(p *Port, packet ump.Packet) error {
	rec, ok := r.reg.Snapshot().Ports[p.id]
	if !ok {
		return contracts.ErrPortClosed
	}
	if rec.State == registry.PortStale {
		return fmt.Errorf("%w: endpoint disconnected", contracts.ErrTransport)
	}
	err := r.driver.Send(p.driverHandle(), packet)
	if errors.Is(err, ump.ErrUnsupportedDowngrade) {
		r.downgrades.Add(1)
	}
	return err
}

// Subscribe attaches a filtered callback to an input port. One drain
// goroutine per port runs the pipeline and the callback; it exits when the
// port closes or the runtime stops. Fan-out to several consumers is the
// application's job, on its side of the callback.
func (r *Runtime) Subscribe(p *Port, pipeline filter.Pipeline, callback func(ump.Packet)) error {
	if p.in == nil {
		return ErrNotInput
	}
	r.mu.Lock()
	if _, known := r.ports[p.id]; !known {
		r.mu.Unlock()
		return contracts.ErrPortClosed
	}
	if r.subscribed[p.id] {
		r.mu.Unlock()
		return ErrAlreadySubscribed
	}
	r.subscribed[p.id] = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.drain(p.in, pipeline, callback)
	return nil
}

func (r *Runtime) drain(in *ingest, pipeline filter.Pipeline, callback func(ump.Packet)) {
	defer r.wg.Done()
	deliver := func() {
		for {
			pkt, ok := in.ring.TryPop()
			if !ok {
				return
			}
			if out, keep := pipeline.Apply(pkt); keep {
				callback(out)
			}
		}
	}
	for {
		deliver()
		select {
		case <-in.ring.Wake():
		case <-in.ring.Done():
			deliver()
			return
		}
	}
}

// watch handles the runtime's own registry subscription: rebinding driver
// handles when a disconnected endpoint comes back.
func (r *Runtime) watch(changes <-chan registry.Change) {
	defer r.wg.Done()
	for change := range changes {
		if change.Kind != registry.PortRestored {
			continue
		}
		r.restore(change)
	}
}

// restore re-opens the driver binding of a restored port. The ring and
// decoder survive, so an attached subscriber keeps its stream.
func (r *Runtime) restore(change registry.Change) {
	r.mu.Lock()
	port, ok := r.ports[change.Port.ID]
	r.mu.Unlock()
	if !ok {
		return
	}
	old := port.driverHandle()
	handle, err := r.driver.Open(port.endpoint.ID, port.direction)
	if err != nil {
		r.log.Warn("could not rebind restored port",
			r.log.Field().String("endpoint", string(port.endpoint.ID)),
			r.log.Field().Error("error", err))
		r.reg.ReportRuleFailure(change.Endpoint,
			fmt.Errorf("%w: rebinding %q: %v", contracts.ErrRuleActionFailed, port.endpoint.Name, err))
		return
	}
	port.setDriverHandle(handle)
	if port.in != nil {
		r.rebindIngest(old, handle, port.in)
	}
	r.log.Info("port rebound after reconnect",
		r.log.Field().String("endpoint", string(port.endpoint.ID)),
		r.log.Field().String("alias", port.alias))
}

// Stop shuts the runtime down: the rule engine, the driver, every data path
// and the registry. Subscriber callbacks see end-of-stream and all drain
// goroutines are joined before Stop returns.
func (r *Runtime) Stop() error {
	r.stopOnce.Do(func() { r.shutdown() })
	return nil
}

func (r *Runtime) shutdown() {
	if r.engine != nil {
		r.engine.Stop()
	}
	_ = r.driver.Stop()
	r.mu.Lock()
	for _, p := range r.ports {
		if p.in != nil {
			p.in.ring.Close()
		}
	}
	r.mu.Unlock()
	r.reg.Stop()
	r.wg.Wait()
	r.log.Info("midi runtime stopped")
}

// Ingest map swaps are copy-on-write: the notification thread reads the map
// without locks, so it is never mutated in place.

func (r *Runtime) bindIngest(handle contracts.PortHandle, in *ingest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swapIngests(func(m map[contracts.PortHandle]*ingest) {
		m[handle] = in
	})
}

func (r *Runtime) unbindIngest(handle contracts.PortHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swapIngests(func(m map[contracts.PortHandle]*ingest) {
		delete(m, handle)
	})
}

func (r *Runtime) rebindIngest(old, next contracts.PortHandle, in *ingest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swapIngests(func(m map[contracts.PortHandle]*ingest) {
		delete(m, old)
		m[next] = in
	})
}

// swapIngests must run with r.mu held.
func (r *Runtime) swapIngests(mutate func(map[contracts.PortHandle]*ingest)) {
	current := r.ingests.Load().(map[contracts.PortHandle]*ingest)
	next := make(map[contracts.PortHandle]*ingest, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	mutate(next)
	r.ingests.Store(next)
}
