// Package engine evaluates declarative auto-connection rules against
// registry changes. Policy is opt-in: an endpoint no rule matches is left
// unbound, so unknown devices never send or receive data on their own.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midi2/internal/registry"
	"github.com/leandrodaf/midi2/sdk/contracts"
)

// subscriberName is the engine's registry subscription.
const subscriberName = "rule-engine"

// Opener executes an auto-open action. The runtime supplies it so rule
// evaluation drives the same open path the application uses.
type Opener func(info contracts.EndpointInfo, alias string) error

// Engine applies an ordered rule list to every newly connected endpoint.
type Engine struct {
	log    contracts.Logger
	reg    *registry.Registry
	opener Opener

	mu    sync.Mutex
	rules []contracts.Rule
	bound map[contracts.EndpointID]bool

	failures atomic.Uint64
	changes  <-chan registry.Change
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates an engine subscribed to the registry and starts its
// evaluation loop. Rules must already be compiled.
func New(log contracts.Logger, reg *registry.Registry, opener Opener, rules []contracts.Rule) (*Engine, error) {
	changes, err := reg.Subscribe(subscriberName, 64)
	if err != nil {
		return nil, fmt.Errorf("subscribing rule engine: %w", err)
	}
	e := &Engine{
		log:     log,
		reg:     reg,
		opener:  opener,
		rules:   rules,
		bound:   make(map[contracts.EndpointID]bool),
		changes: changes,
		stopped: make(chan struct{}),
	}
	go e.run()
	return e, nil
}

// Failures returns how many rule actions have failed so far.
func (e *Engine) Failures() uint64 { return e.failures.Load() }

// SetRules replaces the rule list and re-evaluates endpoints that are
// currently connected but unbound. Rules must already be compiled.
func (e *Engine) SetRules(rules []contracts.Rule) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	snap := e.reg.Snapshot()
	for _, ep := range snap.Endpoints {
		if ep.State == registry.StateConnected {
			e.evaluate(ep.Info)
		}
	}
}

// Stop ends the evaluation loop. The registry subscription is released by
// registry shutdown.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

func (e *Engine) run() {
	for {
		select {
		case change, ok := <-e.changes:
			if !ok {
				return
			}
			e.handle(change)
		case <-e.stopped:
			return
		}
	}
}

func (e *Engine) handle(change registry.Change) {
	switch change.Kind {
	case registry.EndpointConnected:
		e.evaluate(change.Endpoint)
	case registry.PortOpened, registry.PortRestored:
		// Application opens count as bindings too, so a later rule pass
		// does not double-open the endpoint.
		e.mu.Lock()
		e.bound[change.Endpoint.ID] = true
		e.mu.Unlock()
	case registry.PortClosedChange:
		if len(change.Snapshot.PortsOn(change.Endpoint.ID)) == 0 {
			e.mu.Lock()
			delete(e.bound, change.Endpoint.ID)
			e.mu.Unlock()
		}
	case registry.EndpointRemoved:
		e.mu.Lock()
		delete(e.bound, change.Endpoint.ID)
		e.mu.Unlock()
	}
}

// evaluate walks the rule list in order; the first match decides. A failed
// action is reported and counted without stopping the engine.
func (e *Engine) evaluate(info contracts.EndpointInfo) {
	e.mu.Lock()
	if e.bound[info.ID] {
		e.mu.Unlock()
		return
	}
	rules := e.rules
	e.mu.Unlock()

	for i := range rules {
		rule := &rules[i]
		if !rule.Matches(info) {
			continue
		}
		switch rule.Action {
		case contracts.ActionIgnore:
			if e.log != nil {
				e.log.Debug("endpoint ignored by rule",
					e.log.Field().String("endpoint", info.Name),
					e.log.Field().Int("rule", i))
			}
		case contracts.ActionAutoOpen:
			if err := e.opener(info, rule.Alias); err != nil {
				e.failures.Add(1)
				wrapped := fmt.Errorf("%w: auto-open %q: %v", contracts.ErrRuleActionFailed, info.Name, err)
				e.reg.ReportRuleFailure(info, wrapped)
				if e.log != nil {
					e.log.Warn("rule action failed",
						e.log.Field().String("endpoint", info.Name),
						e.log.Field().Error("error", err))
				}
				return
			}
			e.mu.Lock()
			e.bound[info.ID] = true
			e.mu.Unlock()
			if e.log != nil {
				e.log.Info("endpoint auto-opened by rule",
					e.log.Field().String("endpoint", info.Name),
					e.log.Field().String("alias", rule.Alias))
			}
		}
		return
	}
}
