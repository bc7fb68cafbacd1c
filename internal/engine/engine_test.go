package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandrodaf/midi2/internal/registry"
	"github.com/leandrodaf/midi2/sdk/contracts"
)

type openCall struct {
	info  contracts.EndpointInfo
	alias string
}

// recordingOpener captures auto-open actions and optionally fails them.
type recordingOpener struct {
	mu    sync.Mutex
	calls []openCall
	reg   *registry.Registry
	fail  error
}

func (o *recordingOpener) open(info contracts.EndpointInfo, alias string) error {
	o.mu.Lock()
	o.calls = append(o.calls, openCall{info: info, alias: alias})
	fail := o.fail
	o.mu.Unlock()
	if fail != nil {
		return fail
	}
	_, err := o.reg.OpenPort(info.ID, info.Direction, 1, alias)
	return err
}

func (o *recordingOpener) snapshot() []openCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]openCall(nil), o.calls...)
}

func endpoint(id, name string) contracts.EndpointInfo {
	return contracts.EndpointInfo{
		ID:        contracts.EndpointID(id),
		Name:      name,
		Direction: contracts.DirectionInput,
		Transport: contracts.TransportUSB,
	}
}

func compiled(t *testing.T, rules ...contracts.Rule) []contracts.Rule {
	t.Helper()
	require.NoError(t, contracts.CompileRules(rules))
	return rules
}

func start(t *testing.T, rules []contracts.Rule) (*registry.Registry, *recordingOpener, *Engine) {
	t.Helper()
	reg := registry.New(nil)
	opener := &recordingOpener{reg: reg}
	eng, err := New(nil, reg, opener.open, rules)
	require.NoError(t, err)
	t.Cleanup(func() {
		eng.Stop()
		reg.Stop()
	})
	return reg, opener, eng
}

func TestAutoOpenOnArrival(t *testing.T) {
	reg, opener, _ := start(t, compiled(t, contracts.Rule{
		Match:  contracts.RuleMatch{Name: "Keyboard-.*"},
		Action: contracts.ActionAutoOpen,
		Alias:  "keys",
	}))

	reg.Apply(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: endpoint("usb:0", "Keyboard-1")})

	require.Eventually(t, func() bool {
		_, ok := reg.Snapshot().PortByAlias("keys")
		return ok
	}, time.Second, time.Millisecond)

	calls := opener.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "keys", calls[0].alias)
	assert.Equal(t, "Keyboard-1", calls[0].info.Name)
}

func TestUnmatchedEndpointStaysUnbound(t *testing.T) {
	reg, opener, _ := start(t, compiled(t, contracts.Rule{
		Match:  contracts.RuleMatch{Name: "Keyboard-.*"},
		Action: contracts.ActionAutoOpen,
	}))

	reg.Apply(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: endpoint("usb:0", "Drum Pad")})

	require.Eventually(t, func() bool {
		_, ok := reg.Snapshot().Endpoint("usb:0")
		return ok
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, opener.snapshot())
	assert.Empty(t, reg.Snapshot().Ports)
}

func TestFirstMatchWins(t *testing.T) {
	reg, opener, _ := start(t, compiled(t,
		contracts.Rule{
			Match:  contracts.RuleMatch{Name: "Keyboard-.*"},
			Action: contracts.ActionAutoOpen,
			Alias:  "first",
		},
		contracts.Rule{
			Match:  contracts.RuleMatch{Name: ".*"},
			Action: contracts.ActionAutoOpen,
			Alias:  "second",
		},
	))

	reg.Apply(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: endpoint("usb:0", "Keyboard-1")})

	require.Eventually(t, func() bool {
		return len(opener.snapshot()) == 1
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	calls := opener.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "first", calls[0].alias)
}

func TestIgnoreStopsEvaluation(t *testing.T) {
	reg, opener, _ := start(t, compiled(t,
		contracts.Rule{
			Match:  contracts.RuleMatch{Name: "Keyboard-.*"},
			Action: contracts.ActionIgnore,
		},
		contracts.Rule{
			Match:  contracts.RuleMatch{Name: ".*"},
			Action: contracts.ActionAutoOpen,
		},
	))

	reg.Apply(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: endpoint("usb:0", "Keyboard-1")})

	require.Eventually(t, func() bool {
		_, ok := reg.Snapshot().Endpoint("usb:0")
		return ok
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, opener.snapshot())
}

func TestFailedActionReportedAndCounted(t *testing.T) {
	reg := registry.New(nil)
	defer reg.Stop()
	opener := &recordingOpener{reg: reg, fail: errors.New("device busy")}

	app, err := reg.Subscribe("app", 16)
	require.NoError(t, err)

	eng, err := New(nil, reg, opener.open, compiled(t, contracts.Rule{
		Match:  contracts.RuleMatch{Name: ".*"},
		Action: contracts.ActionAutoOpen,
	}))
	require.NoError(t, err)
	defer eng.Stop()

	reg.Apply(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: endpoint("usb:0", "Keyboard-1")})

	var failure registry.Change
	require.Eventually(t, func() bool {
		select {
		case change := <-app:
			if change.Kind == registry.RuleFailed {
				failure = change
				return true
			}
		default:
		}
		return false
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, failure.Err, contracts.ErrRuleActionFailed)
	assert.Equal(t, uint64(1), eng.Failures())

	// The engine keeps evaluating later arrivals.
	reg.Apply(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: endpoint("usb:1", "Keyboard-2")})
	require.Eventually(t, func() bool {
		return len(opener.snapshot()) == 2
	}, time.Second, time.Millisecond)
}

func TestSetRulesReevaluatesConnected(t *testing.T) {
	reg, opener, eng := start(t, nil)

	reg.Apply(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: endpoint("usb:0", "Keyboard-1")})
	require.Eventually(t, func() bool {
		_, ok := reg.Snapshot().Endpoint("usb:0")
		return ok
	}, time.Second, time.Millisecond)
	require.Empty(t, opener.snapshot())

	eng.SetRules(compiled(t, contracts.Rule{
		Match:  contracts.RuleMatch{Name: "Keyboard-.*"},
		Action: contracts.ActionAutoOpen,
		Alias:  "keys",
	}))

	require.Eventually(t, func() bool {
		_, ok := reg.Snapshot().PortByAlias("keys")
		return ok
	}, time.Second, time.Millisecond)
}

func TestBoundEndpointNotReopened(t *testing.T) {
	reg, opener, eng := start(t, compiled(t, contracts.Rule{
		Match:  contracts.RuleMatch{Name: "Keyboard-.*"},
		Action: contracts.ActionAutoOpen,
		Alias:  "keys",
	}))

	reg.Apply(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: endpoint("usb:0", "Keyboard-1")})
	require.Eventually(t, func() bool {
		return len(opener.snapshot()) == 1
	}, time.Second, time.Millisecond)

	// Re-running the same rules against a bound endpoint is a no-op.
	eng.SetRules(compiled(t, contracts.Rule{
		Match:  contracts.RuleMatch{Name: "Keyboard-.*"},
		Action: contracts.ActionAutoOpen,
		Alias:  "keys",
	}))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, opener.snapshot(), 1)
}
