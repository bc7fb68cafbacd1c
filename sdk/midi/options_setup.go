package midi

import (
	"github.com/leandrodaf/midi2/internal/logger"
	"github.com/leandrodaf/midi2/sdk/contracts"
	"github.com/leandrodaf/midi2/sdk/ring"
)

// applyDefaultOptions sets default values for RuntimeOptions if not
// explicitly provided.
func applyDefaultOptions(opts ...contracts.Option) (contracts.RuntimeOptions, error) {
	options := &contracts.RuntimeOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.ClientName == "" {
		options.ClientName = "Go MIDI 2.0 Runtime"
	}
	if options.RingCapacity <= 0 {
		options.RingCapacity = ring.DefaultCapacity
	}
	if len(options.Rules) == 0 && options.RuleFile != "" {
		rules, err := contracts.LoadRules(options.RuleFile)
		if err != nil {
			return contracts.RuntimeOptions{}, err
		}
		options.Rules = rules
	} else if err := contracts.CompileRules(options.Rules); err != nil {
		return contracts.RuntimeOptions{}, err
	}

	options.Logger.SetLevel(options.LogLevel)
	return *options, nil
}
