package contracts

// RuntimeOptions defines the configuration options for a runtime instance.
type RuntimeOptions struct {
	Logger       Logger // Logger for runtime events and errors.
	LogLevel     LogLevel
	ClientName   string // Name reported to the OS MIDI service.
	Driver       Driver // Backend override; defaults to the OS backend for GOOS.
	Rules        []Rule // Ordered auto-connection rules.
	RuleFile     string // YAML rule file, loaded when Rules is empty.
	RingCapacity int    // Slot count per input ring; rounded up to a power of two.
}

// Option is a function that modifies RuntimeOptions.
type Option func(*RuntimeOptions)

// WithLogger sets the logger for the runtime.
func WithLogger(l Logger) Option {
	return func(opts *RuntimeOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level for the runtime.
func WithLogLevel(level LogLevel) Option {
	return func(opts *RuntimeOptions) {
		opts.LogLevel = level
	}
}

// WithClientName sets the client name announced to the OS MIDI service.
func WithClientName(name string) Option {
	return func(opts *RuntimeOptions) {
		opts.ClientName = name
	}
}

// WithDriver overrides the OS backend selection with an explicit driver.
func WithDriver(d Driver) Option {
	return func(opts *RuntimeOptions) {
		opts.Driver = d
	}
}

// WithRules sets the ordered auto-connection rule list.
func WithRules(rules ...Rule) Option {
	return func(opts *RuntimeOptions) {
		opts.Rules = rules
	}
}

// WithRuleFile loads the auto-connection rules from a YAML file at startup.
func WithRuleFile(path string) Option {
	return func(opts *RuntimeOptions) {
		opts.RuleFile = path
	}
}

// WithRingCapacity sets the slot count of each input ring.
func WithRingCapacity(capacity int) Option {
	return func(opts *RuntimeOptions) {
		opts.RingCapacity = capacity
	}
}
