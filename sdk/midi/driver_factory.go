package midi

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/leandrodaf/midi2/internal/driver/mididarwin"
	"github.com/leandrodaf/midi2/internal/driver/midiwindows"
	"github.com/leandrodaf/midi2/sdk/contracts"
)

// ErrUnsupportedOS is returned when no backend exists for the operating
// system and no driver override was supplied.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// driverInitializers maps OS names to corresponding backend initializers.
var driverInitializers = map[string]func(*contracts.RuntimeOptions) (contracts.Driver, error){
	"darwin":  mididarwin.NewDriver,  // macOS (Darwin) CoreMIDI backend.
	"windows": midiwindows.NewDriver, // Windows winmm backend.
}

// newDriver selects the backend for the current operating system. The
// WithDriver option bypasses this selection entirely.
func newDriver(opts *contracts.RuntimeOptions) (contracts.Driver, error) {
	if opts.Driver != nil {
		return opts.Driver, nil
	}
	if initializer, exists := driverInitializers[runtime.GOOS]; exists {
		return initializer(opts)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, runtime.GOOS)
}
