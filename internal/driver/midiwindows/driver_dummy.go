//go:build !windows
// +build !windows

package midiwindows

import (
	"fmt"

	"github.com/leandrodaf/midi2/sdk/contracts"
	"github.com/leandrodaf/midi2/sdk/ump"
)

type dummyDriver struct {
	logger contracts.Logger
}

// NewDriver returns a stub on non-Windows systems.
func NewDriver(options *contracts.RuntimeOptions) (contracts.Driver, error) {
	options.Logger.Info("Using dummy winmm driver on non-Windows system")
	return &dummyDriver{logger: options.Logger}, nil
}

func (d *dummyDriver) unavailable() error {
	return fmt.Errorf("%w: winmm is only available on Windows", contracts.ErrDriverUnavailable)
}

func (d *dummyDriver) Enumerate() ([]contracts.EndpointInfo, error) {
	return nil, d.unavailable()
}

func (d *dummyDriver) Open(contracts.EndpointID, contracts.Direction) (contracts.PortHandle, error) {
	return 0, d.unavailable()
}

func (d *dummyDriver) ClosePort(contracts.PortHandle) error {
	return d.unavailable()
}

func (d *dummyDriver) Send(contracts.PortHandle, ump.Packet) error {
	return d.unavailable()
}

func (d *dummyDriver) Subscribe(contracts.EventSink) error {
	return nil
}

func (d *dummyDriver) Stop() error {
	return nil
}
