//go:build !darwin
// +build !darwin

package mididarwin

import (
	"fmt"

	"github.com/leandrodaf/midi2/sdk/contracts"
	"github.com/leandrodaf/midi2/sdk/ump"
)

type dummyDriver struct {
	logger contracts.Logger
}

// NewDriver returns a stub on non-macOS systems.
func NewDriver(options *contracts.RuntimeOptions) (contracts.Driver, error) {
	options.Logger.Info("Using dummy CoreMIDI driver on non-macOS system")
	return &dummyDriver{logger: options.Logger}, nil
}

func (d *dummyDriver) unavailable() error {
	return fmt.Errorf("%w: CoreMIDI is only available on macOS", contracts.ErrDriverUnavailable)
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
