//go:build windows
// +build windows

// Package midiwindows implements the driver contract on top of winmm.dll.
package midiwindows

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/leandrodaf/midi2/sdk/contracts"
	"github.com/leandrodaf/midi2/sdk/ump"
)

// Constants for callback flags.
const (
	callbackFunction = 0x00030000
	midiIOStatus     = 0x00000020
)

// Constants for MIDI input callback message types.
const (
	mimOpen      = 0x3C1
	mimClose     = 0x3C2
	mimData      = 0x3C3
	mimError     = 0x3C5
	mimLongError = 0x3C6
	mimMoreData  = 0x3CC
)

// hotplugPollInterval paces device list polling. winmm has no hot-plug
// notifications, so arrivals and departures are detected by re-enumeration.
const hotplugPollInterval = 2 * time.Second

// midiInCaps mirrors MIDIINCAPSW.
type midiInCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	dwSupport      uint32
}

// midiOutCaps mirrors MIDIOUTCAPSW.
type midiOutCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	wTechnology    uint16
	wVoices        uint16
	wNotes         uint16
	wChannelMask   uint16
	dwSupport      uint32
}

// Load the winmm.dll library and required functions.
var (
	winmm                 = windows.NewLazySystemDLL("winmm.dll")
	procMidiInGetNumDevs  = winmm.NewProc("midiInGetNumDevs")
	procMidiInGetDevCaps  = winmm.NewProc("midiInGetDevCapsW")
	procMidiInOpen        = winmm.NewProc("midiInOpen")
	procMidiInStart       = winmm.NewProc("midiInStart")
	procMidiInStop        = winmm.NewProc("midiInStop")
	procMidiInClose       = winmm.NewProc("midiInClose")
	procMidiOutGetNumDevs = winmm.NewProc("midiOutGetNumDevs")
	procMidiOutGetDevCaps = winmm.NewProc("midiOutGetDevCapsW")
	procMidiOutOpen       = winmm.NewProc("midiOutOpen")
	procMidiOutShortMsg   = winmm.NewProc("midiOutShortMsg")
	procMidiOutClose      = winmm.NewProc("midiOutClose")
)

// openPort is one winmm in/out binding. The input callback reads only the
// fields set before midiInStart, so no lock is needed on the data path.
type openPort struct {
	driver    *Driver
	handle    contracts.PortHandle
	direction contracts.Direction
	deviceID  uint32
	hmidi     uintptr
	scratch   [3]byte
}

// Driver is the winmm backend.
type Driver struct {
	logger contracts.Logger

	mu       sync.Mutex
	sink     atomic.Value // contracts.EventSink
	ports    map[contracts.PortHandle]*openPort
	open     map[contracts.EndpointID]contracts.PortHandle
	next     uint64
	known    map[contracts.EndpointID]contracts.EndpointInfo
	callback uintptr
	quit     chan struct{}
	stopOnce sync.Once
}

// NewDriver creates a winmm-backed driver.
func NewDriver(options *contracts.RuntimeOptions) (contracts.Driver, error) {
	d := &Driver{
		logger: options.Logger,
		ports:  make(map[contracts.PortHandle]*openPort),
		open:   make(map[contracts.EndpointID]contracts.PortHandle),
		known:  make(map[contracts.EndpointID]contracts.EndpointInfo),
		quit:   make(chan struct{}),
	}
	d.callback = windows.NewCallback(midiInCallback)
	options.Logger.Info("winmm MIDI driver created")
	return d, nil
}

func inputID(device uint32) contracts.EndpointID {
	return contracts.EndpointID(fmt.Sprintf("win:in:%d", device))
}

func outputID(device uint32) contracts.EndpointID {
	return contracts.EndpointID(fmt.Sprintf("win:out:%d", device))
}

// Enumerate implements contracts.Driver.
func (d *Driver) Enumerate() ([]contracts.EndpointInfo, error) {
	var out []contracts.EndpointInfo

	numIn, _, _ := procMidiInGetNumDevs.Call()
	for i := uint32(0); i < uint32(numIn); i++ {
		var caps midiInCaps
		r, _, _ := procMidiInGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
		if r != 0 {
			continue
		}
		out = append(out, contracts.EndpointInfo{
			ID:        inputID(i),
			Name:      windows.UTF16ToString(caps.szPname[:]),
			Direction: contracts.DirectionInput,
			Transport: contracts.TransportUSB,
			Protocol:  contracts.ProtocolMIDI1,
		})
	}

	numOut, _, _ := procMidiOutGetNumDevs.Call()
	for i := uint32(0); i < uint32(numOut); i++ {
		var caps midiOutCaps
		r, _, _ := procMidiOutGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
		if r != 0 {
			continue
		}
		out = append(out, contracts.EndpointInfo{
			ID:        outputID(i),
			Name:      windows.UTF16ToString(caps.szPname[:]),
			Direction: contracts.DirectionOutput,
			Transport: contracts.TransportUSB,
			Protocol:  contracts.ProtocolMIDI1,
		})
	}
	return out, nil
}

func deviceIndex(id contracts.EndpointID) (uint32, contracts.Direction, bool) {
	var idx uint32
	if n, err := fmt.Sscanf(string(id), "win:in:%d", &idx); err == nil && n == 1 {
		return idx, contracts.DirectionInput, true
	}
	if n, err := fmt.Sscanf(string(id), "win:out:%d", &idx); err == nil && n == 1 {
		return idx, contracts.DirectionOutput, true
	}
	return 0, 0, false
}

// Open implements contracts.Driver.
func (d *Driver) Open(id contracts.EndpointID, direction contracts.Direction) (contracts.PortHandle, error) {
	device, dir, ok := deviceIndex(id)
	if !ok || dir != direction {
		return 0, fmt.Errorf("%w: %s", contracts.ErrEndpointNotFound, id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.open[id]; exists {
		return 0, fmt.Errorf("%w: %s", contracts.ErrAlreadyOpen, id)
	}

	d.next++
	port := &openPort{
		driver:    d,
		handle:    contracts.PortHandle(d.next),
		direction: direction,
		deviceID:  device,
	}

	if direction == contracts.DirectionInput {
		r, _, callErr := procMidiInOpen.Call(
			uintptr(unsafe.Pointer(&port.hmidi)),
			uintptr(device),
			d.callback,
			uintptr(unsafe.Pointer(port)),
			uintptr(callbackFunction|midiIOStatus),
		)
		if r != 0 {
			return 0, fmt.Errorf("%w: midiInOpen device %d: %v", contracts.ErrTransport, device, callErr)
		}
		if r, _, callErr := procMidiInStart.Call(port.hmidi); r != 0 {
			procMidiInClose.Call(port.hmidi)
			return 0, fmt.Errorf("%w: midiInStart device %d: %v", contracts.ErrTransport, device, callErr)
		}
	} else {
		r, _, callErr := procMidiOutOpen.Call(
			uintptr(unsafe.Pointer(&port.hmidi)),
			uintptr(device),
			0, 0, 0,
		)
		if r != 0 {
			return 0, fmt.Errorf("%w: midiOutOpen device %d: %v", contracts.ErrTransport, device, callErr)
		}
	}

	d.ports[port.handle] = port
	d.open[id] = port.handle
	d.logger.Info("winmm port opened",
		d.logger.Field().String("endpoint", string(id)),
		d.logger.Field().Uint64("handle", uint64(port.handle)))
	return port.handle, nil
}

// ClosePort implements contracts.Driver.
func (d *Driver) ClosePort(handle contracts.PortHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked(handle)
}

func (d *Driver) closeLocked(handle contracts.PortHandle) error {
	port, ok := d.ports[handle]
	if !ok {
		return contracts.ErrPortClosed
	}
	delete(d.ports, handle)
	if port.direction == contracts.DirectionInput {
		delete(d.open, inputID(port.deviceID))
		procMidiInStop.Call(port.hmidi)
		procMidiInClose.Call(port.hmidi)
	} else {
		delete(d.open, outputID(port.deviceID))
		procMidiOutClose.Call(port.hmidi)
	}
	return nil
}

// Send implements contracts.Driver. The packet narrows to MIDI 1.0 bytes and
// goes out as one short message; messages longer than three bytes (system
// exclusive) are not supported by this backend.
func (d *Driver) Send(handle contracts.PortHandle, packet ump.Packet) error {
	d.mu.Lock()
	port, ok := d.ports[handle]
	d.mu.Unlock()
	if !ok {
		return contracts.ErrPortClosed
	}
	if port.direction != contracts.DirectionOutput {
		return fmt.Errorf("%w: send on input port", contracts.ErrTransport)
	}

	bytes, err := ump.EncodeMIDI1(nil, packet)
	if err != nil {
		return err
	}
	if len(bytes) > 3 {
		return fmt.Errorf("%w: message longer than a short message", contracts.ErrTransport)
	}
	var msg uintptr
	for i := len(bytes) - 1; i >= 0; i-- {
		msg = msg<<8 | uintptr(bytes[i])
	}
	if r, _, callErr := procMidiOutShortMsg.Call(port.hmidi, msg); r != 0 {
		return fmt.Errorf("%w: midiOutShortMsg: %v", contracts.ErrTransport, callErr)
	}
	return nil
}

// Subscribe implements contracts.Driver. It also starts the hot-plug poller.
func (d *Driver) Subscribe(sink contracts.EventSink) error {
	d.sink.Store(sink)
	go d.pollHotPlug()
	return nil
}

// Stop implements contracts.Driver.
func (d *Driver) Stop() error {
	d.stopOnce.Do(func() { close(d.quit) })
	d.mu.Lock()
	defer d.mu.Unlock()
	for handle := range d.ports {
		_ = d.closeLocked(handle)
	}
	d.logger.Info("winmm MIDI driver stopped")
	return nil
}

// pollHotPlug re-enumerates periodically and reports the difference as
// hot-plug events.
func (d *Driver) pollHotPlug() {
	ticker := time.NewTicker(hotplugPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
		}
		current, err := d.Enumerate()
		if err != nil {
			continue
		}
		sink, _ := d.sink.Load().(contracts.EventSink)
		if sink == nil {
			return
		}

		seen := make(map[contracts.EndpointID]contracts.EndpointInfo, len(current))
		for _, info := range current {
			seen[info.ID] = info
		}
		d.mu.Lock()
		previous := d.known
		d.known = seen
		d.mu.Unlock()

		for id, info := range seen {
			if _, ok := previous[id]; !ok {
				sink.HotPlug(contracts.HotPlugEvent{Kind: contracts.HotPlugArrived, Endpoint: info})
			}
		}
		for id, info := range previous {
			if _, ok := seen[id]; !ok {
				sink.HotPlug(contracts.HotPlugEvent{Kind: contracts.HotPlugDeparted, Endpoint: info})
			}
		}
	}
}

// midiInCallback processes incoming MIDI input messages. It runs on the
// winmm callback thread: data is copied into the port's scratch buffer and
// handed to the sink, nothing else.
func midiInCallback(hMidiIn uintptr, wMsg uintptr, dwInstance uintptr, dwParam1 uintptr, dwParam2 uintptr) uintptr {
	port := (*openPort)(unsafe.Pointer(dwInstance))

	switch wMsg {
	case mimData:
		sink, _ := port.driver.sink.Load().(contracts.EventSink)
		if sink == nil {
			return 0
		}
		status := byte(dwParam1 & 0xff)
		port.scratch[0] = status
		port.scratch[1] = byte((dwParam1 >> 8) & 0xff)
		port.scratch[2] = byte((dwParam1 >> 16) & 0xff)
		n := shortMessageLen(status)
		sink.Deliver(port.handle, uint64(dwParam2), port.scratch[:n])
	case mimOpen, mimClose, mimMoreData, mimError, mimLongError:
		// Status callbacks and long-message errors carry no stream data.
	}
	return 0
}

// shortMessageLen returns the byte count of a short message by status.
func shortMessageLen(status byte) int {
	switch status & 0xf0 {
	case 0xc0, 0xd0:
		return 2
	case 0xf0:
		switch status {
		case 0xf1, 0xf3:
			return 2
		case 0xf2:
			return 3
		default:
			return 1
		}
	default:
		return 3
	}
}
