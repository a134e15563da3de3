package audiocapture

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"go.aimuz.me/termtalk/internal/types"
)

// MalgoDevice captures from a miniaudio input device.
type MalgoDevice struct {
	name string // Substring of the device name, empty for the system default

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewMalgoDevice initializes the miniaudio context. The device itself is
// opened on every Open and released on Close.
func NewMalgoDevice(name string) (*MalgoDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("audiocapture: init audio context: %w: %w", types.ErrDeviceUnavailable, err)
	}
	return &MalgoDevice{name: name, ctx: ctx}, nil
}

// Open starts the capture device with format and streams frames to onData.
func (d *MalgoDevice) Open(format types.AudioFormat, onData func(pcm []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return fmt.Errorf("device already open: %w", types.ErrDeviceUnavailable)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)

	if d.name != "" {
		id, err := d.findDevice(d.name)
		if err != nil {
			return err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onData(input)
		},
	}

	device, err := malgo.InitDevice(d.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w: %w", types.ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start capture device: %w: %w", types.ErrDeviceUnavailable, err)
	}

	d.device = device
	return nil
}

// Close stops the device. No more data callbacks run once it returns.
func (d *MalgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return nil
	}
	err := d.device.Stop()
	d.device.Uninit()
	d.device = nil
	if err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	return nil
}

// Release frees the miniaudio context.
func (d *MalgoDevice) Release() {
	_ = d.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
}

func (d *MalgoDevice) findDevice(name string) (malgo.DeviceID, error) {
	infos, err := d.ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("list capture devices: %w: %w", types.ErrDeviceUnavailable, err)
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("no capture device matching %q: %w", name, types.ErrDeviceUnavailable)
}
