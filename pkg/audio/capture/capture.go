// Package capture provides microphone input for the mic/AEC bridge. Two
// modes are supported: plain capture from any input device, and AEC capture
// bound to the host platform's echo-cancelling input (a PipeWire/Pulse
// echo-cancel source or a macOS voice-processing device). Only one stream
// is ever open at a time — input devices are exclusive on several
// platforms.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Mode selects the capture path.
type Mode int

const (
	// ModePlain captures from the configured (or default) input device.
	ModePlain Mode = iota
	// ModeAEC captures from the platform's echo-cancelling input device.
	ModeAEC
)

// String returns a short mode name for logs.
func (m Mode) String() string {
	if m == ModeAEC {
		return "aec"
	}
	return "plain"
}

// ErrAECUnavailable is returned by Start when ModeAEC is requested on a
// host without an echo-cancelling capture device.
var ErrAECUnavailable = errors.New("capture: no echo-cancelling input device on this host")

// aecDeviceMarkers identify echo-cancelled inputs by device name across the
// platforms MoFA Studio runs on.
var aecDeviceMarkers = []string{
	"echo-cancel", "echo cancel", "echocancel", "aec", "voice processing",
}

// DefaultSampleRate is the capture rate expected by the ASR nodes.
const DefaultSampleRate = 16000

// Source is the capture abstraction consumed by the mic input bridge. The
// portaudio-backed [Capture] implements it; tests substitute a fake.
type Source interface {
	// Start opens the stream for the given mode, stopping any previous
	// stream first. Returns ErrAECUnavailable when ModeAEC has no device.
	Start(mode Mode) error
	// Stop closes the stream. Safe when not started.
	Stop()
	// Read drains the samples accumulated since the last call. ok is false
	// when nothing is pending or the stream is stopped.
	Read() (samples []float32, ok bool)
	// AECAvailable reports whether ModeAEC can be started on this host.
	AECAvailable() bool
}

// Option configures a [Capture].
type Option func(*Capture)

// WithDevice selects the plain-mode input device by name. Empty selects the
// host default.
func WithDevice(name string) Option {
	return func(c *Capture) { c.deviceName = name }
}

// WithSampleRate overrides the capture sample rate.
func WithSampleRate(rate int) Option {
	return func(c *Capture) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// Capture is the portaudio-backed [Source].
type Capture struct {
	sampleRate int
	deviceName string

	mu      sync.Mutex
	stream  *portaudio.Stream
	pending []float32
	running bool
	mode    Mode
}

var _ Source = (*Capture)(nil)

// New creates a capture at the default 16 kHz rate. portaudio must be
// initialized by the process before Start is called.
func New(opts ...Option) *Capture {
	c := &Capture{sampleRate: DefaultSampleRate}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SampleRate returns the configured capture rate.
func (c *Capture) SampleRate() int { return c.sampleRate }

// AECAvailable reports whether an echo-cancelling input device exists.
func (c *Capture) AECAvailable() bool {
	dev, err := findAECDevice()
	return err == nil && dev != nil
}

// Start opens the input stream for mode. A running stream is stopped first;
// the two modes are never open simultaneously.
func (c *Capture) Start(mode Mode) error {
	c.Stop()

	dev, err := c.pickDevice(mode)
	if err != nil {
		return err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(c.sampleRate)

	stream, err := portaudio.OpenStream(params, c.onInput)
	if err != nil {
		return fmt.Errorf("capture: open %s stream: %w", mode, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("capture: start %s stream: %w", mode, err)
	}

	c.mu.Lock()
	c.stream = stream
	c.running = true
	c.mode = mode
	c.pending = c.pending[:0]
	c.mu.Unlock()

	slog.Info("mic capture started", "mode", mode.String(), "device", dev.Name,
		"sample_rate", c.sampleRate)
	return nil
}

func (c *Capture) pickDevice(mode Mode) (*portaudio.DeviceInfo, error) {
	if mode == ModeAEC {
		dev, err := findAECDevice()
		if err != nil {
			return nil, err
		}
		if dev == nil {
			return nil, ErrAECUnavailable
		}
		return dev, nil
	}
	if c.deviceName != "" {
		dev, err := findInputDevice(c.deviceName)
		if err != nil {
			return nil, err
		}
		if dev != nil {
			return dev, nil
		}
		slog.Warn("input device not found, using default", "device", c.deviceName)
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("capture: no default input device: %w", err)
	}
	return dev, nil
}

// onInput runs on the portaudio input thread: append and return.
func (c *Capture) onInput(in []float32) {
	c.mu.Lock()
	if c.running {
		c.pending = append(c.pending, in...)
	}
	c.mu.Unlock()
}

// Read drains the accumulated samples since the last call.
func (c *Capture) Read() ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || len(c.pending) == 0 {
		return nil, false
	}
	out := make([]float32, len(c.pending))
	copy(out, c.pending)
	c.pending = c.pending[:0]
	return out, true
}

// Stop closes the stream and discards pending samples.
func (c *Capture) Stop() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	wasRunning := c.running
	c.running = false
	c.pending = nil
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			slog.Warn("mic capture stop error", "err", err)
		}
		stream.Close()
	}
	if wasRunning {
		slog.Info("mic capture stopped")
	}
}

// findAECDevice scans input devices for a platform echo-cancelling source.
func findAECDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate devices: %w", err)
	}
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		name := strings.ToLower(dev.Name)
		for _, marker := range aecDeviceMarkers {
			if strings.Contains(name, marker) {
				return dev, nil
			}
		}
	}
	return nil, nil
}

// findInputDevice returns the input device with the exact name, or nil.
func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, nil
}
