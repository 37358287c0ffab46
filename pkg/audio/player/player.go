// Package player implements the real-time audio playback engine: a
// 30-second circular buffer feeding a portaudio output callback, with
// per-segment participant/question tagging, instant force-mute, and smart
// reset for human interrupts.
package player

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/mofa-org/mofa-studio/pkg/audio"
)

const (
	// DefaultBufferSeconds is the circular buffer capacity in seconds.
	DefaultBufferSeconds = 30.0

	// waveformSamples is the size of the output waveform window exposed to
	// the UI for visualization.
	waveformSamples = 512

	// autoPlayFraction: playback starts automatically once at least
	// sampleRate/autoPlayFraction samples (100 ms) are buffered, so short
	// leading chunks don't stutter.
	autoPlayFraction = 10
)

// Option configures a [Player] during construction.
type Option func(*Player)

// WithBufferSeconds overrides the circular buffer capacity.
func WithBufferSeconds(seconds float64) Option {
	return func(p *Player) {
		if seconds > 0 {
			p.bufferSeconds = seconds
		}
	}
}

// WithOutputDevice selects the output device by name. Empty selects the
// host default.
func WithOutputDevice(name string) Option {
	return func(p *Player) {
		p.deviceName = name
	}
}

// Player owns the output stream and the circular buffer. It is constructed
// once at app init and retained across dataflow sessions; Reset clears the
// buffer without destroying the engine.
//
// All exported methods are safe for concurrent use. The output callback runs
// on the audio driver thread: it checks the forceMute and paused atomics
// lock-free and holds the buffer mutex only for the duration of a copy.
type Player struct {
	sampleRate    int
	bufferSeconds float64
	deviceName    string

	mu  sync.Mutex // guards buf; held only for short copies
	buf *audio.CircularBuffer

	// forceMute silences the callback instantly without touching the buffer.
	// Shared with the state hub via ForceMuteFlag for signal_clear.
	forceMute atomic.Bool
	paused    atomic.Bool
	playing   atomic.Bool
	closed    atomic.Bool

	// current participant at the read head, updated by the callback.
	currentParticipant atomic.Pointer[string]

	waveMu sync.Mutex // guards outputWave; callback uses TryLock
	outputWave []float32

	streamMu    sync.Mutex
	stream      *portaudio.Stream
	streamDead  bool // stream failed to open; retried on next Resume
	initialized bool // portaudio.Initialize succeeded
}

// New creates a player for the given sample rate. The output stream is not
// opened until [Player.Start].
func New(sampleRate int, opts ...Option) *Player {
	p := &Player{
		sampleRate:    sampleRate,
		bufferSeconds: DefaultBufferSeconds,
		outputWave:    make([]float32, waveformSamples),
	}
	for _, o := range opts {
		o(p)
	}
	p.buf = audio.NewCircularBuffer(p.bufferSeconds, sampleRate)
	return p
}

// Start opens the portaudio output stream and begins invoking the real-time
// callback. The callback outputs silence until enough audio is buffered.
func (p *Player) Start() error {
	p.streamMu.Lock()
	defer p.streamMu.Unlock()

	if p.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	p.initialized = true

	stream, err := p.openStream()
	if err != nil {
		p.streamDead = true
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		p.streamDead = true
		return err
	}
	p.stream = stream
	p.streamDead = false
	slog.Info("audio playback stream started", "sample_rate", p.sampleRate)
	return nil
}

func (p *Player) openStream() (*portaudio.Stream, error) {
	if p.deviceName != "" {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, err
		}
		for _, dev := range devices {
			if dev.Name == p.deviceName && dev.MaxOutputChannels > 0 {
				params := portaudio.LowLatencyParameters(nil, dev)
				params.Output.Channels = 1
				params.SampleRate = float64(p.sampleRate)
				return portaudio.OpenStream(params, p.fill)
			}
		}
		slog.Warn("output device not found, using default", "device", p.deviceName)
	}
	return portaudio.OpenDefaultStream(0, 1, float64(p.sampleRate), 0, p.fill)
}

// fill is the real-time output callback. Budget is roughly one callback
// frame (~2 ms): no allocation, no syscalls, atomics first, then one short
// buffer copy under the mutex.
func (p *Player) fill(out []float32) {
	if p.forceMute.Load() || p.paused.Load() || !p.playing.Load() {
		for i := range out {
			out[i] = 0
		}
		return
	}

	p.mu.Lock()
	p.buf.Read(out)
	participant, ok := p.buf.CurrentParticipant()
	p.mu.Unlock()

	if ok {
		// Store only on change so steady-state callbacks stay allocation
		// free.
		if cur := p.currentParticipant.Load(); cur == nil || *cur != participant {
			p.currentParticipant.Store(&participant)
		}
	}

	// Best effort: skip the waveform update when the UI holds the lock.
	if p.waveMu.TryLock() {
		n := copy(p.outputWave, out)
		for i := n; i < len(p.outputWave); i++ {
			p.outputWave[i] = 0
		}
		p.waveMu.Unlock()
	}
}

// Write enqueues samples tagged with participant and question id. It never
// blocks beyond the short buffer mutex and silently overwrites the oldest
// samples when the buffer is full. Write on a closed player is a no-op.
func (p *Player) Write(samples []float32, participant, questionID string) {
	if p.closed.Load() || len(samples) == 0 {
		return
	}

	p.mu.Lock()
	p.buf.Write(samples, participant, questionID)
	available := p.buf.Available()
	p.mu.Unlock()

	if available >= p.sampleRate/autoPlayFraction {
		p.playing.Store(true)
	}
}

// BufferFillPercentage returns the buffer fill level in [0, 100].
func (p *Player) BufferFillPercentage() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.FillPercentage()
}

// BufferSeconds returns the buffered playback time in seconds.
func (p *Player) BufferSeconds() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.AvailableSeconds(p.sampleRate)
}

// CurrentParticipant returns the participant whose audio is at the read
// head, as last observed by the output callback.
func (p *Player) CurrentParticipant() (string, bool) {
	if s := p.currentParticipant.Load(); s != nil {
		return *s, true
	}
	return "", false
}

// Waveform returns a copy of the most recent output callback samples.
func (p *Player) Waveform() []float32 {
	p.waveMu.Lock()
	defer p.waveMu.Unlock()
	out := make([]float32, len(p.outputWave))
	copy(out, p.outputWave)
	return out
}

// SampleRate returns the configured output sample rate.
func (p *Player) SampleRate() int { return p.sampleRate }

// IsPlaying reports whether the callback is currently draining the buffer.
func (p *Player) IsPlaying() bool {
	return p.playing.Load() && !p.paused.Load() && !p.forceMute.Load()
}

// Pause makes the callback output silence. The stream keeps running so
// Resume is instant.
func (p *Player) Pause() { p.paused.Store(true) }

// Resume re-enables output. If the output stream failed to open (in Start or
// in an earlier Resume), it is reopened here. Loss of the device under a
// stream that is already running is not detected.
func (p *Player) Resume() {
	p.paused.Store(false)

	p.streamMu.Lock()
	defer p.streamMu.Unlock()
	if !p.streamDead {
		return
	}
	stream, err := p.openStream()
	if err != nil {
		slog.Error("audio stream restart failed", "err", err)
		return
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		slog.Error("audio stream restart failed", "err", err)
		return
	}
	p.stream = stream
	p.streamDead = false
	slog.Info("audio stream restarted")
}

// Reset drops all buffered samples and segments and stops auto-play until
// the next write refills the threshold.
func (p *Player) Reset() {
	p.playing.Store(false)
	p.mu.Lock()
	p.buf.Reset()
	p.mu.Unlock()
	p.currentParticipant.Store(nil)
}

// SmartReset keeps only buffered segments whose question id equals keep and
// discards the rest. The force-mute flag is not touched here — it is cleared
// by the first accepted write of the new question. Returns the number of
// samples discarded.
func (p *Player) SmartReset(keep string) int {
	p.mu.Lock()
	discarded := p.buf.SmartReset(keep)
	empty := p.buf.Available() == 0
	p.mu.Unlock()

	if empty {
		p.playing.Store(false)
	}
	if discarded > 0 {
		slog.Info("smart reset discarded stale audio",
			"question_id", keep, "samples", discarded)
	}
	return discarded
}

// ForceMuteFlag exposes the force-mute atomic for registration with the
// shared state hub, so signal_clear can silence the callback synchronously
// from a worker thread. Ownership stays with the player.
func (p *Player) ForceMuteFlag() *atomic.Bool { return &p.forceMute }

// Close stops and closes the output stream. Subsequent writes are no-ops.
// Close is idempotent.
func (p *Player) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.streamMu.Lock()
	defer p.streamMu.Unlock()
	if p.stream != nil {
		if err := p.stream.Stop(); err != nil {
			slog.Warn("audio stream stop error", "err", err)
		}
		p.stream.Close()
		p.stream = nil
	}
	if !p.initialized {
		return nil
	}
	return portaudio.Terminate()
}
