package state

import (
	"sync"
	"sync/atomic"

	"github.com/mofa-org/mofa-studio/pkg/audio"
)

// AudioState is a bounded FIFO of incoming audio chunks with
// producer-consumer semantics: the audio player bridge pushes from its
// worker thread, the UI poll drains into the playback engine. Unlike the
// other sub-states, chunks are consumed rather than re-read.
//
// For the human-interrupt fast path, the playback engine's force-mute
// atomic can be registered here; [AudioState.SignalClear] then silences the
// output callback synchronously, ahead of any UI polling.
type AudioState struct {
	mu        sync.Mutex
	chunks    []audio.Chunk
	maxChunks int

	// clearPending/clearKeep are the polled companion to the force-mute
	// fast path: the UI drains them on its next tick and applies either a
	// smart reset (keep the named question) or a full reset.
	clearMu      sync.Mutex
	clearPending bool
	clearKeep    string

	flagMu    sync.RWMutex
	forceMute *atomic.Bool // owned by the playback engine; borrowed here
}

// NewAudioState creates a FIFO holding at most maxChunks pending chunks.
func NewAudioState(maxChunks int) *AudioState {
	return &AudioState{maxChunks: maxChunks}
}

// RegisterForceMute borrows the playback engine's force-mute flag so
// SignalClear can silence output instantly. Ownership of the atomic stays
// with the engine.
func (a *AudioState) RegisterForceMute(flag *atomic.Bool) {
	a.flagMu.Lock()
	a.forceMute = flag
	a.flagMu.Unlock()
}

// Push appends a chunk, dropping the oldest when the FIFO is full. Returns
// the number of chunks dropped (0 or 1) so the caller can log the overflow.
// Push never blocks on a slow consumer.
func (a *AudioState) Push(chunk audio.Chunk) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chunks = append(a.chunks, chunk)
	dropped := 0
	for len(a.chunks) > a.maxChunks {
		a.chunks = a.chunks[1:]
		dropped++
	}
	return dropped
}

// Drain removes and returns all pending chunks.
func (a *AudioState) Drain() []audio.Chunk {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.chunks
	a.chunks = nil
	return out
}

// DrainN removes and returns up to n pending chunks.
func (a *AudioState) DrainN(n int) []audio.Chunk {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > len(a.chunks) {
		n = len(a.chunks)
	}
	out := make([]audio.Chunk, n)
	copy(out, a.chunks[:n])
	a.chunks = a.chunks[n:]
	return out
}

// Len returns the pending chunk count.
func (a *AudioState) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.chunks)
}

// Clear drops all pending chunks.
func (a *AudioState) Clear() {
	a.mu.Lock()
	a.chunks = nil
	a.mu.Unlock()
}

// SignalClear handles a human interrupt with no surviving question: the
// whole playback buffer is stale.
func (a *AudioState) SignalClear() {
	a.SignalClearFor("")
}

// SignalClearFor handles a human interrupt from a worker thread. It sets
// the registered force-mute flag first (the output callback observes it on
// its next iteration, worst case one callback frame), records the question
// id whose buffered audio should survive the reset, and drops all pending
// chunks. An empty keepQuestionID discards everything.
func (a *AudioState) SignalClearFor(keepQuestionID string) {
	a.flagMu.RLock()
	flag := a.forceMute
	a.flagMu.RUnlock()
	if flag != nil {
		flag.Store(true)
	}
	a.clearMu.Lock()
	a.clearPending = true
	a.clearKeep = keepQuestionID
	a.clearMu.Unlock()
	a.Clear()
}

// ClearForceMute lifts the force-mute set by SignalClear. Called by the
// audio player bridge when the first chunk of the new question is accepted.
func (a *AudioState) ClearForceMute() {
	a.flagMu.RLock()
	flag := a.forceMute
	a.flagMu.RUnlock()
	if flag != nil {
		flag.Store(false)
	}
}

// TakeClearSignal returns the pending clear request exactly once. keep
// names the question whose buffered audio survives ("" means none); the
// caller applies it to the playback engine as a smart or full reset.
func (a *AudioState) TakeClearSignal() (keep string, ok bool) {
	a.clearMu.Lock()
	defer a.clearMu.Unlock()
	if !a.clearPending {
		return "", false
	}
	a.clearPending = false
	keep = a.clearKeep
	a.clearKeep = ""
	return keep, true
}
