package audio

// Segment records which participant and question own a contiguous run of
// samples inside the circular buffer. Segments form a FIFO that is drained in
// lockstep with the read position.
type Segment struct {
	Participant string
	QuestionID  string
	Remaining   int
}

// CircularBuffer is a fixed-capacity ring of mono float32 samples with
// per-segment participant/question tracking. Writes overwrite the oldest
// samples when full; reads zero-pad when empty.
//
// The buffer is not internally synchronized. The playback engine wraps it in
// a short mutex so the real-time output callback holds the lock only for the
// duration of a copy.
type CircularBuffer struct {
	buf       []float32
	writePos  int
	readPos   int
	available int

	segments []Segment
	// current is the participant attached to the last consumed segment,
	// observable by the UI as "who is playing right now".
	current   string
	currentOK bool
}

// NewCircularBuffer creates a buffer holding seconds worth of samples at the
// given sample rate.
func NewCircularBuffer(seconds float64, sampleRate int) *CircularBuffer {
	size := int(seconds * float64(sampleRate))
	if size < 1 {
		size = 1
	}
	return &CircularBuffer{buf: make([]float32, size)}
}

// Capacity returns the total sample capacity.
func (b *CircularBuffer) Capacity() int { return len(b.buf) }

// Available returns the number of buffered samples awaiting playback.
func (b *CircularBuffer) Available() int { return b.available }

// FillPercentage returns the buffer fill level in [0, 100].
func (b *CircularBuffer) FillPercentage() float64 {
	return float64(b.available) / float64(len(b.buf)) * 100.0
}

// AvailableSeconds returns the buffered playback time at the given rate.
func (b *CircularBuffer) AvailableSeconds(sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(b.available) / float64(sampleRate)
}

// Write appends samples tagged with the given participant and question. When
// the buffer is full the oldest samples are overwritten and the read position
// advances past them, draining the oldest segments proportionally. Returns
// the number of samples written (always len(samples)).
func (b *CircularBuffer) Write(samples []float32, participant, questionID string) int {
	size := len(b.buf)
	for _, s := range samples {
		if b.available < size {
			b.buf[b.writePos] = s
			b.writePos = (b.writePos + 1) % size
			b.available++
		} else {
			// Full: overwrite the oldest sample and consume it from the
			// head segment so the segment FIFO stays in sync.
			b.buf[b.writePos] = s
			b.writePos = (b.writePos + 1) % size
			b.readPos = (b.readPos + 1) % size
			b.consumeHead(1)
		}
	}

	if len(samples) > 0 {
		// A write larger than the capacity keeps only its last size samples.
		added := len(samples)
		if added > size {
			added = size
		}
		// Merge into the tail segment when the ownership matches.
		if n := len(b.segments); n > 0 &&
			b.segments[n-1].Participant == participant &&
			b.segments[n-1].QuestionID == questionID {
			b.segments[n-1].Remaining += added
		} else {
			b.segments = append(b.segments, Segment{
				Participant: participant,
				QuestionID:  questionID,
				Remaining:   added,
			})
		}
	}
	return len(samples)
}

// Read copies up to len(out) samples into out, zero-padding the tail when
// fewer are available. Returns the number of real samples copied.
func (b *CircularBuffer) Read(out []float32) int {
	size := len(b.buf)
	n := len(out)
	if n > b.available {
		n = b.available
	}
	for i := 0; i < n; i++ {
		out[i] = b.buf[b.readPos]
		b.readPos = (b.readPos + 1) % size
	}
	b.available -= n
	b.consumeHead(n)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	return n
}

// consumeHead drains n samples from the front of the segment FIFO, popping
// exhausted segments and updating the current participant.
func (b *CircularBuffer) consumeHead(n int) {
	for n > 0 && len(b.segments) > 0 {
		head := &b.segments[0]
		b.current = head.Participant
		b.currentOK = true
		if head.Remaining > n {
			head.Remaining -= n
			return
		}
		n -= head.Remaining
		b.segments = b.segments[1:]
	}
}

// CurrentParticipant returns the participant whose audio sits at the read
// head (or was consumed last when the buffer just drained). ok is false
// before any audio has been written or after a reset.
func (b *CircularBuffer) CurrentParticipant() (string, bool) {
	if len(b.segments) > 0 {
		return b.segments[0].Participant, true
	}
	return b.current, b.currentOK
}

// Segments returns a copy of the segment FIFO. Intended for testing and
// debugging.
func (b *CircularBuffer) Segments() []Segment {
	out := make([]Segment, len(b.segments))
	copy(out, b.segments)
	return out
}

// Reset drops all samples and segments.
func (b *CircularBuffer) Reset() {
	b.writePos = 0
	b.readPos = 0
	b.available = 0
	b.segments = nil
	b.current = ""
	b.currentOK = false
}

// SmartReset discards every segment whose question id differs from keep,
// advancing past the discarded samples. Segments without a question id are
// treated as foreign, because the caller is always acting on a known-active
// question. Surviving segments keep their relative order. Returns the number
// of samples discarded. Idempotent: a second call with the same id is a
// no-op.
//
// Discarded segments are not necessarily contiguous at the head, so the
// survivors are compacted to the front of a fresh ring. SmartReset never
// runs on the real-time path — the caller has already force-muted output.
func (b *CircularBuffer) SmartReset(keep string) int {
	size := len(b.buf)
	fresh := make([]float32, size)
	kept := b.segments[:0:0]
	pos := b.readPos
	out := 0
	discarded := 0

	for _, seg := range b.segments {
		if seg.QuestionID != "" && seg.QuestionID == keep {
			for i := 0; i < seg.Remaining; i++ {
				fresh[out] = b.buf[(pos+i)%size]
				out++
			}
			if n := len(kept); n > 0 &&
				kept[n-1].Participant == seg.Participant &&
				kept[n-1].QuestionID == seg.QuestionID {
				kept[n-1].Remaining += seg.Remaining
			} else {
				kept = append(kept, seg)
			}
		} else {
			discarded += seg.Remaining
		}
		pos = (pos + seg.Remaining) % size
	}

	if discarded == 0 {
		return 0
	}

	b.buf = fresh
	b.readPos = 0
	b.writePos = out % size
	b.available = out
	b.segments = kept
	if len(kept) == 0 {
		b.current = ""
		b.currentOK = false
	}
	return discarded
}

// Waveform returns the most recent n samples leading up to the read head,
// zero-padded when fewer are buffered. Used by the UI for visualization.
func (b *CircularBuffer) Waveform(n int) []float32 {
	out := make([]float32, n)
	if b.available == 0 {
		return out
	}
	size := len(b.buf)
	start := b.readPos
	if b.available >= n {
		start = (b.readPos + size - n) % size
	}
	count := n
	if count > b.available {
		count = b.available
	}
	for i := 0; i < count; i++ {
		out[i] = b.buf[(start+i)%size]
	}
	return out
}
