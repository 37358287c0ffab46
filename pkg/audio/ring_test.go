package audio

import "testing"

// segmentSum returns the sum of Remaining across all segments.
func segmentSum(b *CircularBuffer) int {
	total := 0
	for _, s := range b.Segments() {
		total += s.Remaining
	}
	return total
}

func ramp(n int, base float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = base + float32(i)*0.0001
	}
	return out
}

func TestCircularBufferRoundTrip(t *testing.T) {
	t.Parallel()

	b := NewCircularBuffer(1.0, 1000)
	in := ramp(400, 0.1)
	b.Write(in, "tutor", "100")

	out := make([]float32, 400)
	n := b.Read(out)
	if n != 400 {
		t.Fatalf("want 400 samples read, got %d", n)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: want %v, got %v", i, in[i], out[i])
		}
	}
	if b.Available() != 0 {
		t.Fatalf("want empty buffer, got %d available", b.Available())
	}
}

func TestCircularBufferSegmentAccounting(t *testing.T) {
	t.Parallel()

	b := NewCircularBuffer(1.0, 1000)
	b.Write(ramp(300, 0.1), "student1", "1")
	b.Write(ramp(200, 0.2), "student1", "1") // merges with tail
	b.Write(ramp(100, 0.3), "tutor", "2")

	if got := len(b.Segments()); got != 2 {
		t.Fatalf("want 2 segments after merge, got %d", got)
	}
	if b.Available() != segmentSum(b) {
		t.Fatalf("available %d != segment sum %d", b.Available(), segmentSum(b))
	}

	// Partial read decrements the head segment.
	out := make([]float32, 450)
	b.Read(out)
	if b.Available() != segmentSum(b) {
		t.Fatalf("after read: available %d != segment sum %d", b.Available(), segmentSum(b))
	}
	segs := b.Segments()
	if len(segs) != 2 || segs[0].Remaining != 50 {
		t.Fatalf("want head segment with 50 remaining, got %+v", segs)
	}
}

func TestCircularBufferCurrentParticipant(t *testing.T) {
	t.Parallel()

	b := NewCircularBuffer(1.0, 1000)
	b.Write(ramp(100, 0.1), "student1", "1")
	b.Write(ramp(100, 0.2), "tutor", "2")

	out := make([]float32, 50)
	b.Read(out)
	if p, ok := b.CurrentParticipant(); !ok || p != "student1" {
		t.Fatalf("want student1 at read head, got %q ok=%v", p, ok)
	}

	b.Read(make([]float32, 100))
	if p, ok := b.CurrentParticipant(); !ok || p != "tutor" {
		t.Fatalf("want tutor after head pop, got %q ok=%v", p, ok)
	}
}

func TestCircularBufferUnderrunZeroPads(t *testing.T) {
	t.Parallel()

	b := NewCircularBuffer(1.0, 1000)
	b.Write([]float32{0.5, 0.5}, "tutor", "1")

	out := make([]float32, 8)
	for i := range out {
		out[i] = 9 // sentinel
	}
	n := b.Read(out)
	if n != 2 {
		t.Fatalf("want 2 real samples, got %d", n)
	}
	for i := 2; i < 8; i++ {
		if out[i] != 0 {
			t.Fatalf("tail sample %d not zero-padded: %v", i, out[i])
		}
	}
}

func TestCircularBufferOverflow(t *testing.T) {
	t.Parallel()

	// Capacity 1000. Write 1200 samples across two questions: the oldest
	// 200 are discarded and the head segment shrinks proportionally.
	b := NewCircularBuffer(1.0, 1000)
	b.Write(ramp(600, 0.1), "student1", "1")
	b.Write(ramp(600, 0.2), "tutor", "2")

	if b.Available() != b.Capacity() {
		t.Fatalf("want available==capacity, got %d/%d", b.Available(), b.Capacity())
	}
	if b.Available() != segmentSum(b) {
		t.Fatalf("available %d != segment sum %d", b.Available(), segmentSum(b))
	}
	segs := b.Segments()
	if len(segs) != 2 || segs[0].Remaining != 400 || segs[1].Remaining != 600 {
		t.Fatalf("want [400 600] remaining, got %+v", segs)
	}

	// Fill percentage stays pinned at 100 under further overflow.
	b.Write(ramp(500, 0.3), "tutor", "2")
	if got := b.FillPercentage(); got != 100 {
		t.Fatalf("want 100%% fill, got %v", got)
	}
	if b.Available() != segmentSum(b) {
		t.Fatalf("after second overflow: available %d != segment sum %d", b.Available(), segmentSum(b))
	}
}

func TestCircularBufferOverflowPrunesWholeSegments(t *testing.T) {
	t.Parallel()

	// A write that overflows by at least an older segment's length discards
	// that segment entirely; the surviving head participant is whoever owns
	// the new read position.
	b := NewCircularBuffer(1.0, 1000)
	b.Write(ramp(100, 0.1), "student1", "1")
	b.Write(ramp(1000, 0.2), "tutor", "2")

	if b.Available() != b.Capacity() {
		t.Fatalf("want full buffer, got %d", b.Available())
	}
	segs := b.Segments()
	if len(segs) != 1 || segs[0].Participant != "tutor" || segs[0].Remaining != 1000 {
		t.Fatalf("want single tutor segment of 1000, got %+v", segs)
	}
}

func TestSmartResetKeepsOnlyMatchingQuestion(t *testing.T) {
	t.Parallel()

	b := NewCircularBuffer(1.0, 1000)
	b.Write(ramp(300, 0.1), "student1", "100")
	b.Write(ramp(200, 0.2), "tutor", "200")
	b.Write(ramp(100, 0.3), "student2", "100")

	discarded := b.SmartReset("200")
	if discarded != 400 {
		t.Fatalf("want 400 discarded, got %d", discarded)
	}
	if b.Available() != 200 {
		t.Fatalf("want 200 available, got %d", b.Available())
	}
	segs := b.Segments()
	if len(segs) != 1 || segs[0].QuestionID != "200" || segs[0].Participant != "tutor" {
		t.Fatalf("want surviving tutor/200 segment, got %+v", segs)
	}

	// Survivor samples are intact.
	out := make([]float32, 200)
	b.Read(out)
	want := ramp(200, 0.2)
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("survivor sample %d: want %v, got %v", i, want[i], out[i])
		}
	}
}

func TestSmartResetIdempotent(t *testing.T) {
	t.Parallel()

	b := NewCircularBuffer(1.0, 1000)
	b.Write(ramp(300, 0.1), "student1", "100")
	b.Write(ramp(200, 0.2), "tutor", "200")

	first := b.SmartReset("200")
	second := b.SmartReset("200")
	if first != 300 || second != 0 {
		t.Fatalf("want 300 then 0 discarded, got %d then %d", first, second)
	}
	if b.Available() != 200 || segmentSum(b) != 200 {
		t.Fatalf("want 200 available after double reset, got %d (segments %d)",
			b.Available(), segmentSum(b))
	}
}

func TestSmartResetDiscardsUntaggedSegments(t *testing.T) {
	t.Parallel()

	b := NewCircularBuffer(1.0, 1000)
	b.Write(ramp(100, 0.1), "tutor", "")
	b.Write(ramp(100, 0.2), "tutor", "300")

	if got := b.SmartReset("300"); got != 100 {
		t.Fatalf("want untagged segment discarded (100), got %d", got)
	}
}

func TestResetDropsEverything(t *testing.T) {
	t.Parallel()

	b := NewCircularBuffer(1.0, 1000)
	b.Write(ramp(500, 0.1), "tutor", "1")
	b.Read(make([]float32, 100))
	b.Reset()

	if b.Available() != 0 || len(b.Segments()) != 0 {
		t.Fatalf("want empty after reset, got %d available, %d segments",
			b.Available(), len(b.Segments()))
	}
	if _, ok := b.CurrentParticipant(); ok {
		t.Fatal("want no current participant after reset")
	}
}

func TestWaveformWindow(t *testing.T) {
	t.Parallel()

	b := NewCircularBuffer(1.0, 1000)
	b.Write(ramp(64, 0.1), "tutor", "1")

	wave := b.Waveform(32)
	if len(wave) != 32 {
		t.Fatalf("want 32 waveform samples, got %d", len(wave))
	}

	empty := NewCircularBuffer(1.0, 1000)
	wave = empty.Waveform(16)
	for i, s := range wave {
		if s != 0 {
			t.Fatalf("empty buffer waveform sample %d not zero: %v", i, s)
		}
	}
}
