package vad

import (
	"testing"
	"time"
)

const (
	testRate      = 16000
	frameSamples  = 160 // 10 ms
	frameDuration = 10 * time.Millisecond
)

// harness drives a segmenter with a manual clock that advances one frame
// duration per processed frame.
type harness struct {
	seg *Segmenter
	now time.Time
}

func newHarness(t *testing.T, minted ...int) *harness {
	t.Helper()
	h := &harness{now: time.Unix(1000, 0)}
	mints := append([]int(nil), minted...)
	s := NewSegmenter(Config{SampleRate: testRate})
	s.now = func() time.Time { return h.now }
	s.mint = func() int {
		if len(mints) == 0 {
			t.Fatal("mint called more times than expected")
		}
		id := mints[0]
		mints = mints[1:]
		return id
	}
	h.seg = s
	return h
}

func (h *harness) frame(voice bool) Result {
	samples := make([]float32, frameSamples)
	if voice {
		for i := range samples {
			samples[i] = 0.5
		}
	}
	h.now = h.now.Add(frameDuration)
	return h.seg.Process(samples, voice)
}

// run feeds n frames and accumulates every event produced.
func (h *harness) run(n int, voice bool) []Result {
	var events []Result
	for i := 0; i < n; i++ {
		r := h.frame(voice)
		if r.SpeechStarted || r.SpeechEnded || r.QuestionEnded || r.Segment != nil {
			events = append(events, r)
		}
	}
	return events
}

func TestVoiceEnergyGate(t *testing.T) {
	t.Parallel()

	s := NewSegmenter(Config{SampleRate: testRate})

	loud := make([]float32, frameSamples)
	for i := range loud {
		loud[i] = 0.2
	}
	if !s.Voice(loud) {
		t.Fatal("want voice for loud frame")
	}
	if s.Voice(make([]float32, frameSamples)) {
		t.Fatal("want silence for zero frame")
	}
}

func TestSegmentationScenario(t *testing.T) {
	t.Parallel()

	// 500 ms silence, 800 ms voice, 120 ms silence, 900 ms voice,
	// 1100 ms silence. The segmenter is seeded so the first utterance is
	// question 111111 and the next question becomes 222222.
	h := newHarness(t, 222222)
	h.seg.activeQID = 111111

	if events := h.run(50, false); len(events) != 0 {
		t.Fatalf("leading silence produced events: %+v", events)
	}

	// First utterance: speech starts on the 3rd voiced frame.
	events := h.run(80, true)
	if len(events) != 1 || !events[0].SpeechStarted {
		t.Fatalf("want one speech_started, got %+v", events)
	}
	if h.seg.ActiveQuestionID() != 111111 {
		t.Fatalf("want question 111111 active, got %d", h.seg.ActiveQuestionID())
	}

	// 120 ms silence: the 100 ms threshold cuts the segment; no
	// question_ended yet.
	events = h.run(12, false)
	if len(events) != 1 {
		t.Fatalf("want one cut event, got %+v", events)
	}
	if !events[0].SpeechEnded || events[0].Segment == nil {
		t.Fatalf("want speech_ended with segment, got %+v", events[0])
	}
	if events[0].QuestionEnded {
		t.Fatal("120 ms silence must not end the question")
	}
	// 80 voiced + 10 trailing silent frames were accumulated.
	if got := len(events[0].Segment); got != 90*frameSamples {
		t.Fatalf("want %d segment samples, got %d", 90*frameSamples, got)
	}

	// Second utterance of the same question.
	events = h.run(90, true)
	if len(events) != 1 || !events[0].SpeechStarted {
		t.Fatalf("want speech_started for second utterance, got %+v", events)
	}
	if h.seg.ActiveQuestionID() != 111111 {
		t.Fatalf("second utterance must reuse question 111111, got %d", h.seg.ActiveQuestionID())
	}

	// 1100 ms silence: cut after 100 ms, question_ended after a further
	// 1000 ms of total silence.
	events = h.run(110, false)
	if len(events) != 2 {
		t.Fatalf("want cut then question_ended, got %+v", events)
	}
	if !events[0].SpeechEnded || events[0].Segment == nil {
		t.Fatalf("want second segment, got %+v", events[0])
	}
	if !events[1].QuestionEnded || events[1].EndedQuestionID != 111111 {
		t.Fatalf("want question_ended(111111), got %+v", events[1])
	}

	// Exactly one question_ended: further silence stays quiet.
	if extra := h.run(200, false); len(extra) != 0 {
		t.Fatalf("question_ended fired again: %+v", extra)
	}

	// The next utterance uses the freshly minted id.
	events = h.run(40, true)
	if len(events) != 1 || !events[0].SpeechStarted {
		t.Fatalf("want third speech_started, got %+v", events)
	}
	if h.seg.ActiveQuestionID() != 222222 {
		t.Fatalf("want minted question 222222, got %d", h.seg.ActiveQuestionID())
	}
}

func TestQuestionEndBoundary(t *testing.T) {
	t.Parallel()

	// Silence one frame short of the window must not fire; the next frame
	// fires exactly once.
	h := newHarness(t, 999999)
	h.run(10, true)
	h.run(10, false) // cuts the segment, starts the silence window

	if events := h.run(99, false); len(events) != 0 {
		t.Fatalf("silence below threshold fired: %+v", events)
	}
	r := h.frame(false)
	if !r.QuestionEnded {
		t.Fatal("reaching the silence threshold must end the question")
	}
}

func TestQuestionEndFiresWithoutFrames(t *testing.T) {
	t.Parallel()

	// A fully silent capture still closes the question via Tick.
	h := newHarness(t, 777777)
	h.run(10, true)
	h.run(10, false)

	h.now = h.now.Add(2 * time.Second)
	r := h.seg.Tick()
	if !r.QuestionEnded {
		t.Fatal("tick must close the question after the silence window")
	}
}

func TestShortBlipBelowMinSegmentIsDropped(t *testing.T) {
	t.Parallel()

	// 100 ms of voice is under the 300 ms minimum: speech ends but no
	// segment is emitted.
	h := newHarness(t, 555555)
	h.run(10, true)
	events := h.run(10, false)
	if len(events) != 1 || !events[0].SpeechEnded {
		t.Fatalf("want speech_ended, got %+v", events)
	}
	if events[0].Segment != nil {
		t.Fatal("segment under the minimum length must be dropped")
	}
}

func TestTwoVoicedFramesDoNotStartSpeech(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.frame(true)
	h.frame(true)
	if h.seg.IsSpeaking() {
		t.Fatal("two voiced frames are below the start threshold")
	}
	// A silent frame clears the pending onset.
	h.frame(false)
	h.frame(true)
	h.frame(true)
	if h.seg.IsSpeaking() {
		t.Fatal("onset buffer must reset on silence")
	}
}

func TestMaxSegmentDeferredCut(t *testing.T) {
	t.Parallel()

	// Exceeding the max segment length arms the cut; the first silent
	// frame then closes the utterance immediately.
	h := newHarness(t, 333333)
	h.seg.minSamples = 5 * frameSamples
	h.seg.maxSamples = 20 * frameSamples
	h.seg.hardCeiling = 30 * frameSamples

	h.run(25, true) // past max, still speaking
	if !h.seg.IsSpeaking() {
		t.Fatal("cut must be deferred while voice continues")
	}
	r := h.frame(false)
	if !r.SpeechEnded || r.Segment == nil {
		t.Fatalf("want immediate cut on first silent frame, got %+v", r)
	}
}
