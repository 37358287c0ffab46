// Package vad implements voice-activity segmentation for the mic input
// bridge: an energy gate plus a frame-driven state machine that cuts
// utterances on trailing silence and closes questions after a longer
// silence window.
package vad

import (
	"math/rand"
	"time"

	"github.com/mofa-org/mofa-studio/pkg/audio"
)

// Default tuning, matching the capture pipeline's 10 ms frames at 16 kHz.
const (
	DefaultEnergyThreshold   = 0.01
	DefaultSpeechStartFrames = 3
	DefaultSpeechEndFrames   = 10 // ~100 ms
	DefaultQuestionEndSilence = 1000 * time.Millisecond

	DefaultMinSegment = 300 * time.Millisecond
	DefaultMaxSegment = 10 * time.Second
)

// Config tunes a [Segmenter]. Zero fields take the package defaults.
type Config struct {
	// SampleRate of incoming frames in Hz.
	SampleRate int

	// EnergyThreshold is the RMS level above which a frame counts as voice.
	EnergyThreshold float32

	// SpeechStartFrames is the number of consecutive voiced frames required
	// to open an utterance. Buffered frames are prepended to the segment so
	// the onset is not clipped.
	SpeechStartFrames int

	// SpeechEndFrames is the number of consecutive silent frames that close
	// an utterance.
	SpeechEndFrames int

	// QuestionEndSilence is the additional silence after speech end that
	// closes the question.
	QuestionEndSilence time.Duration

	// MinSegment drops utterances shorter than this (breath noise, clicks).
	MinSegment time.Duration

	// MaxSegment flags over-long utterances; the cut is deferred to the
	// next silent frame, with a hard ceiling at 1.5x.
	MaxSegment time.Duration
}

func (c *Config) applyDefaults() {
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.SpeechStartFrames <= 0 {
		c.SpeechStartFrames = DefaultSpeechStartFrames
	}
	if c.SpeechEndFrames <= 0 {
		c.SpeechEndFrames = DefaultSpeechEndFrames
	}
	if c.QuestionEndSilence <= 0 {
		c.QuestionEndSilence = DefaultQuestionEndSilence
	}
	if c.MinSegment <= 0 {
		c.MinSegment = DefaultMinSegment
	}
	if c.MaxSegment <= 0 {
		c.MaxSegment = DefaultMaxSegment
	}
}

// Result reports what one processed frame (or silent tick) produced. Fields
// are independent: a single frame can end speech and deliver a segment.
type Result struct {
	// SpeechStarted is set on the idle-to-speaking transition.
	SpeechStarted bool

	// SpeechEnded is set when trailing silence closes the utterance.
	SpeechEnded bool

	// Segment holds the utterance samples when one was cut and met the
	// minimum length. Nil otherwise.
	Segment []float32

	// QuestionEnded is set when the silence window closes the question.
	QuestionEnded bool

	// EndedQuestionID is the id of the closed question, valid when
	// QuestionEnded is set.
	EndedQuestionID int
}

// Segmenter is the frame-driven VAD state machine. It is not safe for
// concurrent use; the mic bridge owns it from a single worker goroutine.
type Segmenter struct {
	cfg Config

	speaking      bool
	pending       [][]float32 // voiced frames seen before speech confirmed
	segment       []float32
	silenceFrames int
	maxExceeded   bool

	lastSpeechEnd   time.Time
	questionEndSent bool

	// activeQID tags in-flight speech; nextQID is minted when a question
	// ends and becomes active on the next utterance.
	activeQID int
	nextQID   int

	minSamples  int
	maxSamples  int
	hardCeiling int

	now  func() time.Time
	mint func() int
}

// NewSegmenter creates a segmenter with a freshly minted active question id.
func NewSegmenter(cfg Config) *Segmenter {
	cfg.applyDefaults()
	s := &Segmenter{
		cfg:  cfg,
		now:  time.Now,
		mint: mintQuestionID,
	}
	s.minSamples = int(cfg.MinSegment.Seconds() * float64(cfg.SampleRate))
	s.maxSamples = int(cfg.MaxSegment.Seconds() * float64(cfg.SampleRate))
	s.hardCeiling = s.maxSamples + s.maxSamples/2
	s.activeQID = s.mint()
	return s
}

// mintQuestionID generates a six-digit question id. Question identity is
// numeric at the source and treated as an opaque string downstream.
func mintQuestionID() int {
	return rand.Intn(900000) + 100000
}

// ActiveQuestionID returns the id that tags in-flight speech.
func (s *Segmenter) ActiveQuestionID() int { return s.activeQID }

// IsSpeaking reports whether an utterance is currently open.
func (s *Segmenter) IsSpeaking() bool { return s.speaking }

// Voice applies the energy gate to a frame.
func (s *Segmenter) Voice(frame []float32) bool {
	return audio.RMS(frame) > s.cfg.EnergyThreshold
}

// Tick advances the question-end timer without new audio. The mic bridge
// calls this on polls that produced no frames, so a question still closes
// when the capture goes fully silent.
func (s *Segmenter) Tick() Result {
	var r Result
	s.checkQuestionEnd(&r)
	return r
}

// Process feeds one frame with its voice decision through the state
// machine.
func (s *Segmenter) Process(frame []float32, voice bool) Result {
	var r Result
	s.checkQuestionEnd(&r)

	if voice {
		s.onVoiced(frame, &r)
	} else {
		s.onSilent(frame, &r)
	}
	return r
}

func (s *Segmenter) onVoiced(frame []float32, r *Result) {
	if !s.speaking {
		s.silenceFrames = 0
		s.pending = append(s.pending, frame)
		if len(s.pending) < s.cfg.SpeechStartFrames {
			return
		}
		// Utterance confirmed. Promote the minted next id if a question
		// boundary passed since the last utterance.
		if s.nextQID != 0 {
			s.activeQID = s.nextQID
			s.nextQID = 0
		}
		s.speaking = true
		s.questionEndSent = false
		r.SpeechStarted = true
		s.segment = s.segment[:0]
		for _, f := range s.pending {
			s.segment = append(s.segment, f...)
		}
		s.pending = nil
		return
	}

	s.segment = append(s.segment, frame...)
	s.silenceFrames = 0
	if len(s.segment) >= s.hardCeiling {
		// Hard ceiling: cut even though voice continues.
		r.Segment = append([]float32(nil), s.segment...)
		s.segment = s.segment[:0]
		s.speaking = false
		s.maxExceeded = false
		r.SpeechEnded = true
		s.lastSpeechEnd = s.now()
		s.questionEndSent = false
		return
	}
	if len(s.segment) >= s.maxSamples {
		// Over-long utterance: cut at the next silent frame.
		s.maxExceeded = true
	}
}

func (s *Segmenter) onSilent(frame []float32, r *Result) {
	if !s.speaking {
		s.pending = nil
		return
	}

	s.segment = append(s.segment, frame...)
	s.silenceFrames++

	threshold := s.cfg.SpeechEndFrames
	if s.maxExceeded {
		threshold = 1
	}
	forceCut := len(s.segment) >= s.hardCeiling

	if s.silenceFrames < threshold && !forceCut {
		return
	}

	if len(s.segment) >= s.minSamples {
		out := make([]float32, len(s.segment))
		copy(out, s.segment)
		r.Segment = out
	}
	s.segment = s.segment[:0]
	s.speaking = false
	s.silenceFrames = 0
	s.maxExceeded = false
	s.pending = nil
	r.SpeechEnded = true
	s.lastSpeechEnd = s.now()
	s.questionEndSent = false
}

func (s *Segmenter) checkQuestionEnd(r *Result) {
	if s.speaking || s.questionEndSent || s.lastSpeechEnd.IsZero() {
		return
	}
	if s.now().Sub(s.lastSpeechEnd) < s.cfg.QuestionEndSilence {
		return
	}
	r.QuestionEnded = true
	r.EndedQuestionID = s.activeQID
	s.questionEndSent = true
	s.nextQID = s.mint()
}
