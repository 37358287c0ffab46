package state

// MicState carries microphone telemetry from the mic/AEC bridge to the UI:
// input level, peak, VAD speaking flag, recording flag, and whether AEC is
// active. Each field is an independent dirty container so the UI repaints
// only the meters that moved.
type MicState struct {
	level      *Dirty[float32]
	peak       *Dirty[float32]
	speaking   *Dirty[bool]
	recording  *Dirty[bool]
	aecEnabled *Dirty[bool]
}

// NewMicState creates a mic state with zero level and AEC enabled.
func NewMicState() *MicState {
	return &MicState{
		level:      NewDirty[float32](0),
		peak:       NewDirty[float32](0),
		speaking:   NewDirty(false),
		recording:  NewDirty(false),
		aecEnabled: NewDirty(true),
	}
}

// SetLevel stores the current input level (0..1, RMS normalized).
func (m *MicState) SetLevel(level float32) { m.level.Set(level) }

// SetPeak stores the current peak level (0..1).
func (m *MicState) SetPeak(peak float32) { m.peak.Set(peak) }

// SetSpeaking stores the VAD speaking flag.
func (m *MicState) SetSpeaking(speaking bool) { m.speaking.Set(speaking) }

// SetRecording stores whether capture is active.
func (m *MicState) SetRecording(recording bool) { m.recording.Set(recording) }

// SetAECEnabled stores whether echo-cancelled capture is in use.
func (m *MicState) SetAECEnabled(enabled bool) { m.aecEnabled.Set(enabled) }

// ReadLevelIfDirty returns the level once per change.
func (m *MicState) ReadLevelIfDirty() (float32, bool) { return m.level.ReadIfDirty() }

// ReadPeakIfDirty returns the peak once per change.
func (m *MicState) ReadPeakIfDirty() (float32, bool) { return m.peak.ReadIfDirty() }

// ReadSpeakingIfDirty returns the speaking flag once per change.
func (m *MicState) ReadSpeakingIfDirty() (bool, bool) { return m.speaking.ReadIfDirty() }

// ReadRecordingIfDirty returns the recording flag once per change.
func (m *MicState) ReadRecordingIfDirty() (bool, bool) { return m.recording.ReadIfDirty() }

// ReadAECEnabledIfDirty returns the AEC flag once per change.
func (m *MicState) ReadAECEnabledIfDirty() (bool, bool) { return m.aecEnabled.ReadIfDirty() }

// Level returns the current level unconditionally.
func (m *MicState) Level() float32 { return m.level.Read() }

// IsSpeaking returns the current speaking flag unconditionally.
func (m *MicState) IsSpeaking() bool { return m.speaking.Read() }

// IsRecording returns the current recording flag unconditionally.
func (m *MicState) IsRecording() bool { return m.recording.Read() }

// IsAECEnabled returns the current AEC flag unconditionally.
func (m *MicState) IsAECEnabled() bool { return m.aecEnabled.Read() }

// Reset returns all fields to their idle values.
func (m *MicState) Reset() {
	m.level.Set(0)
	m.peak.Set(0)
	m.speaking.Set(false)
	m.recording.Set(false)
	m.aecEnabled.Set(true)
}
