package state

// Default sub-state capacities, matching the UI's display limits.
const (
	DefaultMaxChat        = 500
	DefaultMaxAudioChunks = 500
	DefaultMaxLogs        = 1000
)

// Hub is the unified shared state container for all dataflow-to-UI
// communication. The integration worker creates one Hub for its whole
// lifetime and injects it into every bridge and the UI poll loop; between
// dataflow sessions the Hub is cleared with ClearAll, not replaced. Each
// sub-state carries its own lock, so there is no global mutex.
type Hub struct {
	// Chat holds conversation messages with streaming consolidation.
	Chat *ChatState

	// Audio is the bounded FIFO of playback chunks, consumed by the UI.
	Audio *AudioState

	// Logs is the bounded ring of node log entries.
	Logs *DirtyList[LogEntry]

	// Mic carries microphone telemetry from the mic/AEC bridge.
	Mic *MicState

	// Status tracks the dataflow lifecycle and connected bridges.
	Status *StatusState
}

// NewHub creates a hub with the default capacities.
func NewHub() *Hub {
	return NewHubWithCapacities(DefaultMaxChat, DefaultMaxAudioChunks, DefaultMaxLogs)
}

// NewHubWithCapacities creates a hub with custom sub-state limits.
func NewHubWithCapacities(maxChat, maxAudioChunks, maxLogs int) *Hub {
	return &Hub{
		Chat:   NewChatState(maxChat),
		Audio:  NewAudioState(maxAudioChunks),
		Logs:   NewDirtyList[LogEntry](maxLogs),
		Mic:    NewMicState(),
		Status: NewStatusState(),
	}
}

// ClearAll resets every sub-state. Called when the dataflow stops.
func (h *Hub) ClearAll() {
	h.Chat.Clear()
	h.Audio.Clear()
	h.Logs.Clear()
	h.Mic.Reset()
	h.Status.Reset()
}
