package state

import "slices"

// Phase is the dataflow connection phase shown in the status bar.
type Phase string

const (
	PhaseStopped  Phase = "stopped"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseError    Phase = "error"
)

// Status is the dataflow-running snapshot published to the UI.
type Status struct {
	// Running reports whether the external dataflow is up.
	Running bool
	// Phase is the current lifecycle phase.
	Phase Phase
	// ActiveBridges lists the connected dynamic-node bridges.
	ActiveBridges []string
	// LastError holds the most recent user-visible error, empty when none.
	LastError string
}

// StatusState wraps the dataflow status in a dirty container with helpers
// for the common mutations issued by the dispatcher and bridges.
type StatusState struct {
	status *Dirty[Status]
}

// NewStatusState creates a stopped status.
func NewStatusState() *StatusState {
	return &StatusState{status: NewDirty(Status{Phase: PhaseStopped})}
}

// ReadIfDirty returns the status once per change.
func (s *StatusState) ReadIfDirty() (Status, bool) { return s.status.ReadIfDirty() }

// Read returns the status unconditionally.
func (s *StatusState) Read() Status { return s.status.Read() }

// SetPhase updates the lifecycle phase and the derived running flag.
func (s *StatusState) SetPhase(phase Phase) {
	st := s.status.Read()
	st.Phase = phase
	st.Running = phase == PhaseRunning
	if phase != PhaseError {
		st.LastError = ""
	}
	s.status.Set(st)
}

// SetError records a user-visible error and flips the phase to error.
func (s *StatusState) SetError(message string) {
	st := s.status.Read()
	st.Phase = PhaseError
	st.Running = false
	st.LastError = message
	s.status.Set(st)
}

// AddBridge records a connected bridge node id.
func (s *StatusState) AddBridge(nodeID string) {
	st := s.status.Read()
	if !slices.Contains(st.ActiveBridges, nodeID) {
		st.ActiveBridges = append(slices.Clone(st.ActiveBridges), nodeID)
		s.status.Set(st)
	}
}

// RemoveBridge removes a bridge node id.
func (s *StatusState) RemoveBridge(nodeID string) {
	st := s.status.Read()
	bridges := slices.DeleteFunc(slices.Clone(st.ActiveBridges), func(b string) bool {
		return b == nodeID
	})
	if len(bridges) != len(st.ActiveBridges) {
		st.ActiveBridges = bridges
		s.status.Set(st)
	}
}

// Reset returns the status to stopped.
func (s *StatusState) Reset() {
	s.status.Set(Status{Phase: PhaseStopped})
}
