// Package config provides the persisted user preferences and log-level
// schema for MoFA Studio.
package config

// LogLevel controls process log verbosity.
type LogLevel string

const (
	LogTrace LogLevel = "trace"
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogTrace, LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Preferences is the persisted user configuration. Stored as JSON in the
// user config directory; missing fields take defaults so older files keep
// loading.
type Preferences struct {
	// Providers lists the configured AI providers for the settings UI.
	Providers []Provider `json:"providers"`

	// DarkMode selects the dark UI theme.
	DarkMode bool `json:"dark_mode"`

	// AudioInputDevice names the capture device; empty selects the host
	// default.
	AudioInputDevice string `json:"audio_input_device,omitempty"`

	// AudioOutputDevice names the playback device; empty selects the host
	// default.
	AudioOutputDevice string `json:"audio_output_device,omitempty"`

	// NodeEnv holds per-node environment variable overrides injected into
	// the dataflow on start, keyed by node id then variable name.
	NodeEnv map[string]map[string]string `json:"node_env,omitempty"`
}

// Provider is one configured AI provider entry.
type Provider struct {
	// Name identifies the provider ("openai", "moonshot", ...).
	Name string `json:"name"`

	// APIKey authenticates against the provider, when required.
	APIKey string `json:"api_key,omitempty"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// Model selects a model within the provider.
	Model string `json:"model,omitempty"`

	// Enabled toggles the provider in the UI without deleting its entry.
	Enabled bool `json:"enabled"`
}

// Default returns the preferences used when no file exists yet.
func Default() *Preferences {
	return &Preferences{}
}

// EnvForNode flattens the env overrides for the given node id.
func (p *Preferences) EnvForNode(nodeID string) map[string]string {
	out := map[string]string{}
	for key, value := range p.NodeEnv[nodeID] {
		out[key] = value
	}
	return out
}

// AllNodeEnv merges every node's overrides into one map. When two nodes set
// the same key, which value wins is not defined. The launcher applies env
// process-wide.
func (p *Preferences) AllNodeEnv() map[string]string {
	out := map[string]string{}
	for _, envs := range p.NodeEnv {
		for key, value := range envs {
			out[key] = value
		}
	}
	return out
}
