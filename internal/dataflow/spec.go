// Package dataflow manages the external dataflow: parsing its YAML
// specification, driving the launcher process, and running the dynamic-node
// bridges that glue the graph to the shared state hub.
package dataflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodePrefix marks the dynamic nodes this host supplies to the graph.
const NodePrefix = "mofa-"

// NodeType identifies one of the dynamic nodes the dispatcher knows how to
// bridge.
type NodeType string

const (
	NodeAudioPlayer NodeType = "mofa-audio-player"
	NodeMicInput    NodeType = "mofa-mic-input"
	NodePromptInput NodeType = "mofa-prompt-input"
	NodeSystemLog   NodeType = "mofa-system-log"
)

// NodeTypeFromID matches a node id against the known dynamic node types by
// prefix, so suffixed variants ("mofa-audio-player-debate") resolve too.
func NodeTypeFromID(id string) (NodeType, bool) {
	for _, t := range []NodeType{NodeAudioPlayer, NodeMicInput, NodePromptInput, NodeSystemLog} {
		if strings.HasPrefix(id, string(t)) {
			return t, true
		}
	}
	return "", false
}

// Spec is a parsed dataflow description.
type Spec struct {
	// Path is the YAML file location.
	Path string
	// Nodes lists every node in the graph.
	Nodes []Node
	// DynamicNodes lists the mofa- dynamic nodes the dispatcher must
	// supply.
	DynamicNodes []DynamicNode
	// EnvRequirements lists the environment variables the graph consumes,
	// for the preferences UI.
	EnvRequirements []EnvRequirement
	// LogSources lists the outputs the system log panel can subscribe to.
	LogSources []LogSource
}

// Node is one parsed graph node.
type Node struct {
	ID      string
	Inputs  []InputDef
	Outputs []string
	Env     map[string]string
	Dynamic bool
}

// DynamicNode describes a mofa- node discovered in the spec.
type DynamicNode struct {
	ID      string
	Type    NodeType
	Inputs  []InputDef
	Outputs []string
}

// InputDef connects a node input to a "node_id/output_id" source.
type InputDef struct {
	ID     string
	Source string
}

// EnvRequirement describes one environment variable used by the graph.
type EnvRequirement struct {
	// Key is the variable name (e.g. "OPENAI_API_KEY").
	Key string
	// Required is true for ${VAR} placeholders without a default.
	Required bool
	// Default is the ${VAR:-default} fallback or the literal value.
	Default string
	// Secret marks keys that look like credentials.
	Secret bool
	// UsedBy lists the node ids consuming the variable.
	UsedBy []string
}

// LogSource is one node output the system log panel aggregates.
type LogSource struct {
	NodeID   string
	OutputID string
}

// ParseSpec reads and parses a dataflow YAML file.
func ParseSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataflow: read spec: %w", err)
	}
	return ParseSpecBytes(data, path)
}

// rawNode mirrors the YAML node schema. Input values appear either as a
// plain "node/output" string or as a mapping with a source key; env values
// may be strings, numbers, or booleans.
type rawNode struct {
	ID      string               `yaml:"id"`
	Path    string               `yaml:"path"`
	Inputs  map[string]yaml.Node `yaml:"inputs"`
	Outputs []string             `yaml:"outputs"`
	Env     map[string]yaml.Node `yaml:"env"`
}

type rawSpec struct {
	Nodes []rawNode `yaml:"nodes"`
}

// ParseSpecBytes parses dataflow YAML content.
func ParseSpecBytes(data []byte, path string) (*Spec, error) {
	var raw rawSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("dataflow: parse %s: %w", filepath.Base(path), err)
	}

	spec := &Spec{Path: path}
	for _, rn := range raw.Nodes {
		if rn.ID == "" {
			continue
		}
		node := Node{
			ID:      rn.ID,
			Outputs: rn.Outputs,
			Env:     map[string]string{},
			Dynamic: rn.Path == "dynamic",
		}

		for id, val := range rn.Inputs {
			source := inputSource(val)
			if source == "" {
				continue
			}
			node.Inputs = append(node.Inputs, InputDef{ID: id, Source: source})
		}

		for key, val := range rn.Env {
			var s string
			switch val.Kind {
			case yaml.ScalarNode:
				s = val.Value
			default:
				continue
			}
			node.Env[key] = s
			addEnvRequirement(&spec.EnvRequirements, key, s, rn.ID)
		}

		for _, output := range node.Outputs {
			if output == "log" || strings.HasSuffix(output, "_log") ||
				strings.HasSuffix(output, "_status") {
				spec.LogSources = append(spec.LogSources, LogSource{
					NodeID:   node.ID,
					OutputID: output,
				})
			}
		}

		if t, ok := NodeTypeFromID(node.ID); ok {
			spec.DynamicNodes = append(spec.DynamicNodes, DynamicNode{
				ID:      node.ID,
				Type:    t,
				Inputs:  node.Inputs,
				Outputs: node.Outputs,
			})
		}

		spec.Nodes = append(spec.Nodes, node)
	}

	return spec, nil
}

// inputSource extracts the source from either input form.
func inputSource(val yaml.Node) string {
	switch val.Kind {
	case yaml.ScalarNode:
		return val.Value
	case yaml.MappingNode:
		var mapping struct {
			Source string `yaml:"source"`
		}
		if err := val.Decode(&mapping); err == nil {
			return mapping.Source
		}
	}
	return ""
}

// addEnvRequirement records one env usage, parsing ${VAR}, ${VAR:-default},
// and $VAR placeholder forms.
func addEnvRequirement(reqs *[]EnvRequirement, key, value, nodeID string) {
	for i := range *reqs {
		if (*reqs)[i].Key == key {
			(*reqs)[i].UsedBy = append((*reqs)[i].UsedBy, nodeID)
			return
		}
	}

	upper := strings.ToUpper(key)
	secret := strings.Contains(upper, "API_KEY") ||
		strings.Contains(upper, "SECRET") ||
		strings.Contains(upper, "PASSWORD") ||
		strings.Contains(upper, "TOKEN")

	required := false
	def := value
	switch {
	case strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}"):
		inner := value[2 : len(value)-1]
		if idx := strings.Index(inner, ":-"); idx >= 0 {
			def = inner[idx+2:]
		} else {
			required = true
			def = ""
		}
	case strings.HasPrefix(value, "$"):
		required = true
		def = ""
	}

	*reqs = append(*reqs, EnvRequirement{
		Key:      key,
		Required: required,
		Default:  def,
		Secret:   secret,
		UsedBy:   []string{nodeID},
	})
}

// DynamicNodeByID returns the dynamic node spec for id.
func (s *Spec) DynamicNodeByID(id string) (DynamicNode, bool) {
	for _, n := range s.DynamicNodes {
		if n.ID == id {
			return n, true
		}
	}
	return DynamicNode{}, false
}

// MissingEnvVars lists required env variables that are not set in the
// process environment.
func (s *Spec) MissingEnvVars() []EnvRequirement {
	var missing []EnvRequirement
	for _, req := range s.EnvRequirements {
		if !req.Required {
			continue
		}
		if _, ok := os.LookupEnv(req.Key); !ok {
			missing = append(missing, req)
		}
	}
	return missing
}
