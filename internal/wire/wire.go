// Package wire defines the event envelope exchanged with the external
// dataflow: typed metadata parameters, payload decoding, and the connection
// interface each dynamic-node bridge uses.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ParamKind enumerates the typed metadata parameter variants carried by
// dataflow events.
type ParamKind string

const (
	KindString     ParamKind = "string"
	KindInteger    ParamKind = "integer"
	KindFloat      ParamKind = "float"
	KindBool       ParamKind = "bool"
	KindListInt    ParamKind = "list_int"
	KindListFloat  ParamKind = "list_float"
	KindListString ParamKind = "list_string"
)

// Param is one typed metadata parameter. Producers choose the type freely —
// question_id commonly arrives as an integer from Python nodes and as a
// string from Rust nodes — so consumers must go through [Param.AsString]
// rather than matching on the kind.
type Param struct {
	Kind    ParamKind
	Str     string
	Int     int64
	Float   float64
	Bool    bool
	Ints    []int64
	Floats  []float64
	Strings []string
}

// String creates a string parameter.
func String(s string) Param { return Param{Kind: KindString, Str: s} }

// Integer creates an integer parameter.
func Integer(i int64) Param { return Param{Kind: KindInteger, Int: i} }

// Float creates a float parameter.
func Float(f float64) Param { return Param{Kind: KindFloat, Float: f} }

// Bool creates a bool parameter.
func Bool(b bool) Param { return Param{Kind: KindBool, Bool: b} }

// ListInt creates an integer-list parameter.
func ListInt(l []int64) Param { return Param{Kind: KindListInt, Ints: l} }

// ListFloat creates a float-list parameter.
func ListFloat(l []float64) Param { return Param{Kind: KindListFloat, Floats: l} }

// ListString creates a string-list parameter.
func ListString(l []string) Param { return Param{Kind: KindListString, Strings: l} }

// AsString coerces the parameter to its canonical string representation.
// This is the metadata extraction contract: Integer(42) and String("42")
// coerce to the same "42", so id filters treat them as the same identity.
func (p Param) AsString() string {
	switch p.Kind {
	case KindString:
		return p.Str
	case KindInteger:
		return strconv.FormatInt(p.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(p.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(p.Bool)
	case KindListInt:
		return fmt.Sprint(p.Ints)
	case KindListFloat:
		return fmt.Sprint(p.Floats)
	case KindListString:
		return fmt.Sprint(p.Strings)
	}
	return ""
}

// paramJSON is the wire representation of a Param.
type paramJSON struct {
	Type  ParamKind       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the parameter as {"type": ..., "value": ...}.
func (p Param) MarshalJSON() ([]byte, error) {
	var value any
	switch p.Kind {
	case KindString:
		value = p.Str
	case KindInteger:
		value = p.Int
	case KindFloat:
		value = p.Float
	case KindBool:
		value = p.Bool
	case KindListInt:
		value = p.Ints
	case KindListFloat:
		value = p.Floats
	case KindListString:
		value = p.Strings
	default:
		return nil, fmt.Errorf("wire: unknown param kind %q", p.Kind)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(paramJSON{Type: p.Kind, Value: raw})
}

// UnmarshalJSON decodes the {"type": ..., "value": ...} representation.
func (p *Param) UnmarshalJSON(data []byte) error {
	var pj paramJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return err
	}
	p.Kind = pj.Type
	switch pj.Type {
	case KindString:
		return json.Unmarshal(pj.Value, &p.Str)
	case KindInteger:
		return json.Unmarshal(pj.Value, &p.Int)
	case KindFloat:
		return json.Unmarshal(pj.Value, &p.Float)
	case KindBool:
		return json.Unmarshal(pj.Value, &p.Bool)
	case KindListInt:
		return json.Unmarshal(pj.Value, &p.Ints)
	case KindListFloat:
		return json.Unmarshal(pj.Value, &p.Floats)
	case KindListString:
		return json.Unmarshal(pj.Value, &p.Strings)
	}
	return fmt.Errorf("wire: unknown param kind %q", pj.Type)
}

// Metadata is the typed parameter map attached to events and outputs.
type Metadata map[string]Param

// Get returns the coerced string value for key. ok is false when the key is
// absent.
func (m Metadata) Get(key string) (string, bool) {
	p, ok := m[key]
	if !ok {
		return "", false
	}
	return p.AsString(), true
}

// QuestionID returns the coerced question_id, or "" when absent.
func (m Metadata) QuestionID() string {
	v, _ := m.Get("question_id")
	return v
}

// Participant returns the coerced participant, falling back to the legacy
// participant_id key.
func (m Metadata) Participant() string {
	if v, ok := m.Get("participant"); ok {
		return v
	}
	v, _ := m.Get("participant_id")
	return v
}

// SessionStatus returns the coerced session_status, or "" when absent.
func (m Metadata) SessionStatus() string {
	v, _ := m.Get("session_status")
	return v
}

// SampleRate returns the sample_rate metadata parsed as an int, or def when
// absent or unparseable.
func (m Metadata) SampleRate(def int) int {
	v, ok := m.Get("sample_rate")
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Event is one inbound message from the dataflow to a dynamic node.
type Event struct {
	// Input is the node input the event arrived on (e.g. "audio_tutor").
	Input string `json:"input"`
	// Data is the raw payload, decoded per input kind with the helpers
	// below.
	Data json.RawMessage `json:"data,omitempty"`
	// Metadata carries the typed event parameters.
	Metadata Metadata `json:"metadata,omitempty"`
}

// FloatData decodes the payload as a list of float32 samples.
func (e Event) FloatData() ([]float32, error) {
	var samples []float32
	if err := json.Unmarshal(e.Data, &samples); err != nil {
		return nil, fmt.Errorf("wire: decode float data on %q: %w", e.Input, err)
	}
	return samples, nil
}

// TextData decodes the payload as a string. A bare JSON string and a
// single-element string list (the launcher's signal format) both decode.
func (e Event) TextData() (string, error) {
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s, nil
	}
	var list []string
	if err := json.Unmarshal(e.Data, &list); err == nil && len(list) > 0 {
		return list[0], nil
	}
	return "", fmt.Errorf("wire: payload on %q is not text", e.Input)
}

// JSONData decodes the payload into v.
func (e Event) JSONData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Output is one outbound message from a dynamic node into the dataflow.
type Output struct {
	// ID is the node output name (e.g. "session_start", "audio_complete").
	ID string `json:"output"`
	// Data is the payload; marshaled as-is.
	Data any `json:"data,omitempty"`
	// Metadata carries the typed parameters for downstream consumers.
	Metadata Metadata `json:"metadata,omitempty"`
}
