package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scalar holds any scalar scenario value (string, number or bool) in its
// textual form. Scenario files write ports as 1883 or "1883" and flags as
// true or "1"; both decode to the same Scalar.
type Scalar struct {
	s   string
	set bool
}

// S returns a Scalar holding s.
func S(s string) Scalar {
	return Scalar{s: s, set: true}
}

// String returns the textual value, or "" when unset.
func (v Scalar) String() string {
	return v.s
}

// IsSet reports whether the value appeared in the file.
func (v Scalar) IsSet() bool {
	return v.set
}

// Or returns the value, or def when unset.
func (v Scalar) Or(def string) string {
	if !v.set {
		return def
	}
	return v.s
}

// Bool interprets the value as a flag. "1", "true", "yes" and "on" are true.
func (v Scalar) Bool() bool {
	switch strings.ToLower(strings.TrimSpace(v.s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Flag renders the value as a UCI boolean, "1" or "0".
func (v Scalar) Flag() string {
	if v.Bool() {
		return "1"
	}
	return "0"
}

// FlagOr renders the value as a UCI boolean, using def when unset.
func (v Scalar) FlagOr(def bool) string {
	if !v.set {
		if def {
			return "1"
		}
		return "0"
	}
	return v.Flag()
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected scalar value", node.Line)
	}
	if node.ShortTag() == "!!null" {
		*v = Scalar{}
		return nil
	}
	*v = S(node.Value)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (v Scalar) MarshalYAML() (any, error) {
	return v.s, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = Scalar{}
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = S(s)
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		return fmt.Errorf("expected scalar value, got %s", data)
	default:
		*v = S(string(data))
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.s)
}

// Settings holds free-form type-specific settings.
type Settings map[string]any

// Has reports whether key is present.
func (s Settings) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// String returns the textual form of key, or "" when missing.
func (s Settings) String(key string) string {
	v, ok := s[key]
	if !ok {
		return ""
	}
	return Stringify(v)
}

// StringOr returns the textual form of key, or def when missing.
func (s Settings) StringOr(key, def string) string {
	if !s.Has(key) {
		return def
	}
	return s.String(key)
}

// Bool interprets key as a flag.
func (s Settings) Bool(key string) bool {
	return S(s.String(key)).Bool()
}

// List returns key as a list of strings. A scalar yields one item.
func (s Settings) List(key string) []string {
	switch x := s[key].(type) {
	case nil:
		return nil
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, Stringify(item))
		}
		return out
	}
	return []string{s.String(key)}
}

// Map returns a nested settings block.
func (s Settings) Map(key string) Settings {
	switch m := s[key].(type) {
	case map[string]any:
		return Settings(m)
	case Settings:
		return m
	}
	return nil
}

// Stringify renders a decoded JSON or YAML value the way it is written to
// UCI: booleans become "1"/"0", lists are joined by spaces and integral
// floats lose their fraction.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, Stringify(item))
		}
		return strings.Join(parts, " ")
	case Scalar:
		return x.String()
	}
	return fmt.Sprint(v)
}
