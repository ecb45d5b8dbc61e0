package dataset

import (
	"encoding/json"
	"fmt"
)

// The catalog persists table schemas as JSON; kinds and precisions marshal as
// their string names so the stored metadata stays readable with sqlite tools.

var kindNames = map[Kind]string{
	KindInt32:     "int",
	KindInt64:     "long",
	KindFloat64:   "double",
	KindString:    "string",
	KindBool:      "boolean",
	KindTimestamp: "timestamp",
}

var kindValues = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, v := range kindNames {
		m[v] = k
	}
	return m
}()

func (k Kind) MarshalJSON() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown kind %d", int(k))
	}
	return json.Marshal(name)
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, ok := kindValues[name]
	if !ok {
		return fmt.Errorf("unknown kind %q", name)
	}
	*k = v
	return nil
}

func (p Precision) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Precision) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "ns":
		*p = Nanosecond
	case "us":
		*p = Microsecond
	default:
		return fmt.Errorf("unknown precision %q", name)
	}
	return nil
}

// MarshalSchema encodes an ordered field list as JSON.
func MarshalSchema(fields []Field) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return string(b), nil
}

// UnmarshalSchema decodes a field list from JSON.
func UnmarshalSchema(s string) ([]Field, error) {
	var fields []Field
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	return fields, nil
}

// SchemasEqual reports whether two schemas match field-by-field in name,
// logical type and nullability.
func SchemasEqual(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// SchemaString renders a schema compactly for inspect output and error
// messages, e.g. "id: int required, ts: timestamp[us]".
func SchemaString(fields []Field) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s: %s", f.Name, f.typeString())
		if f.Required {
			out += " required"
		}
	}
	return out
}
