package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// floatParam converts an embedding to a driver-friendly list, or nil when empty.
func floatParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func (r row) str(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func (r row) num(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func (r row) strs(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			out = append(out, fmt.Sprint(s))
		}
		return out
	}
	return nil
}

// floats reads an embedding stored as a list or as a JSON array string.
func (r row) floats(key string) []float32 {
	switch v := r[key].(type) {
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(v))
		for _, e := range v {
			f, ok := toFloat(e)
			if !ok {
				return nil
			}
			out = append(out, float32(f))
		}
		return out
	case string:
		var out []float32
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int64:
		return float64(f), true
	case int:
		return float64(f), true
	case string:
		n, err := strconv.ParseFloat(f, 64)
		return n, err == nil
	}
	return 0, false
}

func firstLabel(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return labels[0]
}

func (r row) entity() Entity {
	labels := r.strs("labels")
	typ := r.str("type")
	if typ == "" {
		typ = firstLabel(labels)
	}
	return Entity{
		Name:        r.str("name"),
		Type:        typ,
		Description: r.str("description"),
		ResumeID:    r.str("resume_id"),
		Labels:      labels,
	}
}

func (r row) relationship() Relationship {
	return Relationship{
		Subject:     r.str("subject"),
		Predicate:   r.str("predicate"),
		Object:      r.str("object"),
		SubjectType: firstLabel(r.strs("subject_labels")),
		ObjectType:  firstLabel(r.strs("object_labels")),
		Description: r.str("description"),
		ResumeID:    r.str("resume_id"),
	}
}
