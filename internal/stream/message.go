package stream

import "encoding/json"

// object is a decoded JSON line with path accessors for loosely specified shapes.
type object map[string]any

func decodeLine(line string) (object, bool) {
	var obj object
	if err := json.Unmarshal([]byte(line), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func (o object) value(path ...string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	current := any(map[string]any(o))
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func (o object) str(path ...string) string {
	v, _ := o.value(path...)
	s, _ := v.(string)
	return s
}

func (o object) boolean(path ...string) bool {
	v, _ := o.value(path...)
	b, _ := v.(bool)
	return b
}

func (o object) obj(path ...string) object {
	v, _ := o.value(path...)
	m, _ := v.(map[string]any)
	return object(m)
}

func (o object) array(path ...string) []any {
	v, _ := o.value(path...)
	a, _ := v.([]any)
	return a
}
