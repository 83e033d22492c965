package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// args reads typed values out of a decoded JSON argument object. The first
// type mismatch is kept in err; later reads return zero values.
type args struct {
	op     string
	values map[string]any
	err    error
}

func newArgs(op string, values map[string]any) *args {
	if values == nil {
		values = map[string]any{}
	}
	return &args{op: op, values: values}
}

func (a *args) fail(key, want string, v any) {
	if a.err == nil {
		a.err = &ValidationError{Op: a.op, Arg: key, Reason: fmt.Sprintf("must be %s, got %T", want, v)}
	}
}

func (a *args) get(key string) (any, bool) {
	v, ok := a.values[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// missing reports whether a required key is absent or empty.
func (a *args) missing(key string) bool {
	v, ok := a.get(key)
	if !ok {
		return true
	}
	s, isString := v.(string)
	return isString && s == ""
}

func (a *args) str(key string) string {
	v, ok := a.get(key)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		a.fail(key, "a string", v)
		return ""
	}
	return s
}

func (a *args) optBool(key string) *bool {
	v, ok := a.get(key)
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		a.fail(key, "a boolean", v)
		return nil
	}
	return &b
}

func (a *args) boolean(key string) bool {
	if b := a.optBool(key); b != nil {
		return *b
	}
	return false
}

func (a *args) integer(key string) int {
	v, ok := a.get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n != math.Trunc(n) {
			a.fail(key, "an integer", v)
			return 0
		}
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			a.fail(key, "an integer", v)
			return 0
		}
		return int(i)
	}
	a.fail(key, "an integer", v)
	return 0
}

// millis reads a non-negative duration given in milliseconds.
func (a *args) millis(key string) time.Duration {
	n := a.integer(key)
	if n < 0 {
		a.fail(key, "a non-negative number of milliseconds", n)
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

// strings accepts an array of strings or a single string.
func (a *args) strings(key string) []string {
	v, ok := a.get(key)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case string:
		return []string{list}
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				a.fail(key, "an array of strings", v)
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	a.fail(key, "an array of strings", v)
	return nil
}

func (a *args) list(key string) []any {
	v, ok := a.get(key)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		a.fail(key, "an array", v)
		return nil
	}
	return list
}

func (a *args) stringMap(key string) map[string]string {
	v, ok := a.get(key)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		a.fail(key, "an object of strings", v)
		return nil
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		s, ok := item.(string)
		if !ok {
			a.fail(key, "an object of strings", v)
			return nil
		}
		out[k] = s
	}
	return out
}
