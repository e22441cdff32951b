package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Params are caller supplied generation parameters, as decoded from JSON.
type Params map[string]any

var (
	intParams   = []string{"max_tokens", "max_output_tokens", "top_k", "candidate_count"}
	floatParams = []string{"temperature", "top_p"}
)

// Validate checks that every known numeric parameter can be coerced.
func (p Params) Validate() error {
	for _, k := range intParams {
		if _, _, err := p.Int(k); err != nil {
			return err
		}
	}
	for _, k := range floatParams {
		if _, _, err := p.Float(k); err != nil {
			return err
		}
	}
	if _, _, err := p.Strings("stop_sequences"); err != nil {
		return err
	}
	return nil
}

// Int returns key as an int. ok is false when the key is absent or null.
func (p Params) Int(key string) (n int, ok bool, err error) {
	v, present := p[key]
	if !present || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case int:
		return t, true, nil
	case int64:
		if int64(int(t)) == t {
			return int(t), true, nil
		}
	case float64:
		// JSON numbers arrive as float64; only whole values inside int range
		// convert without changing the caller's value.
		if t == math.Trunc(t) && t >= math.MinInt && t < math.MaxInt {
			return int(t), true, nil
		}
	case json.Number:
		if i, err := t.Int64(); err == nil && int64(int(i)) == i {
			return int(i), true, nil
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return i, true, nil
		}
	}
	return 0, false, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidParameter, key, v)
}

// Float returns key as a float64. ok is false when the key is absent or null.
func (p Params) Float(key string) (f float64, ok bool, err error) {
	v, present := p[key]
	if !present || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case float64:
		return t, true, nil
	case int:
		return float64(t), true, nil
	case int64:
		return float64(t), true, nil
	case json.Number:
		if x, err := t.Float64(); err == nil {
			return x, true, nil
		}
	case string:
		if x, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return x, true, nil
		}
	}
	return 0, false, fmt.Errorf("%w: %s must be a number, got %v", ErrInvalidParameter, key, v)
}

// Strings accepts a single string or a list of strings.
func (p Params) Strings(key string) ([]string, bool, error) {
	v, present := p[key]
	if !present || v == nil {
		return nil, false, nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}, true, nil
	case []string:
		return t, true, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidParameter, key)
			}
			out = append(out, s)
		}
		return out, true, nil
	}
	return nil, false, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidParameter, key)
}

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }
