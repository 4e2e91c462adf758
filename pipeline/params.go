package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/provision/config"
)

// ParamKind is the Go shape a raw definition value is converted to.
type ParamKind int

const (
	KindString ParamKind = iota
	KindInt
	KindBool
	KindDuration
	KindStrings
	KindMap
	KindAny
)

func (k ParamKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindDuration:
		return "duration"
	case KindStrings:
		return "string list"
	case KindMap:
		return "map"
	case KindAny:
		return "any"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParamSpec declares one parameter a processor type accepts.
type ParamSpec struct {
	Name        string
	Kind        ParamKind
	Required    bool
	Default     any
	Description string
}

// Schema is the full parameter declaration of a processor type.
type Schema []ParamSpec

func (s Schema) lookup(name string) (ParamSpec, bool) {
	for _, spec := range s {
		if spec.Name == name {
			return spec, true
		}
	}
	return ParamSpec{}, false
}

// Values holds parameters after binding. Every value has the Go type of its
// declared kind, so the accessors never fail for declared names.
type Values struct {
	values map[string]any
}

// Has reports whether name was given in the definition or has a default.
func (v Values) Has(name string) bool {
	_, ok := v.values[name]
	return ok
}

// String returns a KindString parameter.
func (v Values) String(name string) string {
	s, _ := v.values[name].(string)
	return s
}

// Int returns a KindInt parameter.
func (v Values) Int(name string) int {
	i, _ := v.values[name].(int)
	return i
}

// Bool returns a KindBool parameter.
func (v Values) Bool(name string) bool {
	b, _ := v.values[name].(bool)
	return b
}

// Duration returns a KindDuration parameter.
func (v Values) Duration(name string) time.Duration {
	d, _ := v.values[name].(time.Duration)
	return d
}

// Strings returns a KindStrings parameter.
func (v Values) Strings(name string) []string {
	s, _ := v.values[name].([]string)
	return s
}

// Map returns a KindMap parameter.
func (v Values) Map(name string) map[string]any {
	m, _ := v.values[name].(map[string]any)
	return m
}

// Raw returns a parameter without conversion.
func (v Values) Raw(name string) any {
	return v.values[name]
}

// Bind converts raw definition params into Values according to schema.
// Undeclared names, missing required params and unconvertible values are
// ErrInvalidParam errors.
func Bind(schema Schema, raw config.Params) (Values, error) {
	out := Values{values: make(map[string]any, len(schema))}
	for _, param := range raw {
		spec, ok := schema.lookup(param.Name)
		if !ok {
			return Values{}, fmt.Errorf("%w: undeclared parameter %q", ErrInvalidParam, param.Name)
		}
		converted, err := convert(param.Value, spec.Kind)
		if err != nil {
			return Values{}, fmt.Errorf("%w: parameter %q: %v", ErrInvalidParam, param.Name, err)
		}
		out.values[param.Name] = converted
	}
	for _, spec := range schema {
		if _, ok := out.values[spec.Name]; ok {
			continue
		}
		if spec.Required {
			return Values{}, fmt.Errorf("%w: missing required parameter %q", ErrInvalidParam, spec.Name)
		}
		if spec.Default != nil {
			converted, err := convert(spec.Default, spec.Kind)
			if err != nil {
				return Values{}, fmt.Errorf("%w: default for %q: %v", ErrInvalidParam, spec.Name, err)
			}
			out.values[spec.Name] = converted
		}
	}
	return out, nil
}

func convert(v any, kind ParamKind) (any, error) {
	switch kind {
	case KindAny:
		return v, nil
	case KindString:
		switch val := v.(type) {
		case string:
			return val, nil
		case int, int64, float64, bool:
			return fmt.Sprint(val), nil
		}
	case KindInt:
		switch val := v.(type) {
		case int:
			return val, nil
		case int64:
			if int64(int(val)) != val {
				return nil, fmt.Errorf("%d is out of range", val)
			}
			return int(val), nil
		case float64:
			if val != math.Trunc(val) {
				return nil, fmt.Errorf("%v is not a whole number", val)
			}
			if val < float64(math.MinInt) || val >= float64(math.MaxInt) {
				return nil, fmt.Errorf("%v is out of range", val)
			}
			return int(val), nil
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to int", val)
			}
			return i, nil
		}
	case KindBool:
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to bool", val)
			}
			return b, nil
		}
	case KindDuration:
		switch val := v.(type) {
		case time.Duration:
			return val, nil
		case string:
			d, err := time.ParseDuration(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to duration", val)
			}
			return d, nil
		}
	case KindStrings:
		switch val := v.(type) {
		case string:
			return []string{val}, nil
		case []string:
			return append([]string(nil), val...), nil
		case []any:
			out := make([]string, 0, len(val))
			for i, item := range val {
				s, err := convert(item, KindString)
				if err != nil {
					return nil, fmt.Errorf("item %d: %v", i, err)
				}
				out = append(out, s.(string))
			}
			return out, nil
		}
	case KindMap:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, kind)
}
