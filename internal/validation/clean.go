package validation

import (
	"encoding/json"
	"strings"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/spf13/cast"
)

// Input rule types understood by CleanInputs.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// CleanInputs coerces resolved inputs to the types declared in rules. It
// returns a new map holding every key of inputs; a value that cannot be
// coerced is kept as it was. Keys without a rule are copied unchanged.
func CleanInputs(inputs map[string]any, rules schema.InputSchema) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		rule, ok := rules.Properties[k]
		if !ok || v == nil {
			out[k] = expressions.DeepCopy(v)
			continue
		}
		out[k] = coerce(v, rule.Type)
	}
	return out
}

// RulesFor returns the cleaning rules of step: the ones it declares, or the
// registered defaults of its step id when it declares none. rules may be nil.
func RulesFor(step schema.Step, rules StepRules) schema.InputSchema {
	own := step.Schema.Inputs
	if len(own.Properties) > 0 || len(own.Required) > 0 || rules == nil {
		return own
	}
	if defaults, ok := rules.InputRules(step.StepID); ok {
		return defaults
	}
	return own
}

// MissingRequired lists required keys absent from inputs, in rule order.
func MissingRequired(inputs map[string]any, rules schema.InputSchema) []string {
	var missing []string
	for _, key := range rules.Required {
		if _, ok := inputs[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

func coerce(v any, typ string) any {
	switch typ {
	case TypeString:
		switch v.(type) {
		case map[string]any, []any:
			return expressions.Stringify(v)
		}
		if s, err := cast.ToStringE(v); err == nil {
			return s
		}
	case TypeNumber:
		switch n := v.(type) {
		case int, int32, int64, float32, float64, uint, uint32, uint64:
			return n
		case string:
			if strings.TrimSpace(n) == "" {
				return v
			}
			if f, err := cast.ToFloat64E(strings.TrimSpace(n)); err == nil {
				return f
			}
		case bool:
			return cast.ToFloat64(n)
		}
	case TypeBoolean:
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	case TypeArray:
		switch val := v.(type) {
		case []any:
			return expressions.DeepCopy(val)
		case string:
			var arr []any
			if err := json.Unmarshal([]byte(val), &arr); err == nil {
				return arr
			}
		default:
			if s, err := cast.ToSliceE(v); err == nil {
				return s
			}
		}
	case TypeObject:
		switch val := v.(type) {
		case map[string]any:
			return expressions.DeepCopyMap(val)
		case string:
			var obj map[string]any
			if err := json.Unmarshal([]byte(val), &obj); err == nil {
				return obj
			}
		default:
			if m, err := cast.ToStringMapE(v); err == nil {
				return m
			}
		}
	}
	return expressions.DeepCopy(v)
}
