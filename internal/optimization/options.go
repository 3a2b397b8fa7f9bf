package optimization

import (
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Setters maps an option key to the function applying its value. Keys are
// matched case-insensitively.
type Setters map[string]func(float64)

// ApplyOptions applies opts through setters in key order. Unknown keys are
// logged as warnings and returned; they never abort parsing.
func ApplyOptions(opts map[string]float64, setters Setters, logger *zap.Logger) []string {
	if logger == nil {
		logger = zap.NewNop()
	}
	index := make(map[string]func(float64), len(setters))
	for k, fn := range setters {
		index[strings.ToLower(k)] = fn
	}

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var unknown []string
	for _, k := range keys {
		fn, ok := index[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			logger.Warn("unknown option ignored", zap.String("option", k))
			unknown = append(unknown, k)
			continue
		}
		fn(opts[k])
	}
	return unknown
}

// OptionsFromAny converts decoded TOML or JSON values into numeric options.
// Integers, floats, booleans and numeric strings are accepted.
func OptionsFromAny(raw map[string]any) (map[string]float64, error) {
	const op = "OptionsFromAny"

	opts := make(map[string]float64, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case float64:
			opts[k] = val
		case float32:
			opts[k] = float64(val)
		case int:
			opts[k] = float64(val)
		case int64:
			opts[k] = float64(val)
		case int32:
			opts[k] = float64(val)
		case bool:
			if val {
				opts[k] = 1
			} else {
				opts[k] = 0
			}
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, WrapErrorf(err, "option %q is not numeric", k).WithOperation(op)
			}
			opts[k] = f
		default:
			return nil, NewErrorf("option %q has unsupported type %T", k, v).WithOperation(op)
		}
	}
	return opts, nil
}

// Keys returns the sorted option keys understood by setters.
func (s Setters) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
