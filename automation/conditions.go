package automation

import (
	"reflect"
	"strings"
)

// Comparison operators accepted in a condition's comparator object. Any other
// operator falls back to strict equality against the whole comparator map,
// which in practice never matches and keeps malformed rules harmless.
const (
	opEquals      = "equals"
	opNotEquals   = "not_equals"
	opGreaterThan = "greater_than"
	opLessThan    = "less_than"
	opContains    = "contains"
)

// evaluateConditions reports whether every condition matches the event. Each
// condition's dot-path is resolved first against the event payload, then
// against the event context. An empty condition set always matches. Lookup
// and comparison never panic; anything unresolvable is simply a non-match.
func evaluateConditions(conditions map[string]any, eventData, evCtx map[string]any) bool {
	for path, expected := range conditions {
		actual, ok := lookupPath(eventData, path)
		if !ok {
			actual, _ = lookupPath(evCtx, path)
		}
		if !compareCondition(actual, expected) {
			return false
		}
	}
	return true
}

// compareCondition matches an actual value against an expected one. A map
// with an "operator" key is a comparator object; everything else is compared
// with strict equality.
func compareCondition(actual, expected any) bool {
	comparator, ok := expected.(map[string]any)
	if !ok {
		return strictEqual(actual, expected)
	}
	rawOp, hasOp := comparator["operator"]
	if !hasOp {
		return strictEqual(actual, expected)
	}

	op, _ := rawOp.(string)
	value := comparator["value"]

	switch op {
	case opEquals:
		return strictEqual(actual, value)
	case opNotEquals:
		return !strictEqual(actual, value)
	case opGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(value)
		return aok && bok && a > b
	case opLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(value)
		return aok && bok && a < b
	case opContains:
		if actual == nil {
			return false
		}
		return strings.Contains(stringify(actual), stringify(value))
	default:
		return strictEqual(actual, expected)
	}
}

// strictEqual compares two values without coercion beyond numeric widening.
// Numbers decoded from JSON arrive as float64 while rules authored in Go may
// carry ints, so numeric values compare by magnitude; everything else uses
// deep equality.
func strictEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	if _, bok := toFloat(b); bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// lookupPath walks a dot-separated path through nested maps. Returns false
// when any segment is missing or the value at a segment is not a map.
func lookupPath(m map[string]any, path string) (any, bool) {
	if m == nil || path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	var current any = m
	for _, segment := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
