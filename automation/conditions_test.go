package automation

import "testing"

func TestEvaluateConditionsEmptyAlwaysMatches(t *testing.T) {
	if !evaluateConditions(nil, map[string]any{"status": "delivered"}, nil) {
		t.Error("nil conditions should always match")
	}
	if !evaluateConditions(map[string]any{}, nil, nil) {
		t.Error("empty conditions should always match")
	}
}

func TestEvaluateConditionsScalarEquality(t *testing.T) {
	eventData := map[string]any{
		"status": "delivered",
		"order": map[string]any{
			"total": 150.0,
		},
	}

	if !evaluateConditions(map[string]any{"status": "delivered"}, eventData, nil) {
		t.Error("matching scalar should pass")
	}
	if evaluateConditions(map[string]any{"status": "pending"}, eventData, nil) {
		t.Error("non-matching scalar should fail")
	}
	if !evaluateConditions(map[string]any{"order.total": 150}, eventData, nil) {
		t.Error("numeric comparison should not depend on int vs float representation")
	}
	if evaluateConditions(map[string]any{"status": 42}, eventData, nil) {
		t.Error("string never equals a number")
	}
}

func TestEvaluateConditionsNestedPath(t *testing.T) {
	eventData := map[string]any{
		"customer": map[string]any{
			"address": map[string]any{
				"country": "CA",
			},
		},
	}

	if !evaluateConditions(map[string]any{"customer.address.country": "CA"}, eventData, nil) {
		t.Error("nested dot-path should resolve")
	}
	if evaluateConditions(map[string]any{"customer.address.city": "Toronto"}, eventData, nil) {
		t.Error("missing leaf should not match")
	}
	if evaluateConditions(map[string]any{"customer.name.first": "A"}, eventData, nil) {
		t.Error("traversing through a non-map should not match")
	}
}

func TestEvaluateConditionsContextFallback(t *testing.T) {
	eventData := map[string]any{"status": "open"}
	evCtx := map[string]any{"tenantId": "t-1"}

	if !evaluateConditions(map[string]any{"tenantId": "t-1"}, eventData, evCtx) {
		t.Error("path absent from event data should fall back to context")
	}

	// Event data wins when the path resolves there.
	eventData["tenantId"] = "t-2"
	if evaluateConditions(map[string]any{"tenantId": "t-1"}, eventData, evCtx) {
		t.Error("event data value should take precedence over context")
	}
}

func TestEvaluateConditionsOperators(t *testing.T) {
	eventData := map[string]any{
		"amount":  250.0,
		"status":  "payment_failed",
		"attempt": 3,
	}

	cases := []struct {
		name      string
		condition map[string]any
		want      bool
	}{
		{"equals match", map[string]any{"status": map[string]any{"operator": "equals", "value": "payment_failed"}}, true},
		{"equals mismatch", map[string]any{"status": map[string]any{"operator": "equals", "value": "ok"}}, false},
		{"not_equals match", map[string]any{"status": map[string]any{"operator": "not_equals", "value": "ok"}}, true},
		{"not_equals mismatch", map[string]any{"status": map[string]any{"operator": "not_equals", "value": "payment_failed"}}, false},
		{"greater_than match", map[string]any{"amount": map[string]any{"operator": "greater_than", "value": 100}}, true},
		{"greater_than mismatch", map[string]any{"amount": map[string]any{"operator": "greater_than", "value": 250}}, false},
		{"less_than match", map[string]any{"attempt": map[string]any{"operator": "less_than", "value": 5}}, true},
		{"less_than non-numeric actual", map[string]any{"status": map[string]any{"operator": "less_than", "value": 5}}, false},
		{"contains match", map[string]any{"status": map[string]any{"operator": "contains", "value": "failed"}}, true},
		{"contains mismatch", map[string]any{"status": map[string]any{"operator": "contains", "value": "refund"}}, false},
		{"contains on number coerces to string", map[string]any{"amount": map[string]any{"operator": "contains", "value": "250"}}, true},
		{"unknown operator never matches the actual value", map[string]any{"status": map[string]any{"operator": "regex", "value": ".*"}}, false},
		{"missing path never matches", map[string]any{"missing.path": map[string]any{"operator": "contains", "value": "x"}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := evaluateConditions(tc.condition, eventData, nil)
			if got != tc.want {
				t.Errorf("evaluateConditions() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateConditionsAllMustPass(t *testing.T) {
	eventData := map[string]any{"status": "delivered", "carrier": "ups"}

	conditions := map[string]any{
		"status":  "delivered",
		"carrier": "fedex",
	}
	if evaluateConditions(conditions, eventData, nil) {
		t.Error("one failing condition should fail the whole set")
	}

	conditions["carrier"] = "ups"
	if !evaluateConditions(conditions, eventData, nil) {
		t.Error("all conditions passing should match")
	}
}

func TestLookupPath(t *testing.T) {
	m := map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": 1},
		},
		"nil": nil,
	}

	if v, ok := lookupPath(m, "a.b.c"); !ok || v != 1 {
		t.Errorf("lookupPath(a.b.c) = %v, %v", v, ok)
	}
	if v, ok := lookupPath(m, "nil"); !ok || v != nil {
		t.Errorf("lookupPath should resolve an explicit nil value, got %v, %v", v, ok)
	}
	if _, ok := lookupPath(m, "a.x"); ok {
		t.Error("missing segment should not resolve")
	}
	if _, ok := lookupPath(nil, "a"); ok {
		t.Error("nil map should not resolve")
	}
	if _, ok := lookupPath(m, ""); ok {
		t.Error("empty path should not resolve")
	}
}
