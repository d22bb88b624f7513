package automation

// validateRule checks the invariants a rule must satisfy before it is
// persisted: a name, a known scope (with a tenant ID when tenant-scoped), a
// trigger event type, and a non-empty action list with typed actions.
func validateRule(r *Rule) error {
	if r.Name == "" {
		return invalid("name", "is required")
	}

	switch r.Scope {
	case ScopePlatform:
		// TenantID is ignored for platform rules.
	case ScopeTenant:
		if r.TenantID == "" {
			return invalid("tenantId", "is required for TENANT scope")
		}
	default:
		return invalid("scope", `must be "PLATFORM" or "TENANT"`)
	}

	if r.Trigger.EventType == "" {
		return invalid("trigger.eventType", "is required")
	}

	if len(r.Actions) == 0 {
		return invalid("actions", "must contain at least one action")
	}
	for _, a := range r.Actions {
		if a.Type == "" {
			return invalid("actions", "must have a type at every position")
		}
		if a.DelayMs < 0 {
			return invalid("actions", "delayMs cannot be negative")
		}
	}

	return nil
}

// applyPatch merges a partial update into a copy of the existing rule.
// Engine-owned fields (ID, counters, timestamps) are never patched.
func applyPatch(existing *Rule, patch RulePatch) *Rule {
	merged := existing.Clone()

	if patch.Name != nil {
		merged.Name = *patch.Name
	}
	if patch.Scope != nil {
		merged.Scope = *patch.Scope
	}
	if patch.TenantID != nil {
		merged.TenantID = *patch.TenantID
	}
	if patch.Trigger != nil {
		merged.Trigger = *patch.Trigger
	}
	if patch.Actions != nil {
		merged.Actions = make([]Action, len(patch.Actions))
		copy(merged.Actions, patch.Actions)
	}
	if patch.Priority != nil {
		merged.Priority = *patch.Priority
	}
	if patch.Active != nil {
		merged.Active = *patch.Active
	}

	return merged
}
