package automation

import "time"

// Scope determines which tenants a rule applies to.
type Scope string

const (
	// ScopePlatform rules match events from every tenant.
	ScopePlatform Scope = "PLATFORM"
	// ScopeTenant rules match only events whose context carries the rule's tenant ID.
	ScopeTenant Scope = "TENANT"
)

// Trigger describes the event a rule listens for. Conditions maps dot-paths
// into the event payload (falling back to the event context) to expected
// values; an empty map always matches. An expected value may be a plain
// scalar (strict equality) or a comparator object of the form
// {"operator": "greater_than", "value": 100}.
type Trigger struct {
	EventType  string         `json:"eventType"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

// Action is one side-effecting step executed when a rule matches. Config is
// interpreted by the handler registered for Type; string values in Config may
// contain {{dot.path}} tokens resolved against the event data and context.
// DelayMs suspends the rule's action sequence before the action runs.
type Action struct {
	Type    string         `json:"type"`
	Config  map[string]any `json:"config,omitempty"`
	DelayMs int            `json:"delayMs,omitempty"`
}

// Builtin action types. Additional types can be attached to an engine with
// RegisterHandler; unknown types are skipped with a warning at dispatch time.
const (
	ActionSendNotification = "SEND_NOTIFICATION"
	ActionSendEmail        = "SEND_EMAIL"
	ActionUpdateStatus     = "UPDATE_STATUS"
	ActionTriggerWebhook   = "TRIGGER_WEBHOOK"
	ActionCreateTask       = "CREATE_TASK"
	ActionLockFeature      = "LOCK_FEATURE"
	ActionUnlockFeature    = "UNLOCK_FEATURE"
)

// Rule maps a trigger to an ordered, non-empty list of actions. TenantID is
// meaningful only when Scope is TENANT. ExecutionCount and LastExecuted are
// mutated only by the engine.
type Rule struct {
	ID             string    `json:"ruleId"`
	Name           string    `json:"name"`
	Scope          Scope     `json:"scope"`
	TenantID       string    `json:"tenantId,omitempty"`
	Trigger        Trigger   `json:"trigger"`
	Actions        []Action  `json:"actions"`
	Priority       int       `json:"priority"`
	Active         bool      `json:"isActive"`
	ExecutionCount int64     `json:"executionCount"`
	LastExecuted   time.Time `json:"lastExecuted,omitzero"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Clone returns a copy of the rule with its own actions slice. Condition and
// config maps are shared; they are treated as immutable once a rule is stored.
func (r *Rule) Clone() *Rule {
	c := *r
	c.Actions = make([]Action, len(r.Actions))
	copy(c.Actions, r.Actions)
	return &c
}

// RulePatch is a partial rule update. Nil fields are left unchanged; a nil
// Actions slice keeps the existing actions.
type RulePatch struct {
	Name     *string  `json:"name,omitempty"`
	Scope    *Scope   `json:"scope,omitempty"`
	TenantID *string  `json:"tenantId,omitempty"`
	Trigger  *Trigger `json:"trigger,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
	Priority *int     `json:"priority,omitempty"`
	Active   *bool    `json:"isActive,omitempty"`
}

// Execution outcome statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Outcome is the result of one rule execution attempt. ExecutionID is unique
// per attempt (rule ID plus timestamp). Status is FAILED only when the
// pre-action bookkeeping failed before any action ran; action-level failures
// are logged and do not fail the rule.
type Outcome struct {
	RuleID      string    `json:"ruleId"`
	ExecutionID string    `json:"executionId"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Err         error     `json:"-"`
}

// Stats is a point-in-time snapshot of engine counters. The counters
// increment once per ProcessEvent call, not once per rule.
type Stats struct {
	TotalExecutions        int64   `json:"totalExecutions"`
	SuccessfulExecutions   int64   `json:"successfulExecutions"`
	FailedExecutions       int64   `json:"failedExecutions"`
	AverageExecutionTimeMs float64 `json:"averageExecutionTimeMs"`
	ActiveRules            int     `json:"activeRules"`
	Running                bool    `json:"isRunning"`
	QueueLength            int     `json:"queueLength"`
}

// Well-known event context keys. The context is ambient request metadata
// accompanying an event; it is not part of the domain payload.
const (
	ContextTenantID = "tenantId"
	ContextUserID   = "userId"
)

// contextString reads a string value from an event context map.
func contextString(evCtx map[string]any, key string) string {
	s, _ := evCtx[key].(string)
	return s
}
