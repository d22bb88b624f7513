package automation

import "context"

// The engine never delivers a side effect itself. Every action type resolves
// to one of the collaborator interfaces below; deployments inject whichever
// implementations their platform provides, and handlers whose collaborator is
// absent skip with a warning instead of failing the rule.

// Notification is one delivery request. Exactly one of UserID or
// RecipientRole is set: a user ID targets a single principal, a recipient
// role broadcasts to every principal holding that role within the tenant.
type Notification struct {
	TenantID      string         `json:"tenantId,omitempty"`
	UserID        string         `json:"userId,omitempty"`
	RecipientRole string         `json:"recipientRole,omitempty"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
}

// Notifier delivers notifications to users or role audiences.
type Notifier interface {
	ProcessNotification(ctx context.Context, n Notification) error
}

// Email is an outbound email request with already-interpolated fields.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// EmailSender delivers emails.
type EmailSender interface {
	SendEmail(ctx context.Context, e Email) error
}

// ExecutionRecord is the audit trail entry for one rule execution attempt.
type ExecutionRecord struct {
	Rule        *Rule
	EventData   map[string]any
	Context     map[string]any
	Status      string
	ExecutionID string
	Err         error
}

// AuditSink records rule execution outcomes. It is best-effort: the engine
// swallows its errors and never reports them as execution failures.
type AuditSink interface {
	LogExecution(ctx context.Context, rec ExecutionRecord) error
}

// WebhookCall is an outbound HTTP callback request.
type WebhookCall struct {
	TenantID string
	URL      string
	Method   string
	Headers  map[string]string
	Body     map[string]any
}

// WebhookCaller performs outbound webhook calls.
type WebhookCaller interface {
	CallWebhook(ctx context.Context, call WebhookCall) error
}

// StatusUpdate changes the status field of a domain entity.
type StatusUpdate struct {
	TenantID string
	Entity   string
	EntityID string
	Status   string
}

// StatusUpdater applies entity status changes.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, update StatusUpdate) error
}

// Task is a work item created for platform staff.
type Task struct {
	TenantID    string
	Title       string
	Description string
	AssignTo    string
	Data        map[string]any
}

// TaskCreator files tasks.
type TaskCreator interface {
	CreateTask(ctx context.Context, task Task) error
}

// FeatureGate locks and unlocks tenant features.
type FeatureGate interface {
	LockFeature(ctx context.Context, tenantID, feature, reason string) error
	UnlockFeature(ctx context.Context, tenantID, feature string) error
}
