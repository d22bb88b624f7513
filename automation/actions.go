package automation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ActionHandler performs one action's side effect. Handlers receive the
// matched rule, the action definition, and the event payload/context for
// interpolation. Returned errors are logged and isolated per action; they do
// not fail the rule or stop later actions.
type ActionHandler func(ctx context.Context, rule *Rule, action Action, eventData, evCtx map[string]any) error

// RegisterHandler attaches a handler for a custom action type, replacing any
// existing handler for that type. Builtin types can be overridden the same
// way.
func (e *Engine) RegisterHandler(actionType string, handler ActionHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[actionType] = handler
}

func (e *Engine) handlerFor(actionType string) ActionHandler {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	return e.handlers[actionType]
}

func builtinHandlers(e *Engine) map[string]ActionHandler {
	return map[string]ActionHandler{
		ActionSendNotification: e.handleSendNotification,
		ActionSendEmail:        e.handleSendEmail,
		ActionUpdateStatus:     e.handleUpdateStatus,
		ActionTriggerWebhook:   e.handleTriggerWebhook,
		ActionCreateTask:       e.handleCreateTask,
		ActionLockFeature:      e.handleLockFeature,
		ActionUnlockFeature:    e.handleUnlockFeature,
	}
}

// executeRule runs one matched rule: record the execution in the store, then
// run each action strictly in order, isolating failures per action. The
// outcome is FAILED only when recording the execution fails before any action
// runs.
func (e *Engine) executeRule(ctx context.Context, rule *Rule, eventData, evCtx map[string]any) Outcome {
	now := time.Now()
	outcome := Outcome{
		RuleID:      rule.ID,
		ExecutionID: fmt.Sprintf("%s-%d", rule.ID, now.UnixNano()),
		Status:      StatusSuccess,
		Timestamp:   now,
	}

	if err := e.store.RecordExecution(ctx, rule.ID, now); err != nil {
		e.log.Error("failed to record rule execution",
			"ruleId", rule.ID, "executionId", outcome.ExecutionID, "error", err)
		outcome.Status = StatusFailed
		outcome.Err = err
		return outcome
	}
	e.cache.recordExecution(rule.ID, now)

	for i, action := range rule.Actions {
		if action.DelayMs > 0 {
			select {
			case <-time.After(time.Duration(action.DelayMs) * time.Millisecond):
			case <-ctx.Done():
				e.log.Warn("rule execution cancelled during action delay",
					"ruleId", rule.ID, "actionIndex", i)
				return outcome
			}
		}

		if err := e.runAction(ctx, rule, action, eventData, evCtx); err != nil {
			e.log.Warn("action failed",
				"ruleId", rule.ID, "actionType", action.Type, "actionIndex", i, "error", err)
		}
	}

	return outcome
}

// runAction dispatches a single action to its handler under the engine's
// action timeout. A missing handler is a warn-and-skip; a panicking handler
// is converted to an error so one bad action cannot take down a dispatch.
func (e *Engine) runAction(ctx context.Context, rule *Rule, action Action, eventData, evCtx map[string]any) (err error) {
	handler := e.handlerFor(action.Type)
	if handler == nil {
		e.log.Warn("unknown action type, skipping", "ruleId", rule.ID, "actionType", action.Type)
		return nil
	}

	actionCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action handler panicked: %v", r)
		}
	}()

	return handler(actionCtx, rule, action, eventData, evCtx)
}

// handleSendNotification fans a notification out over up to three delivery
// paths. Role broadcast and the explicit user list are independent and may
// both fire for one action; the triggering user receives the notification
// only when neither applied.
func (e *Engine) handleSendNotification(ctx context.Context, rule *Rule, action Action, eventData, evCtx map[string]any) error {
	if e.notifier == nil {
		e.log.Warn("no notifier configured, skipping notification", "ruleId", rule.ID)
		return nil
	}

	title := interpolate(configString(action.Config, "title"), eventData, evCtx)
	message := interpolate(configString(action.Config, "message"), eventData, evCtx)
	tenantID := rule.TenantID
	if tenantID == "" {
		tenantID = contextString(evCtx, ContextTenantID)
	}

	var errs []error
	delivered := false

	if role := configString(action.Config, "recipientType"); role != "" {
		delivered = true
		errs = append(errs, e.notifier.ProcessNotification(ctx, Notification{
			TenantID:      tenantID,
			RecipientRole: role,
			Title:         title,
			Message:       message,
			Data:          eventData,
		}))
	}

	if users := configStringSlice(action.Config, "targetUsers"); len(users) > 0 {
		delivered = true
		for _, userID := range users {
			errs = append(errs, e.notifier.ProcessNotification(ctx, Notification{
				TenantID: tenantID,
				UserID:   userID,
				Title:    title,
				Message:  message,
				Data:     eventData,
			}))
		}
	}

	if !delivered {
		if userID := contextString(evCtx, ContextUserID); userID != "" {
			errs = append(errs, e.notifier.ProcessNotification(ctx, Notification{
				TenantID: tenantID,
				UserID:   userID,
				Title:    title,
				Message:  message,
				Data:     eventData,
			}))
		}
	}

	return errors.Join(errs...)
}

// handleSendEmail resolves the address fields via interpolation and delivers
// through the email collaborator. An empty resolved recipient skips the send
// with a warning rather than failing the rule.
func (e *Engine) handleSendEmail(ctx context.Context, rule *Rule, action Action, eventData, evCtx map[string]any) error {
	if e.emailer == nil {
		e.log.Warn("no email sender configured, skipping email", "ruleId", rule.ID)
		return nil
	}

	to := interpolate(configString(action.Config, "to"), eventData, evCtx)
	if to == "" {
		e.log.Warn("email action resolved an empty recipient, skipping", "ruleId", rule.ID)
		return nil
	}

	return e.emailer.SendEmail(ctx, Email{
		To:      to,
		Subject: interpolate(configString(action.Config, "subject"), eventData, evCtx),
		HTML:    interpolate(configString(action.Config, "html"), eventData, evCtx),
	})
}

func (e *Engine) handleUpdateStatus(ctx context.Context, rule *Rule, action Action, eventData, evCtx map[string]any) error {
	if e.statuses == nil {
		e.log.Warn("no status updater configured, skipping status update", "ruleId", rule.ID)
		return nil
	}

	return e.statuses.UpdateStatus(ctx, StatusUpdate{
		TenantID: actionTenant(rule, evCtx),
		Entity:   configString(action.Config, "entity"),
		EntityID: interpolate(configString(action.Config, "entityId"), eventData, evCtx),
		Status:   configString(action.Config, "status"),
	})
}

func (e *Engine) handleTriggerWebhook(ctx context.Context, rule *Rule, action Action, eventData, evCtx map[string]any) error {
	if e.webhooks == nil {
		e.log.Warn("no webhook caller configured, skipping webhook", "ruleId", rule.ID)
		return nil
	}

	url := interpolate(configString(action.Config, "url"), eventData, evCtx)
	if url == "" {
		e.log.Warn("webhook action has no url, skipping", "ruleId", rule.ID)
		return nil
	}

	method := configString(action.Config, "method")
	if method == "" {
		method = "POST"
	}

	body, _ := action.Config["payload"].(map[string]any)
	if body == nil {
		body = map[string]any{
			"eventType": rule.Trigger.EventType,
			"eventData": eventData,
			"context":   evCtx,
		}
	}

	return e.webhooks.CallWebhook(ctx, WebhookCall{
		TenantID: actionTenant(rule, evCtx),
		URL:      url,
		Method:   method,
		Headers:  configStringMap(action.Config, "headers"),
		Body:     body,
	})
}

func (e *Engine) handleCreateTask(ctx context.Context, rule *Rule, action Action, eventData, evCtx map[string]any) error {
	if e.tasks == nil {
		e.log.Warn("no task creator configured, skipping task", "ruleId", rule.ID)
		return nil
	}

	return e.tasks.CreateTask(ctx, Task{
		TenantID:    actionTenant(rule, evCtx),
		Title:       interpolate(configString(action.Config, "title"), eventData, evCtx),
		Description: interpolate(configString(action.Config, "description"), eventData, evCtx),
		AssignTo:    configString(action.Config, "assignTo"),
		Data:        eventData,
	})
}

func (e *Engine) handleLockFeature(ctx context.Context, rule *Rule, action Action, eventData, evCtx map[string]any) error {
	if e.features == nil {
		e.log.Warn("no feature gate configured, skipping feature lock", "ruleId", rule.ID)
		return nil
	}

	tenantID := actionTenant(rule, evCtx)
	if tenantID == "" {
		e.log.Warn("feature lock has no tenant, skipping", "ruleId", rule.ID)
		return nil
	}

	return e.features.LockFeature(ctx, tenantID,
		configString(action.Config, "feature"),
		interpolate(configString(action.Config, "reason"), eventData, evCtx))
}

func (e *Engine) handleUnlockFeature(ctx context.Context, rule *Rule, action Action, eventData, evCtx map[string]any) error {
	if e.features == nil {
		e.log.Warn("no feature gate configured, skipping feature unlock", "ruleId", rule.ID)
		return nil
	}

	tenantID := actionTenant(rule, evCtx)
	if tenantID == "" {
		e.log.Warn("feature unlock has no tenant, skipping", "ruleId", rule.ID)
		return nil
	}

	return e.features.UnlockFeature(ctx, tenantID, configString(action.Config, "feature"))
}

// actionTenant picks the tenant an action applies to: the rule's own tenant
// for tenant-scoped rules, otherwise whatever the event context carries.
func actionTenant(rule *Rule, evCtx map[string]any) string {
	if rule.TenantID != "" {
		return rule.TenantID
	}
	return contextString(evCtx, ContextTenantID)
}

func configString(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return s
}

func configStringSlice(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func configStringMap(config map[string]any, key string) map[string]string {
	raw, ok := config[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
