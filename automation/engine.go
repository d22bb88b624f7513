// Package automation implements the platform's event-driven rule engine: it
// matches incoming domain events against persisted rules scoped platform-wide
// or to a single tenant, evaluates per-rule conditions against the event
// payload, and executes each matched rule's ordered action list through
// pluggable collaborators.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultActionTimeout = 30 * time.Second
	defaultGracePeriod   = 5 * time.Second
)

// Engine is an explicit instance with injected collaborators; there is no
// package-level singleton, so tests and multi-engine deployments stay
// isolated.
type Engine struct {
	store PersistentRuleStore
	cache *ruleCache
	queue *eventQueue
	stats *statsCollector

	log     *slog.Logger
	metrics *Metrics

	notifier Notifier
	emailer  EmailSender
	audit    AuditSink
	webhooks WebhookCaller
	statuses StatusUpdater
	tasks    TaskCreator
	features FeatureGate

	handlersMu sync.RWMutex
	handlers   map[string]ActionHandler

	actionTimeout time.Duration
	gracePeriod   time.Duration

	lifecycleMu sync.Mutex
	running     atomic.Bool
	inFlight    sync.WaitGroup
	drainCancel context.CancelFunc
	drainDone   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics attaches Prometheus collectors to the engine.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier sets the notification delivery collaborator.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithEmailSender sets the email delivery collaborator.
func WithEmailSender(s EmailSender) Option {
	return func(e *Engine) { e.emailer = s }
}

// WithAuditSink sets the execution audit trail collaborator.
func WithAuditSink(a AuditSink) Option {
	return func(e *Engine) { e.audit = a }
}

// WithWebhookCaller sets the outbound webhook collaborator.
func WithWebhookCaller(w WebhookCaller) Option {
	return func(e *Engine) { e.webhooks = w }
}

// WithStatusUpdater sets the entity status collaborator.
func WithStatusUpdater(s StatusUpdater) Option {
	return func(e *Engine) { e.statuses = s }
}

// WithTaskCreator sets the task collaborator.
func WithTaskCreator(t TaskCreator) Option {
	return func(e *Engine) { e.tasks = t }
}

// WithFeatureGate sets the feature lock/unlock collaborator.
func WithFeatureGate(f FeatureGate) Option {
	return func(e *Engine) { e.features = f }
}

// WithActionTimeout bounds each action handler invocation.
func WithActionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.actionTimeout = d
		}
	}
}

// WithStopGracePeriod bounds how long Stop waits for in-flight dispatches.
func WithStopGracePeriod(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.gracePeriod = d
		}
	}
}

// New creates an engine over the given persistent store. The engine starts
// stopped; call Start to load active rules and begin accepting events.
func New(store PersistentRuleStore, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		cache:         newRuleCache(),
		queue:         newEventQueue(),
		stats:         &statsCollector{},
		log:           slog.Default(),
		actionTimeout: defaultActionTimeout,
		gracePeriod:   defaultGracePeriod,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.handlers = builtinHandlers(e)
	return e
}

// Start loads active rules into the cache and begins draining the execution
// queue. A failed rule load is logged and non-fatal: the engine runs with
// whatever loaded successfully. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.running.Load() {
		return
	}

	if err := e.LoadActiveRules(ctx); err != nil {
		e.log.Error("failed to load active rules on start", "error", err)
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	e.drainCancel = cancel
	e.drainDone = make(chan struct{})
	e.running.Store(true)
	go e.drainQueue(drainCtx, e.drainDone)

	e.log.Info("automation engine started", "activeRules", e.cache.activeCount())
}

// Stop refuses new work and waits up to the grace period for in-flight
// dispatches to finish. Already-running rule executions are never cancelled
// abruptly; events enqueued while stopped remain buffered for the next Start.
func (e *Engine) Stop(ctx context.Context) {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.running.Load() {
		return
	}

	e.running.Store(false)
	e.drainCancel()

	done := make(chan struct{})
	go func() {
		<-e.drainDone
		e.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.gracePeriod):
		e.log.Warn("stop grace period elapsed with executions still in flight")
	case <-ctx.Done():
		e.log.Warn("stop cancelled with executions still in flight")
	}

	e.log.Info("automation engine stopped")
}

// LoadActiveRules rebuilds the cache wholesale from the persistent store. On
// error the existing cache is left untouched.
func (e *Engine) LoadActiveRules(ctx context.Context) error {
	rules, err := e.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("loading active rules: %w", err)
	}

	e.cache.replaceAll(rules)
	e.updateRuleGauge()
	e.log.Info("rule cache rebuilt", "rules", len(rules))
	return nil
}

// RegisterRule validates a rule definition, persists it, and inserts it into
// the cache. A missing ID is generated. Validation failures surface as a
// *ValidationError before anything is persisted.
func (e *Engine) RegisterRule(ctx context.Context, def Rule) (*Rule, error) {
	rule := def.Clone()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Priority == 0 {
		rule.Priority = 1
	}

	if err := validateRule(rule); err != nil {
		return nil, err
	}

	if err := e.store.Insert(ctx, rule); err != nil {
		return nil, fmt.Errorf("persisting rule: %w", err)
	}

	e.cache.set(rule.Clone())
	e.updateRuleGauge()
	e.log.Info("rule registered", "ruleId", rule.ID, "name", rule.Name, "scope", rule.Scope)
	return rule, nil
}

// UpdateRule merges a patch into the persisted rule and replaces the cache
// entry. Returns ErrRuleNotFound without mutating anything when the rule does
// not exist.
func (e *Engine) UpdateRule(ctx context.Context, id string, patch RulePatch) (*Rule, error) {
	existing, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := applyPatch(existing, patch)
	if err := validateRule(merged); err != nil {
		return nil, err
	}

	if err := e.store.Update(ctx, merged); err != nil {
		return nil, fmt.Errorf("persisting rule update: %w", err)
	}

	e.cache.set(merged.Clone())
	e.updateRuleGauge()
	e.log.Info("rule updated", "ruleId", id)
	return merged, nil
}

// DeleteRule removes a rule from the store and evicts it from the cache.
// Deleting a missing rule is not an error.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting rule: %w", err)
	}

	e.cache.delete(id)
	e.updateRuleGauge()
	e.log.Info("rule deleted", "ruleId", id)
	return nil
}

// Rule fetches a single rule from the persistent store.
func (e *Engine) Rule(ctx context.Context, id string) (*Rule, error) {
	return e.store.Get(ctx, id)
}

// Rules returns a read-only snapshot of cached active rules, optionally
// filtered by scope and tenant. It never mutates engine state.
func (e *Engine) Rules(scope Scope, tenantID string) []*Rule {
	var out []*Rule
	for _, rule := range e.cache.snapshot() {
		if !rule.Active {
			continue
		}
		if scope != "" && rule.Scope != scope {
			continue
		}
		if tenantID != "" && rule.TenantID != tenantID {
			continue
		}
		out = append(out, rule.Clone())
	}
	return out
}

// Stats returns a snapshot of the engine's aggregate counters.
func (e *Engine) Stats() Stats {
	total, succeeded, failed, averageMs := e.stats.snapshot()
	return Stats{
		TotalExecutions:        total,
		SuccessfulExecutions:   succeeded,
		FailedExecutions:       failed,
		AverageExecutionTimeMs: averageMs,
		ActiveRules:            e.cache.activeCount(),
		Running:                e.running.Load(),
		QueueLength:            e.queue.length(),
	}
}

// ProcessEvent matches the event against cached rules and executes every
// match sequentially in priority order. It is fire-and-forget from the
// caller's perspective: errors inside rule executions are logged and
// audited, never returned. Safe for concurrent callers; each call is an
// independent dispatch.
func (e *Engine) ProcessEvent(ctx context.Context, eventType string, eventData, evCtx map[string]any) {
	if !e.running.Load() {
		e.log.Info("engine stopped, dropping event", "eventType", eventType)
		return
	}
	e.dispatch(ctx, eventType, eventData, evCtx)
}

// dispatch runs one matching pass. The drain loop calls it directly so an
// already-dequeued item still executes when Stop flips the running flag
// mid-dispatch.
func (e *Engine) dispatch(ctx context.Context, eventType string, eventData, evCtx map[string]any) {
	e.inFlight.Add(1)
	defer e.inFlight.Done()

	start := time.Now()
	matched := e.matchRules(eventType, eventData, evCtx)

	anyFailed := false
	for _, rule := range matched {
		outcome := e.executeRule(ctx, rule, eventData, evCtx)
		if outcome.Status == StatusFailed {
			anyFailed = true
		}
		e.reportOutcome(ctx, rule, eventData, evCtx, outcome)
	}

	elapsed := time.Since(start)
	e.stats.record(elapsed, anyFailed)

	if e.metrics != nil {
		status := StatusSuccess
		if anyFailed {
			status = StatusFailed
		}
		e.metrics.EventsProcessed.WithLabelValues(eventType, status).Inc()
		e.metrics.ProcessingDuration.Observe(elapsed.Seconds())
	}

	e.log.Debug("event dispatched",
		"eventType", eventType, "matchedRules", len(matched), "elapsed", elapsed)
}

// Enqueue buffers an event for deferred dispatch. Producers may enqueue
// regardless of engine run state; the drain loop feeds items to ProcessEvent
// one at a time while the engine is running.
func (e *Engine) Enqueue(eventType string, eventData, evCtx map[string]any) {
	e.queue.enqueue(queuedEvent{
		eventType: eventType,
		eventData: eventData,
		context:   evCtx,
	})
	if e.metrics != nil {
		e.metrics.QueueDepth.Set(float64(e.queue.length()))
	}
}

// matchRules selects active cached rules whose event type, scope, and
// conditions all match, ordered by priority descending. The sort is stable:
// equal-priority rules keep their cache insertion order, which makes
// dispatch order deterministic.
func (e *Engine) matchRules(eventType string, eventData, evCtx map[string]any) []*Rule {
	var matched []*Rule
	for _, rule := range e.cache.snapshot() {
		if !rule.Active || rule.Trigger.EventType != eventType {
			continue
		}
		if !scopeMatches(rule, evCtx) {
			continue
		}
		if !evaluateConditions(rule.Trigger.Conditions, eventData, evCtx) {
			continue
		}
		matched = append(matched, rule)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})
	return matched
}

// scopeMatches applies the tenancy filter: platform rules match everything,
// tenant rules only an exact tenant ID match from the event context.
func scopeMatches(rule *Rule, evCtx map[string]any) bool {
	switch rule.Scope {
	case ScopePlatform:
		return true
	case ScopeTenant:
		return rule.TenantID != "" && rule.TenantID == contextString(evCtx, ContextTenantID)
	default:
		return false
	}
}

// reportOutcome feeds one execution outcome to the metrics and the audit
// sink. Audit failures are swallowed with a warning; they never count as
// execution failures.
func (e *Engine) reportOutcome(ctx context.Context, rule *Rule, eventData, evCtx map[string]any, outcome Outcome) {
	if e.metrics != nil {
		e.metrics.RuleExecutions.WithLabelValues(outcome.Status).Inc()
	}

	if e.audit == nil {
		return
	}
	err := e.audit.LogExecution(ctx, ExecutionRecord{
		Rule:        rule,
		EventData:   eventData,
		Context:     evCtx,
		Status:      outcome.Status,
		ExecutionID: outcome.ExecutionID,
		Err:         outcome.Err,
	})
	if err != nil {
		e.log.Warn("audit sink failed", "ruleId", rule.ID, "executionId", outcome.ExecutionID, "error", err)
	}
}

// drainQueue pops one buffered event at a time and processes it fully before
// taking the next. It blocks on the queue's signal channel rather than
// polling. Cancellation only interrupts the idle wait: a dequeued item runs
// under its own context, so Stop's grace period governs the dispatch instead
// of aborting it mid-action.
func (e *Engine) drainQueue(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		item, ok := e.queue.tryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-e.queue.wait():
				continue
			}
		}

		if e.metrics != nil {
			e.metrics.QueueDepth.Set(float64(e.queue.length()))
		}
		e.dispatch(context.Background(), item.eventType, item.eventData, item.context)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (e *Engine) updateRuleGauge() {
	if e.metrics != nil {
		e.metrics.ActiveRules.Set(float64(e.cache.activeCount()))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound)
}
