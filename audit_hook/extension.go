// Package audithook bridges credit engine lifecycle events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/credits/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnCreditsGranted      = (*Extension)(nil)
	_ plugin.OnCreditsAllocated    = (*Extension)(nil)
	_ plugin.OnCreditsConsumed     = (*Extension)(nil)
	_ plugin.OnCreditsTransferred  = (*Extension)(nil)
	_ plugin.OnPoolsExpired        = (*Extension)(nil)
	_ plugin.OnInsufficientCredits = (*Extension)(nil)
	_ plugin.OnAccountDisabled     = (*Extension)(nil)
	_ plugin.OnEventFailed         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges credit engine lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ledger mutation hooks
// ──────────────────────────────────────────────────

// OnCreditsGranted implements plugin.OnCreditsGranted.
func (e *Extension) OnCreditsGranted(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionCreditsGranted, SeverityInfo, OutcomeSuccess,
		ResourcePool, "", CategoryLedger, nil,
		"event", "credits_granted",
	)
}

// OnCreditsAllocated implements plugin.OnCreditsAllocated.
func (e *Extension) OnCreditsAllocated(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionCreditsAllocated, SeverityInfo, OutcomeSuccess,
		ResourceAllocation, "", CategoryLedger, nil,
		"event", "credits_allocated",
	)
}

// OnCreditsConsumed implements plugin.OnCreditsConsumed.
func (e *Extension) OnCreditsConsumed(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionCreditsConsumed, SeverityInfo, OutcomeSuccess,
		ResourceAccount, "", CategoryLedger, nil,
		"event", "credits_consumed",
	)
}

// OnCreditsTransferred implements plugin.OnCreditsTransferred.
func (e *Extension) OnCreditsTransferred(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionCreditsTransferred, SeverityInfo, OutcomeSuccess,
		ResourceTransfer, "", CategoryLedger, nil,
		"event", "credits_transferred",
	)
}

// OnPoolsExpired implements plugin.OnPoolsExpired.
func (e *Extension) OnPoolsExpired(ctx context.Context, sweptCount int, amountRetired int64) error {
	return e.record(ctx, ActionPoolsExpired, SeverityInfo, OutcomeSuccess,
		ResourcePool, "", CategoryLedger, nil,
		"pools_expired", sweptCount,
		"amount_retired", amountRetired,
	)
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (e *Extension) OnInsufficientCredits(ctx context.Context, tenantID, entityID string, requested, available int64) error {
	return e.record(ctx, ActionInsufficientCredits, SeverityWarning, OutcomeFailure,
		ResourceAccount, entityID, CategoryAccess, nil,
		"tenant_id", tenantID,
		"entity_id", entityID,
		"requested", requested,
		"available", available,
	)
}

// OnAccountDisabled implements plugin.OnAccountDisabled.
func (e *Extension) OnAccountDisabled(ctx context.Context, tenantID, entityID string) error {
	return e.record(ctx, ActionAccountDisabled, SeverityWarning, OutcomeSuccess,
		ResourceAccount, entityID, CategoryAccount, nil,
		"tenant_id", tenantID,
		"entity_id", entityID,
	)
}

// OnEventFailed implements plugin.OnEventFailed.
func (e *Extension) OnEventFailed(ctx context.Context, _ interface{}, err error) error {
	return e.record(ctx, ActionEventFailed, SeverityError, OutcomeFailure,
		ResourceEvent, "", CategoryOutbox, err,
		"event", "outbox_delivery_failed",
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
