// Package plugin provides an extensible plugin system for the credit engine.
// Plugins can hook into ledger lifecycle events to extend functionality.
package plugin

import "context"

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ledger mutation hooks
// ──────────────────────────────────────────────────

// OnCreditsGranted is called after credits are added to an account.
type OnCreditsGranted interface {
	Plugin
	OnCreditsGranted(ctx context.Context, grant interface{}) error
}

// OnCreditsAllocated is called after credits are allocated to an application.
type OnCreditsAllocated interface {
	Plugin
	OnCreditsAllocated(ctx context.Context, result interface{}) error
}

// OnCreditsConsumed is called after a successful consumption.
type OnCreditsConsumed interface {
	Plugin
	OnCreditsConsumed(ctx context.Context, result interface{}) error
}

// OnCreditsTransferred is called after a successful transfer.
type OnCreditsTransferred interface {
	Plugin
	OnCreditsTransferred(ctx context.Context, result interface{}) error
}

// OnPoolsExpired is called after an expiry sweep retires pools.
// amountRetired is in centicredits.
type OnPoolsExpired interface {
	Plugin
	OnPoolsExpired(ctx context.Context, sweptCount int, amountRetired int64) error
}

// OnInsufficientCredits is called when a consumption or transfer is
// rejected for lack of credits. Amounts are in centicredits.
type OnInsufficientCredits interface {
	Plugin
	OnInsufficientCredits(ctx context.Context, tenantID, entityID string, requested, available int64) error
}

// OnAccountDisabled is called after an account is soft-disabled.
type OnAccountDisabled interface {
	Plugin
	OnAccountDisabled(ctx context.Context, tenantID, entityID string) error
}

// ──────────────────────────────────────────────────
// Outbox hooks
// ──────────────────────────────────────────────────

// OnEventPublished is called after an outbox event reaches the publisher.
type OnEventPublished interface {
	Plugin
	OnEventPublished(ctx context.Context, event interface{}) error
}

// OnEventFailed is called when publishing an outbox event fails. The event
// stays queued and is retried on the next dispatch tick.
type OnEventFailed interface {
	Plugin
	OnEventFailed(ctx context.Context, event interface{}, err error) error
}
