// Package observability provides a metrics extension for the credit engine
// that records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/credits/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnCreditsGranted      = (*MetricsExtension)(nil)
	_ plugin.OnCreditsAllocated    = (*MetricsExtension)(nil)
	_ plugin.OnCreditsConsumed     = (*MetricsExtension)(nil)
	_ plugin.OnCreditsTransferred  = (*MetricsExtension)(nil)
	_ plugin.OnPoolsExpired        = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientCredits = (*MetricsExtension)(nil)
	_ plugin.OnAccountDisabled     = (*MetricsExtension)(nil)
	_ plugin.OnEventPublished      = (*MetricsExtension)(nil)
	_ plugin.OnEventFailed         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a credit engine plugin to automatically track ledger metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Grant metrics
	CreditsGranted Counter

	// Allocation metrics
	CreditsAllocated Counter

	// Consumption metrics
	CreditsConsumed     Counter
	InsufficientCredits Counter

	// Transfer metrics
	CreditsTransferred Counter

	// Expiry metrics
	PoolsExpired  Counter
	AmountRetired Histogram

	// Account metrics
	AccountsDisabled Counter

	// Outbox metrics
	EventsPublished Counter
	EventsFailed    Counter

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Grant metrics
		CreditsGranted: factory.Counter("credits.granted"),

		// Allocation metrics
		CreditsAllocated: factory.Counter("credits.allocated"),

		// Consumption metrics
		CreditsConsumed:     factory.Counter("credits.consumed"),
		InsufficientCredits: factory.Counter("credits.insufficient"),

		// Transfer metrics
		CreditsTransferred: factory.Counter("credits.transferred"),

		// Expiry metrics
		PoolsExpired:  factory.Counter("credits.pools.expired"),
		AmountRetired: factory.Histogram("credits.expiry.amount_retired"),

		// Account metrics
		AccountsDisabled: factory.Counter("credits.accounts.disabled"),

		// Outbox metrics
		EventsPublished: factory.Counter("credits.events.published"),
		EventsFailed:    factory.Counter("credits.events.failed"),

		// Error metrics
		StoreErrors:  factory.Counter("credits.store.errors"),
		PluginErrors: factory.Counter("credits.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// OnCreditsGranted implements plugin.OnCreditsGranted.
func (m *MetricsExtension) OnCreditsGranted(_ context.Context, _ interface{}) error {
	m.CreditsGranted.Inc()
	return nil
}

// OnCreditsAllocated implements plugin.OnCreditsAllocated.
func (m *MetricsExtension) OnCreditsAllocated(_ context.Context, _ interface{}) error {
	m.CreditsAllocated.Inc()
	return nil
}

// OnCreditsConsumed implements plugin.OnCreditsConsumed.
func (m *MetricsExtension) OnCreditsConsumed(_ context.Context, _ interface{}) error {
	m.CreditsConsumed.Inc()
	return nil
}

// OnCreditsTransferred implements plugin.OnCreditsTransferred.
func (m *MetricsExtension) OnCreditsTransferred(_ context.Context, _ interface{}) error {
	m.CreditsTransferred.Inc()
	return nil
}

// OnPoolsExpired implements plugin.OnPoolsExpired.
func (m *MetricsExtension) OnPoolsExpired(_ context.Context, sweptCount int, amountRetired int64) error {
	m.PoolsExpired.Add(float64(sweptCount))
	m.AmountRetired.Observe(float64(amountRetired))
	return nil
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (m *MetricsExtension) OnInsufficientCredits(_ context.Context, _, _ string, _, _ int64) error {
	m.InsufficientCredits.Inc()
	return nil
}

// OnAccountDisabled implements plugin.OnAccountDisabled.
func (m *MetricsExtension) OnAccountDisabled(_ context.Context, _, _ string) error {
	m.AccountsDisabled.Inc()
	return nil
}

// OnEventPublished implements plugin.OnEventPublished.
func (m *MetricsExtension) OnEventPublished(_ context.Context, _ interface{}) error {
	m.EventsPublished.Inc()
	return nil
}

// OnEventFailed implements plugin.OnEventFailed.
func (m *MetricsExtension) OnEventFailed(_ context.Context, _ interface{}, _ error) error {
	m.EventsFailed.Inc()
	return nil
}
