package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onCreditsGranted      []OnCreditsGranted
	onCreditsAllocated    []OnCreditsAllocated
	onCreditsConsumed     []OnCreditsConsumed
	onCreditsTransferred  []OnCreditsTransferred
	onPoolsExpired        []OnPoolsExpired
	onInsufficientCredits []OnInsufficientCredits
	onAccountDisabled     []OnAccountDisabled
	onEventPublished      []OnEventPublished
	onEventFailed         []OnEventFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnCreditsGranted); ok {
		r.onCreditsGranted = append(r.onCreditsGranted, v)
	}
	if v, ok := p.(OnCreditsAllocated); ok {
		r.onCreditsAllocated = append(r.onCreditsAllocated, v)
	}
	if v, ok := p.(OnCreditsConsumed); ok {
		r.onCreditsConsumed = append(r.onCreditsConsumed, v)
	}
	if v, ok := p.(OnCreditsTransferred); ok {
		r.onCreditsTransferred = append(r.onCreditsTransferred, v)
	}
	if v, ok := p.(OnPoolsExpired); ok {
		r.onPoolsExpired = append(r.onPoolsExpired, v)
	}
	if v, ok := p.(OnInsufficientCredits); ok {
		r.onInsufficientCredits = append(r.onInsufficientCredits, v)
	}
	if v, ok := p.(OnAccountDisabled); ok {
		r.onAccountDisabled = append(r.onAccountDisabled, v)
	}
	if v, ok := p.(OnEventPublished); ok {
		r.onEventPublished = append(r.onEventPublished, v)
	}
	if v, ok := p.(OnEventFailed); ok {
		r.onEventFailed = append(r.onEventFailed, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnCreditsGranted)(nil)).Elem(), "OnCreditsGranted")
	checkInterface(reflect.TypeOf((*OnCreditsAllocated)(nil)).Elem(), "OnCreditsAllocated")
	checkInterface(reflect.TypeOf((*OnCreditsConsumed)(nil)).Elem(), "OnCreditsConsumed")
	checkInterface(reflect.TypeOf((*OnCreditsTransferred)(nil)).Elem(), "OnCreditsTransferred")
	checkInterface(reflect.TypeOf((*OnPoolsExpired)(nil)).Elem(), "OnPoolsExpired")
	checkInterface(reflect.TypeOf((*OnInsufficientCredits)(nil)).Elem(), "OnInsufficientCredits")
	checkInterface(reflect.TypeOf((*OnAccountDisabled)(nil)).Elem(), "OnAccountDisabled")
	checkInterface(reflect.TypeOf((*OnEventPublished)(nil)).Elem(), "OnEventPublished")
	checkInterface(reflect.TypeOf((*OnEventFailed)(nil)).Elem(), "OnEventFailed")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsGranted emits a credits granted event.
func (r *Registry) EmitCreditsGranted(ctx context.Context, grant interface{}) {
	r.mu.RLock()
	plugins := r.onCreditsGranted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsGranted(ctx, grant)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsGranted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsAllocated emits a credits allocated event.
func (r *Registry) EmitCreditsAllocated(ctx context.Context, result interface{}) {
	r.mu.RLock()
	plugins := r.onCreditsAllocated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsAllocated(ctx, result)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsAllocated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsConsumed emits a credits consumed event.
func (r *Registry) EmitCreditsConsumed(ctx context.Context, result interface{}) {
	r.mu.RLock()
	plugins := r.onCreditsConsumed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsConsumed(ctx, result)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsConsumed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsTransferred emits a credits transferred event.
func (r *Registry) EmitCreditsTransferred(ctx context.Context, result interface{}) {
	r.mu.RLock()
	plugins := r.onCreditsTransferred
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsTransferred(ctx, result)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsTransferred failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPoolsExpired emits a pools expired event after a sweep pass.
func (r *Registry) EmitPoolsExpired(ctx context.Context, sweptCount int, amountRetired int64) {
	r.mu.RLock()
	plugins := r.onPoolsExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPoolsExpired(ctx, sweptCount, amountRetired)
		}); err != nil {
			r.logger.Warn("plugin OnPoolsExpired failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInsufficientCredits emits an insufficient credits event.
func (r *Registry) EmitInsufficientCredits(ctx context.Context, tenantID, entityID string, requested, available int64) {
	r.mu.RLock()
	plugins := r.onInsufficientCredits
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInsufficientCredits(ctx, tenantID, entityID, requested, available)
		}); err != nil {
			r.logger.Warn("plugin OnInsufficientCredits failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitAccountDisabled emits an account disabled event.
func (r *Registry) EmitAccountDisabled(ctx context.Context, tenantID, entityID string) {
	r.mu.RLock()
	plugins := r.onAccountDisabled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnAccountDisabled(ctx, tenantID, entityID)
		}); err != nil {
			r.logger.Warn("plugin OnAccountDisabled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventPublished emits an outbox event published notification.
func (r *Registry) EmitEventPublished(ctx context.Context, event interface{}) {
	r.mu.RLock()
	plugins := r.onEventPublished
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventPublished(ctx, event)
		}); err != nil {
			r.logger.Warn("plugin OnEventPublished failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventFailed emits an outbox event delivery failure notification.
func (r *Registry) EmitEventFailed(ctx context.Context, event interface{}, cause error) {
	r.mu.RLock()
	plugins := r.onEventFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventFailed(ctx, event, cause)
		}); err != nil {
			r.logger.Warn("plugin OnEventFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the credit pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
