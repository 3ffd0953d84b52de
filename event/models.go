// Package event defines the outbox rows written alongside ledger mutations
// and the publisher interface that drains them.
//
// Events are inserted in the same transaction as the mutation they describe
// and dispatched asynchronously, so a slow or unavailable sink never rolls
// back or delays a committed mutation.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Type names the mutation an event describes.
type Type string

// Event types emitted by the engine.
const (
	TypeCreditsGranted     Type = "credits.granted"
	TypeCreditsAllocated   Type = "credits.allocated"
	TypeCreditsConsumed    Type = "credits.consumed"
	TypeCreditsTransferred Type = "credits.transferred"
	TypeCreditsExpired     Type = "credits.expired"
	TypeAccountDisabled    Type = "account.disabled"
)

// Status is the outbox delivery state of an event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Event is one outbox row.
type Event struct {
	types.Entity

	ID          id.EventID      `json:"id"`
	TenantID    string          `json:"tenant_id"`
	EntityID    string          `json:"entity_id"`
	Type        Type            `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}

// New creates a pending event. The payload is marshaled eagerly so a
// non-serializable payload fails the mutation, not the dispatcher.
func New(tenantID, entityID string, typ Type, payload any) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Event{
		Entity:   types.NewEntity(),
		ID:       id.NewEventID(),
		TenantID: tenantID,
		EntityID: entityID,
		Type:     typ,
		Payload:  raw,
		Status:   StatusPending,
	}, nil
}

// Publisher is the fire-and-forget sink notified of committed mutations.
// Implementations wrap whatever transport the host application uses; the
// engine only requires that Publish be safe to call repeatedly for the
// same event (delivery is at-least-once).
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// PublisherFunc adapts a plain function to the Publisher interface.
type PublisherFunc func(ctx context.Context, e *Event) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, e *Event) error { return f(ctx, e) }

// Discard is a Publisher that drops every event. Useful in tests and in
// deployments that rely solely on plugin hooks.
var Discard Publisher = PublisherFunc(func(context.Context, *Event) error { return nil })
