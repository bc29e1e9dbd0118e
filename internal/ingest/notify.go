package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/docscan/internal/storage"
)

// Event describes a change to a document made by the pipeline.
type Event struct {
	UserID     uuid.UUID         `json:"user_id"`
	DocumentID uuid.UUID         `json:"document_id"`
	Status     storage.OCRStatus `json:"status,omitempty"`
	Error      string            `json:"error,omitempty"`
	Deleted    bool              `json:"deleted,omitempty"`
	At         time.Time         `json:"at"`
}

// Notifier observes pipeline events. Implementations must not block for long;
// they run inline with extraction.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Notifiers fans an event out to every member in order.
type Notifiers []Notifier

// Notify calls each notifier.
func (ns Notifiers) Notify(ctx context.Context, ev Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}
