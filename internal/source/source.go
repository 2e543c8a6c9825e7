// Package source provides the two reminder providers: a credential-gated
// adapter for medicine-linked reminders and an open adapter for standalone
// reminders.
package source

import (
	"context"
	"time"

	"github.com/dukerupert/dosekeeper/internal/model"
	"github.com/dukerupert/dosekeeper/internal/session"
)

// Batch is the result of one List call.
type Batch struct {
	Kind      model.SourceKind
	Reminders []model.Reminder
	// Confirmed is set when the records come from a successful backend fetch
	// (or from the local store when it is the source of truth).
	Confirmed bool
	// Refused is set when the session does not allow reading this source.
	Refused bool
}

// Adapter is the shared contract of both providers.
type Adapter interface {
	Kind() model.SourceKind
	List(ctx context.Context) (Batch, error)
	Create(ctx context.Context, r model.Reminder) (model.Reminder, error)
	Update(ctx context.Context, r model.Reminder) (model.Reminder, error)
	Delete(ctx context.Context, id string) error
	Toggle(ctx context.Context, id string, active bool) (model.Reminder, error)
	Record(ctx context.Context, id string, action model.Action, at time.Time) (model.Reminder, error)
}

// Cache is the local copy an adapter keeps of its records.
type Cache interface {
	Load() ([]model.Reminder, error)
	Get(id string) (model.Reminder, bool, error)
	Put(r model.Reminder) error
	Delete(id string) error
	Replace(reminders []model.Reminder) error
	Clear() error
}

// Authorizer is the part of the session guard the gated adapter needs.
type Authorizer interface {
	Authorize(ctx context.Context, op session.Operation) error
	Token() (string, bool)
}

// LinkedBackend is the remote collaborator for medicine-linked reminders.
// Every call carries the session token.
type LinkedBackend interface {
	ListLinked(ctx context.Context, token string) ([]model.Reminder, error)
	ListMedicines(ctx context.Context, token string) ([]model.Medicine, error)
	CreateLinked(ctx context.Context, token string, r model.Reminder) (model.Reminder, error)
	UpdateLinked(ctx context.Context, token string, r model.Reminder) (model.Reminder, error)
	DeleteLinked(ctx context.Context, token string, id string) error
	ToggleLinked(ctx context.Context, token string, id string, active bool) (model.Reminder, error)
	RecordLinked(ctx context.Context, token string, id string, action model.Action, at time.Time) (model.Reminder, error)
}

// StandaloneBackend is the remote collaborator for standalone reminders.
type StandaloneBackend interface {
	ListStandalone(ctx context.Context) ([]model.Reminder, error)
	CreateStandalone(ctx context.Context, r model.Reminder) (model.Reminder, error)
	UpdateStandalone(ctx context.Context, r model.Reminder) (model.Reminder, error)
	DeleteStandalone(ctx context.Context, id string) error
	ToggleStandalone(ctx context.Context, id string, active bool) (model.Reminder, error)
	RecordStandalone(ctx context.Context, id string, action model.Action, at time.Time) (model.Reminder, error)
}

func tag(rs []model.Reminder, kind model.SourceKind) []model.Reminder {
	for i := range rs {
		rs[i].Kind = kind
	}
	return rs
}
