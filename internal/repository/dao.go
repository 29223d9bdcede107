package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketstore/internal/database"
	"marketstore/internal/model"

	"github.com/google/uuid"
)

var (
	// ErrImmutable is returned when rewriting an append-only entity.
	ErrImmutable = errors.New("entity is append-only")
	// ErrUnknownField is returned by Update for a field the entity does not have.
	ErrUnknownField = errors.New("unknown field")
	// ErrNotFound is returned when the row to change is missing or was
	// already consumed.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported is returned for an operation an entity does not offer.
	ErrUnsupported = errors.New("operation not supported")
)

// Dao is the uniform data access contract every entity store implements.
type Dao[T any] interface {
	// Get loads the value keyed by id. found is false when nothing is stored.
	Get(ctx context.Context, id uuid.UUID) (value T, found bool, err error)
	GetAll(ctx context.Context) ([]T, error)
	// Save inserts or replaces v, so retried writes are harmless.
	Save(ctx context.Context, v T) error
	// Update rewrites only the named fields of v.
	Update(ctx context.Context, v T, fields ...string) error
	Delete(ctx context.Context, v T) error
	// DeleteSpecific removes the part of v picked by selector.
	DeleteSpecific(ctx context.Context, v T, selector any) error
}

// Statement names the statements a relational Dao can produce.
type Statement int

const (
	StmtInsert Statement = iota
	StmtUpdate
	StmtDelete
	StmtDeleteSpecific
	StmtSelectOne
	StmtSelectAll
)

func (s Statement) String() string {
	switch s {
	case StmtInsert:
		return "insert"
	case StmtUpdate:
		return "update"
	case StmtDelete:
		return "delete"
	case StmtDeleteSpecific:
		return "delete-specific"
	case StmtSelectOne:
		return "select-one"
	case StmtSelectAll:
		return "select-all"
	}
	return fmt.Sprintf("statement(%d)", int(s))
}

// SQLDao exposes the statement text of a relational Dao and the binding of
// its persisted row shape R. Statement text is the only part that differs
// between dialects.
type SQLDao[R any] interface {
	SQL(Statement) string
	Bind(row R) ([]any, error)
}

// Entity tags a persisted entity type in the Registry.
type Entity int

const (
	EntityListing Entity = iota + 1
	EntityCollectionBox
	EntityExpiredItems
	EntityHistory
)

func (e Entity) String() string {
	switch e {
	case EntityListing:
		return "listing"
	case EntityCollectionBox:
		return "collection_box"
	case EntityExpiredItems:
		return "expired_items"
	case EntityHistory:
		return "history"
	}
	return fmt.Sprintf("entity(%d)", int(e))
}

// ConfigError reports a deployment defect such as a missing Dao.
type ConfigError struct {
	Entity Entity
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dao registry: %s: %s", e.Entity, e.Reason)
}

// Registry maps entity tags to their Dao for the process lifetime.
type Registry struct {
	mu   sync.RWMutex
	daos map[Entity]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{daos: make(map[Entity]any)}
}

// Register binds dao to e, replacing any previous binding.
func Register[T any](r *Registry, e Entity, dao Dao[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.daos[e] = dao
}

// Find returns the Dao bound to e.
func Find[T any](r *Registry, e Entity) (Dao[T], error) {
	r.mu.RLock()
	v, ok := r.daos[e]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Entity: e, Reason: "no dao registered"}
	}
	dao, ok := v.(Dao[T])
	if !ok {
		return nil, &ConfigError{Entity: e, Reason: fmt.Sprintf("registered dao has type %T", v)}
	}
	return dao, nil
}

// Lookup is Find for callers that treat a missing Dao as a programming
// error. It panics with a *ConfigError.
func Lookup[T any](r *Registry, e Entity) Dao[T] {
	dao, err := Find[T](r, e)
	if err != nil {
		panic(err)
	}
	return dao
}

// Entities lists the registered tags.
func (r *Registry) Entities() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entity, 0, len(r.daos))
	for e := range r.daos {
		out = append(out, e)
	}
	return out
}

// DataHandler is the backend-neutral entry point to the store.
type DataHandler interface {
	Type() database.DatabaseType
	Registry() *Registry
	Listings() Dao[model.Listing]
	CollectionBoxes() Dao[model.CollectionBox]
	ExpiredItems() Dao[model.ExpiredItems]
	History() Dao[model.History]
	// Cull deletes collected container rows last updated before olderThan.
	Cull(ctx context.Context, olderThan time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// itemSelector resolves the DeleteSpecific selector of a container to an item id.
func itemSelector(selector any) (uuid.UUID, error) {
	switch s := selector.(type) {
	case uuid.UUID:
		return s, nil
	case model.CollectableItem:
		return s.ID, nil
	case *model.CollectableItem:
		return s.ID, nil
	}
	return uuid.Nil, fmt.Errorf("%w: selector %T", ErrUnsupported, selector)
}
