// Package persist writes records through their full lifecycle: validation,
// defaults, triggers, the physical write, ownership grants, change history
// and cascading deletes.
package persist

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/kitebase/kitebase/pkg/record"
)

// Event names a lifecycle point a trigger can attach to.
type Event int

const (
	// BeforeSave runs after validation and defaults, before the write.
	BeforeSave Event = iota
	// AfterSave runs inside the save transaction, after the write.
	AfterSave
	// BeforeDelete runs before the row and its dependents are removed.
	BeforeDelete
	// AfterDelete runs inside the delete transaction, after removal.
	AfterDelete
)

// Trigger is a lifecycle hook. It runs inside the operation's transaction;
// returning an error rolls the whole operation back.
type Trigger func(ctx context.Context, tx *gorm.DB, rec *record.Record) error

// Triggers holds lifecycle hooks keyed by qualified type name.
type Triggers struct {
	mu    sync.RWMutex
	hooks map[string]map[Event][]Trigger
}

func newTriggers() *Triggers {
	return &Triggers{hooks: make(map[string]map[Event][]Trigger)}
}

// Register attaches a trigger to one event of one type. Triggers fire in
// registration order.
func (t *Triggers) Register(qualifiedName string, ev Event, fn Trigger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byEvent, ok := t.hooks[qualifiedName]
	if !ok {
		byEvent = make(map[Event][]Trigger)
		t.hooks[qualifiedName] = byEvent
	}
	byEvent[ev] = append(byEvent[ev], fn)
}

func (t *Triggers) fire(ctx context.Context, tx *gorm.DB, ev Event, rec *record.Record) error {
	t.mu.RLock()
	hooks := t.hooks[rec.Type().QualifiedName()][ev]
	t.mu.RUnlock()
	for _, fn := range hooks {
		if err := fn(ctx, tx, rec); err != nil {
			return err
		}
	}
	return nil
}
