/*
store.go - Persistence contract for items, events, requests and the ledger

PURPOSE:
  Defines the interface between the engine and the database. The engine owns
  every business rule; a Store only persists rows, hands out row locks and
  enforces uniqueness.

APPEND-ONLY CONTRACT:
  Ledger entries are written with AppendEntries and read with Entries.
  There is no update or delete for them. UpdateStock is the only writer of
  an item's stock account and is called only by the engine, in the same
  transaction that appends the entries causing the change.

LOCKING:
  LockItems / LockRequest / LockRequests return rows that stay exclusively
  locked until the enclosing WithTx returns. Callers lock requests before
  items, each set in ascending ID order, so overlapping operations never wait
  on each other in a cycle.

IMPLEMENTATIONS:
  - inventory/store/memory.go: in-memory, for tests and demos
  - store/sqlstore/sqlstore.go: SQLite and PostgreSQL
*/
package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Items
	InsertItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, id ItemID) (*Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	// DeleteItem removes the item and any request for it.
	DeleteItem(ctx context.Context, id ItemID) error
	// LockItems locks the given items in ascending ID order. A missing item
	// yields a NotFoundError.
	LockItems(ctx context.Context, ids []ItemID) (map[ItemID]*Item, error)
	UpdateStock(ctx context.Context, id ItemID, quantity int64, value decimal.Decimal) error

	// Events
	InsertEvent(ctx context.Context, event Event) error // ErrConflict on duplicate (name, date)
	GetEvent(ctx context.Context, id EventID) (*Event, error)
	// LockEvent is GetEvent with a row lock. Status changes, deletion and
	// allocations to the event serialize on it.
	LockEvent(ctx context.Context, id EventID) (*Event, error)
	// ListEvents returns events newest date first. An empty status lists all.
	ListEvents(ctx context.Context, status EventStatus) ([]Event, error)
	UpdateEventStatus(ctx context.Context, id EventID, status EventStatus) error
	// DeleteEvent removes the event and its requests. Ledger entries keep
	// their event reference.
	DeleteEvent(ctx context.Context, id EventID) error

	// Requests
	InsertRequest(ctx context.Context, req Request) error // ErrConflict on duplicate (event, item)
	GetRequest(ctx context.Context, id RequestID) (*Request, error)
	// FindRequest returns nil, nil when the pair has no request.
	FindRequest(ctx context.Context, eventID EventID, itemID ItemID) (*Request, error)
	// LockRequest is FindRequest with a row lock.
	LockRequest(ctx context.Context, eventID EventID, itemID ItemID) (*Request, error)
	LockRequests(ctx context.Context, ids []RequestID) (map[RequestID]*Request, error)
	// ListRequests returns requests in creation order. An empty event lists all.
	ListRequests(ctx context.Context, eventID EventID) ([]Request, error)
	UpdateRequest(ctx context.Context, req Request) error
	DeleteRequest(ctx context.Context, id RequestID) error

	// Ledger
	// AppendEntries persists entries atomically and sets their Seq.
	AppendEntries(ctx context.Context, entries []LedgerEntry) error
	// Entries returns matching entries ordered by timestamp, then sequence.
	Entries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)
	HasEntries(ctx context.Context, itemID ItemID) (bool, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// EntryFilter selects ledger entries. Zero fields match everything.
type EntryFilter struct {
	ItemID  ItemID
	EventID EventID
	Kinds   []Kind
}

func (f EntryFilter) Match(e LedgerEntry) bool {
	if f.ItemID != "" && e.ItemID != f.ItemID {
		return false
	}
	if f.EventID != "" && e.EventID != f.EventID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if e.Kind == k {
			return true
		}
	}
	return false
}
