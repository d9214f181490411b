package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/event-stock/inventory"
	"github.com/warp/event-stock/store/sqlstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// newFileStore opens a file-backed database so concurrent callers go through
// the connection pool and SQLite's own locking.
func newFileStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.New(filepath.Join(t.TempDir(), "stock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var (
	created = time.Date(2026, time.January, 5, 9, 30, 0, 123456000, time.UTC)
	gala    = time.Date(2026, time.February, 14, 0, 0, 0, 0, time.UTC)
)

func seed(t *testing.T, s *sqlstore.Store) (inventory.Item, inventory.Event) {
	t.Helper()
	ctx := context.Background()
	item := inventory.Item{ID: "item-1", Name: "Truss", TotalValue: decimal.Zero, CreatedAt: created}
	event := inventory.Event{ID: "event-1", Name: "Gala", Date: gala, Status: inventory.EventInProgress, CreatedAt: created}
	require.NoError(t, s.InsertItem(ctx, item))
	require.NoError(t, s.InsertEvent(ctx, event))
	return item, event
}

// =============================================================================
// ROWS
// =============================================================================

func TestStore_ItemRoundTrip_PreservesPrecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item, _ := seed(t, s)

	require.NoError(t, s.UpdateStock(ctx, item.ID, 7, decimal.RequireFromString("19.9227")))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Truss", got.Name)
	assert.Equal(t, int64(7), got.QuantityOnHand)
	assert.True(t, got.TotalValue.Equal(decimal.RequireFromString("19.9227")), got.TotalValue.String())
	assert.True(t, got.CreatedAt.Equal(created))

	_, err = s.GetItem(ctx, "missing")
	assert.True(t, inventory.IsNotFound(err))
	err = s.UpdateStock(ctx, "missing", 1, decimal.Zero)
	assert.True(t, inventory.IsNotFound(err))
}

func TestStore_StockCannotGoNegative(t *testing.T) {
	s := newTestStore(t)
	item, _ := seed(t, s)

	err := s.UpdateStock(context.Background(), item.ID, -1, decimal.Zero)
	assert.Error(t, err)
}

func TestStore_EventUniqueOnNameAndDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, event := seed(t, s)

	dup := event
	dup.ID = "event-2"
	err := s.InsertEvent(ctx, dup)
	assert.ErrorIs(t, err, inventory.ErrConflict)

	got, err := s.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, got.Date.Equal(gala))
	assert.Equal(t, inventory.EventInProgress, got.Status)

	require.NoError(t, s.UpdateEventStatus(ctx, event.ID, inventory.EventCompleted))
	done, err := s.ListEvents(ctx, inventory.EventCompleted)
	require.NoError(t, err)
	require.Len(t, done, 1)
	open, err := s.ListEvents(ctx, inventory.EventInProgress)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestStore_Requests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item, event := seed(t, s)

	req := inventory.Request{ID: "req-1", EventID: event.ID, ItemID: item.ID, QuantityRequested: 5, CreatedAt: created}
	require.NoError(t, s.InsertRequest(ctx, req))

	dup := req
	dup.ID = "req-2"
	assert.ErrorIs(t, s.InsertRequest(ctx, dup), inventory.ErrConflict)

	found, err := s.FindRequest(ctx, event.ID, item.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, req.ID, found.ID)

	none, err := s.FindRequest(ctx, event.ID, "other")
	require.NoError(t, err)
	assert.Nil(t, none)

	found.QuantityAllocated = 5
	require.NoError(t, s.UpdateRequest(ctx, *found))

	// Allocated above requested violates the row check
	found.QuantityAllocated = 6
	assert.Error(t, s.UpdateRequest(ctx, *found))

	locked, err := s.LockRequests(ctx, []inventory.RequestID{req.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(5), locked[req.ID].QuantityAllocated)

	_, err = s.LockRequests(ctx, []inventory.RequestID{"ghost"})
	assert.True(t, inventory.IsNotFound(err))
}

func TestStore_DeleteEvent_CascadesRequestsKeepsEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item, event := seed(t, s)

	require.NoError(t, s.InsertRequest(ctx, inventory.Request{
		ID: "req-1", EventID: event.ID, ItemID: item.ID, QuantityRequested: 1, CreatedAt: created,
	}))
	require.NoError(t, s.AppendEntries(ctx, []inventory.LedgerEntry{{
		ID: "e1", ItemID: item.ID, Kind: inventory.KindAllocateToEvent, Timestamp: created,
		Quantity: 1, UnitPrice: decimal.NewFromInt(3), EventID: event.ID,
	}}))

	require.NoError(t, s.DeleteEvent(ctx, event.ID))

	reqs, err := s.ListRequests(ctx, event.ID)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	entries, err := s.Entries(ctx, inventory.EntryFilter{EventID: event.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestStore_Entries_OrderAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item, event := seed(t, s)

	later := created.Add(time.Second)
	entries := []inventory.LedgerEntry{
		{ID: "b", ItemID: item.ID, Kind: inventory.KindAllocateToEvent, Timestamp: later, Quantity: 2, UnitPrice: decimal.NewFromInt(5), EventID: event.ID, Actor: "ann"},
		{ID: "a", ItemID: item.ID, Kind: inventory.KindPurchase, Timestamp: created, Quantity: 4, UnitPrice: decimal.RequireFromString("5.1234"), Note: "invoice 12"},
		{ID: "c", ItemID: item.ID, Kind: inventory.KindReturnFromEvent, Timestamp: later, Quantity: 1, UnitPrice: decimal.NewFromInt(5), EventID: event.ID},
	}
	require.NoError(t, s.AppendEntries(ctx, entries))
	assert.Less(t, entries[0].Seq, entries[1].Seq)
	assert.Less(t, entries[1].Seq, entries[2].Seq)

	all, err := s.Entries(ctx, inventory.EntryFilter{ItemID: item.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []inventory.EntryID{"a", "b", "c"}, []inventory.EntryID{all[0].ID, all[1].ID, all[2].ID})
	assert.True(t, all[0].UnitPrice.Equal(decimal.RequireFromString("5.1234")))
	assert.Equal(t, "invoice 12", all[0].Note)
	assert.Empty(t, all[0].EventID)
	assert.Equal(t, inventory.Actor("ann"), all[1].Actor)
	assert.True(t, all[1].Timestamp.Equal(later))

	returns, err := s.Entries(ctx, inventory.EntryFilter{EventID: event.ID, Kinds: []inventory.Kind{inventory.KindReturnFromEvent}})
	require.NoError(t, err)
	require.Len(t, returns, 1)
	assert.Equal(t, inventory.EntryID("c"), returns[0].ID)

	has, err := s.HasEntries(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item, _ := seed(t, s)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx inventory.Store) error {
		require.NoError(t, tx.UpdateStock(ctx, item.ID, 9, decimal.NewFromInt(90)))
		require.NoError(t, tx.AppendEntries(ctx, []inventory.LedgerEntry{{
			ID: "x", ItemID: item.ID, Kind: inventory.KindPurchase, Timestamp: created, Quantity: 9, UnitPrice: decimal.NewFromInt(10),
		}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Zero(t, got.QuantityOnHand)
	has, err := s.HasEntries(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s)

	require.NoError(t, s.Reset(ctx))
	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestStore_EngineFIFOReturns(t *testing.T) {
	// GIVEN: allocations of 5@10 then 5@20 persisted in SQLite
	// WHEN: returning 8
	// THEN: two return entries 5@10 and 3@20, stock 8 worth 110

	s := newTestStore(t)
	ctx := context.Background()
	engine := inventory.NewEngine(s)
	catalog := inventory.NewCatalog(engine)
	alloc := inventory.NewAllocator(engine)

	item, err := catalog.CreateItem(ctx, "Moving head")
	require.NoError(t, err)
	event, err := catalog.CreateEvent(ctx, "Gala", gala)
	require.NoError(t, err)

	confirm := inventory.Approvals{inventory.ConfirmCreateRequest, inventory.ConfirmExceedRequest}
	for _, p := range []int64{10, 20} {
		unit := decimal.NewFromInt(p)
		_, err := engine.Record(ctx, inventory.RecordInput{Kind: inventory.KindPurchase, ItemID: item.ID, Quantity: 5, UnitPrice: &unit})
		require.NoError(t, err)
		_, err = alloc.Allocate(ctx, inventory.AllocateInput{ItemID: item.ID, EventID: event.ID, Quantity: 5, Confirm: confirm})
		require.NoError(t, err)
	}

	entries, err := alloc.ReturnFromEvent(ctx, inventory.ReturnInput{ItemID: item.ID, EventID: event.ID, Quantity: 8})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].UnitPrice.Equal(decimal.NewFromInt(10)))
	assert.True(t, entries[1].UnitPrice.Equal(decimal.NewFromInt(20)))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.QuantityOnHand)
	assert.True(t, got.TotalValue.Equal(decimal.NewFromInt(110)), got.TotalValue.String())

	_, err = alloc.ReturnFromEvent(ctx, inventory.ReturnInput{ItemID: item.ID, EventID: event.ID, Quantity: 3})
	var exceeds *inventory.ExceedsAllocationError
	require.ErrorAs(t, err, &exceeds)
	assert.Equal(t, int64(2), exceeds.Available)
}

func TestStore_EngineRejectionLeavesNoTrace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	engine := inventory.NewEngine(s)
	item, _ := seed(t, s)

	unit := decimal.NewFromInt(4)
	_, err := engine.Record(ctx, inventory.RecordInput{Kind: inventory.KindPurchase, ItemID: item.ID, Quantity: 2, UnitPrice: &unit})
	require.NoError(t, err)
	_, err = engine.Record(ctx, inventory.RecordInput{Kind: inventory.KindManualRemove, ItemID: item.ID, Quantity: 3})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.QuantityOnHand)
	entries, err := s.Entries(ctx, inventory.EntryFilter{ItemID: item.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestStore_ConcurrentAllocations_NeverOversell(t *testing.T) {
	// GIVEN: 10 units in a file-backed database
	// WHEN: 30 operators allocate 1 unit each at the same time
	// THEN: exactly 10 succeed, the rest see insufficient stock, and the
	//       stock account ends at (0, 0)

	s := newFileStore(t)
	ctx := context.Background()
	engine := inventory.NewEngine(s)
	catalog := inventory.NewCatalog(engine)
	alloc := inventory.NewAllocator(engine)

	item, err := catalog.CreateItem(ctx, "Radio")
	require.NoError(t, err)
	event, err := catalog.CreateEvent(ctx, "Marathon", gala)
	require.NoError(t, err)
	unit := decimal.NewFromInt(20)
	_, err = engine.Record(ctx, inventory.RecordInput{Kind: inventory.KindPurchase, ItemID: item.ID, Quantity: 10, UnitPrice: &unit})
	require.NoError(t, err)
	_, err = catalog.CreateRequest(ctx, event.ID, item.ID, 30)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 30)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = alloc.Allocate(ctx, inventory.AllocateInput{ItemID: item.ID, EventID: event.ID, Quantity: 1})
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, inventory.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 20, short)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.QuantityOnHand)
	assert.True(t, got.TotalValue.IsZero(), got.TotalValue.String())

	req, err := s.FindRequest(ctx, event.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), req.QuantityAllocated)

	entries, err := s.Entries(ctx, inventory.EntryFilter{ItemID: item.ID, Kinds: []inventory.Kind{inventory.KindAllocateToEvent}})
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestStore_DeleteEventRacingAllocation(t *testing.T) {
	// GIVEN: an event with a request and stock on hand
	// WHEN: the event is deleted while an allocation to it runs
	// THEN: either the allocation lands and the delete is refused, or the
	//       delete lands and the allocation finds no event; never both

	for round := 0; round < 10; round++ {
		s := newFileStore(t)
		ctx := context.Background()
		engine := inventory.NewEngine(s)
		catalog := inventory.NewCatalog(engine)
		alloc := inventory.NewAllocator(engine)

		item, err := catalog.CreateItem(ctx, "Barrier")
		require.NoError(t, err)
		event, err := catalog.CreateEvent(ctx, "Marathon", gala)
		require.NoError(t, err)
		unit := decimal.NewFromInt(15)
		_, err = engine.Record(ctx, inventory.RecordInput{Kind: inventory.KindPurchase, ItemID: item.ID, Quantity: 5, UnitPrice: &unit})
		require.NoError(t, err)
		_, err = catalog.CreateRequest(ctx, event.ID, item.ID, 5)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var allocErr, deleteErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, allocErr = alloc.Allocate(ctx, inventory.AllocateInput{ItemID: item.ID, EventID: event.ID, Quantity: 3})
		}()
		go func() {
			defer wg.Done()
			deleteErr = catalog.DeleteEvent(ctx, event.ID)
		}()
		wg.Wait()

		got, err := s.GetItem(ctx, item.ID)
		require.NoError(t, err)
		if allocErr == nil {
			assert.ErrorIs(t, deleteErr, inventory.ErrProtected, "round %d", round)
			assert.Equal(t, int64(2), got.QuantityOnHand)
			req, err := s.FindRequest(ctx, event.ID, item.ID)
			require.NoError(t, err)
			require.NotNil(t, req)
			assert.Equal(t, int64(3), req.QuantityAllocated)
		} else {
			require.NoError(t, deleteErr, "round %d", round)
			assert.True(t, inventory.IsNotFound(allocErr), "round %d: %v", round, allocErr)
			assert.Equal(t, int64(5), got.QuantityOnHand)
		}
	}
}

func TestStore_CompleteEventRacingAllocation(t *testing.T) {
	for round := 0; round < 10; round++ {
		s := newFileStore(t)
		ctx := context.Background()
		engine := inventory.NewEngine(s)
		catalog := inventory.NewCatalog(engine)
		alloc := inventory.NewAllocator(engine)

		item, err := catalog.CreateItem(ctx, "Barrier")
		require.NoError(t, err)
		event, err := catalog.CreateEvent(ctx, "Marathon", gala)
		require.NoError(t, err)
		unit := decimal.NewFromInt(15)
		_, err = engine.Record(ctx, inventory.RecordInput{Kind: inventory.KindPurchase, ItemID: item.ID, Quantity: 5, UnitPrice: &unit})
		require.NoError(t, err)
		_, err = catalog.CreateRequest(ctx, event.ID, item.ID, 5)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var allocErr, completeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, allocErr = alloc.Allocate(ctx, inventory.AllocateInput{ItemID: item.ID, EventID: event.ID, Quantity: 3})
		}()
		go func() {
			defer wg.Done()
			_, completeErr = catalog.CompleteEvent(ctx, event.ID)
		}()
		wg.Wait()

		got, err := s.GetEvent(ctx, event.ID)
		require.NoError(t, err)
		if allocErr == nil {
			// Stock went out first, so the event cannot be completed
			assert.ErrorIs(t, completeErr, inventory.ErrOutstandingAllocation, "round %d", round)
			assert.Equal(t, inventory.EventInProgress, got.Status)
		} else {
			require.NoError(t, completeErr, "round %d", round)
			assert.ErrorIs(t, allocErr, inventory.ErrEventCompleted, "round %d", round)
			assert.Equal(t, inventory.EventCompleted, got.Status)
		}
	}
}
