package inventory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/event-stock/inventory"
)

// =============================================================================
// ITEMS
// =============================================================================

func TestCatalog_CreateItem_RequiresName(t *testing.T) {
	f := newFixture(t)

	_, err := f.catalog.CreateItem(f.ctx, "   ")
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)
	assert.Equal(t, "name", inventory.FieldOf(err))

	item, err := f.catalog.CreateItem(f.ctx, "  Fog machine ")
	require.NoError(t, err)
	assert.Equal(t, "Fog machine", item.Name)
	assertStock(t, item, 0, "0")
}

func TestCatalog_ListItems_MostStockFirst(t *testing.T) {
	f := newFixture(t)
	a := f.item(t, "Amp")
	b := f.item(t, "Bulb")
	c := f.item(t, "Cable")
	f.purchase(t, c.ID, 5, "1")
	f.purchase(t, a.ID, 2, "1")
	_ = b

	items, err := f.catalog.ListItems(f.ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"Cable", "Amp", "Bulb"}, []string{items[0].Name, items[1].Name, items[2].Name})
}

func TestCatalog_DeleteItem_ProtectedByLedgerHistory(t *testing.T) {
	f := newFixture(t)
	used := f.item(t, "Used")
	unused := f.item(t, "Unused")
	f.purchase(t, used.ID, 1, "1")

	err := f.catalog.DeleteItem(f.ctx, used.ID)
	var protected *inventory.ProtectedError
	require.ErrorAs(t, err, &protected)
	assert.Equal(t, "item", protected.Resource)

	require.NoError(t, f.catalog.DeleteItem(f.ctx, unused.ID))
	_, err = f.catalog.GetItem(f.ctx, unused.ID)
	assert.True(t, inventory.IsNotFound(err))
}

// =============================================================================
// EVENTS
// =============================================================================

func TestCatalog_CreateEvent_UniqueNameAndDate(t *testing.T) {
	f := newFixture(t)
	event := f.event(t, "Gala")
	assert.Equal(t, inventory.EventInProgress, event.Status)
	assert.Equal(t, "Gala 14/02/2026", event.Title())

	_, err := f.catalog.CreateEvent(f.ctx, "Gala", festivalDate.Add(15*time.Hour))
	assert.ErrorIs(t, err, inventory.ErrConflict)

	_, err = f.catalog.CreateEvent(f.ctx, "Gala", festivalDate.AddDate(1, 0, 0))
	assert.NoError(t, err)
}

func TestCatalog_DeleteEvent_GuardedByAllocations(t *testing.T) {
	// GIVEN: an in-progress event holding allocated stock
	// WHEN: deleting it
	// THEN: the delete is rejected naming the blocking item

	f := newFixture(t)
	item := f.item(t, "Stage deck")
	event := f.event(t, "Gala")
	f.purchase(t, item.ID, 4, "50")
	f.allocate(t, item.ID, event.ID, 2)

	err := f.catalog.DeleteEvent(f.ctx, event.ID)
	var protected *inventory.ProtectedError
	require.ErrorAs(t, err, &protected)
	assert.Equal(t, []string{"Stage deck"}, protected.Blockers)

	// Return everything and complete; now deletion is allowed
	_, err = f.alloc.ReturnFromEvent(f.ctx, inventory.ReturnInput{ItemID: item.ID, EventID: event.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = f.catalog.CompleteEvent(f.ctx, event.ID)
	require.NoError(t, err)
	require.NoError(t, f.catalog.DeleteEvent(f.ctx, event.ID))

	_, err = f.catalog.GetEvent(f.ctx, event.ID)
	assert.True(t, inventory.IsNotFound(err))
	reqs, err := f.store.ListRequests(f.ctx, event.ID)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	// Ledger history survives with its event reference
	entries := f.entries(t, inventory.EntryFilter{EventID: event.ID})
	assert.Len(t, entries, 2)
}

func TestCatalog_DeleteEvent_NoAllocationsAllowed(t *testing.T) {
	f := newFixture(t)
	item := f.item(t, "Stage deck")
	event := f.event(t, "Gala")
	f.request(t, event.ID, item.ID, 3)

	require.NoError(t, f.catalog.DeleteEvent(f.ctx, event.ID))
}

func TestCatalog_CompleteEvent(t *testing.T) {
	f := newFixture(t)
	item := f.item(t, "Stage deck")
	event := f.event(t, "Gala")
	f.purchase(t, item.ID, 4, "50")
	f.allocate(t, item.ID, event.ID, 3)

	_, err := f.catalog.CompleteEvent(f.ctx, event.ID)
	var outstanding *inventory.OutstandingAllocationError
	require.ErrorAs(t, err, &outstanding)
	assert.Equal(t, []string{"Stage deck"}, outstanding.Items)

	_, err = f.alloc.ReturnFromEvent(f.ctx, inventory.ReturnInput{ItemID: item.ID, EventID: event.ID, Quantity: 3})
	require.NoError(t, err)

	done, err := f.catalog.CompleteEvent(f.ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.EventCompleted, done.Status)

	again, err := f.catalog.CompleteEvent(f.ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.EventCompleted, again.Status)

	_, err = f.catalog.CreateRequest(f.ctx, event.ID, item.ID, 1)
	assert.ErrorIs(t, err, inventory.ErrEventCompleted)
}

func TestCatalog_CompleteSettledEvents(t *testing.T) {
	f := newFixture(t)
	item := f.item(t, "Cable")
	f.purchase(t, item.ID, 10, "1")

	past := func(name string) *inventory.Event {
		ev, err := f.catalog.CreateEvent(f.ctx, name, festivalDate.AddDate(0, 0, -10))
		require.NoError(t, err)
		return ev
	}
	settled := past("Settled")
	holding := past("Holding")
	untouched := past("Untouched")
	future, err := f.catalog.CreateEvent(f.ctx, "Future", festivalDate.AddDate(0, 0, 10))
	require.NoError(t, err)

	f.allocate(t, item.ID, settled.ID, 2)
	_, err = f.alloc.ReturnFromEvent(f.ctx, inventory.ReturnInput{ItemID: item.ID, EventID: settled.ID, Quantity: 2})
	require.NoError(t, err)
	f.allocate(t, item.ID, holding.ID, 1)
	f.allocate(t, item.ID, future.ID, 1)
	_, err = f.alloc.ReturnFromEvent(f.ctx, inventory.ReturnInput{ItemID: item.ID, EventID: future.ID, Quantity: 1})
	require.NoError(t, err)

	completed, err := f.catalog.CompleteSettledEvents(f.ctx, festivalDate)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, settled.ID, completed[0].ID)

	for _, ev := range []*inventory.Event{holding, untouched, future} {
		got, err := f.catalog.GetEvent(f.ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, inventory.EventInProgress, got.Status, ev.Name)
	}
}

func TestCatalog_ListEvents_WithCost(t *testing.T) {
	f := newFixture(t)
	item := f.item(t, "Cable")
	gala := f.event(t, "Gala")
	f.event(t, "Fair")
	f.purchase(t, item.ID, 10, "3")
	f.allocate(t, item.ID, gala.ID, 4)
	_, err := f.alloc.ReturnFromEvent(f.ctx, inventory.ReturnInput{ItemID: item.ID, EventID: gala.ID, Quantity: 1})
	require.NoError(t, err)

	events, err := f.catalog.ListEvents(f.ctx, "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Fair", events[0].Name)
	assert.True(t, events[0].TotalCost.IsZero())
	assertDecimal(t, "9", events[1].TotalCost, "gala cost")

	_, err = f.catalog.ListEvents(f.ctx, "archived")
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)
}

// =============================================================================
// REQUESTS
// =============================================================================

func TestCatalog_Requests(t *testing.T) {
	f := newFixture(t)
	item := f.item(t, "Chair")
	event := f.event(t, "Gala")
	f.purchase(t, item.ID, 10, "5")

	_, err := f.catalog.CreateRequest(f.ctx, event.ID, item.ID, 0)
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	req := f.request(t, event.ID, item.ID, 6)
	assert.Equal(t, int64(6), req.QuantityMissing())

	_, err = f.catalog.CreateRequest(f.ctx, event.ID, item.ID, 2)
	assert.ErrorIs(t, err, inventory.ErrConflict)

	_, err = f.alloc.Allocate(f.ctx, inventory.AllocateInput{ItemID: item.ID, EventID: event.ID, Quantity: 4})
	require.NoError(t, err)

	_, err = f.catalog.UpdateRequestedQuantity(f.ctx, req.ID, 3)
	assert.ErrorIs(t, err, inventory.ErrBelowAllocated)
	assert.Equal(t, "quantity_requested", inventory.FieldOf(err))

	updated, err := f.catalog.UpdateRequestedQuantity(f.ctx, req.ID, 4)
	require.NoError(t, err)
	assert.Zero(t, updated.QuantityMissing())

	err = f.catalog.DeleteRequest(f.ctx, req.ID)
	assert.ErrorIs(t, err, inventory.ErrProtected)

	list, err := f.catalog.ListRequests(f.ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	other := f.item(t, "Table")
	empty := f.request(t, event.ID, other.ID, 2)
	require.NoError(t, f.catalog.DeleteRequest(f.ctx, empty.ID))
}
