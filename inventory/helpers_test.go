package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/event-stock/inventory"
	"github.com/warp/event-stock/inventory/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	ctx     context.Context
	store   *store.Memory
	engine  *inventory.Engine
	alloc   *inventory.Allocator
	catalog *inventory.Catalog
	reports *inventory.Reports
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemory()
	t.Cleanup(func() { s.Close() })

	engine := inventory.NewEngine(s)
	return &fixture{
		ctx:     context.Background(),
		store:   s,
		engine:  engine,
		alloc:   inventory.NewAllocator(engine),
		catalog: inventory.NewCatalog(engine),
		reports: inventory.NewReports(s),
	}
}

var festivalDate = time.Date(2026, time.February, 14, 0, 0, 0, 0, time.UTC)

func (f *fixture) item(t *testing.T, name string) *inventory.Item {
	t.Helper()
	item, err := f.catalog.CreateItem(f.ctx, name)
	require.NoError(t, err)
	return item
}

func (f *fixture) event(t *testing.T, name string) *inventory.Event {
	t.Helper()
	event, err := f.catalog.CreateEvent(f.ctx, name, festivalDate)
	require.NoError(t, err)
	return event
}

func (f *fixture) purchase(t *testing.T, id inventory.ItemID, qty int64, unit string) *inventory.LedgerEntry {
	t.Helper()
	return f.record(t, inventory.RecordInput{
		Kind:      inventory.KindPurchase,
		ItemID:    id,
		Quantity:  qty,
		UnitPrice: price(unit),
		Actor:     "buyer",
	})
}

// record runs a movement that must produce exactly one entry.
func (f *fixture) record(t *testing.T, in inventory.RecordInput) *inventory.LedgerEntry {
	t.Helper()
	entries, err := f.engine.Record(f.ctx, in)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return &entries[0]
}

func (f *fixture) allocate(t *testing.T, itemID inventory.ItemID, eventID inventory.EventID, qty int64) *inventory.AllocationResult {
	t.Helper()
	res, err := f.alloc.Allocate(f.ctx, inventory.AllocateInput{
		ItemID:   itemID,
		EventID:  eventID,
		Quantity: qty,
		Actor:    "stagehand",
		Confirm:  inventory.Approvals{inventory.ConfirmCreateRequest, inventory.ConfirmExceedRequest},
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) request(t *testing.T, eventID inventory.EventID, itemID inventory.ItemID, qty int64) *inventory.Request {
	t.Helper()
	req, err := f.catalog.CreateRequest(f.ctx, eventID, itemID, qty)
	require.NoError(t, err)
	return req
}

func (f *fixture) reload(t *testing.T, id inventory.ItemID) *inventory.Item {
	t.Helper()
	item, err := f.store.GetItem(f.ctx, id)
	require.NoError(t, err)
	return item
}

func (f *fixture) entries(t *testing.T, filter inventory.EntryFilter) []inventory.LedgerEntry {
	t.Helper()
	entries, err := f.store.Entries(f.ctx, filter)
	require.NoError(t, err)
	return entries
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func price(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, what string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", what, want, got.String())
}

func assertStock(t *testing.T, item *inventory.Item, qty int64, value string) {
	t.Helper()
	assert.Equal(t, qty, item.QuantityOnHand, "quantity on hand")
	assertDecimal(t, value, item.TotalValue, "total value")
}
