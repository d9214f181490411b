package api

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/event-stock/inventory"
	"github.com/warp/event-stock/inventory/store"
)

func TestCompletionScheduler_RunNow(t *testing.T) {
	// GIVEN: a past event with all stock back, a past event still holding
	//        stock, and an event dated today
	// WHEN: the scheduler runs
	// THEN: only the settled past event is completed

	h := NewHandler(store.NewMemory(), zerolog.Nop())
	ctx := context.Background()
	day := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	item, err := h.Catalog.CreateItem(ctx, "Cable")
	require.NoError(t, err)
	price := decimal.NewFromInt(2)
	_, err = h.Engine.Record(ctx, inventory.RecordInput{Kind: inventory.KindPurchase, ItemID: item.ID, Quantity: 10, UnitPrice: &price})
	require.NoError(t, err)

	event := func(name string, date time.Time, out, back int64) inventory.EventID {
		ev, err := h.Catalog.CreateEvent(ctx, name, date)
		require.NoError(t, err)
		_, err = h.Allocator.Allocate(ctx, inventory.AllocateInput{
			ItemID: item.ID, EventID: ev.ID, Quantity: out, Confirm: scenarioApprovals,
		})
		require.NoError(t, err)
		if back > 0 {
			_, err = h.Allocator.ReturnFromEvent(ctx, inventory.ReturnInput{ItemID: item.ID, EventID: ev.ID, Quantity: back})
			require.NoError(t, err)
		}
		return ev.ID
	}
	settled := event("Settled", day.AddDate(0, 0, -2), 3, 3)
	holding := event("Holding", day.AddDate(0, 0, -1), 2, 1)
	current := event("Today", day, 1, 1)

	cs := NewCompletionScheduler(h.Catalog, zerolog.Nop())
	cs.Now = func() time.Time { return day.Add(15 * time.Hour) }

	completed := cs.RunNow(ctx)
	require.Len(t, completed, 1)
	assert.Equal(t, settled, completed[0].ID)

	for _, id := range []inventory.EventID{holding, current} {
		ev, err := h.Catalog.GetEvent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, inventory.EventInProgress, ev.Status)
	}

	// A second run has nothing left to do
	assert.Empty(t, cs.RunNow(ctx))
}

func TestCompletionScheduler_StartStop(t *testing.T) {
	h := NewHandler(store.NewMemory(), zerolog.Nop())
	cs := NewCompletionScheduler(h.Catalog, zerolog.Nop())
	cs.CheckInterval = time.Millisecond

	cs.Start()
	cs.Start()
	time.Sleep(5 * time.Millisecond)
	cs.Stop()
	cs.Stop()

	cs.Enabled = false
	cs.Start()
	assert.Nil(t, cs.ticker)
}
