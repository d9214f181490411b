package inventory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RETURN MATCHER - FIFO by allocation time
// =============================================================================

// ReturnBatch is the part of one historical allocation consumed by a return.
type ReturnBatch struct {
	AllocationID EntryID
	Quantity     int64
	UnitPrice    decimal.Decimal
}

// MatchReturn walks the allocations of one (item, event) pair oldest first.
// The first alreadyReturned units are treated as consumed by earlier
// returns; the next quantity units are returned at the price of the
// allocation they came from.
//
// Callers bound quantity by the pair's net allocation. If it is larger, the
// batches cover only what is available.
func MatchReturn(allocations []LedgerEntry, alreadyReturned, quantity int64) []ReturnBatch {
	ordered := make([]LedgerEntry, len(allocations))
	copy(ordered, allocations)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	var batches []ReturnBatch
	consumed := alreadyReturned
	for _, alloc := range ordered {
		if quantity == 0 {
			break
		}
		used := min(consumed, alloc.Quantity)
		consumed -= used

		net := alloc.Quantity - used
		if net == 0 {
			continue
		}
		take := min(net, quantity)
		batches = append(batches, ReturnBatch{
			AllocationID: alloc.ID,
			Quantity:     take,
			UnitPrice:    alloc.UnitPrice,
		})
		quantity -= take
	}
	return batches
}

// =============================================================================
// RETURN FROM EVENT
// =============================================================================

type ReturnInput struct {
	ItemID   ItemID
	EventID  EventID
	Quantity int64
	Actor    Actor
	Note     string
}

// ReturnFromEvent credits stock back from an event at the prices the units
// were allocated at. One entry is written per allocation batch consumed and
// the item's stock account is updated once. The request's allocated quantity
// is left as is.
func (a *Allocator) ReturnFromEvent(ctx context.Context, in ReturnInput) ([]LedgerEntry, error) {
	if in.Quantity <= 0 {
		return nil, invalid("quantity", ErrInvalidQuantity, "quantity must be greater than zero")
	}
	if in.ItemID == "" {
		return nil, invalid("item_id", ErrInvalidInput, "an item is required")
	}
	if in.EventID == "" {
		return nil, invalid("event_id", ErrInvalidAssociation, "%s requires an event", KindReturnFromEvent.Label())
	}

	var entries []LedgerEntry
	err := a.engine.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetEvent(ctx, in.EventID); err != nil {
			return err
		}
		items, err := s.LockItems(ctx, []ItemID{in.ItemID})
		if err != nil {
			return err
		}
		item := items[in.ItemID]

		bal, err := pairBalance(ctx, s, in.ItemID, in.EventID)
		if err != nil {
			return err
		}
		if in.Quantity > bal.Net() {
			return &ExceedsAllocationError{
				ItemID:    in.ItemID,
				EventID:   in.EventID,
				Available: bal.Net(),
				Requested: in.Quantity,
			}
		}

		for _, batch := range MatchReturn(bal.Allocations, bal.Returned, in.Quantity) {
			price := batch.UnitPrice
			batchEntries, err := a.engine.apply(item, RecordInput{
				Kind:      KindReturnFromEvent,
				ItemID:    in.ItemID,
				Quantity:  batch.Quantity,
				UnitPrice: &price,
				EventID:   in.EventID,
				Actor:     in.Actor,
				Note:      in.Note,
			})
			if err != nil {
				return err
			}
			entries = append(entries, batchEntries...)
		}
		return a.engine.persist(ctx, s, []*Item{item}, entries)
	})
	if err != nil {
		a.log.Debug().Err(err).
			Str("item_id", string(in.ItemID)).
			Str("event_id", string(in.EventID)).
			Int64("quantity", in.Quantity).
			Msg("return rejected")
		return nil, err
	}
	return entries, nil
}
