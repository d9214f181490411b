/*
allocation.go - Allocation Service

PURPOSE:
  Moves stock from general inventory to events against their requests.

TWO-PHASE CONFIRMATION:
  An allocation may need the caller's consent before it runs:
    create_request  no request exists for (event, item); one is created
    exceed_request  quantity exceeds the missing quantity; requested is raised
  PlanAllocation is the dry run that lists them. Allocate runs only when
  every listed confirmation is in AllocateInput.Confirm, otherwise it fails
  with ConfirmationRequiredError and nothing is written.

LOCK ORDER:
  Event row(s) first, then request row(s), then item row(s), each in
  ascending ID order. Catalog follows the same order, so completing or
  deleting an event waits for allocations in flight and the other way round.

BULK:
  AllocateAvailable fills as much of each request as stock allows, locking
  all involved events, requests and items once and committing all-or-nothing.
*/
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

type Allocator struct {
	engine *Engine
	log    zerolog.Logger
}

func NewAllocator(engine *Engine) *Allocator {
	return &Allocator{engine: engine, log: engine.log}
}

// =============================================================================
// PLAN / ALLOCATE
// =============================================================================

type AllocateInput struct {
	ItemID   ItemID
	EventID  EventID
	Quantity int64
	Actor    Actor
	Note     string
	Confirm  Approvals
}

type AllocationPlan struct {
	Item          Item
	Event         Event
	Request       *Request // nil when the allocation would create one
	Available     int64
	Confirmations []Confirmation
}

type AllocationResult struct {
	// Entries holds one entry, or two when the allocation empties the item
	// at average cost.
	Entries        []LedgerEntry
	Request        Request
	CreatedRequest bool
	ExtendedBy     int64 // units added to QuantityRequested
}

// PlanAllocation reports what Allocate would need confirmed, without writing.
// Hard failures (missing rows, completed event, insufficient stock) are
// returned as errors, exactly as Allocate would.
func (a *Allocator) PlanAllocation(ctx context.Context, in AllocateInput) (*AllocationPlan, error) {
	if err := validateAllocate(in); err != nil {
		return nil, err
	}
	s := a.engine.store

	event, err := openEvent(ctx, s, in.EventID)
	if err != nil {
		return nil, err
	}
	item, err := s.GetItem(ctx, in.ItemID)
	if err != nil {
		return nil, err
	}
	req, err := s.FindRequest(ctx, in.EventID, in.ItemID)
	if err != nil {
		return nil, err
	}
	if in.Quantity > item.QuantityOnHand {
		return nil, &InsufficientStockError{
			ItemID:    item.ID,
			ItemName:  item.Name,
			Available: item.QuantityOnHand,
			Requested: in.Quantity,
		}
	}

	return &AllocationPlan{
		Item:          *item,
		Event:         *event,
		Request:       req,
		Available:     item.QuantityOnHand,
		Confirmations: confirmationsFor(*item, req, in.Quantity),
	}, nil
}

// Allocate records an allocate_to_event entry and adds the quantity to the
// (event, item) request, creating or extending it when confirmed.
func (a *Allocator) Allocate(ctx context.Context, in AllocateInput) (*AllocationResult, error) {
	if err := validateAllocate(in); err != nil {
		return nil, err
	}

	var res AllocationResult
	err := a.engine.store.WithTx(ctx, func(s Store) error {
		if _, err := openEvent(ctx, s, in.EventID); err != nil {
			return err
		}
		req, err := s.LockRequest(ctx, in.EventID, in.ItemID)
		if err != nil {
			return err
		}
		items, err := s.LockItems(ctx, []ItemID{in.ItemID})
		if err != nil {
			return err
		}
		item := items[in.ItemID]

		// Stock is checked before confirmations so the dry run and the real
		// call fail the same way.
		if in.Quantity > item.QuantityOnHand {
			return &InsufficientStockError{
				ItemID:    item.ID,
				ItemName:  item.Name,
				Available: item.QuantityOnHand,
				Requested: in.Quantity,
			}
		}
		if pending := unapproved(confirmationsFor(*item, req, in.Quantity), in.Confirm); len(pending) > 0 {
			return &ConfirmationRequiredError{Confirmations: pending}
		}

		entries, err := a.engine.record(ctx, s, RecordInput{
			Kind:     KindAllocateToEvent,
			ItemID:   in.ItemID,
			Quantity: in.Quantity,
			EventID:  in.EventID,
			Actor:    in.Actor,
			Note:     in.Note,
		})
		if err != nil {
			return err
		}
		res.Entries = entries

		if req == nil {
			res.CreatedRequest = true
			res.Request = Request{
				ID:                RequestID(a.engine.newID()),
				EventID:           in.EventID,
				ItemID:            in.ItemID,
				QuantityRequested: in.Quantity,
				QuantityAllocated: in.Quantity,
				CreatedAt:         a.engine.now(),
			}
			return s.InsertRequest(ctx, res.Request)
		}

		if missing := req.QuantityMissing(); in.Quantity > missing {
			res.ExtendedBy = in.Quantity - missing
			req.QuantityRequested += res.ExtendedBy
		}
		req.QuantityAllocated += in.Quantity
		res.Request = *req
		return s.UpdateRequest(ctx, *req)
	})
	if err != nil {
		a.log.Debug().Err(err).
			Str("item_id", string(in.ItemID)).
			Str("event_id", string(in.EventID)).
			Int64("quantity", in.Quantity).
			Msg("allocation rejected")
		return nil, err
	}
	return &res, nil
}

func validateAllocate(in AllocateInput) error {
	if in.Quantity <= 0 {
		return invalid("quantity", ErrInvalidQuantity, "quantity must be greater than zero")
	}
	if in.ItemID == "" {
		return invalid("item_id", ErrInvalidInput, "an item is required")
	}
	if in.EventID == "" {
		return invalid("event_id", ErrInvalidAssociation, "%s requires an event", KindAllocateToEvent.Label())
	}
	return nil
}

func confirmationsFor(item Item, req *Request, quantity int64) []Confirmation {
	if req == nil {
		return []Confirmation{{
			Code: ConfirmCreateRequest,
			Message: fmt.Sprintf("%q was not requested for this event; a request for %d will be created",
				item.Name, quantity),
		}}
	}
	if missing := req.QuantityMissing(); quantity > missing {
		excess := quantity - missing
		return []Confirmation{{
			Code: ConfirmExceedRequest,
			Message: fmt.Sprintf("allocating %d %q exceeds the %d still missing; the request will be raised by %d",
				quantity, item.Name, missing, excess),
			Excess: excess,
		}}
	}
	return nil
}

func unapproved(required []Confirmation, approvals Approvals) []Confirmation {
	var pending []Confirmation
	for _, c := range required {
		if !approvals.Has(c.Code) {
			pending = append(pending, c)
		}
	}
	return pending
}

// openEvent locks an event that still accepts allocations and requests.
// Outside a transaction the lock is released at once.
func openEvent(ctx context.Context, s Store, id EventID) (*Event, error) {
	event, err := s.LockEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Status == EventCompleted {
		return nil, invalid("event_id", ErrEventCompleted, "event %s is completed", event.Title())
	}
	return event, nil
}

// =============================================================================
// BULK ALLOCATION
// =============================================================================

type BulkResult struct {
	Entries  []LedgerEntry
	Requests []Request   // requests that received stock
	Skipped  []RequestID // requests still missing units with no stock on hand
}

// AllocateAvailable allocates min(stock on hand, missing) to each request in
// the given order. Requests with nothing missing are ignored; requests whose
// item has no stock left are reported as skipped.
func (a *Allocator) AllocateAvailable(ctx context.Context, ids []RequestID, actor Actor) (*BulkResult, error) {
	ids = uniqueRequestIDs(ids)

	var res BulkResult
	err := a.engine.store.WithTx(ctx, func(s Store) error {
		// A request never changes event, so the unlocked read is enough to
		// lock the events first.
		var eventIDs []EventID
		for _, id := range ids {
			req, err := s.GetRequest(ctx, id)
			if err != nil {
				return err
			}
			eventIDs = append(eventIDs, req.EventID)
		}
		for _, id := range uniqueEventIDs(eventIDs) {
			if _, err := openEvent(ctx, s, id); err != nil {
				return err
			}
		}

		reqs, err := s.LockRequests(ctx, ids)
		if err != nil {
			return err
		}

		var itemIDs []ItemID
		for _, id := range ids {
			req := reqs[id]
			if req.QuantityMissing() <= 0 {
				continue
			}
			itemIDs = append(itemIDs, req.ItemID)
		}
		if len(itemIDs) == 0 {
			return nil
		}

		items, err := s.LockItems(ctx, uniqueItemIDs(itemIDs))
		if err != nil {
			return err
		}

		touched := map[ItemID]bool{}
		var changed []*Item
		for _, id := range ids {
			req := reqs[id]
			missing := req.QuantityMissing()
			if missing <= 0 {
				continue
			}
			item := items[req.ItemID]
			if item.QuantityOnHand == 0 {
				res.Skipped = append(res.Skipped, req.ID)
				continue
			}

			quantity := min(item.QuantityOnHand, missing)
			entries, err := a.engine.apply(item, RecordInput{
				Kind:     KindAllocateToEvent,
				ItemID:   item.ID,
				Quantity: quantity,
				EventID:  req.EventID,
				Actor:    actor,
			})
			if err != nil {
				return err
			}
			req.QuantityAllocated += quantity
			if err := s.UpdateRequest(ctx, *req); err != nil {
				return err
			}

			res.Entries = append(res.Entries, entries...)
			res.Requests = append(res.Requests, *req)
			if !touched[item.ID] {
				touched[item.ID] = true
				changed = append(changed, item)
			}
		}
		return a.engine.persist(ctx, s, changed, res.Entries)
	})
	if err != nil {
		a.log.Debug().Err(err).Int("requests", len(ids)).Msg("bulk allocation rejected")
		return nil, err
	}
	return &res, nil
}

// AllocateAvailableForEvent runs AllocateAvailable over every request of the
// event that is still missing units, oldest request first.
func (a *Allocator) AllocateAvailableForEvent(ctx context.Context, eventID EventID, actor Actor) (*BulkResult, error) {
	if _, err := openEvent(ctx, a.engine.store, eventID); err != nil {
		return nil, err
	}
	reqs, err := a.engine.store.ListRequests(ctx, eventID)
	if err != nil {
		return nil, err
	}
	var ids []RequestID
	for _, r := range reqs {
		if r.QuantityMissing() > 0 {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return &BulkResult{}, nil
	}
	return a.AllocateAvailable(ctx, ids, actor)
}

func uniqueRequestIDs(ids []RequestID) []RequestID {
	seen := make(map[RequestID]bool, len(ids))
	out := make([]RequestID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// uniqueItemIDs returns the distinct IDs in ascending order.
func uniqueEventIDs(ids []EventID) []EventID {
	seen := make(map[EventID]bool, len(ids))
	out := make([]EventID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func uniqueItemIDs(ids []ItemID) []ItemID {
	seen := make(map[ItemID]bool, len(ids))
	out := make([]ItemID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
