/*
catalog.go - Item, event and request lifecycle

PURPOSE:
  Creation, listing and guarded deletion of the rows the ledger refers to.
  None of these operations touch a stock account.

DELETION GUARDS:
  - An item with any ledger entry cannot be deleted.
  - An event that is not completed cannot be deleted while any of its
    requests holds allocated units.
  - A request with allocated units cannot be deleted.
  Each guard is checked inside the same transaction as the delete, after
  locking the event row that allocations to the event also lock.

COMPLETION:
  An event is completed once every (item, event) pair has a net allocation
  of zero. CompleteSettledEvents does this for past events in bulk.
*/
package inventory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Catalog struct {
	engine *Engine
	store  TxStore
	log    zerolog.Logger
}

func NewCatalog(engine *Engine) *Catalog {
	return &Catalog{engine: engine, store: engine.store, log: engine.log}
}

// =============================================================================
// ITEMS
// =============================================================================

func (c *Catalog) CreateItem(ctx context.Context, name string) (*Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", ErrInvalidInput, "name is required")
	}
	item := Item{
		ID:         ItemID(c.engine.newID()),
		Name:       name,
		TotalValue: decimal.Zero,
		CreatedAt:  c.engine.now(),
	}
	if err := c.store.InsertItem(ctx, item); err != nil {
		return nil, err
	}
	c.log.Info().Str("item_id", string(item.ID)).Str("name", name).Msg("item created")
	return &item, nil
}

func (c *Catalog) GetItem(ctx context.Context, id ItemID) (*Item, error) {
	return c.store.GetItem(ctx, id)
}

// ListItems returns items with the most stock first, then by name.
func (c *Catalog) ListItems(ctx context.Context) ([]Item, error) {
	items, err := c.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].QuantityOnHand != items[j].QuantityOnHand {
			return items[i].QuantityOnHand > items[j].QuantityOnHand
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

func (c *Catalog) DeleteItem(ctx context.Context, id ItemID) error {
	return c.store.WithTx(ctx, func(s Store) error {
		if _, err := s.LockItems(ctx, []ItemID{id}); err != nil {
			return err
		}
		used, err := s.HasEntries(ctx, id)
		if err != nil {
			return err
		}
		if used {
			return &ProtectedError{Resource: "item", ID: string(id), Reason: "item has ledger history"}
		}
		return s.DeleteItem(ctx, id)
	})
}

// =============================================================================
// EVENTS
// =============================================================================

// EventOverview is an event with its signed ledger total.
type EventOverview struct {
	Event
	TotalCost decimal.Decimal
}

func (c *Catalog) CreateEvent(ctx context.Context, name string, date time.Time) (*Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", ErrInvalidInput, "name is required")
	}
	if date.IsZero() {
		return nil, invalid("date", ErrInvalidInput, "date is required")
	}
	event := Event{
		ID:        EventID(c.engine.newID()),
		Name:      name,
		Date:      time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		Status:    EventInProgress,
		CreatedAt: c.engine.now(),
	}
	if err := c.store.InsertEvent(ctx, event); err != nil {
		return nil, err
	}
	c.log.Info().Str("event_id", string(event.ID)).Str("title", event.Title()).Msg("event created")
	return &event, nil
}

func (c *Catalog) GetEvent(ctx context.Context, id EventID) (*Event, error) {
	return c.store.GetEvent(ctx, id)
}

// ListEvents lists events with their total cost. An empty status lists all.
func (c *Catalog) ListEvents(ctx context.Context, status EventStatus) ([]EventOverview, error) {
	if status != "" && !status.Valid() {
		return nil, invalid("status", ErrInvalidInput, "unknown event status %q", status)
	}
	events, err := c.store.ListEvents(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]EventOverview, 0, len(events))
	for _, ev := range events {
		cost, err := eventTotalCost(ctx, c.store, ev.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, EventOverview{Event: ev, TotalCost: cost})
	}
	return out, nil
}

// CompleteEvent marks the event completed. It fails with
// OutstandingAllocationError while any item still has a positive net
// allocation to it. Completing a completed event is a no-op.
func (c *Catalog) CompleteEvent(ctx context.Context, id EventID) (*Event, error) {
	var event *Event
	err := c.store.WithTx(ctx, func(s Store) error {
		var err error
		event, err = s.LockEvent(ctx, id)
		if err != nil {
			return err
		}
		if event.Status == EventCompleted {
			return nil
		}
		held, err := outstandingItems(ctx, s, id)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			return &OutstandingAllocationError{EventID: id, Items: held}
		}
		if err := s.UpdateEventStatus(ctx, id, EventCompleted); err != nil {
			return err
		}
		event.Status = EventCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// CompleteSettledEvents completes in-progress events dated before the given
// day that received at least one allocation and have all of it back.
func (c *Catalog) CompleteSettledEvents(ctx context.Context, before time.Time) ([]Event, error) {
	events, err := c.store.ListEvents(ctx, EventInProgress)
	if err != nil {
		return nil, err
	}

	var completed []Event
	for _, ev := range events {
		if !ev.Date.Before(before) {
			continue
		}
		allocs, err := c.store.Entries(ctx, EntryFilter{EventID: ev.ID, Kinds: []Kind{KindAllocateToEvent}})
		if err != nil {
			return completed, err
		}
		if len(allocs) == 0 {
			continue
		}

		done, err := c.CompleteEvent(ctx, ev.ID)
		switch {
		case err == nil:
			completed = append(completed, *done)
			c.log.Info().Str("event_id", string(ev.ID)).Str("title", ev.Title()).Msg("event completed")
		case errors.Is(err, ErrOutstandingAllocation):
			continue
		default:
			return completed, err
		}
	}
	return completed, nil
}

// DeleteEvent deletes an event and its requests. An in-progress event whose
// requests still hold allocated units is protected.
func (c *Catalog) DeleteEvent(ctx context.Context, id EventID) error {
	return c.store.WithTx(ctx, func(s Store) error {
		event, err := s.LockEvent(ctx, id)
		if err != nil {
			return err
		}
		if event.Status != EventCompleted {
			reqs, err := s.ListRequests(ctx, id)
			if err != nil {
				return err
			}
			var blockers []string
			for _, r := range reqs {
				if r.QuantityAllocated > 0 {
					blockers = append(blockers, itemName(ctx, s, r.ItemID))
				}
			}
			if len(blockers) > 0 {
				return &ProtectedError{
					Resource: "event",
					ID:       string(id),
					Reason:   "requests have allocated stock",
					Blockers: blockers,
				}
			}
		}
		return s.DeleteEvent(ctx, id)
	})
}

// outstandingItems names the items with a positive net allocation to the event.
func outstandingItems(ctx context.Context, s Store, eventID EventID) ([]string, error) {
	entries, err := s.Entries(ctx, EntryFilter{
		EventID: eventID,
		Kinds:   []Kind{KindAllocateToEvent, KindReturnFromEvent},
	})
	if err != nil {
		return nil, err
	}
	net := map[ItemID]int64{}
	var order []ItemID
	for _, e := range entries {
		if _, ok := net[e.ItemID]; !ok {
			order = append(order, e.ItemID)
		}
		net[e.ItemID] += e.SignedQuantity()
	}
	var names []string
	for _, id := range order {
		if net[id] > 0 {
			names = append(names, itemName(ctx, s, id))
		}
	}
	sort.Strings(names)
	return names, nil
}

func itemName(ctx context.Context, s Store, id ItemID) string {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return string(id)
	}
	return item.Name
}

// =============================================================================
// REQUESTS
// =============================================================================

func (c *Catalog) CreateRequest(ctx context.Context, eventID EventID, itemID ItemID, quantity int64) (*Request, error) {
	if quantity <= 0 {
		return nil, invalid("quantity_requested", ErrInvalidQuantity, "requested quantity must be greater than zero")
	}
	var req Request
	err := c.store.WithTx(ctx, func(s Store) error {
		if _, err := openEvent(ctx, s, eventID); err != nil {
			return err
		}
		item, err := s.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		existing, err := s.FindRequest(ctx, eventID, itemID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ConflictError{Resource: "request", Message: item.Name + " is already requested for this event"}
		}
		req = Request{
			ID:                RequestID(c.engine.newID()),
			EventID:           eventID,
			ItemID:            itemID,
			QuantityRequested: quantity,
			CreatedAt:         c.engine.now(),
		}
		return s.InsertRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *Catalog) GetRequest(ctx context.Context, id RequestID) (*Request, error) {
	return c.store.GetRequest(ctx, id)
}

func (c *Catalog) UpdateRequestedQuantity(ctx context.Context, id RequestID, quantity int64) (*Request, error) {
	if quantity <= 0 {
		return nil, invalid("quantity_requested", ErrInvalidQuantity, "requested quantity must be greater than zero")
	}
	var req *Request
	err := c.store.WithTx(ctx, func(s Store) error {
		found, err := s.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if _, err := openEvent(ctx, s, found.EventID); err != nil {
			return err
		}
		reqs, err := s.LockRequests(ctx, []RequestID{id})
		if err != nil {
			return err
		}
		req = reqs[id]
		if quantity < req.QuantityAllocated {
			return invalid("quantity_requested", ErrBelowAllocated,
				"requested quantity cannot be lower than the %d already allocated", req.QuantityAllocated)
		}
		req.QuantityRequested = quantity
		return s.UpdateRequest(ctx, *req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Catalog) DeleteRequest(ctx context.Context, id RequestID) error {
	return c.store.WithTx(ctx, func(s Store) error {
		reqs, err := s.LockRequests(ctx, []RequestID{id})
		if err != nil {
			return err
		}
		if reqs[id].QuantityAllocated > 0 {
			return &ProtectedError{Resource: "request", ID: string(id), Reason: "request has allocated stock"}
		}
		return s.DeleteRequest(ctx, id)
	})
}

func (c *Catalog) ListRequests(ctx context.Context, eventID EventID) ([]Request, error) {
	if _, err := c.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return c.store.ListRequests(ctx, eventID)
}
