/*
reports.go - Read-only aggregates over the ledger

PURPOSE:
  Every derived figure is computed from ledger entries on read, using one
  signed-sum convention: allocate_to_event counts positive and
  return_from_event counts negative.

PROJECTIONS:
  - Checklist:     allocated quantity per requested item
  - ShoppingList:  missing quantity per item with its last purchase price
  - CostBreakdown: net consumed quantity per (item, unit price), grand total

SEE ALSO:
  - report/: spreadsheet rendering of the three projections
*/
package inventory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

type Reports struct {
	store Store
}

func NewReports(store Store) *Reports {
	return &Reports{store: store}
}

// Entries returns ledger entries matching the filter, oldest first.
func (r *Reports) Entries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	return r.store.Entries(ctx, filter)
}

// =============================================================================
// EVENT COST
// =============================================================================

func (r *Reports) EventTotalCost(ctx context.Context, eventID EventID) (decimal.Decimal, error) {
	if _, err := r.store.GetEvent(ctx, eventID); err != nil {
		return decimal.Zero, err
	}
	return eventTotalCost(ctx, r.store, eventID)
}

func eventTotalCost(ctx context.Context, s Store, eventID EventID) (decimal.Decimal, error) {
	entries, err := s.Entries(ctx, EntryFilter{EventID: eventID})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.SignedValue())
	}
	return total, nil
}

// =============================================================================
// REQUEST SUMMARIES
// =============================================================================

type RequestSummary struct {
	Request
	ItemName string
	Consumed int64           // net quantity allocated minus returned
	Cost     decimal.Decimal // net value allocated minus returned
}

// RequestSummaries returns one summary per request of the event, in request
// creation order.
func (r *Reports) RequestSummaries(ctx context.Context, eventID EventID) ([]RequestSummary, error) {
	if _, err := r.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	reqs, err := r.store.ListRequests(ctx, eventID)
	if err != nil {
		return nil, err
	}
	entries, err := r.store.Entries(ctx, EntryFilter{EventID: eventID})
	if err != nil {
		return nil, err
	}

	qty := map[ItemID]int64{}
	cost := map[ItemID]decimal.Decimal{}
	for _, e := range entries {
		qty[e.ItemID] += e.SignedQuantity()
		cost[e.ItemID] = cost[e.ItemID].Add(e.SignedValue())
	}

	out := make([]RequestSummary, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, RequestSummary{
			Request:  req,
			ItemName: itemName(ctx, r.store, req.ItemID),
			Consumed: qty[req.ItemID],
			Cost:     cost[req.ItemID],
		})
	}
	return out, nil
}

// =============================================================================
// CHECKLIST
// =============================================================================

type ChecklistLine struct {
	Quantity int64
	ItemName string
}

type Checklist struct {
	Event Event
	Lines []ChecklistLine
}

// Checklist lists the allocated quantity of every request that received
// stock, by item name.
func (r *Reports) Checklist(ctx context.Context, eventID EventID) (*Checklist, error) {
	event, err := r.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	reqs, err := r.store.ListRequests(ctx, eventID)
	if err != nil {
		return nil, err
	}
	list := &Checklist{Event: *event}
	for _, req := range reqs {
		if req.QuantityAllocated > 0 {
			list.Lines = append(list.Lines, ChecklistLine{
				Quantity: req.QuantityAllocated,
				ItemName: itemName(ctx, r.store, req.ItemID),
			})
		}
	}
	sort.SliceStable(list.Lines, func(i, j int) bool { return list.Lines[i].ItemName < list.Lines[j].ItemName })
	return list, nil
}

// =============================================================================
// SHOPPING LIST
// =============================================================================

type ShoppingLine struct {
	Missing  int64
	ItemName string
	// LastUnitPrice is nil when the item was never purchased.
	LastUnitPrice *decimal.Decimal
	EstimatedCost decimal.Decimal
}

type ShoppingList struct {
	Event          Event
	Lines          []ShoppingLine
	EstimatedTotal decimal.Decimal
}

// ShoppingList lists what is still missing for the event, priced at each
// item's last purchase price.
func (r *Reports) ShoppingList(ctx context.Context, eventID EventID) (*ShoppingList, error) {
	event, err := r.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	reqs, err := r.store.ListRequests(ctx, eventID)
	if err != nil {
		return nil, err
	}

	list := &ShoppingList{Event: *event, EstimatedTotal: decimal.Zero}
	for _, req := range reqs {
		missing := req.QuantityMissing()
		if missing <= 0 {
			continue
		}
		price, err := r.LastPurchasePrice(ctx, req.ItemID)
		if err != nil {
			return nil, err
		}
		line := ShoppingLine{
			Missing:       missing,
			ItemName:      itemName(ctx, r.store, req.ItemID),
			LastUnitPrice: price,
			EstimatedCost: decimal.Zero,
		}
		if price != nil {
			line.EstimatedCost = price.Mul(decimal.NewFromInt(missing))
		}
		list.EstimatedTotal = list.EstimatedTotal.Add(line.EstimatedCost)
		list.Lines = append(list.Lines, line)
	}
	sort.SliceStable(list.Lines, func(i, j int) bool { return list.Lines[i].ItemName < list.Lines[j].ItemName })
	return list, nil
}

// LastPurchasePrice returns the unit price of the item's newest purchase,
// or nil if it was never purchased.
func (r *Reports) LastPurchasePrice(ctx context.Context, itemID ItemID) (*decimal.Decimal, error) {
	entries, err := r.store.Entries(ctx, EntryFilter{ItemID: itemID, Kinds: []Kind{KindPurchase}})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	price := entries[len(entries)-1].UnitPrice
	return &price, nil
}

// =============================================================================
// COST BREAKDOWN
// =============================================================================

type CostLine struct {
	Quantity  int64
	ItemName  string
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

type CostBreakdown struct {
	Event Event
	Lines []CostLine
	Total decimal.Decimal
}

type costKey struct {
	item  ItemID
	price string
}

// CostBreakdown groups the event's net consumption by (item, unit price).
// Zero-priced and fully returned groups are left out.
func (r *Reports) CostBreakdown(ctx context.Context, eventID EventID) (*CostBreakdown, error) {
	event, err := r.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	entries, err := r.store.Entries(ctx, EntryFilter{
		EventID: eventID,
		Kinds:   []Kind{KindAllocateToEvent, KindReturnFromEvent},
	})
	if err != nil {
		return nil, err
	}

	net := map[costKey]int64{}
	prices := map[costKey]decimal.Decimal{}
	var order []costKey
	for _, e := range entries {
		k := costKey{item: e.ItemID, price: e.UnitPrice.StringFixed(PriceScale)}
		if _, ok := net[k]; !ok {
			order = append(order, k)
			prices[k] = e.UnitPrice
		}
		net[k] += e.SignedQuantity()
	}

	out := &CostBreakdown{Event: *event, Total: decimal.Zero}
	for _, k := range order {
		price := prices[k]
		if net[k] <= 0 || !price.IsPositive() {
			continue
		}
		line := CostLine{
			Quantity:  net[k],
			ItemName:  itemName(ctx, r.store, k.item),
			UnitPrice: price,
			Total:     price.Mul(decimal.NewFromInt(net[k])),
		}
		out.Total = out.Total.Add(line.Total)
		out.Lines = append(out.Lines, line)
	}
	sort.SliceStable(out.Lines, func(i, j int) bool {
		if out.Lines[i].ItemName != out.Lines[j].ItemName {
			return out.Lines[i].ItemName < out.Lines[j].ItemName
		}
		return out.Lines[i].UnitPrice.LessThan(out.Lines[j].UnitPrice)
	})
	return out, nil
}
