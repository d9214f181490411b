/*
engine.go - Transaction Engine

PURPOSE:
  Record validates a stock movement, locks the item's stock account, applies
  the quantity and valuation delta for the movement's kind, and appends the
  ledger entries. Entries and the stock account update commit together or
  not at all.

DELTA RULES:
  kind                               quantity   valuation   unit price
  purchase, manual_add               +q         +q*p        caller
  sponsorship                        +q         +0          forced to 0
  return_from_event                  +q         +q*p        caller, must match FIFO batch
  allocate_to_event, internal_cons.  -q         -q*p        preset, else average cost
  manual_remove                      -q         -q*p        caller if nonzero, else average

ORDER OF OPERATIONS:
  1. Validate input (no store access)
  2. Resolve the event for event-bound kinds (locked for allocations)
  3. Lock the item
  4. Check stock / returnable quantity
  5. Append entries, update stock account

RESIDUE:
  Average cost is truncated to 4 places. A decrease at average cost that
  takes the last units is split in two entries so the account ends at
  (0, 0) instead of keeping the truncation residue.

SEE ALSO:
  - allocation.go: allocate and bulk allocate, built on apply()
  - returns.go: FIFO return matcher
*/
package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store TxStore
	log   zerolog.Logger
	clock func() time.Time
	newID func() string

	mu   sync.Mutex
	last time.Time
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces time.Now. Timestamps handed out by the engine stay
// strictly increasing whatever the clock returns.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		log:   zerolog.Nop(),
		clock: time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Store() TxStore {
	return e.store
}

func (e *Engine) Logger() zerolog.Logger {
	return e.log
}

// now returns a UTC timestamp at microsecond resolution, strictly after the
// previous one.
func (e *Engine) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.clock().UTC().Truncate(time.Microsecond)
	if !t.After(e.last) {
		t = e.last.Add(time.Microsecond)
	}
	e.last = t
	return t
}

// =============================================================================
// RECORD
// =============================================================================

type RecordInput struct {
	Kind     Kind
	ItemID   ItemID
	Quantity int64
	// UnitPrice is required for purchase, manual_add and return_from_event.
	// For decreasing kinds it overrides the average cost when set.
	UnitPrice *decimal.Decimal
	EventID   EventID
	Actor     Actor
	Note      string
}

// Record appends the ledger entries for one stock movement and applies its
// delta to the item's stock account in a single transaction. A movement is
// one entry, except a decrease at average cost that empties the stock
// account, which is booked as two (see apply).
func (e *Engine) Record(ctx context.Context, in RecordInput) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		entries, err = e.record(ctx, s, in)
		return err
	})
	if err != nil {
		e.log.Debug().Err(err).
			Str("item_id", string(in.ItemID)).
			Str("kind", string(in.Kind)).
			Int64("quantity", in.Quantity).
			Msg("stock movement rejected")
		return nil, err
	}
	return entries, nil
}

func (e *Engine) record(ctx context.Context, s Store, in RecordInput) ([]LedgerEntry, error) {
	if err := validateRecord(in); err != nil {
		return nil, err
	}

	if in.Kind.RequiresEvent() {
		get := s.GetEvent
		if in.Kind == KindAllocateToEvent {
			get = s.LockEvent
		}
		event, err := get(ctx, in.EventID)
		if err != nil {
			return nil, err
		}
		if in.Kind == KindAllocateToEvent && event.Status == EventCompleted {
			return nil, invalid("event_id", ErrEventCompleted, "event %s is completed", event.Title())
		}
	}

	items, err := s.LockItems(ctx, []ItemID{in.ItemID})
	if err != nil {
		return nil, err
	}
	item := items[in.ItemID]

	if in.Kind == KindReturnFromEvent {
		if err := e.checkReturnPrice(ctx, s, in); err != nil {
			return nil, err
		}
	}

	entries, err := e.apply(item, in)
	if err != nil {
		return nil, err
	}
	if err := e.persist(ctx, s, []*Item{item}, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// checkReturnPrice enforces that a directly recorded return stays within the
// pair's net allocation and credits the batches FIFO would consume at their
// historical price.
func (e *Engine) checkReturnPrice(ctx context.Context, s Store, in RecordInput) error {
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
	for _, b := range MatchReturn(bal.Allocations, bal.Returned, in.Quantity) {
		if !b.UnitPrice.Equal(*in.UnitPrice) {
			return invalid("unit_price", ErrInvalidPrice,
				"returned units were allocated at %s, not %s",
				b.UnitPrice.StringFixed(PriceScale), in.UnitPrice.StringFixed(PriceScale))
		}
	}
	return nil
}

func validateRecord(in RecordInput) error {
	if !in.Kind.Valid() {
		return invalid("kind", ErrInvalidKind, "unknown transaction kind %q", in.Kind)
	}
	if in.Quantity <= 0 {
		return invalid("quantity", ErrInvalidQuantity, "quantity must be greater than zero")
	}
	if in.ItemID == "" {
		return invalid("item_id", ErrInvalidInput, "an item is required")
	}

	switch {
	case in.Kind.RequiresEvent() && in.EventID == "":
		return invalid("event_id", ErrInvalidAssociation, "%s requires an event", in.Kind.Label())
	case !in.Kind.RequiresEvent() && in.EventID != "":
		return invalid("event_id", ErrInvalidAssociation, "%s cannot reference an event", in.Kind.Label())
	}

	if in.UnitPrice != nil {
		if err := validatePrice(*in.UnitPrice); err != nil {
			return err
		}
	}
	switch {
	case in.Kind.RequiresPrice() && (in.UnitPrice == nil || in.UnitPrice.IsZero()):
		return invalid("unit_price", ErrMissingPrice, "%s requires a unit price", in.Kind.Label())
	case in.Kind == KindReturnFromEvent && in.UnitPrice == nil:
		return invalid("unit_price", ErrMissingPrice, "%s requires a unit price", in.Kind.Label())
	}
	return nil
}

func validatePrice(p decimal.Decimal) error {
	if p.IsNegative() {
		return invalid("unit_price", ErrInvalidPrice, "unit price cannot be negative")
	}
	if !p.Equal(p.Truncate(PriceScale)) {
		return invalid("unit_price", ErrInvalidPrice, "unit price has more than %d decimal places", PriceScale)
	}
	return nil
}

// =============================================================================
// DELTA APPLICATION
// =============================================================================

// unitPrice resolves the price an entry is booked at.
func unitPrice(item *Item, in RecordInput) decimal.Decimal {
	switch in.Kind {
	case KindSponsorship:
		return decimal.Zero
	case KindPurchase, KindManualAdd, KindReturnFromEvent:
		return *in.UnitPrice
	case KindManualRemove:
		if in.UnitPrice != nil && !in.UnitPrice.IsZero() {
			return *in.UnitPrice
		}
	default:
		if in.UnitPrice != nil {
			return *in.UnitPrice
		}
	}
	return item.AverageUnitCost()
}

// pricedAtAverage reports whether a decrease is booked at the item's
// average cost rather than a caller price.
func pricedAtAverage(in RecordInput) bool {
	switch in.Kind {
	case KindManualRemove:
		return in.UnitPrice == nil || in.UnitPrice.IsZero()
	case KindAllocateToEvent, KindInternalConsumption:
		return in.UnitPrice == nil
	}
	return false
}

// apply mutates the locked item in memory and returns the entries describing
// the movement. Nothing is persisted.
//
// The average cost is truncated, so taking every unit on hand at average
// leaves a residue of k ticks (k < quantity). That movement is split into
// quantity-k units at the average and k units at average+tick, which books
// the whole remaining value and leaves the account at (0, 0).
func (e *Engine) apply(item *Item, in RecordInput) ([]LedgerEntry, error) {
	price := unitPrice(item, in)
	value := price.Mul(decimal.NewFromInt(in.Quantity))

	if in.Kind.Increases() {
		item.QuantityOnHand += in.Quantity
		item.TotalValue = item.TotalValue.Add(value)
		return []LedgerEntry{e.entry(item, in, in.Quantity, price)}, nil
	}

	if in.Quantity > item.QuantityOnHand {
		return nil, &InsufficientStockError{
			ItemID:    item.ID,
			ItemName:  item.Name,
			Available: item.QuantityOnHand,
			Requested: in.Quantity,
		}
	}
	if value.GreaterThan(item.TotalValue) {
		return nil, &InsufficientValueError{
			ItemID:    item.ID,
			Available: item.TotalValue,
			Requested: value,
		}
	}
	item.QuantityOnHand -= in.Quantity
	item.TotalValue = item.TotalValue.Sub(value)

	if item.QuantityOnHand > 0 || item.TotalValue.IsZero() || !pricedAtAverage(in) {
		return []LedgerEntry{e.entry(item, in, in.Quantity, price)}, nil
	}

	tick := decimal.New(1, -PriceScale)
	residue := item.TotalValue.Div(tick).IntPart()
	item.TotalValue = decimal.Zero
	return []LedgerEntry{
		e.entry(item, in, in.Quantity-residue, price),
		e.entry(item, in, residue, price.Add(tick)),
	}, nil
}

func (e *Engine) entry(item *Item, in RecordInput, quantity int64, price decimal.Decimal) LedgerEntry {
	return LedgerEntry{
		ID:        EntryID(e.newID()),
		ItemID:    item.ID,
		Kind:      in.Kind,
		Timestamp: e.now(),
		Quantity:  quantity,
		UnitPrice: price,
		EventID:   in.EventID,
		Actor:     in.Actor,
		Note:      in.Note,
	}
}

// persist appends the entries as one batch and writes each touched stock
// account once.
func (e *Engine) persist(ctx context.Context, s Store, items []*Item, entries []LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.AppendEntries(ctx, entries); err != nil {
		return err
	}
	for _, item := range items {
		if err := s.UpdateStock(ctx, item.ID, item.QuantityOnHand, item.TotalValue); err != nil {
			return err
		}
	}
	for _, entry := range entries {
		e.log.Debug().
			Str("entry_id", string(entry.ID)).
			Str("item_id", string(entry.ItemID)).
			Str("kind", string(entry.Kind)).
			Int64("quantity", entry.Quantity).
			Str("unit_price", entry.UnitPrice.StringFixed(PriceScale)).
			Str("event_id", string(entry.EventID)).
			Str("actor", string(entry.Actor)).
			Msg("stock movement recorded")
	}
	return nil
}

// =============================================================================
// PAIR BALANCE - Net allocation per (item, event)
// =============================================================================

type pairTotals struct {
	Allocations []LedgerEntry
	Allocated   int64
	Returned    int64
}

func (p pairTotals) Net() int64 {
	return p.Allocated - p.Returned
}

func pairBalance(ctx context.Context, s Store, itemID ItemID, eventID EventID) (pairTotals, error) {
	entries, err := s.Entries(ctx, EntryFilter{
		ItemID:  itemID,
		EventID: eventID,
		Kinds:   []Kind{KindAllocateToEvent, KindReturnFromEvent},
	})
	if err != nil {
		return pairTotals{}, err
	}
	var p pairTotals
	for _, entry := range entries {
		if entry.Kind == KindAllocateToEvent {
			p.Allocations = append(p.Allocations, entry)
			p.Allocated += entry.Quantity
		} else {
			p.Returned += entry.Quantity
		}
	}
	return p, nil
}
