/*
Package inventory provides the stock-ledger and allocation engine.

PURPOSE:
  Items are bought into a shared stock, requested for production events,
  allocated out of stock against those requests and returned when the event
  wraps up. Every stock movement is an immutable LedgerEntry; an Item's
  running quantity and valuation (its stock account) change only inside the
  same atomic operation that appends the entry causing the change.

KEY CONCEPTS IN THIS FILE (types.go):
  - Item:        stock-keeping unit with quantity on hand and total value
  - Event:       a production event consuming items
  - Request:     an event's reservation of a quantity of one item
  - LedgerEntry: one immutable stock movement
  - Kind:        the movement taxonomy and its direction

DESIGN PRINCIPLES:
  1. Append-only: ledger entries are never updated or deleted
  2. Precision: decimal.Decimal with 4 places for prices and valuations
  3. Derived values (average cost, missing quantity, entry value) are
     computed on read, never stored
  4. Type safety: distinct ID types for items, events, requests and entries

SEE ALSO:
  - engine.go: Transaction Engine (Record)
  - allocation.go: allocate / bulk allocate
  - returns.go: FIFO return matcher
  - store.go: persistence contract
*/
package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places kept for unit prices and valuations.
const PriceScale = 4

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type EventID string
type RequestID string
type EntryID string

// Actor is an opaque reference to whoever performed an action. It is only
// stamped on ledger entries.
type Actor string

// =============================================================================
// KIND - Stock movement taxonomy
// =============================================================================

type Kind string

const (
	KindPurchase            Kind = "purchase"
	KindAllocateToEvent     Kind = "allocate_to_event"
	KindReturnFromEvent     Kind = "return_from_event"
	KindManualRemove        Kind = "manual_remove"
	KindManualAdd           Kind = "manual_add"
	KindSponsorship         Kind = "sponsorship"
	KindInternalConsumption Kind = "internal_consumption"
)

// Kinds lists every movement kind in display order.
var Kinds = []Kind{
	KindPurchase,
	KindAllocateToEvent,
	KindReturnFromEvent,
	KindManualRemove,
	KindManualAdd,
	KindSponsorship,
	KindInternalConsumption,
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Increases reports whether the kind adds units to stock.
func (k Kind) Increases() bool {
	switch k {
	case KindPurchase, KindManualAdd, KindSponsorship, KindReturnFromEvent:
		return true
	}
	return false
}

// RequiresEvent reports whether entries of this kind must reference an event.
// Every other kind must not.
func (k Kind) RequiresEvent() bool {
	return k == KindAllocateToEvent || k == KindReturnFromEvent
}

// RequiresPrice reports whether the caller must supply a positive unit price.
func (k Kind) RequiresPrice() bool {
	return k == KindPurchase || k == KindManualAdd
}

func (k Kind) Label() string {
	switch k {
	case KindPurchase:
		return "Purchase"
	case KindAllocateToEvent:
		return "Allocation to event"
	case KindReturnFromEvent:
		return "Return from event"
	case KindManualRemove:
		return "Manual removal"
	case KindManualAdd:
		return "Manual addition"
	case KindSponsorship:
		return "Sponsorship"
	case KindInternalConsumption:
		return "Internal consumption"
	}
	return string(k)
}

// =============================================================================
// ITEM - Stock-keeping unit and its stock account
// =============================================================================

// Item carries the stock account of one SKU.
//
// INVARIANTS:
//   - QuantityOnHand >= 0
//   - TotalValue >= 0
//   - Both change only together with the ledger entry that causes the change.
type Item struct {
	ID             ItemID
	Name           string
	QuantityOnHand int64
	TotalValue     decimal.Decimal
	CreatedAt      time.Time
}

// AverageUnitCost is TotalValue / QuantityOnHand truncated to PriceScale,
// or zero when nothing is on hand.
func (i Item) AverageUnitCost() decimal.Decimal {
	return AverageCost(i.QuantityOnHand, i.TotalValue)
}

// AverageCost truncates rather than rounds, so quantity × average never
// exceeds value for any quantity up to the units on hand.
func AverageCost(quantity int64, value decimal.Decimal) decimal.Decimal {
	if quantity <= 0 {
		return decimal.Zero
	}
	return value.DivRound(decimal.NewFromInt(quantity), PriceScale+8).Truncate(PriceScale)
}

// =============================================================================
// EVENT
// =============================================================================

type EventStatus string

const (
	EventInProgress EventStatus = "in_progress"
	EventCompleted  EventStatus = "completed"
)

func (s EventStatus) Valid() bool {
	return s == EventInProgress || s == EventCompleted
}

type Event struct {
	ID        EventID
	Name      string
	Date      time.Time
	Status    EventStatus
	CreatedAt time.Time
}

// Title is the display name used on reports, e.g. "Summer Fest 14/02/2026".
func (e Event) Title() string {
	return fmt.Sprintf("%s %s", e.Name, e.Date.Format("02/01/2006"))
}

// =============================================================================
// REQUEST - Item requested for an event
// =============================================================================

// Request is unique per (event, item).
//
// INVARIANT: 0 <= QuantityAllocated <= QuantityRequested.
type Request struct {
	ID                RequestID
	EventID           EventID
	ItemID            ItemID
	QuantityRequested int64
	QuantityAllocated int64
	CreatedAt         time.Time
}

func (r Request) QuantityMissing() int64 {
	return r.QuantityRequested - r.QuantityAllocated
}

// =============================================================================
// LEDGER ENTRY - Immutable stock movement
// =============================================================================

type LedgerEntry struct {
	ID        EntryID
	Seq       int64 // assigned by the store, breaks timestamp ties
	ItemID    ItemID
	Kind      Kind
	Timestamp time.Time
	Quantity  int64
	UnitPrice decimal.Decimal
	EventID   EventID // empty unless Kind.RequiresEvent()
	Actor     Actor
	Note      string
}

func (e LedgerEntry) TotalValue() decimal.Decimal {
	return e.UnitPrice.Mul(decimal.NewFromInt(e.Quantity))
}

// SignedQuantity is the quantity seen from the event side: returns count
// negative, everything else positive.
func (e LedgerEntry) SignedQuantity() int64 {
	if e.Kind == KindReturnFromEvent {
		return -e.Quantity
	}
	return e.Quantity
}

// SignedValue follows the same convention as SignedQuantity.
func (e LedgerEntry) SignedValue() decimal.Decimal {
	if e.Kind == KindReturnFromEvent {
		return e.TotalValue().Neg()
	}
	return e.TotalValue()
}

// Before orders entries by timestamp, then by store sequence.
func (e LedgerEntry) Before(other LedgerEntry) bool {
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.Before(other.Timestamp)
	}
	return e.Seq < other.Seq
}

// =============================================================================
// CONFIRMATIONS - Two-phase allocation warnings
// =============================================================================

type ConfirmationCode string

const (
	// ConfirmCreateRequest: no request exists for the (event, item) pair and
	// one will be created for the allocated quantity.
	ConfirmCreateRequest ConfirmationCode = "create_request"

	// ConfirmExceedRequest: the allocation exceeds the missing quantity and
	// the requested quantity will be raised by the excess.
	ConfirmExceedRequest ConfirmationCode = "exceed_request"
)

// Confirmation is a warning the caller must explicitly accept before an
// allocation proceeds.
type Confirmation struct {
	Code    ConfirmationCode
	Message string
	Excess  int64 // only for ConfirmExceedRequest
}

// Approvals is the set of confirmations a caller pre-approved.
type Approvals []ConfirmationCode

func (a Approvals) Has(code ConfirmationCode) bool {
	for _, c := range a {
		if c == code {
			return true
		}
	}
	return false
}
