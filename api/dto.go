/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the domain
  model in inventory/ from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Prices and valuations are JSON strings with four decimal places
  ("12.5000"). Request bodies accept either a string or a number.

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required, positive quantities, known codes). Business rules stay in the
  inventory package and come back as domain errors.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse rendering
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/event-stock/inventory"
)

const dateLayout = "2006-01-02"

func money(d decimal.Decimal) string {
	return d.StringFixed(inventory.PriceScale)
}

// =============================================================================
// ITEMS
// =============================================================================

type ItemDTO struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	QuantityOnHand  int64   `json:"quantity_on_hand"`
	TotalValue      string  `json:"total_value"`
	AverageUnitCost string  `json:"average_unit_cost"`
	LastUnitPrice   *string `json:"last_purchase_price,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

type CreateItemRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

func toItemDTO(item inventory.Item) ItemDTO {
	return ItemDTO{
		ID:              string(item.ID),
		Name:            item.Name,
		QuantityOnHand:  item.QuantityOnHand,
		TotalValue:      money(item.TotalValue),
		AverageUnitCost: money(item.AverageUnitCost()),
		CreatedAt:       item.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO is one ledger entry.
type TransactionDTO struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	ItemID     string `json:"item_id"`
	Kind       string `json:"kind"`
	KindLabel  string `json:"kind_label"`
	Timestamp  string `json:"timestamp"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	TotalValue string `json:"total_value"`
	EventID    string `json:"event_id,omitempty"`
	Actor      string `json:"actor,omitempty"`
	Note       string `json:"note,omitempty"`
}

// RecordTransactionRequest records a movement of any kind.
// allocate_to_event runs through the allocation service and
// return_from_event through the return matcher, which prices it.
type RecordTransactionRequest struct {
	Kind      string           `json:"kind" validate:"required"`
	ItemID    string           `json:"item_id" validate:"required"`
	Quantity  int64            `json:"quantity" validate:"gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
	EventID   string           `json:"event_id,omitempty"`
	Note      string           `json:"note,omitempty" validate:"max=500"`
	Confirm   []string         `json:"confirm,omitempty" validate:"dive,oneof=create_request exceed_request"`
}

func toTransactionDTO(e inventory.LedgerEntry) TransactionDTO {
	return TransactionDTO{
		ID:         string(e.ID),
		Seq:        e.Seq,
		ItemID:     string(e.ItemID),
		Kind:       string(e.Kind),
		KindLabel:  e.Kind.Label(),
		Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
		Quantity:   e.Quantity,
		UnitPrice:  money(e.UnitPrice),
		TotalValue: money(e.TotalValue()),
		EventID:    string(e.EventID),
		Actor:      string(e.Actor),
		Note:       e.Note,
	}
}

func toTransactionDTOs(entries []inventory.LedgerEntry) []TransactionDTO {
	dtos := make([]TransactionDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toTransactionDTO(e)
	}
	return dtos
}

// =============================================================================
// EVENTS
// =============================================================================

type EventDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Date      string `json:"date"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	TotalCost string `json:"total_cost,omitempty"`
	CreatedAt string `json:"created_at"`
}

type CreateEventRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

func toEventDTO(event inventory.Event, cost decimal.Decimal) EventDTO {
	return EventDTO{
		ID:        string(event.ID),
		Name:      event.Name,
		Date:      event.Date.Format(dateLayout),
		Title:     event.Title(),
		Status:    string(event.Status),
		TotalCost: money(cost),
		CreatedAt: event.CreatedAt.Format(time.RFC3339),
	}
}

// eventRef describes an event inside another payload, without its cost.
func eventRef(event inventory.Event) EventDTO {
	dto := toEventDTO(event, decimal.Zero)
	dto.TotalCost = ""
	return dto
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

type RequestDTO struct {
	ID                string `json:"id"`
	EventID           string `json:"event_id"`
	ItemID            string `json:"item_id"`
	ItemName          string `json:"item_name,omitempty"`
	QuantityRequested int64  `json:"quantity_requested"`
	QuantityAllocated int64  `json:"quantity_allocated"`
	QuantityMissing   int64  `json:"quantity_missing"`
	Consumed          *int64 `json:"consumed,omitempty"`
	Cost              string `json:"cost,omitempty"`
}

type CreateRequestRequest struct {
	ItemID            string `json:"item_id" validate:"required"`
	QuantityRequested int64  `json:"quantity_requested" validate:"gt=0"`
}

type UpdateRequestRequest struct {
	QuantityRequested int64 `json:"quantity_requested" validate:"gt=0"`
}

func toRequestDTO(req inventory.Request) RequestDTO {
	return RequestDTO{
		ID:                string(req.ID),
		EventID:           string(req.EventID),
		ItemID:            string(req.ItemID),
		QuantityRequested: req.QuantityRequested,
		QuantityAllocated: req.QuantityAllocated,
		QuantityMissing:   req.QuantityMissing(),
	}
}

func toRequestSummaryDTO(s inventory.RequestSummary) RequestDTO {
	dto := toRequestDTO(s.Request)
	consumed := s.Consumed
	dto.ItemName = s.ItemName
	dto.Consumed = &consumed
	dto.Cost = money(s.Cost)
	return dto
}

// =============================================================================
// ALLOCATIONS & RETURNS
// =============================================================================

type AllocateRequest struct {
	ItemID   string   `json:"item_id" validate:"required"`
	EventID  string   `json:"event_id" validate:"required"`
	Quantity int64    `json:"quantity" validate:"gt=0"`
	Note     string   `json:"note,omitempty" validate:"max=500"`
	Confirm  []string `json:"confirm,omitempty" validate:"dive,oneof=create_request exceed_request"`
}

type ConfirmationDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Excess  int64  `json:"excess,omitempty"`
}

type AllocationPlanDTO struct {
	ItemID        string            `json:"item_id"`
	EventID       string            `json:"event_id"`
	Available     int64             `json:"available"`
	Request       *RequestDTO       `json:"request,omitempty"`
	Confirmations []ConfirmationDTO `json:"confirmations"`
}

type AllocationDTO struct {
	Entries        []TransactionDTO `json:"entries"`
	Request        RequestDTO       `json:"request"`
	CreatedRequest bool             `json:"created_request"`
	ExtendedBy     int64            `json:"extended_by,omitempty"`
}

type ReturnRequest struct {
	ItemID   string `json:"item_id" validate:"required"`
	EventID  string `json:"event_id" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
	Note     string `json:"note,omitempty" validate:"max=500"`
}

// AllocateAvailableRequest restricts a bulk allocation to some requests.
// An empty list means every request of the event.
type AllocateAvailableRequest struct {
	RequestIDs []string `json:"request_ids,omitempty" validate:"dive,required"`
}

type BulkAllocationDTO struct {
	Entries  []TransactionDTO `json:"entries"`
	Requests []RequestDTO     `json:"requests"`
	Skipped  []string         `json:"skipped"`
}

func toConfirmationDTOs(cs []inventory.Confirmation) []ConfirmationDTO {
	dtos := make([]ConfirmationDTO, len(cs))
	for i, c := range cs {
		dtos[i] = ConfirmationDTO{Code: string(c.Code), Message: c.Message, Excess: c.Excess}
	}
	return dtos
}

func toApprovals(codes []string) inventory.Approvals {
	out := make(inventory.Approvals, len(codes))
	for i, c := range codes {
		out[i] = inventory.ConfirmationCode(c)
	}
	return out
}

// =============================================================================
// REPORTS
// =============================================================================

type ChecklistDTO struct {
	Event EventDTO           `json:"event"`
	Lines []ChecklistLineDTO `json:"lines"`
}

type ChecklistLineDTO struct {
	Quantity int64  `json:"quantity"`
	ItemName string `json:"item_name"`
}

type ShoppingListDTO struct {
	Event          EventDTO          `json:"event"`
	Lines          []ShoppingLineDTO `json:"lines"`
	EstimatedTotal string            `json:"estimated_total"`
}

type ShoppingLineDTO struct {
	Quantity      int64   `json:"quantity"`
	ItemName      string  `json:"item_name"`
	LastUnitPrice *string `json:"last_unit_price"`
	EstimatedCost string  `json:"estimated_cost"`
}

type EventCostDTO struct {
	Event EventDTO      `json:"event"`
	Lines []CostLineDTO `json:"lines"`
	Total string        `json:"total"`
}

type CostLineDTO struct {
	Quantity  int64  `json:"quantity"`
	ItemName  string `json:"item_name"`
	UnitPrice string `json:"unit_price"`
	ItemCost  string `json:"item_cost"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}
