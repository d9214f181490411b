/*
handlers.go - HTTP API handlers for the event stock ledger

PURPOSE:
  Exposes the inventory engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the inventory services.

ENDPOINTS:
  Items:
    GET    /api/items                     List items, most stock first
    POST   /api/items                     Create item
    GET    /api/items/{id}                Item with stock account
    DELETE /api/items/{id}                Delete item without history
    GET    /api/items/{id}/entries        Item ledger

  Transactions:
    GET    /api/transactions              Ledger (?item_id, ?event_id, ?kind)
    POST   /api/transactions              Record a movement of any kind

  Events:
    GET    /api/events                    List events (?status) with cost
    POST   /api/events                    Create event
    GET    /api/events/{id}               Event with cost
    DELETE /api/events/{id}               Delete event
    POST   /api/events/{id}/complete      Mark completed
    GET    /api/events/{id}/requests      Request summaries
    POST   /api/events/{id}/requests      Create request
    POST   /api/events/{id}/allocate-available
    GET    /api/events/{id}/checklist     (?format=xlsx)
    GET    /api/events/{id}/shopping-list (?format=xlsx)
    GET    /api/events/{id}/cost          (?format=xlsx)

  Requests, allocations and returns:
    PUT    /api/requests/{id}             Change requested quantity
    DELETE /api/requests/{id}
    POST   /api/allocations/plan          Dry run, lists confirmations
    POST   /api/allocations               Allocate with approvals
    POST   /api/returns                   FIFO return

REQUEST FLOW:
  1. Decode and validate the body (validator tags)
  2. Call the inventory service with the X-Actor identity
  3. Serialize response, or map the domain error to a status

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Status mapping
  - scenarios.go: Demo scenario loaders
*/
package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/event-stock/inventory"
	"github.com/warp/event-stock/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs: the inventory contract plus a
// reset for demo scenarios.
type Store interface {
	inventory.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Engine    *inventory.Engine
	Catalog   *inventory.Catalog
	Allocator *inventory.Allocator
	Reports   *inventory.Reports

	log zerolog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler with services built on the given store.
func NewHandler(store Store, log zerolog.Logger) *Handler {
	engine := inventory.NewEngine(store, inventory.WithLogger(log))
	return &Handler{
		Store:     store,
		Engine:    engine,
		Catalog:   inventory.NewCatalog(engine),
		Allocator: inventory.NewAllocator(engine),
		Reports:   inventory.NewReports(store),
		log:       log,
	}
}

// =============================================================================
// ITEMS
// =============================================================================

// ListItems returns all items, most stock on hand first.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.ListItems(r.Context())
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	dtos := make([]ItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.Catalog.CreateItem(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(*item))
}

// GetItem returns the item with its last purchase price.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := inventory.ItemID(chi.URLParam(r, "id"))

	item, err := h.Catalog.GetItem(ctx, id)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	last, err := h.Reports.LastPurchasePrice(ctx, id)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}

	dto := toItemDTO(*item)
	if last != nil {
		p := money(*last)
		dto.LastUnitPrice = &p
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.DeleteItem(r.Context(), inventory.ItemID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetItemEntries returns the item's ledger, oldest first.
func (h *Handler) GetItemEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := inventory.ItemID(chi.URLParam(r, "id"))
	if _, err := h.Catalog.GetItem(ctx, id); err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	entries, err := h.Reports.Entries(ctx, inventory.EntryFilter{ItemID: id})
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(entries))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// ListTransactions returns ledger entries filtered by item_id, event_id and
// kind (repeatable).
// GET /api/transactions?item_id=...&event_id=...&kind=purchase
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := inventory.EntryFilter{
		ItemID:  inventory.ItemID(q.Get("item_id")),
		EventID: inventory.EventID(q.Get("event_id")),
	}
	for _, k := range q["kind"] {
		kind := inventory.Kind(k)
		if !kind.Valid() {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown kind %q", k), Field: "kind"})
			return
		}
		filter.Kinds = append(filter.Kinds, kind)
	}

	entries, err := h.Reports.Entries(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(entries))
}

// RecordTransaction records a movement. Allocations go through the
// allocation service and returns through the FIFO matcher, so both keep
// requests and return prices consistent.
// POST /api/transactions
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req RecordTransactionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ctx := r.Context()
	actor := actorFrom(r)

	var (
		entries []inventory.LedgerEntry
		err     error
	)
	switch kind := inventory.Kind(req.Kind); kind {
	case inventory.KindAllocateToEvent:
		var res *inventory.AllocationResult
		res, err = h.Allocator.Allocate(ctx, inventory.AllocateInput{
			ItemID:   inventory.ItemID(req.ItemID),
			EventID:  inventory.EventID(req.EventID),
			Quantity: req.Quantity,
			Actor:    actor,
			Note:     req.Note,
			Confirm:  toApprovals(req.Confirm),
		})
		if err == nil {
			entries = res.Entries
		}
	case inventory.KindReturnFromEvent:
		entries, err = h.Allocator.ReturnFromEvent(ctx, inventory.ReturnInput{
			ItemID:   inventory.ItemID(req.ItemID),
			EventID:  inventory.EventID(req.EventID),
			Quantity: req.Quantity,
			Actor:    actor,
			Note:     req.Note,
		})
	default:
		entries, err = h.Engine.Record(ctx, inventory.RecordInput{
			Kind:      kind,
			ItemID:    inventory.ItemID(req.ItemID),
			Quantity:  req.Quantity,
			UnitPrice: req.UnitPrice,
			EventID:   inventory.EventID(req.EventID),
			Actor:     actor,
			Note:      req.Note,
		})
	}
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTOs(entries))
}

// =============================================================================
// EVENTS
// =============================================================================

// ListEvents returns events, newest first, with their total cost.
// GET /api/events?status=in_progress
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	status := inventory.EventStatus(r.URL.Query().Get("status"))
	events, err := h.Catalog.ListEvents(r.Context(), status)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e.Event, e.TotalCost)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Field: "date"})
		return
	}
	event, err := h.Catalog.CreateEvent(r.Context(), req.Name, date)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(*event, decimal.Zero))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := inventory.EventID(chi.URLParam(r, "id"))
	event, err := h.Catalog.GetEvent(ctx, id)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	cost, err := h.Reports.EventTotalCost(ctx, id)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(*event, cost))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.DeleteEvent(r.Context(), inventory.EventID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompleteEvent marks the event completed once all its stock is back.
// POST /api/events/{id}/complete
func (h *Handler) CompleteEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := inventory.EventID(chi.URLParam(r, "id"))
	event, err := h.Catalog.CompleteEvent(ctx, id)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	cost, err := h.Reports.EventTotalCost(ctx, id)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(*event, cost))
}

// =============================================================================
// REQUESTS
// =============================================================================

// ListEventRequests returns one summary per request of the event.
func (h *Handler) ListEventRequests(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.Reports.RequestSummaries(r.Context(), inventory.EventID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	dtos := make([]RequestDTO, len(summaries))
	for i, s := range summaries {
		dtos[i] = toRequestSummaryDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequestRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	created, err := h.Catalog.CreateRequest(r.Context(),
		inventory.EventID(chi.URLParam(r, "id")),
		inventory.ItemID(req.ItemID),
		req.QuantityRequested,
	)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

// UpdateRequest changes the requested quantity.
// PUT /api/requests/{id}
func (h *Handler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequestRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	updated, err := h.Catalog.UpdateRequestedQuantity(r.Context(),
		inventory.RequestID(chi.URLParam(r, "id")), req.QuantityRequested)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*updated))
}

func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.DeleteRequest(r.Context(), inventory.RequestID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ALLOCATIONS & RETURNS
// =============================================================================

// PlanAllocation lists the confirmations an allocation would need.
// POST /api/allocations/plan
func (h *Handler) PlanAllocation(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	plan, err := h.Allocator.PlanAllocation(r.Context(), allocateInput(req, actorFrom(r)))
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}

	dto := AllocationPlanDTO{
		ItemID:        string(plan.Item.ID),
		EventID:       string(plan.Event.ID),
		Available:     plan.Available,
		Confirmations: toConfirmationDTOs(plan.Confirmations),
	}
	if plan.Request != nil {
		rd := toRequestDTO(*plan.Request)
		dto.Request = &rd
	}
	writeJSON(w, http.StatusOK, dto)
}

// Allocate moves stock to an event. Missing approvals yield 428 with the
// confirmations to send back in "confirm".
// POST /api/allocations
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.Allocator.Allocate(r.Context(), allocateInput(req, actorFrom(r)))
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, AllocationDTO{
		Entries:        toTransactionDTOs(res.Entries),
		Request:        toRequestDTO(res.Request),
		CreatedRequest: res.CreatedRequest,
		ExtendedBy:     res.ExtendedBy,
	})
}

func allocateInput(req AllocateRequest, actor inventory.Actor) inventory.AllocateInput {
	return inventory.AllocateInput{
		ItemID:   inventory.ItemID(req.ItemID),
		EventID:  inventory.EventID(req.EventID),
		Quantity: req.Quantity,
		Actor:    actor,
		Note:     req.Note,
		Confirm:  toApprovals(req.Confirm),
	}
}

// AllocateAvailable fills the event's requests from stock on hand.
// POST /api/events/{id}/allocate-available
func (h *Handler) AllocateAvailable(w http.ResponseWriter, r *http.Request) {
	var req AllocateAvailableRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ctx := r.Context()
	eventID := inventory.EventID(chi.URLParam(r, "id"))
	actor := actorFrom(r)

	var (
		res *inventory.BulkResult
		err error
	)
	if len(req.RequestIDs) == 0 {
		res, err = h.Allocator.AllocateAvailableForEvent(ctx, eventID, actor)
	} else {
		ids := make([]inventory.RequestID, len(req.RequestIDs))
		for i, id := range req.RequestIDs {
			ids[i] = inventory.RequestID(id)
		}
		res, err = h.Allocator.AllocateAvailable(ctx, ids, actor)
	}
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}

	dto := BulkAllocationDTO{
		Entries:  toTransactionDTOs(res.Entries),
		Requests: make([]RequestDTO, len(res.Requests)),
		Skipped:  make([]string, len(res.Skipped)),
	}
	for i, req := range res.Requests {
		dto.Requests[i] = toRequestDTO(req)
	}
	for i, id := range res.Skipped {
		dto.Skipped[i] = string(id)
	}
	writeJSON(w, http.StatusOK, dto)
}

// ReturnFromEvent brings stock back, priced oldest allocation first. One
// entry is returned per allocation price consumed.
// POST /api/returns
func (h *Handler) ReturnFromEvent(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	entries, err := h.Allocator.ReturnFromEvent(r.Context(), inventory.ReturnInput{
		ItemID:   inventory.ItemID(req.ItemID),
		EventID:  inventory.EventID(req.EventID),
		Quantity: req.Quantity,
		Actor:    actorFrom(r),
		Note:     req.Note,
	})
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTOs(entries))
}

// =============================================================================
// REPORTS
// =============================================================================

func wantsSpreadsheet(r *http.Request) bool {
	return r.URL.Query().Get("format") == "xlsx"
}

// writeSpreadsheet renders into a buffer first so a rendering failure can
// still produce a JSON error.
func (h *Handler) writeSpreadsheet(w http.ResponseWriter, filename string, render func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// GET /api/events/{id}/checklist
func (h *Handler) GetChecklist(w http.ResponseWriter, r *http.Request) {
	list, err := h.Reports.Checklist(r.Context(), inventory.EventID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	if wantsSpreadsheet(r) {
		h.writeSpreadsheet(w, report.Filename("checklist", list.Event), func(buf *bytes.Buffer) error {
			return report.WriteChecklist(buf, list)
		})
		return
	}

	dto := ChecklistDTO{Event: eventRef(list.Event), Lines: make([]ChecklistLineDTO, len(list.Lines))}
	for i, l := range list.Lines {
		dto.Lines[i] = ChecklistLineDTO{Quantity: l.Quantity, ItemName: l.ItemName}
	}
	writeJSON(w, http.StatusOK, dto)
}

// GET /api/events/{id}/shopping-list
func (h *Handler) GetShoppingList(w http.ResponseWriter, r *http.Request) {
	list, err := h.Reports.ShoppingList(r.Context(), inventory.EventID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	if wantsSpreadsheet(r) {
		h.writeSpreadsheet(w, report.Filename("shopping-list", list.Event), func(buf *bytes.Buffer) error {
			return report.WriteShoppingList(buf, list)
		})
		return
	}

	dto := ShoppingListDTO{
		Event:          eventRef(list.Event),
		Lines:          make([]ShoppingLineDTO, len(list.Lines)),
		EstimatedTotal: money(list.EstimatedTotal),
	}
	for i, l := range list.Lines {
		line := ShoppingLineDTO{Quantity: l.Missing, ItemName: l.ItemName, EstimatedCost: money(l.EstimatedCost)}
		if l.LastUnitPrice != nil {
			p := money(*l.LastUnitPrice)
			line.LastUnitPrice = &p
		}
		dto.Lines[i] = line
	}
	writeJSON(w, http.StatusOK, dto)
}

// GET /api/events/{id}/cost
func (h *Handler) GetEventCost(w http.ResponseWriter, r *http.Request) {
	cost, err := h.Reports.CostBreakdown(r.Context(), inventory.EventID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	if wantsSpreadsheet(r) {
		h.writeSpreadsheet(w, report.Filename("cost", cost.Event), func(buf *bytes.Buffer) error {
			return report.WriteEventCost(buf, cost)
		})
		return
	}

	dto := EventCostDTO{
		Event: toEventDTO(cost.Event, cost.Total),
		Lines: make([]CostLineDTO, len(cost.Lines)),
		Total: money(cost.Total),
	}
	for i, l := range cost.Lines {
		dto.Lines[i] = CostLineDTO{
			Quantity:  l.Quantity,
			ItemName:  l.ItemName,
			UnitPrice: money(l.UnitPrice),
			ItemCost:  money(l.Total),
		}
	}
	writeJSON(w, http.StatusOK, dto)
}
