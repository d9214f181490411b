/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the store with realistic data.
	Every movement goes through the engine, so scenario data obeys the same
	rules as data entered through the API.

AVAILABLE SCENARIOS:
	festival:      Catalogue of stage gear, a settled past event and an
	               upcoming festival partly covered by stock
	fifo-returns:  One item allocated at two prices, partly returned

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create items and purchase stock
 3. Create events and their requests
 4. Allocate, return and complete as the story needs

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "festival"}

NOTE:
	Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/event-stock/inventory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "festival",
		Name:        "Festival",
		Description: "Stage gear catalogue, a completed spring gala and an upcoming festival with missing items",
	},
	{
		ID:          "fifo-returns",
		Name:        "FIFO Returns",
		Description: "Moving heads allocated at two prices, returns priced oldest allocation first",
	},
}

func (h *Handler) scenarioLoader(id string) func(context.Context) error {
	switch id {
	case "festival":
		return h.loadFestivalScenario
	case "fifo-returns":
		return h.loadFIFOReturnsScenario
	}
	return nil
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, map[string]any{"scenario_id": nil})
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, map[string]any{"scenario_id": s.ID, "scenario": s})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenario_id": current})
}

// LoadScenario resets the store and loads a demo scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		if inventory.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Field: "scenario_id"})
			return
		}
		writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "loaded",
		"scenario_id": req.ScenarioID,
	})
}

// LoadScenarioByID resets the store and loads the scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	load := h.scenarioLoader(id)
	if load == nil {
		return &inventory.NotFoundError{Resource: "scenario", ID: id}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	h.currentScenario = ""
	if err := load(ctx); err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", id, err)
	}
	h.currentScenario = id
	h.log.Info().Str("scenario", id).Msg("scenario loaded")
	return nil
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SEEDER
// =============================================================================

// seeder runs scenario steps until the first failure, which it keeps.
type seeder struct {
	ctx context.Context
	h   *Handler
	err error
}

var scenarioApprovals = inventory.Approvals{inventory.ConfirmCreateRequest, inventory.ConfirmExceedRequest}

func (s *seeder) item(name string) inventory.ItemID {
	if s.err != nil {
		return ""
	}
	item, err := s.h.Catalog.CreateItem(s.ctx, name)
	if err != nil {
		s.err = err
		return ""
	}
	return item.ID
}

func (s *seeder) event(name string, date time.Time) inventory.EventID {
	if s.err != nil {
		return ""
	}
	event, err := s.h.Catalog.CreateEvent(s.ctx, name, date)
	if err != nil {
		s.err = err
		return ""
	}
	return event.ID
}

func (s *seeder) record(kind inventory.Kind, item inventory.ItemID, qty int64, price, note string) {
	if s.err != nil {
		return
	}
	in := inventory.RecordInput{Kind: kind, ItemID: item, Quantity: qty, Actor: "scenario", Note: note}
	if price != "" {
		p, err := decimal.NewFromString(price)
		if err != nil {
			s.err = err
			return
		}
		in.UnitPrice = &p
	}
	_, s.err = s.h.Engine.Record(s.ctx, in)
}

func (s *seeder) purchase(item inventory.ItemID, qty int64, price string) {
	s.record(inventory.KindPurchase, item, qty, price, "")
}

func (s *seeder) request(event inventory.EventID, item inventory.ItemID, qty int64) {
	if s.err != nil {
		return
	}
	_, s.err = s.h.Catalog.CreateRequest(s.ctx, event, item, qty)
}

func (s *seeder) allocate(item inventory.ItemID, event inventory.EventID, qty int64) {
	if s.err != nil {
		return
	}
	_, s.err = s.h.Allocator.Allocate(s.ctx, inventory.AllocateInput{
		ItemID: item, EventID: event, Quantity: qty, Actor: "scenario", Confirm: scenarioApprovals,
	})
}

func (s *seeder) giveBack(item inventory.ItemID, event inventory.EventID, qty int64) {
	if s.err != nil {
		return
	}
	_, s.err = s.h.Allocator.ReturnFromEvent(s.ctx, inventory.ReturnInput{
		ItemID: item, EventID: event, Quantity: qty, Actor: "scenario",
	})
}

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// SCENARIO: FESTIVAL
// =============================================================================

func (h *Handler) loadFestivalScenario(ctx context.Context) error {
	s := &seeder{ctx: ctx, h: h}

	deck := s.item("Stage deck 2x1m")
	head := s.item("Moving head")
	cable := s.item("DMX cable 10m")
	chair := s.item("Folding chair")
	banner := s.item("Sponsor banner")
	tent := s.item("Marquee tent")

	s.purchase(deck, 20, "45")
	s.purchase(head, 8, "120")
	s.purchase(head, 4, "135")
	s.purchase(cable, 100, "3.5")
	s.purchase(chair, 200, "2.75")
	s.record(inventory.KindSponsorship, banner, 10, "", "Donated by main sponsor")
	s.record(inventory.KindInternalConsumption, cable, 5, "", "Office rig")
	s.record(inventory.KindManualRemove, head, 1, "", "Broken lens")

	// A past event whose stock all came back
	gala := s.event("Spring Gala", today().AddDate(0, 0, -30))
	s.allocate(chair, gala, 80)
	s.allocate(cable, gala, 20)
	s.giveBack(chair, gala, 80)
	s.giveBack(cable, gala, 20)
	if s.err == nil {
		_, s.err = h.Catalog.CompleteEvent(ctx, gala)
	}

	// Upcoming festival, partly covered by stock
	fest := s.event("Summer Fest", today().AddDate(0, 0, 14))
	s.request(fest, deck, 12)
	s.request(fest, head, 14)
	s.request(fest, chair, 150)
	s.request(fest, cable, 40)
	s.request(fest, banner, 6)
	s.request(fest, tent, 2)
	if s.err == nil {
		_, s.err = h.Allocator.AllocateAvailableForEvent(ctx, fest, "scenario")
	}

	return s.err
}

// =============================================================================
// SCENARIO: FIFO RETURNS
// =============================================================================

func (h *Handler) loadFIFOReturnsScenario(ctx context.Context) error {
	s := &seeder{ctx: ctx, h: h}

	head := s.item("Moving head")
	club := s.event("Club Night", today().AddDate(0, 0, 7))

	s.purchase(head, 5, "100")
	s.allocate(head, club, 5)
	s.purchase(head, 5, "140")
	s.allocate(head, club, 5)

	// Comes back as 5 @ 100 then 2 @ 140
	s.giveBack(head, club, 7)

	return s.err
}
