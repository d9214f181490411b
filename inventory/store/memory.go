// Package store provides an in-memory inventory.TxStore.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/event-stock/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes every call on one mutex. WithTx holds it for the whole
// callback, which makes every row lock trivially exclusive.
type Memory struct {
	*view
	mu   sync.Mutex
	data memoryData
}

type memoryData struct {
	items    map[inventory.ItemID]inventory.Item
	events   map[inventory.EventID]inventory.Event
	requests map[inventory.RequestID]requestRow
	entries  []inventory.LedgerEntry
	seq      int64
}

type requestRow struct {
	inventory.Request
	seq int64
}

func NewMemory() *Memory {
	m := &Memory{data: newMemoryData()}
	m.view = &view{m: m}
	return m
}

func newMemoryData() memoryData {
	return memoryData{
		items:    make(map[inventory.ItemID]inventory.Item),
		events:   make(map[inventory.EventID]inventory.Event),
		requests: make(map[inventory.RequestID]requestRow),
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&view{m: m, inTx: true}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// Reset drops all data.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newMemoryData()
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func (d memoryData) clone() memoryData {
	c := memoryData{
		items:    make(map[inventory.ItemID]inventory.Item, len(d.items)),
		events:   make(map[inventory.EventID]inventory.Event, len(d.events)),
		requests: make(map[inventory.RequestID]requestRow, len(d.requests)),
		entries:  append([]inventory.LedgerEntry(nil), d.entries...),
		seq:      d.seq,
	}
	for k, v := range d.items {
		c.items[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.requests {
		c.requests[k] = v
	}
	return c
}

// =============================================================================
// VIEW - Store methods, locked unless running inside WithTx
// =============================================================================

type view struct {
	m    *Memory
	inTx bool
}

func (v *view) acquire() func() {
	if v.inTx {
		return func() {}
	}
	v.m.mu.Lock()
	return v.m.mu.Unlock
}

func (v *view) d() *memoryData {
	return &v.m.data
}

// ----- items -----

func (v *view) InsertItem(_ context.Context, item inventory.Item) error {
	defer v.acquire()()
	if _, ok := v.d().items[item.ID]; ok {
		return &inventory.ConflictError{Resource: "item", Message: "duplicate id " + string(item.ID)}
	}
	v.d().items[item.ID] = item
	return nil
}

func (v *view) GetItem(_ context.Context, id inventory.ItemID) (*inventory.Item, error) {
	defer v.acquire()()
	item, ok := v.d().items[id]
	if !ok {
		return nil, &inventory.NotFoundError{Resource: "item", ID: string(id)}
	}
	return &item, nil
}

func (v *view) ListItems(context.Context) ([]inventory.Item, error) {
	defer v.acquire()()
	out := make([]inventory.Item, 0, len(v.d().items))
	for _, item := range v.d().items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *view) DeleteItem(_ context.Context, id inventory.ItemID) error {
	defer v.acquire()()
	if _, ok := v.d().items[id]; !ok {
		return &inventory.NotFoundError{Resource: "item", ID: string(id)}
	}
	delete(v.d().items, id)
	for rid, r := range v.d().requests {
		if r.ItemID == id {
			delete(v.d().requests, rid)
		}
	}
	return nil
}

func (v *view) LockItems(_ context.Context, ids []inventory.ItemID) (map[inventory.ItemID]*inventory.Item, error) {
	defer v.acquire()()
	out := make(map[inventory.ItemID]*inventory.Item, len(ids))
	for _, id := range ids {
		item, ok := v.d().items[id]
		if !ok {
			return nil, &inventory.NotFoundError{Resource: "item", ID: string(id)}
		}
		out[id] = &item
	}
	return out, nil
}

func (v *view) UpdateStock(_ context.Context, id inventory.ItemID, quantity int64, value decimal.Decimal) error {
	defer v.acquire()()
	item, ok := v.d().items[id]
	if !ok {
		return &inventory.NotFoundError{Resource: "item", ID: string(id)}
	}
	item.QuantityOnHand = quantity
	item.TotalValue = value
	v.d().items[id] = item
	return nil
}

// ----- events -----

func (v *view) InsertEvent(_ context.Context, event inventory.Event) error {
	defer v.acquire()()
	for _, e := range v.d().events {
		if e.Name == event.Name && e.Date.Equal(event.Date) {
			return &inventory.ConflictError{Resource: "event", Message: event.Title() + " already exists"}
		}
	}
	v.d().events[event.ID] = event
	return nil
}

func (v *view) GetEvent(_ context.Context, id inventory.EventID) (*inventory.Event, error) {
	defer v.acquire()()
	event, ok := v.d().events[id]
	if !ok {
		return nil, &inventory.NotFoundError{Resource: "event", ID: string(id)}
	}
	return &event, nil
}

func (v *view) LockEvent(ctx context.Context, id inventory.EventID) (*inventory.Event, error) {
	return v.GetEvent(ctx, id)
}

func (v *view) ListEvents(_ context.Context, status inventory.EventStatus) ([]inventory.Event, error) {
	defer v.acquire()()
	var out []inventory.Event
	for _, e := range v.d().events {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (v *view) UpdateEventStatus(_ context.Context, id inventory.EventID, status inventory.EventStatus) error {
	defer v.acquire()()
	event, ok := v.d().events[id]
	if !ok {
		return &inventory.NotFoundError{Resource: "event", ID: string(id)}
	}
	event.Status = status
	v.d().events[id] = event
	return nil
}

func (v *view) DeleteEvent(_ context.Context, id inventory.EventID) error {
	defer v.acquire()()
	if _, ok := v.d().events[id]; !ok {
		return &inventory.NotFoundError{Resource: "event", ID: string(id)}
	}
	delete(v.d().events, id)
	for rid, r := range v.d().requests {
		if r.EventID == id {
			delete(v.d().requests, rid)
		}
	}
	return nil
}

// ----- requests -----

func (v *view) InsertRequest(_ context.Context, req inventory.Request) error {
	defer v.acquire()()
	for _, r := range v.d().requests {
		if r.EventID == req.EventID && r.ItemID == req.ItemID {
			return &inventory.ConflictError{Resource: "request", Message: "item already requested for this event"}
		}
	}
	v.d().seq++
	v.d().requests[req.ID] = requestRow{Request: req, seq: v.d().seq}
	return nil
}

func (v *view) GetRequest(_ context.Context, id inventory.RequestID) (*inventory.Request, error) {
	defer v.acquire()()
	r, ok := v.d().requests[id]
	if !ok {
		return nil, &inventory.NotFoundError{Resource: "request", ID: string(id)}
	}
	return &r.Request, nil
}

func (v *view) FindRequest(_ context.Context, eventID inventory.EventID, itemID inventory.ItemID) (*inventory.Request, error) {
	defer v.acquire()()
	return v.find(eventID, itemID), nil
}

func (v *view) LockRequest(_ context.Context, eventID inventory.EventID, itemID inventory.ItemID) (*inventory.Request, error) {
	defer v.acquire()()
	return v.find(eventID, itemID), nil
}

func (v *view) find(eventID inventory.EventID, itemID inventory.ItemID) *inventory.Request {
	for _, r := range v.d().requests {
		if r.EventID == eventID && r.ItemID == itemID {
			req := r.Request
			return &req
		}
	}
	return nil
}

func (v *view) LockRequests(_ context.Context, ids []inventory.RequestID) (map[inventory.RequestID]*inventory.Request, error) {
	defer v.acquire()()
	out := make(map[inventory.RequestID]*inventory.Request, len(ids))
	for _, id := range ids {
		r, ok := v.d().requests[id]
		if !ok {
			return nil, &inventory.NotFoundError{Resource: "request", ID: string(id)}
		}
		req := r.Request
		out[id] = &req
	}
	return out, nil
}

func (v *view) ListRequests(_ context.Context, eventID inventory.EventID) ([]inventory.Request, error) {
	defer v.acquire()()
	var rows []requestRow
	for _, r := range v.d().requests {
		if eventID == "" || r.EventID == eventID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]inventory.Request, len(rows))
	for i, r := range rows {
		out[i] = r.Request
	}
	return out, nil
}

func (v *view) UpdateRequest(_ context.Context, req inventory.Request) error {
	defer v.acquire()()
	r, ok := v.d().requests[req.ID]
	if !ok {
		return &inventory.NotFoundError{Resource: "request", ID: string(req.ID)}
	}
	r.QuantityRequested = req.QuantityRequested
	r.QuantityAllocated = req.QuantityAllocated
	v.d().requests[req.ID] = r
	return nil
}

func (v *view) DeleteRequest(_ context.Context, id inventory.RequestID) error {
	defer v.acquire()()
	if _, ok := v.d().requests[id]; !ok {
		return &inventory.NotFoundError{Resource: "request", ID: string(id)}
	}
	delete(v.d().requests, id)
	return nil
}

// ----- ledger -----

func (v *view) AppendEntries(_ context.Context, entries []inventory.LedgerEntry) error {
	defer v.acquire()()
	for _, e := range entries {
		if _, ok := v.d().items[e.ItemID]; !ok {
			return &inventory.NotFoundError{Resource: "item", ID: string(e.ItemID)}
		}
	}
	for i := range entries {
		v.d().seq++
		entries[i].Seq = v.d().seq
		v.insertEntry(entries[i])
	}
	return nil
}

func (v *view) insertEntry(e inventory.LedgerEntry) {
	all := v.d().entries
	i := sort.Search(len(all), func(i int) bool { return e.Before(all[i]) })
	all = append(all, inventory.LedgerEntry{})
	copy(all[i+1:], all[i:])
	all[i] = e
	v.d().entries = all
}

func (v *view) Entries(_ context.Context, filter inventory.EntryFilter) ([]inventory.LedgerEntry, error) {
	defer v.acquire()()
	var out []inventory.LedgerEntry
	for _, e := range v.d().entries {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *view) HasEntries(_ context.Context, itemID inventory.ItemID) (bool, error) {
	defer v.acquire()()
	for _, e := range v.d().entries {
		if e.ItemID == itemID {
			return true, nil
		}
	}
	return false, nil
}
