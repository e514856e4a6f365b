// Package schedule maintains per-resource interval indexes over appointment
// time ranges, backing conflict detection for create and move operations.
package schedule

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// entry is one indexed interval. Intervals are half-open: [Start, End).
// Key identifies the reservation; ID is the owning appointment reported in
// conflicts. They differ only for the candidate interval of a pending move.
type entry struct {
	Key   uuid.UUID
	ID    uuid.UUID
	Start time.Time
	End   time.Time
}

// overlaps implements the conflict predicate: zero-duration and back-to-back
// intervals do not conflict.
func (e entry) overlaps(start, end time.Time) bool {
	return start.Before(e.End) && end.After(e.Start)
}

// resourceIndex holds one calendar's intervals sorted by start time. Queries
// binary-search the sorted slice for their bounds; inserts shift the slice,
// which is acceptable at per-calendar cardinalities. The contract callers rely
// on is the overlap predicate and exclude-id semantics, not the structure.
type resourceIndex struct {
	entries []entry
	byKey   map[uuid.UUID]entry
}

func (ri *resourceIndex) searchStart(t time.Time) int {
	return sort.Search(len(ri.entries), func(i int) bool {
		return !ri.entries[i].Start.Before(t)
	})
}

func (ri *resourceIndex) insert(e entry) {
	i := ri.searchStart(e.Start)
	ri.entries = append(ri.entries, entry{})
	copy(ri.entries[i+1:], ri.entries[i:])
	ri.entries[i] = e
	ri.byKey[e.Key] = e
}

func (ri *resourceIndex) remove(key uuid.UUID) bool {
	old, ok := ri.byKey[key]
	if !ok {
		return false
	}
	i := ri.searchStart(old.Start)
	for ; i < len(ri.entries); i++ {
		if ri.entries[i].Key == key {
			ri.entries = append(ri.entries[:i], ri.entries[i+1:]...)
			break
		}
	}
	delete(ri.byKey, key)
	return true
}

func (ri *resourceIndex) overlapping(start, end time.Time, exclude uuid.UUID) []uuid.UUID {
	// No interval starting at or after end can overlap [start, end).
	hi := ri.searchStart(end)
	var ids []uuid.UUID
	for i := 0; i < hi; i++ {
		e := ri.entries[i]
		if e.ID == exclude {
			continue
		}
		if e.overlaps(start, end) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// ConflictIndex is an interval index scoped per resource (an agent or client
// calendar). It is safe for concurrent use; mutating operations on one
// resource serialize, while reads and operations on distinct resources
// proceed independently.
type ConflictIndex struct {
	mu        sync.RWMutex
	resources map[uuid.UUID]*resourceIndex
}

func NewConflictIndex() *ConflictIndex {
	return &ConflictIndex{resources: make(map[uuid.UUID]*resourceIndex)}
}

func (ix *ConflictIndex) resource(id uuid.UUID) *resourceIndex {
	ri, ok := ix.resources[id]
	if !ok {
		ri = &resourceIndex{byKey: make(map[uuid.UUID]entry)}
		ix.resources[id] = ri
	}
	return ri
}

// Insert records the interval for id on the given resource, replacing any
// previous interval for the same id.
func (ix *ConflictIndex) Insert(resource, id uuid.UUID, start, end time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ri := ix.resource(resource)
	ri.remove(id)
	ri.insert(entry{Key: id, ID: id, Start: start, End: end})
}

// Remove drops id from the resource's index. Removing an unknown id is a no-op.
func (ix *ConflictIndex) Remove(resource, id uuid.UUID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ri, ok := ix.resources[resource]; ok {
		ri.remove(id)
	}
}

// Overlapping returns the ids of intervals on the resource that overlap
// [start, end), excluding the given id. Pass uuid.Nil to exclude nothing.
func (ix *ConflictIndex) Overlapping(resource uuid.UUID, start, end time.Time, exclude uuid.UUID) []uuid.UUID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ri, ok := ix.resources[resource]
	if !ok {
		return nil
	}
	return ri.overlapping(start, end, exclude)
}

// Reserve atomically checks [start, end) for conflicts and, when clear,
// replaces id's interval in the same critical section. This is what makes a
// move conflict check and index update a single step: two concurrent moves
// targeting overlapping windows serialize here, and the second sees the
// first's reservation.
func (ix *ConflictIndex) Reserve(resource, id uuid.UUID, start, end time.Time) ([]uuid.UUID, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ri := ix.resource(resource)
	if conflicts := ri.overlapping(start, end, id); len(conflicts) > 0 {
		return conflicts, false
	}
	ri.remove(id)
	ri.insert(entry{Key: id, ID: id, Start: start, End: end})
	return nil, true
}

// MoveReservation is a pending relocation of one interval. Until Commit or
// Abort, both the old and the candidate slot stay occupied, so no concurrent
// reservation can take the slot being vacated while the backing row update is
// still in flight.
type MoveReservation struct {
	ix       *ConflictIndex
	resource uuid.UUID
	id       uuid.UUID
	holdKey  uuid.UUID
	start    time.Time
	end      time.Time
}

// BeginMove checks [start, end) for conflicts, excluding id itself, and when
// clear records the candidate interval alongside id's current one. The caller
// must resolve the returned reservation with Commit or Abort.
func (ix *ConflictIndex) BeginMove(resource, id uuid.UUID, start, end time.Time) (*MoveReservation, []uuid.UUID, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ri := ix.resource(resource)
	if conflicts := ri.overlapping(start, end, id); len(conflicts) > 0 {
		return nil, conflicts, false
	}
	hold := entry{Key: uuid.New(), ID: id, Start: start, End: end}
	ri.insert(hold)
	return &MoveReservation{
		ix:       ix,
		resource: resource,
		id:       id,
		holdKey:  hold.Key,
		start:    start,
		end:      end,
	}, nil, true
}

// Commit releases the old interval and makes the candidate one id's interval
// of record.
func (r *MoveReservation) Commit() {
	r.ix.mu.Lock()
	defer r.ix.mu.Unlock()
	ri := r.ix.resource(r.resource)
	ri.remove(r.holdKey)
	ri.remove(r.id)
	ri.insert(entry{Key: r.id, ID: r.id, Start: r.start, End: r.end})
}

// Abort drops the candidate interval and leaves the old one untouched.
func (r *MoveReservation) Abort() {
	r.ix.mu.Lock()
	defer r.ix.mu.Unlock()
	ri := r.ix.resource(r.resource)
	ri.remove(r.holdKey)
}
