// Package table keeps the latest frame and arrival rate per CAN identifier.
package table

import (
	"sort"
	"sync"

	"github.com/kstaniek/canscope/internal/can"
)

const (
	windowUs     = 100_000 // trailing history window
	sparseGapUs  = 50_000  // above this gap the direct delta wins
	windowsPerS  = 1_000_000.0 / windowUs
	microsPerSec = 1_000_000.0
)

// Entry is the live state of one identifier. Values returned by the table
// are copies and safe to retain.
type Entry struct {
	Frame       can.Frame
	LastSeenUs  uint64
	FrequencyHz float64
	Count       uint64
	// Window holds arrival timestamps within 100 ms of LastSeenUs, oldest first.
	Window []uint64
}

func (e *Entry) clone() Entry {
	c := *e
	c.Window = append([]uint64(nil), e.Window...)
	return c
}

// Table is safe for one ingest writer and any number of concurrent readers.
type Table struct {
	mu      sync.RWMutex
	entries map[uint32]*Entry
}

// New creates an empty table.
func New() *Table { return &Table{entries: make(map[uint32]*Entry)} }

// Upsert records an arrival of fr at arrivalUs and returns the updated entry
// together with the number of tracked identifiers.
func (t *Table) Upsert(fr can.Frame, arrivalUs uint64) (Entry, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fr.ID]
	if !ok {
		e = &Entry{
			Frame:      fr,
			LastSeenUs: arrivalUs,
			Window:     []uint64{arrivalUs},
			Count:      1,
		}
		t.entries[fr.ID] = e
		return e.clone(), len(t.entries)
	}
	e.Window = append(e.Window, arrivalUs)
	drop := 0
	for drop < len(e.Window) && arrivalUs > e.Window[drop] && arrivalUs-e.Window[drop] > windowUs {
		drop++
	}
	if drop > 0 {
		e.Window = append(e.Window[:0], e.Window[drop:]...)
	}
	e.FrequencyHz = estimate(e, arrivalUs)
	e.Frame = fr
	e.LastSeenUs = arrivalUs
	e.Count++
	return e.clone(), len(t.entries)
}

// estimate counts arrivals in the trailing window and falls back to the
// reciprocal of the last gap when the bus is sparse.
func estimate(e *Entry, arrivalUs uint64) float64 {
	freq := e.FrequencyHz
	if len(e.Window) > 1 {
		freq = float64(len(e.Window)) * windowsPerS
	}
	if arrivalUs > e.LastSeenUs {
		if gap := arrivalUs - e.LastSeenUs; gap > sparseGapUs {
			freq = microsPerSec / float64(gap)
		}
	}
	if freq < 0 {
		return 0
	}
	return freq
}

// Snapshot returns a point-in-time copy of all entries.
func (t *Table) Snapshot() map[uint32]Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[uint32]Entry, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.clone()
	}
	return out
}

// Entries returns a snapshot ordered by identifier.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.clone())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Frame.ID < out[j].Frame.ID })
	return out
}

// Get returns a copy of the entry for id.
func (t *Table) Get(id uint32) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Len returns the number of tracked identifiers.
func (t *Table) Len() int { t.mu.RLock(); n := len(t.entries); t.mu.RUnlock(); return n }

// ClearAll removes every entry.
func (t *Table) ClearAll() {
	t.mu.Lock()
	t.entries = make(map[uint32]*Entry)
	t.mu.Unlock()
}

// ClearOne removes the entry for id and reports whether it existed.
func (t *Table) ClearOne(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}
