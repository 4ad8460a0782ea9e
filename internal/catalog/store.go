package catalog

import "sync/atomic"

// Store holds zero or one active catalog. Readers always see either the
// previous or the next catalog, never a partially built one.
type Store struct {
	cur atomic.Pointer[Catalog]
}

// Load returns the active catalog or nil.
func (s *Store) Load() *Catalog { return s.cur.Load() }

// Set replaces the active catalog. A nil catalog clears it.
func (s *Store) Set(c *Catalog) { s.cur.Store(c) }

// Clear unsets the active catalog.
func (s *Store) Clear() { s.cur.Store(nil) }

// LoadFile parses path and swaps it in only on success.
func (s *Store) LoadFile(path string) (*Catalog, error) {
	c, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s.Set(c)
	return c, nil
}
