// Package results holds the keyed result set of a run: one report.Record
// per source filename.
package results

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/jackzampolin/auditparse/internal/report"
)

// MissingReason is the unresolved reason given to files Complete fills in.
const MissingReason = "no result produced"

// Set maps filenames to records. Put replaces; the last write for a
// filename wins. Safe for concurrent use.
type Set struct {
	mu      sync.RWMutex
	records map[string]report.Record
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{records: make(map[string]report.Record)}
}

// Put inserts or replaces the record for name.
func (s *Set) Put(name string, rec report.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[name] = rec
}

// Merge puts every entry of recs.
func (s *Set) Merge(recs map[string]report.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, rec := range recs {
		s.records[name] = rec
	}
}

// Get returns the record for name.
func (s *Set) Get(name string) (report.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[name]
	return rec, ok
}

// Len returns the number of filenames in the set.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Names returns the filenames in the set, sorted.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Missing returns the expected filenames that have no record, in the order
// given.
func (s *Set) Missing(expected []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []string
	for _, name := range expected {
		if _, ok := s.records[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Complete gives every expected filename without a record an unresolved
// default, and returns the names it filled.
func (s *Set) Complete(expected []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var filled []string
	for _, name := range expected {
		if _, ok := s.records[name]; ok {
			continue
		}
		s.records[name] = report.Unresolved(MissingReason)
		filled = append(filled, name)
	}
	return filled
}

// Unresolved returns the sorted filenames whose record is an unresolved
// default.
func (s *Set) Unresolved() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name, rec := range s.records {
		if rec.IsUnresolved() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the set's contents.
func (s *Set) Snapshot() map[string]report.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]report.Record, len(s.records))
	for name, rec := range s.records {
		out[name] = rec
	}
	return out
}

// MarshalJSON encodes the set as a filename-keyed object.
func (s *Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// UnmarshalJSON replaces the set's contents.
func (s *Set) UnmarshalJSON(data []byte) error {
	var recs map[string]report.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return err
	}
	if recs == nil {
		recs = make(map[string]report.Record)
	}
	s.mu.Lock()
	s.records = recs
	s.mu.Unlock()
	return nil
}
