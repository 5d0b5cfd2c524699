package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/itiky/drawsync/model"
)

// Source marks who performed a store mutation.
type Source int

const (
	// SourceLocal marks mutations made by the local participant.
	SourceLocal Source = iota
	// SourceRemote marks mutations applied from inbound sync traffic; those
	// must never be re-captured as local edits (no feedback loop).
	SourceRemote
)

// String implements the stringer interface.
func (s Source) String() string {
	if s == SourceRemote {
		return "remote"
	}
	return "local"
}

type (
	// ChangeEvent is a single committed record mutation delivered to
	// subscribers after the owning transaction commits.
	ChangeEvent struct {
		Kind   model.ChangeKind
		Record model.Record
		Prior  model.Record
		Source Source
	}

	// Store keeps the drawing-surface records alongside the change
	// subscription used by the sync layer.
	Store struct {
		sync.RWMutex
		records     map[string]model.Record
		listeners   map[int]func(ChangeEvent)
		listenerSeq int
	}
)

// NewStore creates a new empty Store object.
func NewStore() *Store {
	return &Store{
		records:   make(map[string]model.Record),
		listeners: make(map[int]func(ChangeEvent)),
	}
}

// String implements the stringer interface.
func (s *Store) String() string {
	s.RLock()
	defer s.RUnlock()

	str := strings.Builder{}
	for id, rec := range s.records {
		str.WriteString(fmt.Sprintf("- %s (%s)\n", id, rec.TypeName()))
	}

	return str.String()
}

// Get returns a record by id.
func (s *Store) Get(id string) (model.Record, bool) {
	s.RLock()
	defer s.RUnlock()

	rec, found := s.records[id]
	return rec, found
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.records)
}

// All returns every stored record.
func (s *Store) All() []model.Record {
	s.RLock()
	defer s.RUnlock()

	recs := make([]model.Record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}

	return recs
}

// ByType returns every record of the given type.
func (s *Store) ByType(typeName model.TypeName) []model.Record {
	s.RLock()
	defer s.RUnlock()

	var recs []model.Record
	for _, rec := range s.records {
		if rec.TypeName() == typeName {
			recs = append(recs, rec)
		}
	}

	return recs
}

// Pages returns page records ordered by their "index" sort key.
func (s *Store) Pages() []model.Record {
	pages := s.ByType(model.PageType)
	sort.Slice(pages, func(i, j int) bool {
		iIdx, _ := pages[i]["index"].(string)
		jIdx, _ := pages[j]["index"].(string)
		return iIdx < jIdx
	})

	return pages
}

// PageShapes returns the shape/binding records owned by a page record.
func (s *Store) PageShapes(pageRecordId string) []model.Record {
	s.RLock()
	defer s.RUnlock()

	var recs []model.Record
	for _, rec := range s.records {
		tn := rec.TypeName()
		if tn != model.ShapeType && tn != model.BindingType {
			continue
		}
		if rec.ParentId() == pageRecordId {
			recs = append(recs, rec)
		}
	}

	return recs
}

// NextPageIndex returns a page sort key lexically after the current maximum.
func (s *Store) NextPageIndex() string {
	maxIdx := ""
	for _, page := range s.Pages() {
		if idx, ok := page["index"].(string); ok && idx > maxIdx {
			maxIdx = idx
		}
	}

	if maxIdx == "" {
		return "a1"
	}
	return maxIdx + "1"
}

// Put upserts a single record as its own transaction.
func (s *Store) Put(src Source, rec model.Record) {
	s.Transact(src, func(tx *Tx) {
		tx.Put(rec)
	})
}

// Remove deletes a single record as its own transaction (no-op for an
// unknown id).
func (s *Store) Remove(src Source, id string) {
	s.Transact(src, func(tx *Tx) {
		tx.Remove(id)
	})
}

// Subscribe registers a change listener and returns its unsubscribe func.
// Listeners are invoked after the transaction commit, outside the store lock.
func (s *Store) Subscribe(fn func(ChangeEvent)) func() {
	s.Lock()
	defer s.Unlock()

	id := s.listenerSeq
	s.listenerSeq++
	s.listeners[id] = fn

	return func() {
		s.Lock()
		defer s.Unlock()

		delete(s.listeners, id)
	}
}
