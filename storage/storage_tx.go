package storage

import (
	"github.com/itiky/drawsync/model"
)

type (
	// Tx is an atomic multi-record mutation: its change events are collected
	// and delivered to subscribers in one batch after the commit.
	Tx struct {
		store  *Store
		source Source
		events []ChangeEvent
	}
)

// Get returns a record by id within the transaction.
func (tx *Tx) Get(id string) (model.Record, bool) {
	rec, found := tx.store.records[id]
	return rec, found
}

// All returns every record visible to the transaction.
func (tx *Tx) All() []model.Record {
	recs := make([]model.Record, 0, len(tx.store.records))
	for _, rec := range tx.store.records {
		recs = append(recs, rec)
	}

	return recs
}

// Put upserts a record, deriving the added/updated event kind from the
// current state.
func (tx *Tx) Put(rec model.Record) {
	id := rec.Id()
	if id == "" {
		return
	}

	prior, found := tx.store.records[id]
	tx.store.records[id] = rec

	ev := ChangeEvent{
		Kind:   model.AddedChange,
		Record: rec,
		Source: tx.source,
	}
	if found {
		ev.Kind = model.UpdatedChange
		ev.Prior = prior
	}
	tx.events = append(tx.events, ev)
}

// Remove deletes a record. Removing an unknown id is a no-op, so duplicate
// deliveries of the same removal stay idempotent.
func (tx *Tx) Remove(id string) {
	prior, found := tx.store.records[id]
	if !found {
		return
	}

	delete(tx.store.records, id)
	tx.events = append(tx.events, ChangeEvent{
		Kind:   model.RemovedChange,
		Record: prior,
		Source: tx.source,
	})
}

// Transact runs fn as one atomic mutation batch and notifies subscribers
// after the commit.
func (s *Store) Transact(src Source, fn func(tx *Tx)) {
	s.Lock()

	tx := &Tx{store: s, source: src}
	fn(tx)

	listeners := make([]func(ChangeEvent), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	events := tx.events

	s.Unlock()

	for _, listener := range listeners {
		for _, ev := range events {
			listener(ev)
		}
	}
}
