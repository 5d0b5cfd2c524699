package model

import (
	"fmt"
	"strings"
)

type (
	// RecordUpdate keeps the prior and the next record value of an update
	// (serialized as a two element JSON array).
	RecordUpdate [2]Record

	// ChangeSet is a batch of pending record mutations keyed by record id.
	// A given id lives in at most one of the three maps at any time: the
	// Record* methods re-derive the placement so later operations subsume
	// earlier ones.
	ChangeSet struct {
		Added   map[string]Record       `json:"added"`
		Updated map[string]RecordUpdate `json:"updated"`
		Removed map[string]Record       `json:"removed"`
	}
)

// Prior returns the record value before the update.
func (u RecordUpdate) Prior() Record {
	return u[0]
}

// Next returns the record value after the update.
func (u RecordUpdate) Next() Record {
	return u[1]
}

// NewChangeSet creates an empty ChangeSet.
func NewChangeSet() ChangeSet {
	return ChangeSet{
		Added:   make(map[string]Record),
		Updated: make(map[string]RecordUpdate),
		Removed: make(map[string]Record),
	}
}

// String implements the stringer interface.
func (c ChangeSet) String() string {
	str := strings.Builder{}
	for id := range c.Added {
		str.WriteString(fmt.Sprintf("- added: %s\n", id))
	}
	for id := range c.Updated {
		str.WriteString(fmt.Sprintf("- updated: %s\n", id))
	}
	for id := range c.Removed {
		str.WriteString(fmt.Sprintf("- removed: %s\n", id))
	}

	return str.String()
}

// IsEmpty checks if the set carries no mutations.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Size returns the number of pending record ids.
func (c ChangeSet) Size() int {
	return len(c.Added) + len(c.Updated) + len(c.Removed)
}

// RecordAdded registers a created record, superseding any pending remove or
// update for that id.
func (c *ChangeSet) RecordAdded(rec Record) {
	id := rec.Id()
	delete(c.Removed, id)
	delete(c.Updated, id)
	c.Added[id] = rec
}

// RecordUpdated registers a record mutation.
// An update over a pending add collapses into the add (a peer that has not
// seen the record yet must receive a single creation carrying the latest
// value); an update over a pending remove revives the id as an update.
func (c *ChangeSet) RecordUpdated(prior, next Record) {
	id := next.Id()

	if _, ok := c.Added[id]; ok {
		c.Added[id] = next
		return
	}
	if removed, ok := c.Removed[id]; ok {
		delete(c.Removed, id)
		c.Updated[id] = RecordUpdate{removed, next}
		return
	}
	if pending, ok := c.Updated[id]; ok {
		c.Updated[id] = RecordUpdate{pending.Prior(), next}
		return
	}
	c.Updated[id] = RecordUpdate{prior, next}
}

// RecordRemoved registers a record deletion.
// A remove over a pending add cancels to a no-op (no wire traffic for that id
// at all); a remove over a pending update becomes a pure remove.
func (c *ChangeSet) RecordRemoved(rec Record) {
	id := rec.Id()

	if _, ok := c.Added[id]; ok {
		delete(c.Added, id)
		return
	}
	if pending, ok := c.Updated[id]; ok {
		delete(c.Updated, id)
		c.Removed[id] = pending.Prior()
		return
	}
	c.Removed[id] = rec
}

// Merge folds a later accumulated set into c, replaying its entries through
// the subsumption rules (used to restore in-flight changes after a failed
// send without dropping anything accumulated since).
func (c *ChangeSet) Merge(later ChangeSet) {
	for _, rec := range later.Added {
		c.RecordAdded(rec)
	}
	for _, upd := range later.Updated {
		c.RecordUpdated(upd.Prior(), upd.Next())
	}
	for _, rec := range later.Removed {
		c.RecordRemoved(rec)
	}
}
