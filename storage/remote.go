package storage

import (
	"github.com/itiky/drawsync/model"
)

// ApplyRemoteChanges applies an inbound ChangeSet as one SourceRemote
// transaction. Added entries are the base truth for their id; an update
// landing on an id added in the same batch is merged into it field-by-field
// (otherwise the update value is taken as-is); the final remove list excludes
// any id revived by an add or update.
func ApplyRemoteChanges(s *Store, cs model.ChangeSet) {
	idsToRemove := make(map[string]struct{}, len(cs.Removed))
	for id := range cs.Removed {
		idsToRemove[id] = struct{}{}
	}

	recordsMap := make(map[string]model.Record, len(cs.Added)+len(cs.Updated))
	for id, rec := range cs.Added {
		recordsMap[id] = rec
		delete(idsToRemove, id)
	}
	for id, upd := range cs.Updated {
		if base, found := recordsMap[id]; found {
			recordsMap[id] = base.Merge(upd.Next())
		} else {
			recordsMap[id] = upd.Next()
		}
		delete(idsToRemove, id)
	}

	s.Transact(SourceRemote, func(tx *Tx) {
		for id := range idsToRemove {
			tx.Remove(id)
		}
		for _, rec := range recordsMap {
			tx.Put(rec)
		}
	})
}
