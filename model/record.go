package model

import (
	"encoding/json"
	"fmt"
)

type (
	// Record is a drawing-surface entity (shape, binding, page or presence
	// marker). The sync layer treats its fields as opaque except for "id",
	// "typeName" and the shallow-merged "props"/"meta" sub-objects.
	Record map[string]interface{}
)

// String implements the stringer interface.
func (r Record) String() string {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf("marshal: %v", err)
	}

	return string(raw)
}

// Id returns the record id ("" if unset).
func (r Record) Id() string {
	id, _ := r["id"].(string)
	return id
}

// TypeName returns the record type ("" if unset).
func (r Record) TypeName() TypeName {
	tn, _ := r["typeName"].(string)
	return TypeName(tn)
}

// ParentId returns the owning page record id for shapes/bindings ("" if unset).
func (r Record) ParentId() string {
	pid, _ := r["parentId"].(string)
	return pid
}

// Clone builds a copy of the record with the "props"/"meta" sub-objects copied
// one level deep (other values are shared).
func (r Record) Clone() Record {
	clone := make(Record, len(r))
	for k, v := range r {
		if k == "props" || k == "meta" {
			if sub, ok := v.(map[string]interface{}); ok {
				subCopy := make(map[string]interface{}, len(sub))
				for sk, sv := range sub {
					subCopy[sk] = sv
				}
				clone[k] = subCopy
				continue
			}
		}
		clone[k] = v
	}

	return clone
}

// Merge builds a record combining r (the base) with a partial update:
// top-level fields are overwritten, except "props" and "meta" which are merged
// key-by-key so an update touching one prop field does not drop its siblings.
func (r Record) Merge(update Record) Record {
	merged := r.Clone()
	for k, v := range update {
		if k == "props" || k == "meta" {
			base, baseOk := merged[k].(map[string]interface{})
			next, nextOk := v.(map[string]interface{})
			if baseOk && nextOk {
				for sk, sv := range next {
					base[sk] = sv
				}
				continue
			}
		}
		merged[k] = v
	}

	return merged
}

// NewRecord creates a minimal Record of the given type.
func NewRecord(typeName TypeName, id string) Record {
	return Record{
		"id":       id,
		"typeName": string(typeName),
	}
}
