package model

import (
	"strings"
	"time"
)

// Record id prefixes match the drawing-surface store conventions: every
// record id is "<typeName prefix>:<key>".
const (
	pageIdPrefix     = "page:"
	presenceIdPrefix = "instance_presence:"
	shapeIdPrefix    = "shape:"
)

// PageRecordId derives the page record id for a directory page id.
func PageRecordId(pageId string) string {
	return pageIdPrefix + pageId
}

// PresenceRecordId derives the presence record id for a participant.
func PresenceRecordId(userId string) string {
	return presenceIdPrefix + userId
}

// ShapeRecordId derives the shape record id for a shape key.
func ShapeRecordId(key string) string {
	return shapeIdPrefix + key
}

// PageIdOfRecord recovers the directory page id from a page record ("" for
// non-page records).
func PageIdOfRecord(rec Record) string {
	if rec.TypeName() != PageType {
		return ""
	}
	return PageIdOfRecordId(rec.Id())
}

// PageIdOfRecordId recovers the directory page id from a page record id
// ("" when the id has no page prefix).
func PageIdOfRecordId(recId string) string {
	if !strings.HasPrefix(recId, pageIdPrefix) {
		return ""
	}
	return strings.TrimPrefix(recId, pageIdPrefix)
}

// NewPageRecord creates a page Record with the given sort index key.
func NewPageRecord(pageId, name, index string) Record {
	rec := NewRecord(PageType, PageRecordId(pageId))
	rec["name"] = name
	rec["index"] = index

	return rec
}

// NewPresenceRecord creates an instance_presence Record from an inbound
// presence broadcast.
func NewPresenceRecord(msg PresenceMessage, now time.Time) Record {
	rec := NewRecord(PresenceType, PresenceRecordId(msg.UserId))
	rec["userId"] = msg.UserId
	rec["userName"] = msg.UserName
	rec["cursor"] = map[string]interface{}{
		"x": *msg.X,
		"y": *msg.Y,
	}
	rec["camera"] = map[string]interface{}{
		"x": msg.Camera.X,
		"y": msg.Camera.Y,
		"z": msg.Camera.Z,
	}
	rec["lastActivityTimestamp"] = now.UnixNano() / int64(time.Millisecond)

	return rec
}
