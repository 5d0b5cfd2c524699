package model

type (
	// TypeName partitions the Record kinds tracked by a drawing-surface store.
	TypeName string

	// ChangeKind classifies a single record mutation.
	ChangeKind string
)

const (
	ShapeType    TypeName = "shape"
	BindingType  TypeName = "binding"
	PageType     TypeName = "page"
	PresenceType TypeName = "instance_presence"
)

const (
	AddedChange   ChangeKind = "added"
	UpdatedChange ChangeKind = "updated"
	RemovedChange ChangeKind = "removed"
)
