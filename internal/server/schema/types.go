// Package schema is the field schema registry: which item types exist,
// which fields each type accepts, how base fields map onto type-specific
// fields, and which creator roles a type allows.
//
// A Registry is immutable after construction and safe for concurrent reads.
package schema

// ItemTypeID identifies an item type such as book or note.
type ItemTypeID int

// FieldID identifies a metadata slot.
type FieldID int

// CreatorTypeID identifies a creator role such as author or editor.
type CreatorTypeID int

// CustomIDBase is the first id reserved for user-defined types, fields and
// creator roles.
const CustomIDBase = 1000

const (
	TypeNote       ItemTypeID = 1
	TypeAttachment ItemTypeID = 14
)

const (
	CreatorAuthor      CreatorTypeID = 1
	CreatorContributor CreatorTypeID = 2
	CreatorEditor      CreatorTypeID = 3
)

// ItemTypeDef declares one item type. CreatorTypes lists the roles valid for
// the type, primary role first. BaseMappings maps a base field to the field
// this type uses in its place.
type ItemTypeDef struct {
	ID           ItemTypeID
	Name         string
	Label        string
	Fields       []FieldID
	BaseMappings map[FieldID]FieldID
	CreatorTypes []CreatorTypeID
}

// FieldDef declares one field.
type FieldDef struct {
	ID    FieldID
	Name  string
	Label string
}

// CreatorTypeDef declares one creator role.
type CreatorTypeDef struct {
	ID    CreatorTypeID
	Name  string
	Label string
}

// Data is the static configuration a Registry is built from.
type Data struct {
	ItemTypes    []ItemTypeDef
	Fields       []FieldDef
	CreatorTypes []CreatorTypeDef
}
