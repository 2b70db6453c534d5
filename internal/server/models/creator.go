package models

import "time"

// Creator is a person or organisation that can be attached to items.
// FieldMode 1 means the whole name is kept in LastName.
type Creator struct {
	ID           int64
	LibraryID    int64
	Key          string
	FirstName    string
	LastName     string
	FieldMode    int
	DateAdded    time.Time
	DateModified time.Time
}
