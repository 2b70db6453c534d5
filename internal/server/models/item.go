// Package models defines the rows persisted in the master and shard databases.
package models

import "time"

// Item is the primary row of an item together with its live child counts.
type Item struct {
	ID                   int64
	LibraryID            int64
	Key                  string
	ItemTypeID           int
	DateAdded            time.Time
	DateModified         time.Time
	ServerDateModified   time.Time
	ServerDateModifiedMS int

	// Children outside the trash. Filled by selects only.
	NumNotes       int
	NumAttachments int
}

// ItemData binds one field of an item to an interned value hash.
type ItemData struct {
	FieldID int
	Hash    string
}

// ItemCreator is one ordered creator slot of an item.
type ItemCreator struct {
	CreatorID     int64
	CreatorTypeID int
	OrderIndex    int
}

// GroupItem records who created and last touched an item in a group library.
type GroupItem struct {
	ItemID               int64
	CreatedByUserID      *int64
	LastModifiedByUserID *int64
}

// Note is the note payload of a note item, or the embedded note of an attachment.
type Note struct {
	ItemID       int64
	SourceItemID *int64
	Note         string
	Title        string
	Hash         string
}

// Attachment holds the file metadata of an attachment item.
type Attachment struct {
	ItemID         int64
	SourceItemID   *int64
	LinkMode       int
	MIMEType       string
	Charset        string
	Path           string
	StorageModTime *int64
	StorageHash    *string
}

// Tag is a library tag. Type 0 is a manual tag and 1 an automatic one.
type Tag struct {
	ID        int64
	LibraryID int64
	Name      string
	Type      int
}
