package models

// LibraryType tells user libraries from group libraries.
type LibraryType string

const (
	LibraryUser  LibraryType = "user"
	LibraryGroup LibraryType = "group"
)

// Library maps a library to the shard that stores its items.
type Library struct {
	ID      int64
	Type    LibraryType
	ShardID int
}

// Shard is a storage database holding the items of many libraries.
type Shard struct {
	ID  int
	DSN string
}
