// Package ids allocates item and creator ids from the master sequences and
// generates library-scoped keys.
package ids

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"regexp"

	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/libraries"
)

// KeyAlphabet excludes characters that are easy to confuse when read aloud.
const (
	KeyAlphabet = "23456789ABCDEFGHIJKLMNPQRSTUVWXYZ"
	KeyLength   = 8
)

var keyPattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// ValidKey reports whether key has the shape of an item or creator key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// randInt is a seam for testing key generation.
var randInt = func(max *big.Int) (*big.Int, error) {
	return rand.Int(rand.Reader, max)
}

// NewKey returns a random key drawn from KeyAlphabet.
func NewKey() (string, error) {
	max := big.NewInt(int64(len(KeyAlphabet)))
	b := make([]byte, KeyLength)
	for i := range b {
		n, err := randInt(max)
		if err != nil {
			return "", fmt.Errorf("key generation: %w", err)
		}
		b[i] = KeyAlphabet[n.Int64()]
	}
	return string(b), nil
}

// LibraryRepos vends master repositories.
type LibraryRepos interface {
	Libraries(db dbx.DBTX) libraries.Repository
}

// Allocator hands out ids. Sequences are not transactional, so an id taken by
// a save that later rolls back is simply never used.
type Allocator struct {
	master *sql.DB
	repos  LibraryRepos
}

func NewAllocator(master *sql.DB, repos LibraryRepos) *Allocator {
	return &Allocator{master: master, repos: repos}
}

func (a *Allocator) NextItemID(ctx context.Context) (int64, error) {
	return a.repos.Libraries(a.master).NextVal(ctx, libraries.ItemIDs)
}

func (a *Allocator) NextCreatorID(ctx context.Context) (int64, error) {
	return a.repos.Libraries(a.master).NextVal(ctx, libraries.CreatorIDs)
}

// NewKey is the package NewKey, exposed for callers holding an Allocator.
func (a *Allocator) NewKey() (string, error) {
	return NewKey()
}
