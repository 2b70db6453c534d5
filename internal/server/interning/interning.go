// Package interning stores item field values once per shard, addressed by
// the hex MD5 of their content, and resolves hashes back through the cache.
package interning

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/logging"
	"github.com/dmitrijs2005/refstore/internal/server/cache"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/values"
)

const cachePrefix = "itemDataValue_"

// ValueRepos vends value repositories. repomanager.RepositoryManager satisfies it.
type ValueRepos interface {
	Values(db dbx.DBTX) values.Repository
}

type Interner struct {
	repos  ValueRepos
	cache  cache.Cache
	ttl    time.Duration
	maxLen int
	logger logging.Logger
}

// New builds an Interner. maxLen <= 0 disables the length check.
func New(repos ValueRepos, c cache.Cache, ttl time.Duration, maxLen int, logger logging.Logger) *Interner {
	if c == nil {
		c = cache.Nop{}
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Interner{repos: repos, cache: c, ttl: ttl, maxLen: maxLen, logger: logger}
}

// HashOf returns the content address of value.
func HashOf(value string) string {
	sum := md5.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Hash stores value if needed and returns its hash. Values longer than the
// configured limit fail with common.ErrDataTooLong.
func (in *Interner) Hash(ctx context.Context, db dbx.DBTX, value string) (string, error) {
	if in.maxLen > 0 && len(value) > in.maxLen {
		return "", fmt.Errorf("value of %d bytes: %w", len(value), common.ErrDataTooLong)
	}
	h := HashOf(value)
	if err := in.repos.Values(db).Insert(ctx, h, value); err != nil {
		return "", err
	}
	return h, nil
}

// Resolve returns the value stored under hash.
func (in *Interner) Resolve(ctx context.Context, db dbx.DBTX, hash string) (string, error) {
	m, err := in.ResolveMany(ctx, db, []string{hash})
	if err != nil {
		return "", err
	}
	return m[hash], nil
}

// ResolveMany returns the values for every hash. A hash with no stored value
// fails with common.ErrorNotFound.
func (in *Interner) ResolveMany(ctx context.Context, db dbx.DBTX, hashes []string) (map[string]string, error) {
	result := make(map[string]string, len(hashes))
	var missing []string

	for _, h := range hashes {
		if _, ok := result[h]; ok {
			continue
		}
		b, ok, err := in.cache.Get(ctx, cachePrefix+h)
		if err != nil {
			in.logger.Warn(ctx, "value cache read failed", "hash", h, "error", err)
		}
		if ok {
			result[h] = string(b)
			continue
		}
		missing = append(missing, h)
	}
	if len(missing) == 0 {
		return result, nil
	}

	found, err := in.repos.Values(db).SelectMany(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, h := range missing {
		v, ok := found[h]
		if !ok {
			return nil, fmt.Errorf("value for hash %s: %w", h, common.ErrorNotFound)
		}
		result[h] = v
		if err := in.cache.Set(ctx, cachePrefix+h, []byte(v), in.ttl); err != nil {
			in.logger.Warn(ctx, "value cache write failed", "hash", h, "error", err)
		}
	}
	return result, nil
}
