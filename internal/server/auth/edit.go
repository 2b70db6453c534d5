package auth

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/refstore/internal/common"
)

type claimsKey struct{}

// WithClaims attaches verified claims to ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// EditChecker decides whether the caller in ctx may modify libraryID.
type EditChecker interface {
	CheckEdit(ctx context.Context, libraryID int64) error
}

// TokenChecker allows edits only to libraries listed in the caller's claims.
type TokenChecker struct{}

func (TokenChecker) CheckEdit(ctx context.Context, libraryID int64) error {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return fmt.Errorf("library %d: no credentials: %w", libraryID, common.ErrForbidden)
	}
	if !c.CanWrite(libraryID) {
		return fmt.Errorf("user %d cannot edit library %d: %w", c.UserID, libraryID, common.ErrForbidden)
	}
	return nil
}

// AllowAll permits every edit. Used by trusted in-process callers.
type AllowAll struct{}

func (AllowAll) CheckEdit(context.Context, int64) error { return nil }
