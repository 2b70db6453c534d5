package values

import "context"

type Repository interface {
	Insert(ctx context.Context, hash, value string) error
	SelectMany(ctx context.Context, hashes []string) (map[string]string, error)
}
