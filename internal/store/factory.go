package store

import (
	"context"
	"fmt"
	"strings"
)

// NewStore picks a backend from the database URL scheme. An empty URL gives
// the in-memory store.
func NewStore(ctx context.Context, databaseURL, mongoDatabase string) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgresStore(ctx, url)
	case strings.HasPrefix(url, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "file:"), url == ":memory:":
		return NewSQLiteStore(ctx, url)
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		return NewMongoStore(ctx, url, mongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported database url scheme in %q", redactURL(url))
	}
}

func redactURL(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i+3] + "..."
	}
	return "..."
}
