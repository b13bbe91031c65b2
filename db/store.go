package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/docutag/postscraper/models"
)

var (
	// ErrNotFound is returned when no post has the requested id
	ErrNotFound = errors.New("post not found")
	// ErrDeleteInFlight is returned when deleting a post that is still processing with no categories
	ErrDeleteInFlight = errors.New("post is still processing and cannot be deleted yet")
)

// Store is the post record store
type Store interface {
	// CreatePost persists p, assigning ID, CreatedAt and UpdatedAt
	CreatePost(ctx context.Context, p *models.Post) (*models.Post, error)
	GetPost(ctx context.Context, id int64) (*models.Post, error)
	// ListPosts returns every post, newest first
	ListPosts(ctx context.Context) ([]*models.Post, error)
	GetPostsByCategory(ctx context.Context, category string) ([]*models.Post, error)
	ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.Post, error)
	// UpdatePost merges the provided fields and validates the result
	UpdatePost(ctx context.Context, id int64, upd models.PostUpdate) (*models.Post, error)
	// DeletePost reports false when the post does not exist
	DeletePost(ctx context.Context, id int64) (bool, error)
	// RemoveCategoryFromPosts strips category from every post, one transaction per post,
	// and returns how many posts changed
	RemoveCategoryFromPosts(ctx context.Context, category string) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Dialect selects the SQL driver and placeholder style
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

func (d Dialect) builder() sq.StatementBuilderType {
	if d == DialectPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// ParseDSN maps a DATABASE_URL value to a dialect and driver DSN.
// An empty value selects the in-memory store and returns an empty dialect.
func ParseDSN(raw string) (Dialect, string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", "", nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return DialectPostgres, raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite DSN has no path: %q", raw)
		}
		return DialectSQLite, path, nil
	case strings.HasPrefix(raw, "file:"), raw == ":memory:":
		return DialectSQLite, raw, nil
	}
	return "", "", fmt.Errorf("unsupported database URL scheme: %q", raw)
}

// Open returns the store selected by dsn: Postgres, SQLite or in-memory
func Open(ctx context.Context, dsn string, maxCategories int) (Store, error) {
	dialect, driverDSN, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if dialect == "" {
		return NewMemory(maxCategories), nil
	}
	return New(ctx, Config{DSN: driverDSN, Dialect: dialect, MaxCategories: maxCategories})
}

func removeCategory(categories []string, name string) ([]string, bool) {
	out := make([]string, 0, len(categories))
	changed := false
	for _, c := range categories {
		if c == name {
			changed = true
			continue
		}
		out = append(out, c)
	}
	return out, changed
}

func deleteBlocked(p *models.Post) bool {
	return p.Status == models.StatusProcessing && len(p.Categories) == 0
}
