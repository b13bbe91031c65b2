package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/docutag/postscraper/models"
)

// DB is the SQL-backed post store
type DB struct {
	conn          *sql.DB
	dialect       Dialect
	sb            sq.StatementBuilderType
	maxCategories int
}

var _ Store = (*DB)(nil)

// Config contains database configuration
type Config struct {
	DSN           string
	Dialect       Dialect
	MaxCategories int
}

// runner is satisfied by both *sql.DB and *sql.Tx
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database, configures the pool and runs migrations
func New(ctx context.Context, config Config) (*DB, error) {
	if config.Dialect == "" {
		config.Dialect = DialectPostgres
	}
	conn, err := sql.Open(string(config.Dialect), config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.Dialect == DialectSQLite {
		// one connection keeps :memory: databases shared and serializes writers
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := Migrate(ctx, conn, config.Dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{
		conn:          conn,
		dialect:       config.Dialect,
		sb:            config.Dialect.builder(),
		maxCategories: config.MaxCategories,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// Dialect returns the SQL dialect in use
func (db *DB) Dialect() Dialect {
	return db.dialect
}

func (db *DB) CreatePost(ctx context.Context, p *models.Post) (*models.Post, error) {
	post := p.Clone()
	if post.Status == "" {
		post.Status = models.StatusProcessing
	}
	if post.Categories == nil {
		post.Categories = []string{}
	}
	if err := post.Validate(db.maxCategories); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	post.CreatedAt = now
	post.UpdatedAt = now

	data, categories, err := encodePost(post)
	if err != nil {
		return nil, err
	}

	query, args, err := db.sb.
		Insert("posts").
		Columns("url", "platform", "status", "categories", "data", "created_at", "updated_at").
		Values(post.URL, string(post.Platform), string(post.Status), categories, data, now, now).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert: %w", err)
	}

	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&post.ID); err != nil {
		return nil, fmt.Errorf("failed to save post: %w", err)
	}
	return post, nil
}

func (db *DB) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	return db.getPost(ctx, db.conn, id, false)
}

func (db *DB) getPost(ctx context.Context, r runner, id int64, forUpdate bool) (*models.Post, error) {
	b := db.sb.Select("id", "data").From("posts").Where(sq.Eq{"id": id})
	if forUpdate && db.dialect == DialectPostgres {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var (
		rowID int64
		data  string
	)
	err = r.QueryRowContext(ctx, query, args...).Scan(&rowID, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query post: %w", err)
	}
	return decodePost(rowID, data)
}

func (db *DB) ListPosts(ctx context.Context) ([]*models.Post, error) {
	return db.list(ctx, nil, nil)
}

// GetPostsByCategory narrows candidates with LIKE on the JSON column, then matches exactly
func (db *DB) GetPostsByCategory(ctx context.Context, category string) ([]*models.Post, error) {
	return db.list(ctx, categoryLike(category), func(p *models.Post) bool {
		return p.HasCategory(category)
	})
}

func (db *DB) ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.Post, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return db.list(ctx, sq.Eq{"status": values}, nil)
}

func (db *DB) list(ctx context.Context, where sq.Sqlizer, keep func(*models.Post) bool) ([]*models.Post, error) {
	b := db.sb.Select("id", "data").From("posts").OrderBy("created_at DESC", "id DESC")
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	results := []*models.Post{}
	for rows.Next() {
		var (
			id   int64
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		post, err := decodePost(id, data)
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(post) {
			results = append(results, post)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

func (db *DB) UpdatePost(ctx context.Context, id int64, upd models.PostUpdate) (*models.Post, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	post, err := db.getPost(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	upd.Apply(post)
	if post.Categories == nil {
		post.Categories = []string{}
	}
	if err := post.Validate(db.maxCategories); err != nil {
		return nil, fmt.Errorf("post %d: %w", id, err)
	}
	post.UpdatedAt = time.Now().UTC()

	if err := db.writePost(ctx, tx, post); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return post, nil
}

func (db *DB) writePost(ctx context.Context, r runner, post *models.Post) error {
	data, categories, err := encodePost(post)
	if err != nil {
		return err
	}
	query, args, err := db.sb.
		Update("posts").
		Set("status", string(post.Status)).
		Set("categories", categories).
		Set("data", data).
		Set("updated_at", post.UpdatedAt).
		Where(sq.Eq{"id": post.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}
	if _, err := r.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update post %d: %w", post.ID, err)
	}
	return nil
}

func (db *DB) DeletePost(ctx context.Context, id int64) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	post, err := db.getPost(ctx, tx, id, true)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if deleteBlocked(post) {
		return false, ErrDeleteInFlight
	}

	query, args, err := db.sb.Delete("posts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("failed to delete post: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

func (db *DB) RemoveCategoryFromPosts(ctx context.Context, category string) (int, error) {
	candidates, err := db.GetPostsByCategory(ctx, category)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, c := range candidates {
		ok, err := db.removeCategoryFromPost(ctx, c.ID, category)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (db *DB) removeCategoryFromPost(ctx context.Context, id int64, category string) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	post, err := db.getPost(ctx, tx, id, true)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	remaining, ok := removeCategory(post.Categories, category)
	if !ok {
		return false, nil
	}
	post.Categories = remaining
	post.UpdatedAt = time.Now().UTC()
	if err := db.writePost(ctx, tx, post); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// Count returns the total number of posts
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

func encodePost(p *models.Post) (data string, categories string, err error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal post: %w", err)
	}
	cats, err := json.Marshal(p.Categories)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal categories: %w", err)
	}
	return string(raw), string(cats), nil
}

func decodePost(id int64, data string) (*models.Post, error) {
	var post models.Post
	if err := json.Unmarshal([]byte(data), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post %d: %w", id, err)
	}
	post.ID = id
	if post.Categories == nil {
		post.Categories = []string{}
	}
	return &post, nil
}

// categoryLike matches the JSON-encoded name inside the categories column
func categoryLike(category string) sq.Sqlizer {
	encoded, _ := json.Marshal(category)
	escaped := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(string(encoded))
	return sq.Expr("categories LIKE ? ESCAPE '!'", "%"+escaped+"%")
}
