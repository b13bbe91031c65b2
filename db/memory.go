package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docutag/postscraper/models"
)

// Memory is the store used when no database is configured
type Memory struct {
	mu            sync.RWMutex
	posts         map[int64]*models.Post
	nextID        int64
	maxCategories int
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory(maxCategories int) *Memory {
	return &Memory{
		posts:         make(map[int64]*models.Post),
		maxCategories: maxCategories,
	}
}

func (m *Memory) CreatePost(ctx context.Context, p *models.Post) (*models.Post, error) {
	post := p.Clone()
	if post.Status == "" {
		post.Status = models.StatusProcessing
	}
	if post.Categories == nil {
		post.Categories = []string{}
	}
	if err := post.Validate(m.maxCategories); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := time.Now().UTC()
	post.ID = m.nextID
	post.CreatedAt = now
	post.UpdatedAt = now
	m.posts[post.ID] = post
	return post.Clone(), nil
}

func (m *Memory) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *Memory) ListPosts(ctx context.Context) ([]*models.Post, error) {
	return m.filter(func(*models.Post) bool { return true }), nil
}

func (m *Memory) GetPostsByCategory(ctx context.Context, category string) ([]*models.Post, error) {
	return m.filter(func(p *models.Post) bool { return p.HasCategory(category) }), nil
}

func (m *Memory) ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.Post, error) {
	return m.filter(func(p *models.Post) bool {
		for _, s := range statuses {
			if p.Status == s {
				return true
			}
		}
		return false
	}), nil
}

// filter returns clones of matching posts, newest first
func (m *Memory) filter(match func(*models.Post) bool) []*models.Post {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Post, 0, len(m.posts))
	for _, p := range m.posts {
		if match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *Memory) UpdatePost(ctx context.Context, id int64, upd models.PostUpdate) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	upd.Apply(next)
	if next.Categories == nil {
		next.Categories = []string{}
	}
	if err := next.Validate(m.maxCategories); err != nil {
		return nil, fmt.Errorf("post %d: %w", id, err)
	}
	next.UpdatedAt = time.Now().UTC()
	m.posts[id] = next
	return next.Clone(), nil
}

func (m *Memory) DeletePost(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[id]
	if !ok {
		return false, nil
	}
	if deleteBlocked(p) {
		return false, ErrDeleteInFlight
	}
	delete(m.posts, id)
	return true, nil
}

func (m *Memory) RemoveCategoryFromPosts(ctx context.Context, category string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := 0
	now := time.Now().UTC()
	for _, p := range m.posts {
		remaining, ok := removeCategory(p.Categories, category)
		if !ok {
			continue
		}
		p.Categories = remaining
		p.UpdatedAt = now
		changed++
	}
	return changed, nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.posts), nil
}

func (m *Memory) Close() error { return nil }
