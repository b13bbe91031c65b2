package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/docutag/postscraper/db"
	"github.com/docutag/postscraper/metrics"
	"github.com/docutag/postscraper/models"
	"github.com/docutag/postscraper/registry"
	"github.com/docutag/postscraper/search"
	"github.com/docutag/postscraper/storage"
	"github.com/docutag/postscraper/urlnorm"
)

const (
	// QueueFullMessage is recorded on posts that could not be scheduled
	QueueFullMessage = "processing queue is full, try again later"
	// InterruptedMessage is recorded on posts a previous process left in flight
	InterruptedMessage = "processing interrupted by restart"
	// ManualCategorizeSummary is set when automatic categorization is off
	ManualCategorizeSummary = "Content extracted. Choose categories for this post."
)

var (
	// ErrNotLinkedIn is returned when author re-extraction is asked for a non-LinkedIn post
	ErrNotLinkedIn = errors.New("author re-extraction is only supported for LinkedIn posts")
	// ErrSearchDisabled is returned by Search when no index is configured
	ErrSearchDisabled = errors.New("search is not enabled")
	// ErrNoRawContent is returned when a post has no archived payload
	ErrNoRawContent = errors.New("no raw content archived for this post")
)

var tracer = otel.Tracer("github.com/docutag/postscraper/pipeline")

// Extractor turns a post URL into structured fields
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (*models.Extraction, error)
	ExtractAuthor(ctx context.Context, rawURL string) (*models.Author, error)
	ProbeImage(ctx context.Context, imageURL string) (*models.PostImageMeta, error)
}

// Categorizer assigns known categories to content
type Categorizer interface {
	Categorize(ctx context.Context, content string, known []string) (*models.Categorization, error)
}

// Index is the full-text post index
type Index interface {
	IndexPost(post *models.Post) error
	Delete(postID int64) error
	Rebuild(posts []*models.Post) error
	Search(query string, limit int) ([]search.Result, error)
}

// Config controls pipeline behavior
type Config struct {
	AutoCategorize bool
	Workers        int
	QueueSize      int
	ProbeImages    bool
	MaxCategories  int
}

// Deps are the collaborators of the service. Archive, Index and Metrics are optional.
type Deps struct {
	Store       db.Store
	Registry    registry.Registry
	Extractor   Extractor
	Categorizer Categorizer
	Archive     storage.Archive
	Index       Index
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Service owns post submission, the background pipeline and the manual overrides
type Service struct {
	cfg         Config
	store       db.Store
	registry    registry.Registry
	extractor   Extractor
	categorizer Categorizer
	archive     storage.Archive
	index       Index
	metrics     *metrics.Metrics
	logger      *slog.Logger
	pool        *Pool

	// serializes duplicate detection with insertion
	submitMu sync.Mutex
}

// SubmitResult is the outcome of Submit
type SubmitResult struct {
	Post   *models.Post
	Exists bool
}

// New wires the service and its worker pool. Call Start to begin processing.
func New(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Registry == nil:
		return nil, errors.New("pipeline: registry is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Categorizer == nil:
		return nil, errors.New("pipeline: categorizer is required")
	}
	if cfg.MaxCategories <= 0 {
		cfg.MaxCategories = models.DefaultMaxCategoriesPerPost
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Service{
		cfg:         cfg,
		store:       deps.Store,
		registry:    deps.Registry,
		extractor:   deps.Extractor,
		categorizer: deps.Categorizer,
		archive:     deps.Archive,
		index:       deps.Index,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
	s.pool = NewPool(cfg.Workers, cfg.QueueSize, s.process, deps.Metrics, deps.Logger)
	return s, nil
}

// Start launches the background workers
func (s *Service) Start() {
	s.pool.Start()
}

// Stop stops accepting work and waits for running jobs
func (s *Service) Stop(ctx context.Context) error {
	return s.pool.Stop(ctx)
}

// AutoCategorize reports whether extraction is followed by automatic categorization
func (s *Service) AutoCategorize() bool {
	return s.cfg.AutoCategorize
}

// Submit validates rawURL, returns the existing post for the same logical URL,
// or creates a processing post and schedules it. Scheduling failures do not
// fail the call; the returned post is then already failed.
func (s *Service) Submit(ctx context.Context, rawURL string) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Submit")
	defer span.End()

	n, err := urlnorm.Normalize(rawURL)
	if err != nil {
		s.metrics.Submitted("unknown", "rejected")
		return nil, err
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	if existing := urlnorm.FindExisting(n.Original, posts); existing != nil {
		s.metrics.Submitted(string(n.Platform), "duplicate")
		s.logger.Info("duplicate submission", "post_id", existing.ID, "url", n.Original)
		return &SubmitResult{Post: existing, Exists: true}, nil
	}

	post, err := s.store.CreatePost(ctx, &models.Post{
		URL:        n.Original,
		Platform:   n.Platform,
		Categories: []string{},
		Status:     models.StatusProcessing,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	s.metrics.Submitted(string(n.Platform), "created")
	s.indexPost(post)

	job, err := s.pool.Enqueue(post.ID)
	if err != nil {
		s.logger.Warn("could not schedule post", "post_id", post.ID, "error", err)
		failed, uerr := s.fail(ctx, post.ID, QueueFullMessage)
		if uerr != nil {
			return nil, fmt.Errorf("failed to record scheduling failure: %w", uerr)
		}
		return &SubmitResult{Post: failed}, nil
	}

	s.logger.Info("post submitted", "post_id", post.ID, "job_id", job.ID, "platform", n.Platform)
	return &SubmitResult{Post: post}, nil
}

// GetPost returns one post
func (s *Service) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	return s.store.GetPost(ctx, id)
}

// ListPosts returns every post, newest first
func (s *Service) ListPosts(ctx context.Context) ([]*models.Post, error) {
	return s.store.ListPosts(ctx)
}

// PostsByCategory returns posts carrying category
func (s *Service) PostsByCategory(ctx context.Context, category string) ([]*models.Post, error) {
	return s.store.GetPostsByCategory(ctx, category)
}

// Count returns the number of stored posts
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// ManualContent stores human-supplied content, bypassing extraction. The post
// ends completed; categorization runs when enabled and its failure is only logged.
func (s *Service) ManualContent(ctx context.Context, id int64, content, authorName string) (*models.Post, error) {
	ctx, span := tracer.Start(ctx, "pipeline.ManualContent")
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &urlnorm.ValidationError{Field: "content", Message: "content is required"}
	}
	if _, err := s.store.GetPost(ctx, id); err != nil {
		return nil, err
	}

	upd := models.PostUpdate{
		Content:           &content,
		Status:            models.StatusPtr(models.StatusAnalyzing),
		ClearProcessError: true,
	}
	if name := strings.TrimSpace(authorName); name != "" {
		upd.AuthorName = &name
	}
	post, err := s.store.UpdatePost(ctx, id, upd)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("post_id", id, "stage", "manual_content")
	final := models.PostUpdate{Status: models.StatusPtr(models.StatusCompleted)}
	if s.cfg.AutoCategorize {
		result, err := s.categorize(ctx, post)
		if err != nil {
			logger.Warn("categorization of manual content failed, keeping categories", "error", err)
		} else {
			s.applyCategorization(&final, result)
		}
	}

	post, err = s.store.UpdatePost(ctx, id, final)
	if err != nil {
		return nil, err
	}
	s.indexPost(post)
	logger.Info("manual content stored", "categories", post.Categories)
	return post, nil
}

// UpdateCategories replaces the categories of a post with the de-duplicated union
// of categories and newCategories, registering any names the registry lacks
func (s *Service) UpdateCategories(ctx context.Context, id int64, categories, newCategories []string) (*models.Post, error) {
	merged := mergeCategories(categories, newCategories)
	if len(merged) == 0 {
		return nil, &urlnorm.ValidationError{Field: "categories", Message: "at least one category is required"}
	}
	if len(merged) > s.cfg.MaxCategories {
		return nil, &urlnorm.ValidationError{
			Field:   "categories",
			Message: fmt.Sprintf("a post can have at most %d categories", s.cfg.MaxCategories),
		}
	}

	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, name := range merged {
		if _, err := s.registry.Add(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to register category %q: %w", name, err)
		}
	}

	upd := models.PostUpdate{Categories: &merged}
	if post.Status == models.StatusFailed && post.HasContent() {
		upd.Status = models.StatusPtr(models.StatusCompleted)
		upd.ClearProcessError = true
	}
	post, err = s.store.UpdatePost(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	s.indexPost(post)
	return post, nil
}

// ReextractAuthor retries only the author part of LinkedIn extraction
func (s *Service) ReextractAuthor(ctx context.Context, id int64) (*models.Post, error) {
	ctx, span := tracer.Start(ctx, "pipeline.ReextractAuthor")
	defer span.End()

	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if urlnorm.DetectPlatform(post.URL) != models.PlatformLinkedIn {
		return nil, ErrNotLinkedIn
	}

	author, err := s.extractor.ExtractAuthor(ctx, post.URL)
	if err != nil {
		s.logger.Warn("author re-extraction failed", "post_id", id, "error", err)
		return nil, fmt.Errorf("author re-extraction failed: %w", err)
	}

	upd := models.PostUpdate{AuthorName: &author.Name}
	if author.Image != "" {
		upd.AuthorImage = &author.Image
	}
	post, err = s.store.UpdatePost(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	s.indexPost(post)
	s.logger.Info("author re-extracted", "post_id", id, "author", author.Name)
	return post, nil
}

// DeletePost removes a post with its index entry and archived payload
func (s *Service) DeletePost(ctx context.Context, id int64) error {
	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeletePost(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return db.ErrNotFound
	}

	if s.index != nil {
		if err := s.index.Delete(id); err != nil {
			s.logger.Warn("failed to remove post from index", "post_id", id, "error", err)
		}
	}
	if s.archive != nil && post.ArchivePath != "" {
		if err := s.archive.DeleteContent(ctx, post.ArchivePath); err != nil {
			s.logger.Warn("failed to delete archived payload", "post_id", id, "key", post.ArchivePath, "error", err)
		}
	}
	s.logger.Info("post deleted", "post_id", id)
	return nil
}

// ListCategories returns the registry contents in insertion order
func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	return s.registry.List(ctx)
}

// AddCategory registers name (idempotent, case-sensitive) and returns the list
func (s *Service) AddCategory(ctx context.Context, name string) ([]string, error) {
	if _, err := s.registry.Add(ctx, name); err != nil {
		if errors.Is(err, registry.ErrEmptyName) {
			return nil, &urlnorm.ValidationError{Field: "name", Message: "category name is required"}
		}
		return nil, err
	}
	return s.registry.List(ctx)
}

// DeleteCategory removes name from the registry and from every post.
// Deleting an unknown category is a no-op that still returns the list.
func (s *Service) DeleteCategory(ctx context.Context, name string) ([]string, error) {
	affected, err := s.store.GetPostsByCategory(ctx, name)
	if err != nil {
		return nil, err
	}
	if _, err := s.registry.Remove(ctx, name); err != nil {
		return nil, err
	}
	changed, err := s.store.RemoveCategoryFromPosts(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, p := range affected {
		if post, err := s.store.GetPost(ctx, p.ID); err == nil {
			s.indexPost(post)
		}
	}
	s.logger.Info("category deleted", "category", name, "posts_changed", changed)
	return s.registry.List(ctx)
}

// Search returns posts matching query, best match first
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*models.Post, error) {
	if s.index == nil {
		return nil, ErrSearchDisabled
	}
	results, err := s.index.Search(query, limit)
	if err != nil {
		return nil, err
	}
	posts := make([]*models.Post, 0, len(results))
	for _, r := range results {
		post, err := s.store.GetPost(ctx, r.PostID)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// RawContent returns the archived upstream payload of a post
func (s *Service) RawContent(ctx context.Context, id int64) ([]byte, string, error) {
	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if s.archive == nil || post.ArchivePath == "" {
		return nil, "", ErrNoRawContent
	}
	return s.archive.ReadContent(ctx, post.ArchivePath)
}

// RecoverInterrupted fails posts a previous process left in flight. It must run before Start.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	stale, err := s.store.ListByStatus(ctx, models.StatusProcessing, models.StatusExtracting, models.StatusAnalyzing)
	if err != nil {
		return 0, fmt.Errorf("failed to list in-flight posts: %w", err)
	}
	for _, p := range stale {
		if _, err := s.fail(ctx, p.ID, InterruptedMessage); err != nil {
			return 0, fmt.Errorf("failed to recover post %d: %w", p.ID, err)
		}
	}
	if len(stale) > 0 {
		s.logger.Warn("recovered interrupted posts", "count", len(stale))
	}
	return len(stale), nil
}

// RebuildIndex re-indexes every stored post
func (s *Service) RebuildIndex(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		return err
	}
	return s.index.Rebuild(posts)
}

// RefreshMetrics publishes per-status post counts
func (s *Service) RefreshMetrics(ctx context.Context) error {
	if s.metrics == nil {
		return nil
	}
	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for _, p := range posts {
		counts[string(p.Status)]++
	}
	s.metrics.SetPostsByStatus(counts)
	return nil
}

func (s *Service) fail(ctx context.Context, id int64, message string) (*models.Post, error) {
	post, err := s.store.UpdatePost(ctx, id, models.PostUpdate{
		Status:       models.StatusPtr(models.StatusFailed),
		ProcessError: &message,
	})
	if err != nil {
		return nil, err
	}
	s.indexPost(post)
	return post, nil
}

func (s *Service) indexPost(post *models.Post) {
	if s.index == nil || post == nil {
		return
	}
	if err := s.index.IndexPost(post); err != nil {
		s.logger.Warn("failed to index post", "post_id", post.ID, "error", err)
	}
}

// mergeCategories trims, drops blanks and removes case-sensitive duplicates, keeping first occurrence
func mergeCategories(lists ...[]string) []string {
	seen := make(map[string]bool)
	merged := []string{}
	for _, list := range lists {
		for _, name := range list {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			merged = append(merged, name)
		}
	}
	return merged
}
