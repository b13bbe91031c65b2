package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/postscraper"
	"github.com/docutag/postscraper/db"
	"github.com/docutag/postscraper/metrics"
	"github.com/docutag/postscraper/models"
	"github.com/docutag/postscraper/pipeline"
	"github.com/docutag/postscraper/search"
	"github.com/docutag/postscraper/urlnorm"
)

// maxBodyBytes bounds JSON request bodies; manual content is the largest payload
const maxBodyBytes = 1 << 20

// Service is the post pipeline as seen by the HTTP layer
type Service interface {
	Submit(ctx context.Context, rawURL string) (*pipeline.SubmitResult, error)
	GetPost(ctx context.Context, id int64) (*models.Post, error)
	ListPosts(ctx context.Context) ([]*models.Post, error)
	PostsByCategory(ctx context.Context, category string) ([]*models.Post, error)
	Count(ctx context.Context) (int, error)
	ManualContent(ctx context.Context, id int64, content, authorName string) (*models.Post, error)
	UpdateCategories(ctx context.Context, id int64, categories, newCategories []string) (*models.Post, error)
	ReextractAuthor(ctx context.Context, id int64) (*models.Post, error)
	DeletePost(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]string, error)
	AddCategory(ctx context.Context, name string) ([]string, error)
	DeleteCategory(ctx context.Context, name string) ([]string, error)
	Search(ctx context.Context, query string, limit int) ([]*models.Post, error)
	RawContent(ctx context.Context, id int64) ([]byte, string, error)
}

// Server represents the API server
type Server struct {
	svc     Service
	metrics *metrics.Metrics
	logger  *slog.Logger
	config  Config
	router  chi.Router
	server  *http.Server
}

// Config contains server configuration
type Config struct {
	Addr        string
	CORSEnabled bool
	// APIToken guards destructive routes when non-empty
	APIToken string
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		CORSEnabled: true,
	}
}

// NewServer creates a new API server
func NewServer(config Config, svc Service, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:     svc,
		metrics: m,
		logger:  logger,
		config:  config,
		router:  chi.NewRouter(),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// reextract-author waits on the scraping service
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// registerRoutes sets up middleware and all API routes
func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otelhttp.NewMiddleware("postscraper.api"))
	r.Use(s.accessLog)
	if s.config.CORSEnabled {
		r.Use(cors)
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)

		r.Route("/posts", func(r chi.Router) {
			r.Get("/", s.handleListPosts)
			r.Get("/search", s.handleSearch)
			r.Get("/category/{category}", s.handlePostsByCategory)
			r.Get("/{id}", s.handleGetPost)
			r.Get("/{id}/raw", s.handleRawContent)
			r.Post("/{id}/update-categories", s.handleUpdateCategories)
			r.Post("/{id}/manual-content", s.handleManualContent)
			r.Post("/{id}/reextract-author", s.handleReextractAuthor)
			r.With(s.requireToken).Delete("/{id}", s.handleDeletePost)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", s.handleListCategories)
			r.Post("/", s.handleAddCategory)
			r.With(s.requireToken).Delete("/{category}", s.handleDeleteCategory)
		})
	})
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.config.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.svc.Count(r.Context())
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get count")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"count":  count,
		"time":   time.Now(),
	})
}

// AnalyzeRequest is the body of POST /api/analyze
type AnalyzeRequest struct {
	URL string `json:"url"`
}

// AnalyzeResponse is returned for new and duplicate submissions
type AnalyzeResponse struct {
	Message string       `json:"message"`
	PostID  int64        `json:"postId"`
	Post    *models.Post `json:"post"`
	Exists  bool         `json:"exists"`
}

// handleAnalyze accepts a post URL and schedules it for background processing
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.svc.Submit(r.Context(), req.URL)
	if err != nil {
		s.respondServiceError(w, err, "failed to submit post")
		return
	}

	if res.Exists {
		respondJSON(w, http.StatusOK, AnalyzeResponse{
			Message: "Post already exists",
			PostID:  res.Post.ID,
			Post:    res.Post,
			Exists:  true,
		})
		return
	}

	message := "Post submitted for processing"
	if res.Post.Status == models.StatusFailed {
		message = "Post saved but could not be scheduled"
	}
	respondJSON(w, http.StatusCreated, AnalyzeResponse{
		Message: message,
		PostID:  res.Post.ID,
		Post:    res.Post,
	})
}

// handleListPosts returns every post, newest first
func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.svc.ListPosts(r.Context())
	if err != nil {
		s.respondServiceError(w, err, "failed to list posts")
		return
	}
	respondJSON(w, http.StatusOK, nonNil(posts))
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	post, err := s.svc.GetPost(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err, "failed to get post")
		return
	}
	respondJSON(w, http.StatusOK, post)
}

func (s *Server) handlePostsByCategory(w http.ResponseWriter, r *http.Request) {
	category := pathParam(r, "category")
	posts, err := s.svc.PostsByCategory(r.Context(), category)
	if err != nil {
		s.respondServiceError(w, err, "failed to list posts")
		return
	}
	respondJSON(w, http.StatusOK, nonNil(posts))
}

// handleSearch runs a full-text query; limit defaults to 20
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 100)
	}

	posts, err := s.svc.Search(r.Context(), query, limit)
	if err != nil {
		s.respondServiceError(w, err, "search failed")
		return
	}
	respondJSON(w, http.StatusOK, nonNil(posts))
}

// handleRawContent streams the archived upstream payload of a post
func (s *Server) handleRawContent(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	content, contentType, err := s.svc.RawContent(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err, "failed to read raw content")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

// UpdateCategoriesRequest is the body of POST /api/posts/{id}/update-categories
type UpdateCategoriesRequest struct {
	Categories    []string `json:"categories"`
	NewCategories []string `json:"newCategories"`
}

func (s *Server) handleUpdateCategories(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	var req UpdateCategoriesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	post, err := s.svc.UpdateCategories(r.Context(), id, req.Categories, req.NewCategories)
	if err != nil {
		s.respondServiceError(w, err, "failed to update categories")
		return
	}
	respondJSON(w, http.StatusOK, post)
}

// ManualContentRequest is the body of POST /api/posts/{id}/manual-content
type ManualContentRequest struct {
	Content    string `json:"content"`
	AuthorName string `json:"authorName,omitempty"`
}

func (s *Server) handleManualContent(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	var req ManualContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	post, err := s.svc.ManualContent(r.Context(), id, req.Content, req.AuthorName)
	if err != nil {
		s.respondServiceError(w, err, "failed to store manual content")
		return
	}
	respondJSON(w, http.StatusOK, post)
}

func (s *Server) handleReextractAuthor(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	post, err := s.svc.ReextractAuthor(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err, "author re-extraction failed")
		return
	}
	respondJSON(w, http.StatusOK, post)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeletePost(r.Context(), id); err != nil {
		s.respondServiceError(w, err, "failed to delete post")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "post deleted successfully",
	})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	names, err := s.svc.ListCategories(r.Context())
	if err != nil {
		s.respondServiceError(w, err, "failed to list categories")
		return
	}
	respondJSON(w, http.StatusOK, nonNil(names))
}

// AddCategoryRequest is the body of POST /api/categories
type AddCategoryRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var req AddCategoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	names, err := s.svc.AddCategory(r.Context(), req.Name)
	if err != nil {
		s.respondServiceError(w, err, "failed to add category")
		return
	}
	respondJSON(w, http.StatusOK, nonNil(names))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	names, err := s.svc.DeleteCategory(r.Context(), pathParam(r, "category"))
	if err != nil {
		s.respondServiceError(w, err, "failed to delete category")
		return
	}
	respondJSON(w, http.StatusOK, nonNil(names))
}

// respondServiceError maps pipeline errors onto status codes. Unclassified
// errors are logged and answered with fallback so internals do not leak.
func (s *Server) respondServiceError(w http.ResponseWriter, err error, fallback string) {
	var verr *urlnorm.ValidationError
	var eerr *postscraper.ExtractionError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, pipeline.ErrNotLinkedIn):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, search.ErrBadQuery):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrNotFound):
		respondError(w, http.StatusNotFound, "post not found")
	case errors.Is(err, pipeline.ErrNoRawContent):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, db.ErrDeleteInFlight):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrSearchDisabled):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &eerr):
		respondError(w, http.StatusBadGateway, eerr.Message)
	default:
		s.logger.Error(fallback, "error", err)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

// decodeJSON reads a JSON body into v and answers 400 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func postID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid post id")
		return 0, false
	}
	return id, true
}

// pathParam returns a URL parameter with any remaining percent-encoding decoded
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
