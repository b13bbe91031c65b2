package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/docutag/postscraper"
	"github.com/docutag/postscraper/categorize"
	"github.com/docutag/postscraper/db"
	"github.com/docutag/postscraper/metrics"
	"github.com/docutag/postscraper/models"
	"github.com/docutag/postscraper/pipeline"
	"github.com/docutag/postscraper/registry"
	"github.com/docutag/postscraper/search"
	"github.com/docutag/postscraper/storage"
)

type fakeExtractor struct {
	authorErr error
}

func (f *fakeExtractor) Extract(ctx context.Context, rawURL string) (*models.Extraction, error) {
	if strings.Contains(rawURL, "private") {
		return nil, &postscraper.ExtractionError{
			Kind:    postscraper.KindLoginRequired,
			Message: "This post is only visible to signed-in users and cannot be extracted automatically",
		}
	}
	return &models.Extraction{
		AuthorName:     "Jane Doe",
		Content:        "We tested three pricing tiers for our subscription. Revenue went up.",
		Raw:            "<html>raw</html>",
		RawContentType: "text/html; charset=utf-8",
	}, nil
}

func (f *fakeExtractor) ExtractAuthor(ctx context.Context, rawURL string) (*models.Author, error) {
	if f.authorErr != nil {
		return nil, f.authorErr
	}
	return &models.Author{Name: "Jane Doe"}, nil
}

func (f *fakeExtractor) ProbeImage(ctx context.Context, imageURL string) (*models.PostImageMeta, error) {
	return nil, nil
}

type testOptions struct {
	stopped bool
	token   string
	noIndex bool
	cors    bool
}

type testServer struct {
	handler http.Handler
	svc     *pipeline.Service
	store   *db.Memory
	ext     *fakeExtractor
	token   string
}

func setupTestServer(t *testing.T, opts testOptions) *testServer {
	t.Helper()

	archive, err := storage.New(storage.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	m := metrics.New("test")
	store := db.NewMemory(models.DefaultMaxCategoriesPerPost)
	ext := &fakeExtractor{}

	deps := pipeline.Deps{
		Store:       store,
		Registry:    registry.NewMemory(categorize.DefaultCategories()),
		Extractor:   ext,
		Categorizer: categorize.New(nil, nil, nil),
		Archive:     archive,
		Metrics:     m,
	}
	if !opts.noIndex {
		idx, err := search.NewMemory()
		if err != nil {
			t.Fatalf("Failed to create index: %v", err)
		}
		t.Cleanup(func() { idx.Close() })
		deps.Index = idx
	}

	svc, err := pipeline.New(pipeline.Config{AutoCategorize: true, Workers: 2, QueueSize: 10}, deps)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	if !opts.stopped {
		svc.Start()
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})

	server := NewServer(Config{Addr: ":0", CORSEnabled: opts.cors, APIToken: opts.token}, svc, m, nil)
	return &testServer{handler: server.Handler(), svc: svc, store: store, ext: ext, token: opts.token}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var bodyBytes []byte
	if body != nil {
		if str, ok := body.(string); ok {
			bodyBytes = []byte(str)
		} else {
			var err error
			bodyBytes, err = json.Marshal(body)
			if err != nil {
				t.Fatalf("Failed to marshal request body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(bodyBytes))
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

// waitForStatus polls the post until it reaches a terminal status
func (ts *testServer) waitForStatus(t *testing.T, id int64) models.Post {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := ts.do(t, http.MethodGet, "/api/posts/"+itoa(id), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET post status = %d", w.Code)
		}
		post := decode[models.Post](t, w)
		if post.Status == models.StatusCompleted || post.Status == models.StatusFailed {
			return post
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("post %d did not finish processing", id)
	return models.Post{}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestAnalyzeEndToEnd(t *testing.T) {
	ts := setupTestServer(t, testOptions{})

	w := ts.do(t, http.MethodPost, "/api/analyze", AnalyzeRequest{URL: "https://www.linkedin.com/posts/example_123"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Status code = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	resp := decode[AnalyzeResponse](t, w)
	if resp.Exists || resp.PostID == 0 || resp.Post == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Post.Status != models.StatusProcessing {
		t.Errorf("initial status = %s, want processing", resp.Post.Status)
	}

	post := ts.waitForStatus(t, resp.PostID)
	if post.Status != models.StatusCompleted {
		t.Fatalf("status = %s (%s)", post.Status, models.Deref(post.ProcessError))
	}
	if models.Deref(post.Content) == "" {
		t.Error("expected content")
	}
	if n := len(post.Categories); n < 1 || n > 3 {
		t.Errorf("Categories = %v, want 1-3", post.Categories)
	}

	w = ts.do(t, http.MethodPost, "/api/analyze", AnalyzeRequest{URL: "https://www.linkedin.com/posts/example_123?utm_source=share"})
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", w.Code)
	}
	dup := decode[AnalyzeResponse](t, w)
	if !dup.Exists || dup.PostID != resp.PostID {
		t.Errorf("duplicate response = %+v", dup)
	}
}

func TestAnalyzeExtractionFailure(t *testing.T) {
	ts := setupTestServer(t, testOptions{})

	w := ts.do(t, http.MethodPost, "/api/analyze", AnalyzeRequest{URL: "https://www.linkedin.com/posts/private_1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("failures are reported on the post, got %d", w.Code)
	}
	resp := decode[AnalyzeResponse](t, w)

	post := ts.waitForStatus(t, resp.PostID)
	if post.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", post.Status)
	}
	if !strings.Contains(models.Deref(post.ProcessError), "signed-in") {
		t.Errorf("ProcessError = %q", models.Deref(post.ProcessError))
	}
	if len(post.Categories) != 0 {
		t.Errorf("Categories = %v, want none", post.Categories)
	}
}

func TestHandleAnalyzeValidation(t *testing.T) {
	ts := setupTestServer(t, testOptions{})

	tests := []struct {
		name       string
		body       interface{}
		wantErrMsg string
	}{
		{"invalid JSON", "invalid json", "invalid request body"},
		{"missing URL", AnalyzeRequest{}, "url: url is required"},
		{"other domain", AnalyzeRequest{URL: "https://example.com/post"}, "url: only LinkedIn and Substack URLs are supported"},
		{"plain http linkedin", AnalyzeRequest{URL: "http://linkedin.com/posts/x"}, "url: only LinkedIn and Substack URLs are supported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/analyze", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Status code = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if msg := errorMessage(t, w); msg != tt.wantErrMsg {
				t.Errorf("Error message = %q, want %q", msg, tt.wantErrMsg)
			}
		})
	}

	w := ts.do(t, http.MethodGet, "/api/posts", nil)
	if posts := decode[[]models.Post](t, w); len(posts) != 0 {
		t.Errorf("rejected submissions must not create posts, got %d", len(posts))
	}
}

func TestPostRoutes(t *testing.T) {
	ts := setupTestServer(t, testOptions{})
	ctx := context.Background()

	first, _ := ts.store.CreatePost(ctx, &models.Post{URL: "https://www.linkedin.com/posts/a", Categories: []string{"Leadership"}, Content: models.String("body"), Status: models.StatusCompleted})
	ts.store.CreatePost(ctx, &models.Post{URL: "https://www.linkedin.com/posts/b", Categories: []string{"Pricing experiments"}, Content: models.String("body"), Status: models.StatusCompleted})

	tests := []struct {
		name     string
		path     string
		wantCode int
		check    func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{
			name:     "list newest first",
			path:     "/api/posts",
			wantCode: http.StatusOK,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				posts := decode[[]models.Post](t, w)
				if len(posts) != 2 || posts[0].URL != "https://www.linkedin.com/posts/b" {
					t.Errorf("posts = %+v", posts)
				}
			},
		},
		{
			name:     "get by id",
			path:     "/api/posts/" + itoa(first.ID),
			wantCode: http.StatusOK,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				if post := decode[models.Post](t, w); post.ID != first.ID {
					t.Errorf("ID = %d, want %d", post.ID, first.ID)
				}
			},
		},
		{
			name:     "by category with space",
			path:     "/api/posts/category/Pricing%20experiments",
			wantCode: http.StatusOK,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				posts := decode[[]models.Post](t, w)
				if len(posts) != 1 || posts[0].URL != "https://www.linkedin.com/posts/b" {
					t.Errorf("posts = %+v", posts)
				}
			},
		},
		{
			name:     "unknown category is empty",
			path:     "/api/posts/category/Nothing",
			wantCode: http.StatusOK,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				if strings.TrimSpace(w.Body.String()) != "[]" {
					t.Errorf("body = %s, want []", w.Body.String())
				}
			},
		},
		{name: "unknown id", path: "/api/posts/999", wantCode: http.StatusNotFound},
		{name: "bad id", path: "/api/posts/abc", wantCode: http.StatusBadRequest},
		{name: "no raw payload", path: "/api/posts/" + itoa(first.ID) + "/raw", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, tt.path, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("Status code = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.check != nil {
				tt.check(t, w)
			}
		})
	}
}

func TestRawAndSearchRoutes(t *testing.T) {
	ts := setupTestServer(t, testOptions{})

	resp := decode[AnalyzeResponse](t, ts.do(t, http.MethodPost, "/api/analyze", AnalyzeRequest{URL: "https://www.linkedin.com/posts/raw"}))
	ts.waitForStatus(t, resp.PostID)

	w := ts.do(t, http.MethodGet, "/api/posts/"+itoa(resp.PostID)+"/raw", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("raw status = %d", w.Code)
	}
	if w.Body.String() != "<html>raw</html>" || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("raw = %q (%s)", w.Body.String(), w.Header().Get("Content-Type"))
	}

	w = ts.do(t, http.MethodGet, "/api/posts/search?q=subscription", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	if posts := decode[[]models.Post](t, w); len(posts) != 1 || posts[0].ID != resp.PostID {
		t.Errorf("search = %+v", posts)
	}

	for _, path := range []string{
		"/api/posts/search",
		"/api/posts/search?q=x&limit=0",
		"/api/posts/search?q=content%3A",
		"/api/posts/search?q=%2B",
	} {
		if w := ts.do(t, http.MethodGet, path, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", path, w.Code)
		}
	}

	disabled := setupTestServer(t, testOptions{noIndex: true})
	if w := disabled.do(t, http.MethodGet, "/api/posts/search?q=x", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("search without index status = %d, want 503", w.Code)
	}
}

func TestUpdateCategoriesRoute(t *testing.T) {
	ts := setupTestServer(t, testOptions{})
	post, _ := ts.store.CreatePost(context.Background(), &models.Post{
		URL:          "https://www.linkedin.com/posts/c",
		Content:      models.String("content"),
		Status:       models.StatusFailed,
		ProcessError: models.String("categorization failed: no category matched the content"),
	})
	path := "/api/posts/" + itoa(post.ID) + "/update-categories"

	tooMany := make([]string, 11)
	for i := range tooMany {
		tooMany[i] = "c" + itoa(int64(i))
	}

	tests := []struct {
		name     string
		path     string
		body     interface{}
		wantCode int
	}{
		{"invalid JSON", path, "{", http.StatusBadRequest},
		{"empty", path, UpdateCategoriesRequest{}, http.StatusBadRequest},
		{"over the cap", path, UpdateCategoriesRequest{Categories: tooMany}, http.StatusBadRequest},
		{"unknown post", "/api/posts/999/update-categories", UpdateCategoriesRequest{Categories: []string{"Sales"}}, http.StatusNotFound},
		{"valid", path, UpdateCategoriesRequest{Categories: []string{"Sales"}, NewCategories: []string{"Field notes", "Sales"}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("Status code = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}

	updated := decode[models.Post](t, ts.do(t, http.MethodGet, "/api/posts/"+itoa(post.ID), nil))
	if strings.Join(updated.Categories, ",") != "Sales,Field notes" {
		t.Errorf("Categories = %v", updated.Categories)
	}
	if updated.Status != models.StatusCompleted || updated.ProcessError != nil {
		t.Errorf("status = %s, processError = %v", updated.Status, updated.ProcessError)
	}

	categories := decode[[]string](t, ts.do(t, http.MethodGet, "/api/categories", nil))
	if categories[len(categories)-1] != "Field notes" {
		t.Errorf("new category not registered: %v", categories)
	}
}

func TestManualContentRoute(t *testing.T) {
	ts := setupTestServer(t, testOptions{})
	post, _ := ts.store.CreatePost(context.Background(), &models.Post{
		URL:          "https://www.linkedin.com/posts/m",
		Status:       models.StatusFailed,
		ProcessError: models.String("login required"),
	})
	path := "/api/posts/" + itoa(post.ID) + "/manual-content"

	if w := ts.do(t, http.MethodPost, path, ManualContentRequest{Content: " "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank content status = %d, want 400", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/posts/999/manual-content", ManualContentRequest{Content: "x"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown post status = %d, want 404", w.Code)
	}

	w := ts.do(t, http.MethodPost, path, ManualContentRequest{Content: "Our new pricing tier launched.", AuthorName: "Sam"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status code = %d: %s", w.Code, w.Body.String())
	}
	got := decode[models.Post](t, w)
	if got.Status != models.StatusCompleted || models.Deref(got.AuthorName) != "Sam" {
		t.Errorf("post = %+v", got)
	}
	if len(got.Categories) == 0 || got.Categories[0] != "Pricing experiments" {
		t.Errorf("Categories = %v", got.Categories)
	}
}

func TestReextractAuthorRoute(t *testing.T) {
	ts := setupTestServer(t, testOptions{})
	ctx := context.Background()
	linkedIn, _ := ts.store.CreatePost(ctx, &models.Post{URL: "https://www.linkedin.com/posts/r", AuthorName: models.String("LinkedIn Member"), Content: models.String("body"), Status: models.StatusCompleted})
	substack, _ := ts.store.CreatePost(ctx, &models.Post{URL: "https://example.substack.com/p/r", Content: models.String("body"), Status: models.StatusCompleted})

	w := ts.do(t, http.MethodPost, "/api/posts/"+itoa(linkedIn.ID)+"/reextract-author", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status code = %d: %s", w.Code, w.Body.String())
	}
	if post := decode[models.Post](t, w); models.Deref(post.AuthorName) != "Jane Doe" {
		t.Errorf("AuthorName = %q", models.Deref(post.AuthorName))
	}

	if w := ts.do(t, http.MethodPost, "/api/posts/"+itoa(substack.ID)+"/reextract-author", nil); w.Code != http.StatusBadRequest {
		t.Errorf("substack status = %d, want 400", w.Code)
	}

	ts.ext.authorErr = &postscraper.ExtractionError{Kind: postscraper.KindRateLimit, Message: "rate limited"}
	w = ts.do(t, http.MethodPost, "/api/posts/"+itoa(linkedIn.ID)+"/reextract-author", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("upstream failure status = %d, want 502", w.Code)
	}
	if msg := errorMessage(t, w); msg != "rate limited" {
		t.Errorf("Error message = %q", msg)
	}
}

func TestDeleteRoutesRequireToken(t *testing.T) {
	ts := setupTestServer(t, testOptions{stopped: true, token: "secret"})
	ctx := context.Background()
	done, _ := ts.store.CreatePost(ctx, &models.Post{URL: "https://www.linkedin.com/posts/done", Categories: []string{"Sales"}, Content: models.String("body"), Status: models.StatusCompleted})
	pending, _ := ts.store.CreatePost(ctx, &models.Post{URL: "https://www.linkedin.com/posts/pending", Status: models.StatusProcessing})

	tests := []struct {
		name     string
		path     string
		auth     string
		wantCode int
	}{
		{"no token", "/api/posts/" + itoa(done.ID), "", http.StatusUnauthorized},
		{"wrong token", "/api/posts/" + itoa(done.ID), "Bearer nope", http.StatusUnauthorized},
		{"in flight", "/api/posts/" + itoa(pending.ID), "Bearer secret", http.StatusConflict},
		{"deleted", "/api/posts/" + itoa(done.ID), "Bearer secret", http.StatusOK},
		{"already gone", "/api/posts/" + itoa(done.ID), "Bearer secret", http.StatusNotFound},
		{"category without token", "/api/categories/Sales", "", http.StatusUnauthorized},
		{"category", "/api/categories/Sales", "Bearer secret", http.StatusOK},
		{"absent category", "/api/categories/Sales", "Bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			ts.handler.ServeHTTP(w, req)
			if w.Code != tt.wantCode {
				t.Errorf("Status code = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}

	categories := decode[[]string](t, ts.do(t, http.MethodGet, "/api/categories", nil))
	for _, name := range categories {
		if name == "Sales" {
			t.Error("Sales should be deleted")
		}
	}
}

func TestAddCategoryRoute(t *testing.T) {
	ts := setupTestServer(t, testOptions{})

	if w := ts.do(t, http.MethodPost, "/api/categories", AddCategoryRequest{Name: " "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank name status = %d, want 400", w.Code)
	}
	w := ts.do(t, http.MethodPost, "/api/categories", AddCategoryRequest{Name: "Community"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status code = %d", w.Code)
	}
	names := decode[[]string](t, w)
	if names[len(names)-1] != "Community" {
		t.Errorf("categories = %v", names)
	}
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t, testOptions{})

	w := ts.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status code = %d", w.Code)
	}
	resp := decode[map[string]interface{}](t, w)
	if resp["status"] != "healthy" || resp["count"] != float64(0) {
		t.Errorf("health = %v", resp)
	}

	ts.do(t, http.MethodGet, "/api/posts", nil)
	w = ts.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `route="/api/posts"`) {
		t.Errorf("expected HTTP metrics labelled by route pattern:\n%s", w.Body.String())
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		wantHeader string
		wantCode   int
	}{
		{"enabled", true, "*", http.StatusOK},
		{"disabled", false, "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t, testOptions{cors: tt.enabled})
			w := ts.do(t, http.MethodOptions, "/api/analyze", nil)
			if w.Code != tt.wantCode {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantCode)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}
