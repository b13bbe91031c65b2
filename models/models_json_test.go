package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// TestPostJSONFieldNames verifies the camelCase wire names and nullable fields
func TestPostJSONFieldNames(t *testing.T) {
	post := &Post{
		ID:        7,
		URL:       "https://www.linkedin.com/posts/example_123",
		Status:    StatusProcessing,
		CreatedAt: time.Now().UTC(),
	}

	jsonBytes, err := json.Marshal(post)
	if err != nil {
		t.Fatalf("Failed to marshal post: %v", err)
	}

	var unmarshaled map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &unmarshaled); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}

	for _, key := range []string{"authorName", "authorImage", "content", "postImage", "publishedDate", "categories", "summary", "confidence", "processError"} {
		value, exists := unmarshaled[key]
		if !exists {
			t.Errorf("%s field is missing from JSON", key)
			continue
		}
		if value != nil {
			t.Errorf("%s = %v, want null before extraction", key, value)
		}
	}

	if unmarshaled["status"] != "processing" {
		t.Errorf("status = %v, want processing", unmarshaled["status"])
	}
	if _, exists := unmarshaled["postImageMeta"]; exists {
		t.Error("postImageMeta should be omitted when empty")
	}
}

func TestPostValidate(t *testing.T) {
	tests := []struct {
		name    string
		post    Post
		wantErr bool
	}{
		{
			name: "processing without content",
			post: Post{Status: StatusProcessing},
		},
		{
			name:    "completed without content",
			post:    Post{Status: StatusCompleted},
			wantErr: true,
		},
		{
			name:    "completed with blank content",
			post:    Post{Status: StatusCompleted, Content: String("   ")},
			wantErr: true,
		},
		{
			name: "completed with content",
			post: Post{Status: StatusCompleted, Content: String("hello")},
		},
		{
			name:    "failed without process error",
			post:    Post{Status: StatusFailed},
			wantErr: true,
		},
		{
			name: "failed with process error",
			post: Post{Status: StatusFailed, ProcessError: String("boom")},
		},
		{
			name:    "too many categories",
			post:    Post{Status: StatusProcessing, Categories: make([]string, 11)},
			wantErr: true,
		},
		{
			name:    "unknown status",
			post:    Post{Status: "queued"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.post.Validate(DefaultMaxCategoriesPerPost)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPost) {
				t.Errorf("Validate() error = %v, want ErrInvalidPost", err)
			}
		})
	}
}

func TestPostUpdateApply(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	post := &Post{
		ID:           3,
		URL:          "https://example.substack.com/p/hello",
		Status:       StatusFailed,
		ProcessError: String("scrape failed"),
		AuthorName:   String("Ada"),
		CreatedAt:    created,
	}

	categories := []string{"Leadership"}
	PostUpdate{
		Content:           String("body"),
		Categories:        &categories,
		Status:            StatusPtr(StatusCompleted),
		ClearProcessError: true,
	}.Apply(post)

	if post.ID != 3 || !post.CreatedAt.Equal(created) {
		t.Error("Apply must not change id or createdAt")
	}
	if Deref(post.AuthorName) != "Ada" {
		t.Errorf("AuthorName = %q, want untouched value", Deref(post.AuthorName))
	}
	if Deref(post.Content) != "body" {
		t.Errorf("Content = %q, want body", Deref(post.Content))
	}
	if post.ProcessError != nil {
		t.Error("ProcessError should be cleared")
	}
	if post.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", post.Status)
	}

	categories[0] = "mutated"
	if post.Categories[0] != "Leadership" {
		t.Error("Apply must copy the categories slice")
	}
}

func TestFormatConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.5, "0.50"},
		{1.7, "1.00"},
		{-0.2, "0.00"},
		{0.856, "0.86"},
	}
	for _, tt := range tests {
		if got := FormatConfidence(tt.in); got != tt.want {
			t.Errorf("FormatConfidence(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClone(t *testing.T) {
	post := &Post{Content: String("a"), Categories: []string{"x"}}
	c := post.Clone()
	*c.Content = "b"
	c.Categories[0] = "y"
	if Deref(post.Content) != "a" || post.Categories[0] != "x" {
		t.Error("Clone shares state with the original")
	}
}
