package urlnorm

import (
	"errors"
	"strings"
	"testing"

	"github.com/docutag/postscraper/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantURL  string
		platform models.Platform
		key      string
	}{
		{
			name:     "linkedin post",
			input:    "https://www.linkedin.com/posts/example_123",
			wantURL:  "https://www.linkedin.com/posts/example_123",
			platform: models.PlatformLinkedIn,
			key:      "linkedin.com/posts/example_123",
		},
		{
			name:     "linkedin without www",
			input:    "https://linkedin.com/feed/update/urn:li:activity:1/",
			wantURL:  "https://linkedin.com/feed/update/urn:li:activity:1/",
			platform: models.PlatformLinkedIn,
			key:      "linkedin.com/feed/update/urn:li:activity:1",
		},
		{
			name:     "strips all tracking params",
			input:    "https://www.linkedin.com/posts/abc?utm_source=x&utm_medium=y&utm_campaign=z&utm_term=t&utm_content=c",
			wantURL:  "https://www.linkedin.com/posts/abc",
			platform: models.PlatformLinkedIn,
			key:      "linkedin.com/posts/abc",
		},
		{
			name:     "keeps other params in order",
			input:    "https://www.linkedin.com/posts/abc?rcm=1&utm_source=share&trk=public_post",
			wantURL:  "https://www.linkedin.com/posts/abc?rcm=1&trk=public_post",
			platform: models.PlatformLinkedIn,
			key:      "linkedin.com/posts/abc",
		},
		{
			name:     "substack subdomain",
			input:    "https://lenny.substack.com/p/pricing?utm_campaign=post",
			wantURL:  "https://lenny.substack.com/p/pricing",
			platform: models.PlatformSubstack,
			key:      "lenny.substack.com/p/pricing",
		},
		{
			name:     "substack root domain",
			input:    "https://substack.com/home/post/p-123",
			wantURL:  "https://substack.com/home/post/p-123",
			platform: models.PlatformSubstack,
			key:      "substack.com/home/post/p-123",
		},
		{
			name:     "surrounding whitespace",
			input:    "  https://www.linkedin.com/posts/x  ",
			wantURL:  "https://www.linkedin.com/posts/x",
			platform: models.PlatformLinkedIn,
			key:      "linkedin.com/posts/x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if err != nil {
				t.Fatalf("Normalize(%q) returned error: %v", tt.input, err)
			}
			if got.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", got.URL, tt.wantURL)
			}
			if got.Platform != tt.platform {
				t.Errorf("Platform = %q, want %q", got.Platform, tt.platform)
			}
			if got.Key() != tt.key {
				t.Errorf("Key() = %q, want %q", got.Key(), tt.key)
			}
			for _, p := range TrackingParams {
				if strings.Contains(got.URL, p+"=") {
					t.Errorf("URL %q still contains %s", got.URL, p)
				}
			}
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"other domain", "https://example.com/posts/abc"},
		{"linkedin over http", "http://www.linkedin.com/posts/abc"},
		{"linkedin lookalike", "https://linkedin.com.evil.io/posts/abc"},
		{"substack in query only", "https://example.com/?ref=substack.com"},
		{"not a url", "::not a url::"},
		{"ftp substack", "ftp://lenny.substack.com/p/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.input)
			if err == nil {
				t.Fatalf("Normalize(%q) expected error, got nil", tt.input)
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if vErr.Field != "url" {
				t.Errorf("Field = %q, want url", vErr.Field)
			}
		})
	}
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url  string
		want models.Platform
	}{
		{"https://www.linkedin.com/posts/a", models.PlatformLinkedIn},
		{"https://news.substack.com/p/a", models.PlatformSubstack},
		{"https://substack.com/@writer/note/c-1", models.PlatformSubstack},
	}
	for _, tt := range tests {
		if got := DetectPlatform(tt.url); got != tt.want {
			t.Errorf("DetectPlatform(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestFindExisting(t *testing.T) {
	posts := []*models.Post{
		{ID: 1, URL: "https://www.linkedin.com/posts/abc?utm_source=share"},
		{ID: 2, URL: "https://lenny.substack.com/p/pricing"},
		{ID: 3, URL: "https://www.linkedin.com/posts/exact"},
	}

	tests := []struct {
		name   string
		url    string
		wantID int64
	}{
		{"exact match", "https://www.linkedin.com/posts/exact", 3},
		{"tracking params ignored", "https://www.linkedin.com/posts/abc", 1},
		{"different tracking params", "https://www.linkedin.com/posts/abc?utm_medium=email", 1},
		{"trailing slash", "https://lenny.substack.com/p/pricing/", 2},
		{"host case", "https://LENNY.substack.com/p/pricing", 2},
		{"no match", "https://www.linkedin.com/posts/other", 0},
		{"unparseable", "::", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindExisting(tt.url, posts)
			if tt.wantID == 0 {
				if got != nil {
					t.Errorf("FindExisting(%q) = post %d, want nil", tt.url, got.ID)
				}
				return
			}
			if got == nil {
				t.Fatalf("FindExisting(%q) = nil, want post %d", tt.url, tt.wantID)
			}
			if got.ID != tt.wantID {
				t.Errorf("FindExisting(%q) = post %d, want %d", tt.url, got.ID, tt.wantID)
			}
		})
	}
}

func TestFindExistingPrefersExactMatch(t *testing.T) {
	posts := []*models.Post{
		{ID: 1, URL: "https://www.linkedin.com/posts/abc?utm_source=a"},
		{ID: 2, URL: "https://www.linkedin.com/posts/abc"},
	}
	got := FindExisting("https://www.linkedin.com/posts/abc", posts)
	if got == nil || got.ID != 2 {
		t.Fatalf("expected exact match post 2, got %+v", got)
	}
}
