package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxCategoriesPerPost caps the categories attached to a single post
const DefaultMaxCategoriesPerPost = 10

// ErrInvalidPost is returned when a post would violate one of its invariants
var ErrInvalidPost = errors.New("invalid post")

// Status is the lifecycle state of a post
type Status string

const (
	StatusProcessing Status = "processing"
	StatusExtracting Status = "extracting"
	StatusAnalyzing  Status = "analyzing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusExtracting, StatusAnalyzing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// InFlight reports whether the background pipeline still owns the post
func (s Status) InFlight() bool {
	return s == StatusProcessing || s == StatusExtracting || s == StatusAnalyzing
}

// Platform identifies where a post was published
type Platform string

const (
	PlatformLinkedIn Platform = "linkedin"
	PlatformSubstack Platform = "substack"
)

// Post is one submitted URL and everything recovered from it
type Post struct {
	ID            int64          `json:"id"`
	URL           string         `json:"url"`
	Platform      Platform       `json:"platform,omitempty"`
	AuthorName    *string        `json:"authorName"`
	AuthorImage   *string        `json:"authorImage"`
	Content       *string        `json:"content"`
	PostImage     *string        `json:"postImage"`
	PostImageMeta *PostImageMeta `json:"postImageMeta,omitempty"`
	PublishedDate *string        `json:"publishedDate"`
	Categories    []string       `json:"categories"`
	Summary       *string        `json:"summary"`
	Confidence    *string        `json:"confidence"` // decimal string in [0,1]
	ProcessError  *string        `json:"processError"`
	Status        Status         `json:"status"`
	ArchivePath   string         `json:"archivePath,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// PostImageMeta describes the downloaded post image
type PostImageMeta struct {
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
	SizeBytes   int64      `json:"sizeBytes,omitempty"`
	TakenAt     *time.Time `json:"takenAt,omitempty"` // EXIF DateTimeOriginal
	Artist      string     `json:"artist,omitempty"`  // EXIF Artist
}

// HasContent reports whether extracted content is present and non-blank
func (p *Post) HasContent() bool {
	return p.Content != nil && strings.TrimSpace(*p.Content) != ""
}

// HasCategory reports whether name is attached to the post (case-sensitive)
func (p *Post) HasCategory(name string) bool {
	for _, c := range p.Categories {
		if c == name {
			return true
		}
	}
	return false
}

// Validate checks the post invariants
func (p *Post) Validate(maxCategories int) error {
	if maxCategories <= 0 {
		maxCategories = DefaultMaxCategoriesPerPost
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPost, p.Status)
	}
	if len(p.Categories) > maxCategories {
		return fmt.Errorf("%w: %d categories exceeds limit of %d", ErrInvalidPost, len(p.Categories), maxCategories)
	}
	if p.Status == StatusCompleted && !p.HasContent() {
		return fmt.Errorf("%w: completed post has no content", ErrInvalidPost)
	}
	if p.Status == StatusFailed && p.ProcessError == nil {
		return fmt.Errorf("%w: failed post has no process error", ErrInvalidPost)
	}
	return nil
}

// Clone returns a deep copy so stores never share mutable state with callers
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	c.AuthorName = cloneString(p.AuthorName)
	c.AuthorImage = cloneString(p.AuthorImage)
	c.Content = cloneString(p.Content)
	c.PostImage = cloneString(p.PostImage)
	c.PublishedDate = cloneString(p.PublishedDate)
	c.Summary = cloneString(p.Summary)
	c.Confidence = cloneString(p.Confidence)
	c.ProcessError = cloneString(p.ProcessError)
	if p.Categories != nil {
		c.Categories = append([]string{}, p.Categories...)
	}
	if p.PostImageMeta != nil {
		meta := *p.PostImageMeta
		c.PostImageMeta = &meta
	}
	return &c
}

// PostUpdate is a partial update; nil fields are left untouched.
// ID and CreatedAt cannot be changed through an update.
type PostUpdate struct {
	AuthorName        *string
	AuthorImage       *string
	Content           *string
	PostImage         *string
	PostImageMeta     *PostImageMeta
	PublishedDate     *string
	Categories        *[]string
	Summary           *string
	Confidence        *string
	Status            *Status
	ProcessError      *string
	ClearProcessError bool
	ArchivePath       *string
}

// Apply merges the provided fields into p
func (u PostUpdate) Apply(p *Post) {
	if u.AuthorName != nil {
		p.AuthorName = cloneString(u.AuthorName)
	}
	if u.AuthorImage != nil {
		p.AuthorImage = cloneString(u.AuthorImage)
	}
	if u.Content != nil {
		p.Content = cloneString(u.Content)
	}
	if u.PostImage != nil {
		p.PostImage = cloneString(u.PostImage)
	}
	if u.PostImageMeta != nil {
		meta := *u.PostImageMeta
		p.PostImageMeta = &meta
	}
	if u.PublishedDate != nil {
		p.PublishedDate = cloneString(u.PublishedDate)
	}
	if u.Categories != nil {
		p.Categories = append([]string{}, (*u.Categories)...)
	}
	if u.Summary != nil {
		p.Summary = cloneString(u.Summary)
	}
	if u.Confidence != nil {
		p.Confidence = cloneString(u.Confidence)
	}
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.ClearProcessError {
		p.ProcessError = nil
	}
	if u.ProcessError != nil {
		p.ProcessError = cloneString(u.ProcessError)
	}
	if u.ArchivePath != nil {
		p.ArchivePath = *u.ArchivePath
	}
}

// Extraction is the structured result of fetching a post
type Extraction struct {
	AuthorName    string
	AuthorImage   string
	Content       string
	PostImage     string
	PublishedDate string

	// Raw is the upstream payload kept for the archive
	Raw            string
	RawContentType string
}

// Author is the narrow result of an author re-extraction
type Author struct {
	Name  string `json:"authorName"`
	Image string `json:"authorImage,omitempty"`
}

// Categorization is the result of classifying extracted content
type Categorization struct {
	Categories []string `json:"categories"`
	Confidence float64  `json:"confidence"`
	Summary    string   `json:"summary"`
	AIUsed     bool     `json:"aiUsed"`
}

// String returns a pointer to s, or nil when s is empty
func String(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StatusPtr returns a pointer to s
func StatusPtr(s Status) *Status {
	return &s
}

// FormatConfidence renders a confidence score as a decimal string clamped to [0,1]
func FormatConfidence(f float64) string {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// Deref returns the string value or "" for nil
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
