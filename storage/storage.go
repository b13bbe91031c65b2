package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned for archive keys that escape the archive root
var ErrInvalidKey = errors.New("invalid archive key")

// Archive keeps the raw upstream payload of each extraction
type Archive interface {
	// SaveContent stores content and returns the key to read it back
	SaveContent(ctx context.Context, content []byte, slug, contentType string) (string, error)
	// ReadContent returns the stored bytes and their content type
	ReadContent(ctx context.Context, key string) ([]byte, string, error)
	// DeleteContent removes the object; deleting a missing key is not an error
	DeleteContent(ctx context.Context, key string) error
}

// Config contains storage configuration
type Config struct {
	BasePath string // Base directory for all stored files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./storage",
	}
}

// Storage archives raw payloads on the local filesystem
type Storage struct {
	config Config
}

var _ Archive = (*Storage)(nil)

// New creates a new Storage instance
func New(config Config) (*Storage, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}

	return &Storage{
		config: config,
	}, nil
}

// objectKey builds raw/YYYY/MM/<slug>-<id><ext> with forward slashes
func objectKey(slug, contentType string, now time.Time) string {
	if slug == "" {
		slug = "post"
	}
	ext := extensionFromContentType(contentType)
	if ext == "" {
		ext = ".bin"
	}
	name := fmt.Sprintf("%s-%s%s", slug, uuid.NewString()[:8], ext)
	return strings.Join([]string{"raw", fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", int(now.Month())), name}, "/")
}

// SaveContent writes the payload and returns its path relative to the base directory
func (s *Storage) SaveContent(ctx context.Context, content []byte, slug, contentType string) (string, error) {
	key := objectKey(slug, contentType, time.Now())
	fullPath := filepath.Join(s.config.BasePath, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create content directory: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write content file: %w", err)
	}
	return key, nil
}

// ReadContent reads content from the filesystem
func (s *Storage) ReadContent(ctx context.Context, key string) ([]byte, string, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read content file: %w", err)
	}
	return data, contentTypeFromExtension(filepath.Ext(fullPath)), nil
}

// DeleteContent deletes content from the filesystem
func (s *Storage) DeleteContent(ctx context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete content file: %w", err)
	}
	return nil
}

// GetFullPath returns the full filesystem path for a key
func (s *Storage) GetFullPath(key string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(key))
}

func (s *Storage) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.config.BasePath, clean), nil
}

// extensionFromContentType returns the file extension for a content type
func extensionFromContentType(contentType string) string {
	// Normalize content type (remove charset, etc.)
	contentType = strings.ToLower(strings.Split(contentType, ";")[0])
	contentType = strings.TrimSpace(contentType)

	switch contentType {
	case "text/html":
		return ".html"
	case "application/json":
		return ".json"
	case "application/rss+xml", "application/atom+xml", "application/xml", "text/xml":
		return ".xml"
	case "text/plain":
		return ".txt"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

func contentTypeFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".jpg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
