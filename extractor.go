package postscraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/docutag/postscraper/models"
	"github.com/docutag/postscraper/urlnorm"
)

// DefaultScraperAPIURL is the scraping service used for LinkedIn pages
const DefaultScraperAPIURL = "https://api.zenrows.com/v1/"

const userAgent = "Mozilla/5.0 (compatible; PostScraper/1.0)"

var tracer = otel.Tracer("github.com/docutag/postscraper")

// Config contains extractor configuration
type Config struct {
	HTTPTimeout       time.Duration
	ScraperAPIURL     string
	ScraperAPIKey     string
	MaxConcurrent     int           // concurrent scraping-service requests
	MaxPageBytes      int64         // largest page or feed body read
	MaxImageSizeBytes int64         // largest post image downloaded by ProbeImage
	ImageTimeout      time.Duration // timeout for downloading the post image
}

// DefaultConfig returns default extractor configuration
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:       60 * time.Second,
		ScraperAPIURL:     DefaultScraperAPIURL,
		MaxConcurrent:     5,
		MaxPageBytes:      10 * 1024 * 1024,
		MaxImageSizeBytes: 10 * 1024 * 1024,
		ImageTimeout:      15 * time.Second,
	}
}

// LLM is the completion capability used by the Substack path
type LLM interface {
	Enabled() bool
	CompleteJSON(ctx context.Context, system, user string, v any) error
}

// Extractor turns a post URL into structured fields
type Extractor struct {
	config     Config
	httpClient *http.Client
	llm        LLM
	logger     *slog.Logger
	semaphore  chan struct{} // limits concurrent scraping-service requests
}

// New creates an Extractor. llm may be nil, which disables the Substack LLM path.
func New(config Config, llm LLM, logger *slog.Logger) *Extractor {
	defaults := DefaultConfig()
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = defaults.HTTPTimeout
	}
	if config.ScraperAPIURL == "" {
		config.ScraperAPIURL = defaults.ScraperAPIURL
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.MaxPageBytes <= 0 {
		config.MaxPageBytes = defaults.MaxPageBytes
	}
	if config.MaxImageSizeBytes <= 0 {
		config.MaxImageSizeBytes = defaults.MaxImageSizeBytes
	}
	if config.ImageTimeout <= 0 {
		config.ImageTimeout = defaults.ImageTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Extractor{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		llm:       llm,
		logger:    logger,
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}
}

// Extract fetches the post behind rawURL and returns its fields.
// Failures are *ExtractionError values; content is never blank on success.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*models.Extraction, error) {
	platform := urlnorm.DetectPlatform(rawURL)

	ctx, span := tracer.Start(ctx, "extractor.Extract")
	defer span.End()
	span.SetAttributes(attribute.String("post.url", rawURL), attribute.String("post.platform", string(platform)))

	var (
		result *models.Extraction
		err    error
	)
	switch platform {
	case models.PlatformLinkedIn:
		result, err = e.extractLinkedIn(ctx, rawURL)
	case models.PlatformSubstack:
		result, err = e.extractSubstack(ctx, rawURL)
	default:
		err = newError(KindInvalidURL, fmt.Errorf("unsupported platform for %q", rawURL))
	}

	if err == nil && strings.TrimSpace(result.Content) == "" {
		err = newError(KindEmptyContent, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("extraction.error_kind", string(KindOf(err))))
		return nil, err
	}
	return result, nil
}

func (e *Extractor) acquireSlot(ctx context.Context) error {
	select {
	case e.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Extractor) releaseSlot() {
	<-e.semaphore
}

// fetch GETs target and returns the body bounded by MaxPageBytes
func (e *Extractor) fetch(ctx context.Context, target string) (body []byte, status int, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, e.config.MaxPageBytes))
	if err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, resp.Header.Get("Content-Type"), nil
}
