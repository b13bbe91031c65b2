package postscraper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/docutag/postscraper/models"
	"github.com/docutag/postscraper/urlnorm"
)

// linkedInWaitSelector is the element the scraping service waits for before returning the page
const linkedInWaitSelector = `[data-test-id="main-feed-activity-card__commentary"]`

// LinkedIn markup changes often, so each field has an ordered list of selectors
var (
	linkedInContentSelectors = []string{
		linkedInWaitSelector,
		".feed-shared-update-v2__description",
		".update-components-text",
		".feed-shared-text",
		".attributed-text-segment-list__content",
		".share-update-card__update-text",
		"article .core-section-container__content",
	}
	linkedInAuthorSelectors = []string{
		`a[data-tracking-control-name="public_post_feed-actor-name"]`,
		`.update-components-actor__name span[aria-hidden="true"]`,
		".update-components-actor__name",
		".feed-shared-actor__name",
		".share-update-card__actor-text a",
		".base-main-card__title",
	}
	linkedInAuthorImageSelectors = []string{
		`a[data-tracking-control-name="public_post_feed-actor-image"] img`,
		".update-components-actor__avatar img",
		".feed-shared-actor__avatar img",
		".share-update-card__actor-image img",
	}
	linkedInPostImageSelectors = []string{
		`img[data-test-id="feed-images-content__image"]`,
		".update-components-image img",
		".feed-shared-image img",
		".share-images__image",
	}
	linkedInImageAttrs = []string{"src", "data-delayed-url", "data-ghost-url"}

	// og:title on public posts reads "<Name> on LinkedIn: <text>"
	ogTitleAuthor = regexp.MustCompile(`^(.{2,80}?) (?:on LinkedIn|posted on LinkedIn|\| LinkedIn)`)
	loginWall     = regexp.MustCompile(`(?i)authwall|join linkedin|sign in to view|log in or sign up|linkedin login`)
)

var placeholderAuthors = map[string]bool{
	"":                true,
	"linkedin":        true,
	"linkedin member": true,
	"linkedin user":   true,
	"member":          true,
	"unknown":         true,
	"unknown author":  true,
	"author":          true,
	"user":            true,
	"sign in":         true,
}

// IsPlaceholderAuthor reports whether name is a generic stand-in rather than a real author
func IsPlaceholderAuthor(name string) bool {
	return placeholderAuthors[strings.ToLower(strings.TrimSpace(name))]
}

// scraperRequestURL builds the scraping-service request for a post page
func (e *Extractor) scraperRequestURL(postURL string) (string, error) {
	u, err := url.Parse(e.config.ScraperAPIURL)
	if err != nil {
		return "", fmt.Errorf("invalid scraping service URL: %w", err)
	}
	q := u.Query()
	q.Set("apikey", e.config.ScraperAPIKey)
	q.Set("url", postURL)
	q.Set("js_render", "true")
	q.Set("premium_proxy", "true")
	q.Set("wait_for", linkedInWaitSelector)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// fetchLinkedIn renders the post page through the scraping service
func (e *Extractor) fetchLinkedIn(ctx context.Context, postURL string) ([]byte, error) {
	if e.config.ScraperAPIKey == "" {
		return nil, newError(KindAuth, fmt.Errorf("scraping service API key is not configured"))
	}
	target, err := e.scraperRequestURL(postURL)
	if err != nil {
		return nil, newError(KindUnknown, err)
	}

	if err := e.acquireSlot(ctx); err != nil {
		return nil, classifyTransportError(err)
	}
	defer e.releaseSlot()

	body, status, _, err := e.fetch(ctx, target)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if status != http.StatusOK {
		return nil, classifyScraperResponse(status, string(body))
	}
	return body, nil
}

func (e *Extractor) extractLinkedIn(ctx context.Context, postURL string) (*models.Extraction, error) {
	body, err := e.fetchLinkedIn(ctx, postURL)
	if err != nil {
		return nil, err
	}

	result, err := parseLinkedIn(body, postURL)
	if err != nil {
		return nil, err
	}
	result.Raw = string(body)
	result.RawContentType = "text/html; charset=utf-8"

	e.logger.Debug("extracted linkedin post",
		"url", postURL,
		"author", result.AuthorName,
		"content_chars", len(result.Content),
		"has_image", result.PostImage != "")
	return result, nil
}

// ExtractAuthor re-runs only the author part of LinkedIn extraction
func (e *Extractor) ExtractAuthor(ctx context.Context, postURL string) (*models.Author, error) {
	if urlnorm.DetectPlatform(postURL) != models.PlatformLinkedIn {
		return nil, newError(KindInvalidURL, fmt.Errorf("author re-extraction supports LinkedIn posts only"))
	}

	ctx, span := tracer.Start(ctx, "extractor.ExtractAuthor")
	defer span.End()

	body, err := e.fetchLinkedIn(ctx, postURL)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindUnknown, fmt.Errorf("failed to parse page: %w", err))
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindUnknown, fmt.Errorf("failed to parse page: %w", err))
	}
	name, image := linkedInAuthor(doc, root, parseBase(postURL))
	if IsPlaceholderAuthor(name) {
		return nil, &ExtractionError{Kind: KindEmptyContent, Message: "No author could be found on the page"}
	}
	return &models.Author{Name: name, Image: image}, nil
}

// parseLinkedIn reads post fields from a rendered LinkedIn page
func parseLinkedIn(body []byte, postURL string) (*models.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindUnknown, fmt.Errorf("failed to parse page: %w", err))
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindUnknown, fmt.Errorf("failed to parse page: %w", err))
	}
	base := parseBase(postURL)
	meta := extractMetadata(root)
	ld := extractJSONLD(doc)

	content := firstText(doc, linkedInContentSelectors...)
	if content == "" && ld != nil {
		content = strings.TrimSpace(firstNonEmpty(ld.ArticleBody, ld.Text))
	}
	if content == "" {
		if loginWall.MatchString(doc.Find("title").Text()) || doc.Find(`form[action*="login"], a[href*="authwall"]`).Length() > 0 {
			return nil, newError(KindLoginRequired, fmt.Errorf("page is behind the login wall"))
		}
		content = meta.Description
	}

	name, authorImage := linkedInAuthor(doc, root, base)

	postImage := resolveURL(base, firstAttr(doc, linkedInPostImageSelectors, linkedInImageAttrs...))
	if postImage == "" && ld != nil {
		postImage = resolveURL(base, string(ld.Image))
	}
	if postImage == "" && meta.Image != authorImage {
		postImage = resolveURL(base, meta.Image)
	}

	published, _ := doc.Find("time[datetime]").First().Attr("datetime")
	if published == "" && ld != nil {
		published = ld.DatePublished
	}
	if published == "" {
		published = meta.PublishedDate
	}

	return &models.Extraction{
		AuthorName:    name,
		AuthorImage:   authorImage,
		Content:       strings.TrimSpace(content),
		PostImage:     postImage,
		PublishedDate: strings.TrimSpace(published),
	}, nil
}

// linkedInAuthor tries selectors, then structured data, then meta tags
func linkedInAuthor(doc *goquery.Document, root *html.Node, base *url.URL) (name, image string) {
	name = firstText(doc, linkedInAuthorSelectors...)
	image = resolveURL(base, firstAttr(doc, linkedInAuthorImageSelectors, linkedInImageAttrs...))

	ld := extractJSONLD(doc)
	if ld != nil && len(ld.Author) > 0 {
		if IsPlaceholderAuthor(name) {
			name = ld.Author[0].Name
		}
		if image == "" {
			image = resolveURL(base, string(ld.Author[0].Image))
		}
	}
	if IsPlaceholderAuthor(name) && root != nil {
		meta := extractMetadata(root)
		if !IsPlaceholderAuthor(meta.Author) {
			name = meta.Author
		} else if m := ogTitleAuthor.FindStringSubmatch(meta.Title); m != nil {
			name = m[1]
		}
	}
	return strings.Join(strings.Fields(name), " "), image
}

func parseBase(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
