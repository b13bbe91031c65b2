package postscraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"github.com/docutag/postscraper/llm"
	"github.com/docutag/postscraper/models"
	"github.com/docutag/postscraper/urlnorm"
)

// maxPromptPageChars bounds the page text handed to the LLM
const maxPromptPageChars = 12000

var substackBodySelectors = []string{
	".available-content .body",
	"div.body.markup",
	".post-content",
	"article",
}

// feedURL returns https://<host>/feed for a Substack post URL
func feedURL(postURL string) (string, error) {
	u, err := url.Parse(postURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid post URL %q", postURL)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/feed"}).String(), nil
}

// extractSubstack looks the post up in the publication feed, then falls back to
// the LLM (given the page text when reachable), then to reading the page directly
func (e *Extractor) extractSubstack(ctx context.Context, postURL string) (*models.Extraction, error) {
	result, err := e.extractFromFeed(ctx, postURL)
	if err == nil {
		return result, nil
	}
	e.logger.Debug("substack feed lookup failed", "url", postURL, "error", err)

	page, pageErr := e.fetchSubstackPage(ctx, postURL)
	if pageErr != nil {
		e.logger.Debug("substack page fetch failed", "url", postURL, "error", pageErr)
	}

	if e.llm != nil && e.llm.Enabled() {
		return e.extractWithLLM(ctx, postURL, page)
	}
	if page != nil && page.Content != "" {
		return page, nil
	}
	if pageErr != nil {
		return nil, classifyTransportError(pageErr)
	}
	return nil, newError(KindEmptyContent, nil)
}

// extractFromFeed finds the post in the publication RSS feed
func (e *Extractor) extractFromFeed(ctx context.Context, postURL string) (*models.Extraction, error) {
	target, err := feedURL(postURL)
	if err != nil {
		return nil, err
	}
	body, status, contentType, err := e.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("feed returned %d", status)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	key := urlnorm.Key(postURL)
	for _, item := range feed.Items {
		if item.Link == "" || urlnorm.Key(item.Link) != key {
			continue
		}
		return feedItemExtraction(feed, item, body, contentType), nil
	}
	return nil, fmt.Errorf("post not found among %d feed items", len(feed.Items))
}

func feedItemExtraction(feed *gofeed.Feed, item *gofeed.Item, raw []byte, contentType string) *models.Extraction {
	content := htmlToText(firstNonEmpty(item.Content, item.Description))

	var author string
	switch {
	case len(item.Authors) > 0 && item.Authors[0] != nil:
		author = item.Authors[0].Name
	case len(feed.Authors) > 0 && feed.Authors[0] != nil:
		author = feed.Authors[0].Name
	}

	var authorImage string
	if feed.Image != nil {
		authorImage = feed.Image.URL
	}

	var postImage string
	if item.Image != nil {
		postImage = item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if postImage == "" && enc != nil && strings.HasPrefix(enc.Type, "image/") {
			postImage = enc.URL
		}
	}
	if postImage == "" {
		postImage = firstImageIn(item.Content)
	}

	published := item.Published
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC().Format(time.RFC3339)
	}

	if contentType == "" {
		contentType = "application/rss+xml"
	}
	return &models.Extraction{
		AuthorName:     strings.TrimSpace(author),
		AuthorImage:    authorImage,
		Content:        content,
		PostImage:      postImage,
		PublishedDate:  published,
		Raw:            string(raw),
		RawContentType: contentType,
	}
}

func firstImageIn(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return src
}

// fetchSubstackPage reads the post page directly; the result may lack content
func (e *Extractor) fetchSubstackPage(ctx context.Context, postURL string) (*models.Extraction, error) {
	body, status, _, err := e.fetch(ctx, postURL)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("page returned %d", status)
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	base := parseBase(postURL)
	meta := extractMetadata(root)

	content := firstText(doc, substackBodySelectors...)
	authorImage := resolveURL(base, firstAttr(doc, []string{".byline-wrapper img", ".post-header img", ".pencraft img"}, "src"))

	return &models.Extraction{
		AuthorName:     meta.Author,
		AuthorImage:    authorImage,
		Content:        content,
		PostImage:      resolveURL(base, meta.Image),
		PublishedDate:  meta.PublishedDate,
		Raw:            string(body),
		RawContentType: "text/html; charset=utf-8",
	}, nil
}

const substackSystemPrompt = `You extract structured data from Substack posts.
Respond with ONLY a JSON object with the keys authorName, authorImage, content, postImage, publishedDate.
content is the full post text without navigation, subscribe prompts or comments.
Use an empty string for anything you cannot determine. publishedDate is ISO 8601.`

type llmExtraction struct {
	AuthorName    string `json:"authorName"`
	AuthorImage   string `json:"authorImage"`
	Content       string `json:"content"`
	PostImage     string `json:"postImage"`
	PublishedDate string `json:"publishedDate"`
}

// extractWithLLM asks the LLM for the post fields; page fields fill any gaps
func (e *Extractor) extractWithLLM(ctx context.Context, postURL string, page *models.Extraction) (*models.Extraction, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Post URL: %s\n", postURL)
	if page != nil {
		text := page.Content
		if text == "" {
			text = extractTextFromRaw(page.Raw)
		}
		fmt.Fprintf(&prompt, "\nPage text:\n%s\n", truncate(text, maxPromptPageChars))
	}

	var out llmExtraction
	if err := e.llm.CompleteJSON(ctx, substackSystemPrompt, prompt.String(), &out); err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			return nil, newError(KindUnknown, err)
		}
		return nil, classifyLLMError(err)
	}

	raw, _ := json.Marshal(out)
	result := &models.Extraction{
		AuthorName:     strings.TrimSpace(out.AuthorName),
		AuthorImage:    strings.TrimSpace(out.AuthorImage),
		Content:        strings.TrimSpace(out.Content),
		PostImage:      strings.TrimSpace(out.PostImage),
		PublishedDate:  strings.TrimSpace(out.PublishedDate),
		Raw:            string(raw),
		RawContentType: "application/json",
	}
	if page != nil {
		result.AuthorName = firstNonEmpty(result.AuthorName, page.AuthorName)
		result.AuthorImage = firstNonEmpty(result.AuthorImage, page.AuthorImage)
		result.Content = firstNonEmpty(result.Content, page.Content)
		result.PostImage = firstNonEmpty(result.PostImage, page.PostImage)
		result.PublishedDate = firstNonEmpty(result.PublishedDate, page.PublishedDate)
	}
	return result, nil
}

func extractTextFromRaw(raw string) string {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	return extractText(root)
}
