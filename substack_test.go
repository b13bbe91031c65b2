package postscraper

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docutag/postscraper/llm"
)

const substackFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
	<title>Growth Notes</title>
	<link>https://example.substack.com</link>
	<image>
		<url>https://substackcdn.com/image/fetch/avatar.png</url>
		<title>Growth Notes</title>
		<link>https://example.substack.com</link>
	</image>
	<item>
		<title>Another post</title>
		<link>https://example.substack.com/p/another</link>
		<dc:creator>Ana Ruiz</dc:creator>
		<description>Other</description>
	</item>
	<item>
		<title>Pricing experiments</title>
		<link>https://example.substack.com/p/pricing</link>
		<dc:creator>Ana Ruiz</dc:creator>
		<pubDate>Mon, 06 Jan 2025 10:00:00 GMT</pubDate>
		<description>Short teaser</description>
		<content:encoded><![CDATA[<p>First paragraph.</p><p>Second <b>bold</b> paragraph.</p>]]></content:encoded>
		<enclosure url="https://substackcdn.com/image/cover.jpg" length="0" type="image/jpeg"/>
	</item>
</channel>
</rss>`

const substackPage = `<!DOCTYPE html>
<html>
<head>
	<meta name="author" content="Ana Ruiz">
	<meta property="og:image" content="https://substackcdn.com/image/og.jpg">
	<meta property="article:published_time" content="2025-01-06T10:00:00.000Z">
</head>
<body>
	<div class="byline-wrapper"><img src="/avatar.png"></div>
	<div class="available-content"><div class="body markup"><p>Page body text.</p></div></div>
</body>
</html>`

func newSubstackServer(t *testing.T, feedStatus int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
			w.WriteHeader(feedStatus)
			if feedStatus == http.StatusOK {
				io.WriteString(w, substackFeed)
			}
		case "/p/pricing", "/p/unlisted":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, substackPage)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newSubstackExtractor(t *testing.T, server *httptest.Server, model LLM) *Extractor {
	t.Helper()
	e := New(Config{}, model, nil)
	e.httpClient = routeTo(t, server)
	return e
}

func TestFeedURL(t *testing.T) {
	got, err := feedURL("https://example.substack.com/p/pricing?utm_source=x")
	if err != nil {
		t.Fatalf("feedURL failed: %v", err)
	}
	if got != "https://example.substack.com/feed" {
		t.Errorf("feedURL = %q", got)
	}

	if _, err := feedURL("not a url"); err == nil {
		t.Error("expected error for URL without host")
	}
}

func TestExtractSubstackFromFeed(t *testing.T) {
	server := newSubstackServer(t, http.StatusOK)
	model := &fakeLLM{enabled: true, response: `{"content":"should not be used"}`}
	e := newSubstackExtractor(t, server, model)

	result, err := e.Extract(context.Background(), "https://example.substack.com/p/pricing?utm_source=twitter")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if result.Content != "First paragraph.\nSecond bold paragraph." {
		t.Errorf("Content = %q", result.Content)
	}
	if result.AuthorName != "Ana Ruiz" {
		t.Errorf("AuthorName = %q", result.AuthorName)
	}
	if result.AuthorImage != "https://substackcdn.com/image/fetch/avatar.png" {
		t.Errorf("AuthorImage = %q", result.AuthorImage)
	}
	if result.PostImage != "https://substackcdn.com/image/cover.jpg" {
		t.Errorf("PostImage = %q", result.PostImage)
	}
	if result.PublishedDate != "2025-01-06T10:00:00Z" {
		t.Errorf("PublishedDate = %q", result.PublishedDate)
	}
	if !strings.Contains(result.Raw, "<rss") {
		t.Error("expected the feed to be kept as the raw payload")
	}
	if len(model.prompts) != 0 {
		t.Errorf("LLM should not be called when the feed has the post, got %d calls", len(model.prompts))
	}
}

func TestExtractSubstackLLMFallback(t *testing.T) {
	server := newSubstackServer(t, http.StatusNotFound)
	model := &fakeLLM{enabled: true, response: `{"authorName":"Ana R.","content":"Summarised by the model.","publishedDate":""}`}
	e := newSubstackExtractor(t, server, model)

	result, err := e.Extract(context.Background(), "https://example.substack.com/p/pricing")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(model.prompts) != 1 {
		t.Fatalf("expected one LLM call, got %d", len(model.prompts))
	}
	if !strings.Contains(model.prompts[0], "Page body text.") {
		t.Errorf("prompt should carry the page text, got %q", model.prompts[0])
	}
	if result.Content != "Summarised by the model." || result.AuthorName != "Ana R." {
		t.Errorf("result = %+v", result)
	}
	// gaps come from the page
	if result.PostImage != "https://substackcdn.com/image/og.jpg" {
		t.Errorf("PostImage = %q", result.PostImage)
	}
	if result.PublishedDate != "2025-01-06T10:00:00.000Z" {
		t.Errorf("PublishedDate = %q", result.PublishedDate)
	}
	if result.RawContentType != "application/json" {
		t.Errorf("RawContentType = %q", result.RawContentType)
	}
}

func TestExtractSubstackPageWithoutLLM(t *testing.T) {
	server := newSubstackServer(t, http.StatusOK)
	e := newSubstackExtractor(t, server, &fakeLLM{enabled: false})

	// not in the feed, so the page is read directly
	result, err := e.Extract(context.Background(), "https://example.substack.com/p/unlisted")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if result.Content != "Page body text." {
		t.Errorf("Content = %q", result.Content)
	}
	if result.AuthorName != "Ana Ruiz" {
		t.Errorf("AuthorName = %q", result.AuthorName)
	}
	if result.AuthorImage != "https://example.substack.com/avatar.png" {
		t.Errorf("AuthorImage = %q", result.AuthorImage)
	}
}

func TestExtractSubstackLLMErrors(t *testing.T) {
	tests := []struct {
		name     string
		model    *fakeLLM
		wantKind ErrorKind
	}{
		{"quota", &fakeLLM{enabled: true, err: &llm.APIError{StatusCode: 429, Code: "insufficient_quota"}}, KindQuota},
		{"auth", &fakeLLM{enabled: true, err: &llm.APIError{StatusCode: 401}}, KindAuth},
		{"empty answer", &fakeLLM{enabled: true, response: `{"content":""}`}, KindEmptyContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.NotFoundHandler())
			t.Cleanup(server.Close)
			e := newSubstackExtractor(t, server, tt.model)

			_, err := e.Extract(context.Background(), "https://example.substack.com/p/pricing")
			if KindOf(err) != tt.wantKind {
				t.Errorf("kind = %s, want %s (%v)", KindOf(err), tt.wantKind, err)
			}
		})
	}
}

func TestExtractSubstackUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	closed := routeTo(t, server)
	server.Close()

	e := New(Config{}, nil, nil)
	e.httpClient = closed

	_, err := e.Extract(context.Background(), "https://example.substack.com/p/pricing")
	if KindOf(err) != KindNetwork {
		t.Errorf("expected network error, got %v (%s)", err, KindOf(err))
	}
}
