package postscraper

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// pageMetadata is what the head of a page says about its post
type pageMetadata struct {
	Title         string
	Description   string
	Author        string
	Image         string
	PublishedDate string
}

// extractMetadata reads author, image and date hints from meta tags
func extractMetadata(n *html.Node) pageMetadata {
	var md pageMetadata
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var name, property, content string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "name":
					name = strings.ToLower(attr.Val)
				case "property":
					property = strings.ToLower(attr.Val)
				case "content":
					content = strings.TrimSpace(attr.Val)
				}
			}
			if content == "" {
				return
			}

			switch {
			case property == "og:title" || name == "twitter:title":
				if md.Title == "" {
					md.Title = content
				}
			case name == "description" || property == "og:description":
				if md.Description == "" {
					md.Description = content
				}
			case name == "author" || property == "article:author":
				if md.Author == "" {
					md.Author = content
				}
			case property == "og:image" || name == "twitter:image":
				if md.Image == "" {
					md.Image = content
				}
			case property == "article:published_time":
				if md.PublishedDate == "" {
					md.PublishedDate = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return md
}

// extractText returns the visible text of n, skipping script and style
func extractText(n *html.Node) string {
	var buf strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.TrimSpace(buf.String())
}

// htmlToText converts an HTML fragment (feed item body) to plain text with paragraph breaks
func htmlToText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return selectionText(doc.Selection)
}

// selectionText keeps block boundaries as newlines and collapses the rest of the whitespace
func selectionText(sel *goquery.Selection) string {
	var lines []string
	var line strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(line.String()), " "); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			line.WriteString(n.Data)
			line.WriteString(" ")
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "br":
				flush()
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.Data) {
			flush()
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	flush()
	return strings.Join(lines, "\n")
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "li", "ul", "ol", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre", "section", "article", "figure", "figcaption", "tr":
		return true
	}
	return false
}

// firstText returns the text of the first selector that yields something
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		found := doc.Find(sel).First()
		if found.Length() == 0 {
			continue
		}
		if text := selectionText(found); text != "" {
			return text
		}
	}
	return ""
}

// firstAttr returns the first non-empty attribute among selectors, trying attrs in order
func firstAttr(doc *goquery.Document, selectors []string, attrs ...string) string {
	for _, sel := range selectors {
		found := doc.Find(sel).First()
		if found.Length() == 0 {
			continue
		}
		for _, attr := range attrs {
			if v, ok := found.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// jsonLD is the subset of schema.org fields posts carry
type jsonLD struct {
	Author        ldPeople `json:"author"`
	DatePublished string   `json:"datePublished"`
	ArticleBody   string   `json:"articleBody"`
	Text          string   `json:"text"`
	Image         ldImage  `json:"image"`
}

type ldPerson struct {
	Name  string  `json:"name"`
	Image ldImage `json:"image"`
}

// ldPeople accepts a single person or a list
type ldPeople []ldPerson

func (p *ldPeople) UnmarshalJSON(b []byte) error {
	var many []ldPerson
	if err := json.Unmarshal(b, &many); err == nil {
		*p = many
		return nil
	}
	var one ldPerson
	if err := json.Unmarshal(b, &one); err != nil {
		return nil
	}
	*p = ldPeople{one}
	return nil
}

// ldImage accepts a URL string, an ImageObject or a list of either
type ldImage string

func (i *ldImage) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*i = ldImage(s)
		return nil
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(b, &obj); err == nil && obj.URL != "" {
		*i = ldImage(obj.URL)
		return nil
	}
	var list []ldImage
	if err := json.Unmarshal(b, &list); err == nil && len(list) > 0 {
		*i = list[0]
	}
	return nil
}

// extractJSONLD returns the first structured-data block that names an author or body
func extractJSONLD(doc *goquery.Document) *jsonLD {
	var found *jsonLD
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var ld jsonLD
		if err := json.Unmarshal([]byte(s.Text()), &ld); err != nil {
			return true
		}
		if len(ld.Author) > 0 || ld.ArticleBody != "" || ld.Text != "" {
			found = &ld
			return false
		}
		return true
	})
	return found
}

// resolveURL resolves a potentially relative URL against a base URL
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}
