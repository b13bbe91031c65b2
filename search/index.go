package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/docutag/postscraper/models"
)

// ErrBadQuery is returned when a query string does not parse
var ErrBadQuery = errors.New("invalid search query")

// Index wraps an in-memory Bleve index over posts
type Index struct {
	index bleve.Index
}

// IndexedPost is the searchable projection of a post
type IndexedPost struct {
	ID         string
	URL        string
	Platform   string
	Author     string
	Content    string
	Summary    string
	Categories []string
	Status     string
}

// Result is one search hit
type Result struct {
	PostID    int64
	Score     float64
	Fragments map[string][]string // highlighted snippets
}

// NewMemory creates an empty in-memory index
func NewMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("URL", exact)
	docMapping.AddFieldMappingsAt("Platform", exact)
	docMapping.AddFieldMappingsAt("Status", exact)
	docMapping.AddFieldMappingsAt("Author", text)
	docMapping.AddFieldMappingsAt("Content", text)
	docMapping.AddFieldMappingsAt("Summary", text)
	docMapping.AddFieldMappingsAt("Categories", text)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

// IndexPost adds or replaces a post
func (i *Index) IndexPost(post *models.Post) error {
	if post == nil {
		return nil
	}
	doc := toDoc(post)
	return i.index.Index(doc.ID, doc)
}

// Delete removes a post; deleting an unknown id is not an error
func (i *Index) Delete(postID int64) error {
	return i.index.Delete(docID(postID))
}

// Rebuild indexes every post in one batch
func (i *Index) Rebuild(posts []*models.Post) error {
	batch := i.index.NewBatch()
	for _, post := range posts {
		doc := toDoc(post)
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", doc.ID, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Search runs a query-string query (quotes, +/-, field:value, fuzzy ~)
func (i *Index) Search(queryStr string, limit int) ([]Result, error) {
	queryStr = strings.TrimSpace(queryStr)
	if queryStr == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	query := bleve.NewQueryStringQuery(queryStr)
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	req.Highlight = bleve.NewHighlightWithStyle("html")

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		results = append(results, Result{PostID: id, Score: hit.Score, Fragments: hit.Fragments})
	}
	return results, nil
}

// Count returns the number of indexed posts
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

func toDoc(post *models.Post) *IndexedPost {
	return &IndexedPost{
		ID:         docID(post.ID),
		URL:        post.URL,
		Platform:   string(post.Platform),
		Author:     models.Deref(post.AuthorName),
		Content:    models.Deref(post.Content),
		Summary:    models.Deref(post.Summary),
		Categories: post.Categories,
		Status:     string(post.Status),
	}
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}
