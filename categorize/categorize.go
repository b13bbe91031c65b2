package categorize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/docutag/postscraper/models"
	"github.com/docutag/postscraper/slug"
)

const (
	// MaxContentChars bounds the content sent to the LLM
	MaxContentChars = 8000
	// MaxCategories is the most categories a single categorization returns
	MaxCategories = 3
	// FallbackConfidence is reported by keyword scoring
	FallbackConfidence = 0.5

	maxSummaryChars = 100
)

var (
	// ErrNoMatch is returned when keyword scoring finds no category in the content
	ErrNoMatch = errors.New("no category matched the content")
	// ErrNoCategories is returned when there is nothing to classify into
	ErrNoCategories = errors.New("no known categories")
	// ErrEmptyContent is returned for blank input
	ErrEmptyContent = errors.New("content is empty")
)

var sentenceEnd = regexp.MustCompile(`[.!?](\s|$)|\n`)

// Completer is the LLM capability the categorizer needs
type Completer interface {
	Enabled() bool
	CompleteJSON(ctx context.Context, system, user string, v any) error
}

// Categorizer assigns categories to content, using the LLM when configured and
// keyword scoring otherwise
type Categorizer struct {
	llm       Completer
	keywords  Keywords
	logger    *slog.Logger
	semaphore chan struct{}

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// New creates a Categorizer. llm may be nil; keywords nil means the defaults.
func New(llm Completer, keywords Keywords, logger *slog.Logger) *Categorizer {
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Categorizer{
		llm:       llm,
		keywords:  keywords,
		logger:    logger,
		semaphore: make(chan struct{}, 3),
		patterns:  make(map[string]*regexp.Regexp),
	}
}

// Error wraps every categorization failure returned by Categorize
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "categorization failed: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Categorize returns 1 to 3 of the known categories with a confidence and summary
func (c *Categorizer) Categorize(ctx context.Context, content string, known []string) (*models.Categorization, error) {
	result, err := c.categorize(ctx, content, known)
	if err != nil {
		return nil, &Error{Err: err}
	}
	return result, nil
}

func (c *Categorizer) categorize(ctx context.Context, content string, known []string) (*models.Categorization, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if len(known) == 0 {
		return nil, ErrNoCategories
	}

	if c.llm != nil && c.llm.Enabled() {
		if err := c.acquireSlot(ctx); err != nil {
			return nil, err
		}
		result, err := c.categorizeWithLLM(ctx, Truncate(content, MaxContentChars), known)
		c.releaseSlot()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("llm categorization failed, using keyword fallback", "error", err)
	}

	return c.Fallback(content, known)
}

func (c *Categorizer) acquireSlot(ctx context.Context) error {
	select {
	case c.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Categorizer) releaseSlot() {
	<-c.semaphore
}

type llmCategorization struct {
	Categories []string  `json:"categories"`
	Confidence flexFloat `json:"confidence"`
	Summary    string    `json:"summary"`
}

// flexFloat accepts 0.8 as well as "0.8"
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid confidence %s: %w", b, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid confidence %s: not a finite number", b)
	}
	*f = flexFloat(v)
	return nil
}

const systemPrompt = `You classify professional posts from LinkedIn and Substack.
Respond with ONLY a JSON object of the form {"categories": [...], "confidence": 0.0, "summary": "..."}.
Pick 2 or 3 categories, copied exactly from the list you are given. confidence is a number between 0 and 1.
summary is one sentence of at most 30 words.`

func (c *Categorizer) categorizeWithLLM(ctx context.Context, content string, known []string) (*models.Categorization, error) {
	knownJSON, err := json.Marshal(known)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal categories: %w", err)
	}
	user := fmt.Sprintf("Known categories: %s\n\nPost content:\n%s", knownJSON, content)

	var out llmCategorization
	if err := c.llm.CompleteJSON(ctx, systemPrompt, user, &out); err != nil {
		return nil, err
	}

	categories := matchKnown(out.Categories, known)
	if len(categories) == 0 {
		return nil, fmt.Errorf("llm returned no known categories (got %v)", out.Categories)
	}

	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		summary = FirstSentence(content, maxSummaryChars)
	}

	return &models.Categorization{
		Categories: categories,
		Confidence: clamp(float64(out.Confidence)),
		Summary:    summary,
		AIUsed:     true,
	}, nil
}

// matchKnown maps LLM answers onto registry names, dropping unknown and duplicate names
func matchKnown(answers, known []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range answers {
		a = strings.TrimSpace(a)
		for _, k := range known {
			if strings.EqualFold(a, k) && !seen[k] {
				seen[k] = true
				out = append(out, k)
				break
			}
		}
		if len(out) == MaxCategories {
			break
		}
	}
	return out
}

type scored struct {
	name  string
	hits  int
	order int
}

// Fallback ranks known categories by whole-word, case-insensitive keyword hits
func (c *Categorizer) Fallback(content string, known []string) (*models.Categorization, error) {
	if len(known) == 0 {
		return nil, ErrNoCategories
	}
	folded := slug.Fold(content)

	var ranked []scored
	for i, name := range known {
		hits := 0
		for _, kw := range c.keywords.For(name) {
			hits += len(c.pattern(kw).FindAllStringIndex(folded, -1))
		}
		if hits > 0 {
			ranked = append(ranked, scored{name: name, hits: hits, order: i})
		}
	}
	if len(ranked) == 0 {
		return nil, ErrNoMatch
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].hits != ranked[j].hits {
			return ranked[i].hits > ranked[j].hits
		}
		return ranked[i].order < ranked[j].order
	})
	if len(ranked) > MaxCategories {
		ranked = ranked[:MaxCategories]
	}

	categories := make([]string, 0, len(ranked))
	for _, r := range ranked {
		categories = append(categories, r.name)
	}

	return &models.Categorization{
		Categories: categories,
		Confidence: FallbackConfidence,
		Summary:    FirstSentence(content, maxSummaryChars),
		AIUsed:     false,
	}, nil
}

func (c *Categorizer) pattern(keyword string) *regexp.Regexp {
	key := slug.Fold(keyword)
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.patterns[key]; ok {
		return re
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(key) + `\b`)
	c.patterns[key] = re
	return re
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// FirstSentence returns the first non-empty sentence of s, cut to max characters
func FirstSentence(s string, max int) string {
	s = strings.TrimSpace(s)
	for s != "" {
		loc := sentenceEnd.FindStringIndex(s)
		var sentence string
		if loc == nil {
			sentence, s = s, ""
		} else {
			end := loc[0]
			if s[loc[0]] != '\n' {
				end = loc[0] + 1
			}
			sentence, s = s[:end], strings.TrimSpace(s[loc[1]:])
		}
		sentence = strings.Join(strings.Fields(sentence), " ")
		if sentence == "" {
			continue
		}
		if utf8.RuneCountInString(sentence) > max {
			runes := []rune(sentence)
			sentence = strings.TrimSpace(string(runes[:max-3])) + "..."
		}
		return sentence
	}
	return ""
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
