package categorize

import "strings"

// Keywords maps a category name to the words and phrases that indicate it
type Keywords map[string][]string

// defaultTable is ordered; the order seeds the category registry
var defaultTable = []struct {
	name     string
	keywords []string
}{
	{"Product management", []string{"product", "roadmap", "feature", "features", "prioritization", "user research", "product manager", "discovery", "backlog", "pm"}},
	{"Pricing experiments", []string{"pricing", "price", "prices", "tier", "tiers", "subscription", "subscriptions", "paywall", "freemium", "discount", "monetization", "willingness to pay", "billing", "annual plan"}},
	{"Growth marketing", []string{"growth", "marketing", "acquisition", "funnel", "conversion", "seo", "retention", "activation", "campaign", "audience", "newsletter"}},
	{"Leadership", []string{"leadership", "leader", "leaders", "management", "team", "teams", "culture", "hiring", "feedback", "delegation", "one-on-one"}},
	{"Startups & fundraising", []string{"startup", "startups", "founder", "founders", "fundraising", "investor", "investors", "vc", "seed", "series a", "valuation", "pitch", "runway"}},
	{"AI & machine learning", []string{"ai", "artificial intelligence", "machine learning", "llm", "llms", "gpt", "chatgpt", "neural", "generative", "prompt", "agents"}},
	{"Career growth", []string{"career", "job", "jobs", "interview", "promotion", "resume", "salary", "networking", "mentor", "mentorship", "layoff", "layoffs"}},
	{"Sales", []string{"sales", "deal", "deals", "pipeline", "quota", "prospect", "prospecting", "outbound", "crm", "closing", "b2b"}},
	{"Engineering", []string{"engineering", "engineer", "engineers", "code", "developer", "developers", "software", "architecture", "api", "deployment", "infrastructure", "bug"}},
	{"Design", []string{"design", "designer", "ux", "ui", "figma", "prototype", "usability", "interface", "typography", "accessibility"}},
}

// DefaultCategories returns the predefined category names in registry order
func DefaultCategories() []string {
	names := make([]string, 0, len(defaultTable))
	for _, row := range defaultTable {
		names = append(names, row.name)
	}
	return names
}

// DefaultKeywords returns a fresh copy of the built-in keyword table
func DefaultKeywords() Keywords {
	kw := make(Keywords, len(defaultTable))
	for _, row := range defaultTable {
		kw[row.name] = append([]string{}, row.keywords...)
	}
	return kw
}

// For returns the keywords of a category, matching the name case-insensitively.
// The category name itself always counts as a keyword so ad hoc categories can match.
func (k Keywords) For(category string) []string {
	words, ok := k[category]
	if !ok {
		for name, list := range k {
			if strings.EqualFold(name, category) {
				words = list
				break
			}
		}
	}
	out := make([]string, 0, len(words)+1)
	out = append(out, category)
	for _, w := range words {
		if !strings.EqualFold(w, category) {
			out = append(out, w)
		}
	}
	return out
}

// Merge overlays other on top of k and returns the result
func (k Keywords) Merge(other Keywords) Keywords {
	merged := make(Keywords, len(k)+len(other))
	for name, words := range k {
		merged[name] = append([]string{}, words...)
	}
	for name, words := range other {
		merged[name] = append([]string{}, words...)
	}
	return merged
}
