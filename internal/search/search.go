// Package search provides full-text search over the published dictionary,
// backed by Meilisearch with a PostgreSQL fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Term       string `json:"term"`
	Definition string `json:"definition"`
	Language   string `json:"language"`
	Category   string `json:"category,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterLanguage string // empty = all languages
	FilterCategory string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// TermRecord is the data we index for a published term. Only terms in
// ADMIN_APPROVED status are ever indexed.
type TermRecord struct {
	ID              string `json:"id"`
	Term            string `json:"term"`
	Definition      string `json:"definition"`
	Language        string `json:"language"`
	Category        string `json:"category"`
	UsageExample    string `json:"usageExample"`
	Transliteration string `json:"transliteration"`
}
