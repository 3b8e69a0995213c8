package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries published terms using plainto_tsquery and ts_rank, with
// ts_headline for snippets. The 'simple' configuration is used because the
// dictionary covers languages with no Postgres stemmer.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	where := "t.status = 'ADMIN_APPROVED' AND t.fts @@ " + tsQuery
	if q.FilterLanguage != "" {
		where += fmt.Sprintf(" AND t.language = $%d", argN)
		args = append(args, q.FilterLanguage)
		argN++
	}
	if q.FilterCategory != "" {
		where += fmt.Sprintf(" AND t.category = $%d", argN)
		args = append(args, q.FilterCategory)
		argN++
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM terms t WHERE %s", where)

	dataSQL := fmt.Sprintf(`
		SELECT t.id, t.term, t.definition, t.language, t.category,
			ts_headline('simple', coalesce(t.definition, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet
		FROM terms t
		WHERE %s
		ORDER BY ts_rank(t.fts, %s) DESC
		LIMIT %d OFFSET %d`,
		tsQuery, where, tsQuery, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Term, &r.Definition, &r.Language, &r.Category, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all published terms for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TermRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, term, definition, language, category, usage_example, transliteration
		FROM terms
		WHERE status = 'ADMIN_APPROVED'
	`)
	if err != nil {
		return nil, fmt.Errorf("load terms: %w", err)
	}
	defer rows.Close()

	terms := make([]TermRecord, 0)
	for rows.Next() {
		var t TermRecord
		if err := rows.Scan(&t.ID, &t.Term, &t.Definition, &t.Language, &t.Category, &t.UsageExample, &t.Transliteration); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		terms = append(terms, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate terms: %w", err)
	}

	return terms, nil
}
