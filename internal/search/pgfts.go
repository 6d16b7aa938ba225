package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher with PostgreSQL full-text search over the
// entries table. It is the fallback when the relational backend is active.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down the whole backend is.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks entries with plainto_tsquery/ts_rank and builds snippets via
// ts_headline.
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

	ctx := context.Background()
	const matched = `to_tsvector('english', e.content) @@ plainto_tsquery('english', $1)`

	var total int
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries e WHERE `+matched, q.Text,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT e.id, e.thread_id, t.title,
			ts_headline('english', e.content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			e.created_at, e.is_ai
		FROM entries e
		JOIN threads t ON t.id = e.thread_id
		WHERE %s
		ORDER BY ts_rank(to_tsvector('english', e.content), plainto_tsquery('english', $1)) DESC, e.created_at DESC
		LIMIT $2 OFFSET $3
	`, matched), q.Text, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.ThreadTitle, &r.Snippet, &r.CreatedAt, &r.IsAI); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return results, total, nil
}
