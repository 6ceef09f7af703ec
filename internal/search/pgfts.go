package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// The hierarchy tables are small enough that the tsvector is computed inline
// rather than kept in a generated column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL query across the three hierarchy tables with
// plainto_tsquery and ts_rank, scoped to the query's user.
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

	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.UserID}

	type level struct {
		rtyp           ResultType
		table          string
		hasDescription bool
	}
	levels := []level{
		{ResultParent, "parent_routines", true},
		{ResultSubRoutine, "sub_routines", false},
		{ResultRoutine, "routines", true},
	}

	var subQueries []string
	for _, lvl := range levels {
		if q.FilterType != "" && q.FilterType != lvl.rtyp {
			continue
		}
		description := "''"
		if lvl.hasDescription {
			description = "coalesce(t.description, '')"
		}
		vector := fmt.Sprintf("to_tsvector('english', t.title || ' ' || t.category || ' ' || %s)", description)
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT '%s'::text AS type, t.id, t.title, t.category,
				ts_headline('english', %s, %s, 'MaxFragments=1,MaxWords=20') AS snippet,
				ts_rank(%s, %s) AS rank
			FROM %s t
			WHERE t.user_id = $2 AND %s @@ %s`,
			lvl.rtyp, description, tsQuery, vector, tsQuery, lvl.table, vector, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	if err := p.db.QueryRow(countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("search count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT type, id, title, category, snippet
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	rows, err := p.db.Query(dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rtyp string
		if err := rows.Scan(&rtyp, &r.ID, &r.Title, &r.Category, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		r.Type = ResultType(rtyp)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return results, total, nil
}
