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

// Search executes a UNION ALL query across leads, projects, and change_requests
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Leads sub-query
	if q.FilterType == "" || q.FilterType == ResultLead {
		where := "l.fts @@ " + tsQuery
		if q.FilterClientID != "" {
			where += fmt.Sprintf(" AND l.client_id = $%d", argN)
			args = append(args, q.FilterClientID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'lead'::text AS type, l.id, l.title,
				ts_headline('english', coalesce(l.site_address, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS project_id, l.client_id, l.status,
				ts_rank(l.fts, %s) AS rank
			FROM leads l
			WHERE %s`, tsQuery, tsQuery, where))
	}

	// Projects sub-query
	if q.FilterType == "" || q.FilterType == ResultProject {
		where := "p.fts @@ " + tsQuery
		if q.FilterClientID != "" {
			where += fmt.Sprintf(" AND p.client_id = $%d", argN)
			args = append(args, q.FilterClientID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.title,
				ts_headline('english', coalesce(p.site_address, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS project_id, p.client_id, p.status,
				ts_rank(p.fts, %s) AS rank
			FROM projects p
			WHERE %s`, tsQuery, tsQuery, where))
	}

	// Change request sub-query
	if q.FilterType == "" || q.FilterType == ResultChange {
		where := "cr.fts @@ " + tsQuery
		if q.FilterClientID != "" {
			where += fmt.Sprintf(" AND p.client_id = $%d", argN)
			args = append(args, q.FilterClientID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'change_request'::text AS type, cr.id, cr.title,
				ts_headline('english', coalesce(cr.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				cr.project_id, p.client_id, cr.status,
				ts_rank(cr.fts, %s) AS rank
			FROM change_requests cr
			JOIN projects p ON p.id = cr.project_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, client_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

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
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.ClientID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]LeadRecord, []ProjectRecord, []ChangeRecord, error) {
	leadRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(site_address, ''), client_id, status
		FROM leads
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load leads: %w", err)
	}
	defer leadRows.Close()

	leads := make([]LeadRecord, 0)
	for leadRows.Next() {
		var l LeadRecord
		if err := leadRows.Scan(&l.ID, &l.Title, &l.SiteAddress, &l.ClientID, &l.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	if err := leadRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate leads: %w", err)
	}

	projectRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(site_address, ''), client_id, status
		FROM projects
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var pr ProjectRecord
		if err := projectRows.Scan(&pr.ID, &pr.Title, &pr.SiteAddress, &pr.ClientID, &pr.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, pr)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	changeRows, err := p.db.QueryContext(ctx, `
		SELECT cr.id, cr.title, coalesce(cr.body, ''), cr.project_id, p.client_id, cr.status
		FROM change_requests cr
		JOIN projects p ON p.id = cr.project_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load change requests: %w", err)
	}
	defer changeRows.Close()

	changes := make([]ChangeRecord, 0)
	for changeRows.Next() {
		var c ChangeRecord
		if err := changeRows.Scan(&c.ID, &c.Title, &c.Body, &c.ProjectID, &c.ClientID, &c.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan change request: %w", err)
		}
		changes = append(changes, c)
	}
	if err := changeRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate change requests: %w", err)
	}

	return leads, projects, changes, nil
}
