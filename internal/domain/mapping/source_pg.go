package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PGSource loads code/description pairs from Postgres. Like the file
// source it is read-only and meant for startup loads; NULL or blank codes
// and descriptions are skipped with the usual accounting.
type PGSource struct {
	db    querier
	query string
	args  []interface{}
}

// NewPGSource reads the given code and description columns from table.
// Identifiers cannot be parameterized, so they are sanitized before being
// interpolated into the query.
func NewPGSource(pool *pgxpool.Pool, table, codeColumn, descriptionColumn string) *PGSource {
	query := fmt.Sprintf(
		"SELECT %s, %s FROM %s",
		pgx.Identifier{codeColumn}.Sanitize(),
		pgx.Identifier{descriptionColumn}.Sanitize(),
		pgx.Identifier{table}.Sanitize(),
	)
	return &PGSource{db: pool, query: query}
}

// NewPGQuerySource runs a caller-provided query that must select exactly
// two columns, code then description. Use it when the load needs a WHERE
// clause, e.g. filtering a combined dictionary by code version.
func NewPGQuerySource(pool *pgxpool.Pool, query string, args ...interface{}) *PGSource {
	return &PGSource{db: pool, query: query, args: args}
}

// NewPGMapperSource reads one mapper's rows from a shared mapping table
// holding (mapper, code, description) tuples, such as the code_mappings
// table created by the bundled migrations.
func NewPGMapperSource(pool *pgxpool.Pool, table, mapper string) *PGSource {
	query := fmt.Sprintf(
		"SELECT code, description FROM %s WHERE mapper = $1",
		pgx.Identifier{table}.Sanitize(),
	)
	return &PGSource{db: pool, query: query, args: []interface{}{mapper}}
}

// Load runs the query and collects the rows into entries.
func (s *PGSource) Load(ctx context.Context) ([]CodeEntry, LoadResult, error) {
	var res LoadResult
	if s.db == nil {
		return nil, res, errors.New("postgres source: no pool configured")
	}

	rows, err := s.db.Query(ctx, s.query, s.args...)
	if err != nil {
		return nil, res, fmt.Errorf("mapping source query: %w", err)
	}
	defer rows.Close()

	var entries []CodeEntry
	for rows.Next() {
		var code, desc *string
		if err := rows.Scan(&code, &desc); err != nil {
			return nil, res, fmt.Errorf("mapping source scan: %w", err)
		}
		res.Rows++
		c, d := "", ""
		if code != nil {
			c = strings.TrimSpace(*code)
		}
		if desc != nil {
			d = strings.TrimSpace(*desc)
		}
		if c == "" {
			res.Skipped++
			res.EmptyCodes++
			continue
		}
		if d == "" {
			res.Skipped++
			res.EmptyDescriptions++
			continue
		}
		entries = append(entries, CodeEntry{Code: c, Description: d})
		res.Loaded++
	}
	if err := rows.Err(); err != nil {
		return nil, res, fmt.Errorf("mapping source rows: %w", err)
	}
	return entries, res, nil
}
