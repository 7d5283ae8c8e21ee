// Package query runs SQL over exported Parquet archives with DuckDB.
//
// The device only holds the most recent records of each tier. Exports taken
// over time keep the older ones; this package reads any set of them back as
// one table. Where two files disagree about a period the one with the
// greater file name wins, so exports named by date resolve to the newest.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// Options configures the DuckDB session.
type Options struct {
	// MemoryLimit caps DuckDB memory, e.g. "256MB". Empty keeps the default.
	MemoryLimit string
}

// Service provides query capabilities over exported records.
type Service struct {
	db *sql.DB

	// Statistics
	queries atomic.Int64
	rows    atomic.Int64
	failed  atomic.Int64
}

// RangeQuery selects the records of one tier in [Start, End) from the
// Parquet files matching Pattern.
type RangeQuery struct {
	Pattern string
	Tier    types.Tier
	Start   time.Time
	End     time.Time // zero means unbounded
	Limit   int
}

// Bucket is the total flow of one bucket.
type Bucket struct {
	Start uint32
	Count int64
	Sum   int64
}

// New creates a query service on an in-memory DuckDB database.
func New(opts Options) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if opts.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", quote(opts.MemoryLimit)))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{db: db}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Records returns the archived records of a range, oldest first.
func (s *Service) Records(ctx context.Context, q RangeQuery) ([]types.Record, error) {
	from, where, args, err := s.source(q)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT timestamp, arg_max(value, filename)
		FROM ` + from + `
		WHERE ` + where + `
		GROUP BY timestamp
		ORDER BY timestamp`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.run(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Record
	for rows.Next() {
		var (
			ts    int64
			value int32
		)
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, types.Record{Timestamp: uint32(ts), Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.count(len(out))
	return out, nil
}

// Totals sums the archived records of a range into buckets of the given
// width in seconds, aligned to the epoch.
func (s *Service) Totals(ctx context.Context, q RangeQuery, width uint32) ([]Bucket, error) {
	if width == 0 {
		return nil, fmt.Errorf("bucket width must be positive: %w", errors.ErrInvalidRequest)
	}
	from, where, args, err := s.source(q)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		WITH latest AS (
			SELECT timestamp, arg_max(value, filename) AS value
			FROM %s
			WHERE %s
			GROUP BY timestamp
		)
		SELECT timestamp - timestamp %% %d AS bucket, count(*), CAST(sum(value) AS BIGINT)
		FROM latest
		GROUP BY bucket
		ORDER BY bucket`, from, where, width)

	rows, err := s.run(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var (
			start int64
			b     Bucket
		)
		if err := rows.Scan(&start, &b.Count, &b.Sum); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		b.Start = uint32(start)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.count(len(out))
	return out, nil
}

// source builds the FROM and WHERE clauses of a range query.
func (s *Service) source(q RangeQuery) (from, where string, args []any, err error) {
	if q.Pattern == "" {
		return "", "", nil, fmt.Errorf("no files to query: %w", errors.ErrInvalidRequest)
	}
	if !q.Tier.Valid() {
		return "", "", nil, fmt.Errorf("tier %d: %w", q.Tier, errors.ErrInvalidTier)
	}

	from = fmt.Sprintf("read_parquet('%s', filename = true)", quote(q.Pattern))
	where = "tier = ? AND timestamp >= ?"
	args = []any{q.Tier.String(), int64(types.Unix(q.Start))}
	if !q.End.IsZero() {
		where += " AND timestamp < ?"
		args = append(args, int64(types.Unix(q.End)))
	}
	return from, where, args, nil
}

func (s *Service) run(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.failed.Add(1)
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

func (s *Service) count(rows int) {
	s.queries.Add(1)
	s.rows.Add(int64(rows))
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		QueriesExecuted: s.queries.Load(),
		RowsReturned:    s.rows.Load(),
		Errors:          s.failed.Load(),
	}
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// ExecuteSQL executes a raw SQL query using DuckDB.
// This is useful for ad-hoc queries over exports.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := s.run(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.count(len(results))
	return results, nil
}

// quote escapes a string for a single-quoted SQL literal.
func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
