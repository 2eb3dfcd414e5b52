// Package postgres serves benchmark rows and job postings from PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/sources"
)

const (
	defaultBenchmarkTable = "salary_benchmarks"
	defaultPostingsTable  = "job_postings"
)

type Config struct {
	BenchmarkTable string `mapstructure:"benchmark-table"`
	PostingsTable  string `mapstructure:"postings-table"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BenchmarkTable) == "" {
		c.BenchmarkTable = defaultBenchmarkTable
	}
	if strings.TrimSpace(c.PostingsTable) == "" {
		c.PostingsTable = defaultPostingsTable
	}
	return c
}

// Store reads market data tables. Schema management is out of its hands;
// tables are expected to exist.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
}

// Open connects with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string, cfg Config, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, cfg, logger), nil
}

func New(db *sql.DB, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, cfg: cfg.withDefaults(), logger: logger}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) benchmarkQuery() string {
	return fmt.Sprintf(`SELECT * FROM %s WHERE source = $1 AND role_id = $2`, pq.QuoteIdentifier(s.cfg.BenchmarkTable))
}

func (s *Store) postingsQuery() string {
	return fmt.Sprintf(`SELECT id, role_id, locale, currency, salary_from, salary_to, posted_at FROM %s WHERE source = $1 AND role_id = $2 AND ($3 = '' OR locale = '' OR locale = $3)`,
		pq.QuoteIdentifier(s.cfg.PostingsTable))
}

// Benchmarks returns every column of the matching rows keyed by column name.
func (s *Store) Benchmarks(ctx context.Context, sourceID, roleID string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, s.benchmarkQuery(), sourceID, roleID)
	if err != nil {
		return nil, fmt.Errorf("query benchmarks: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan benchmark: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if values[i] == nil {
				continue
			}
			row[col] = normalize(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug("benchmarks loaded",
		zap.String("source_id", sourceID),
		zap.String("role_id", roleID),
		zap.Int("rows", len(result)),
	)
	return result, nil
}

// PostingSource returns the postings view for one source.
func (s *Store) PostingSource(sourceID string) sources.PostingStore {
	return postingView{store: s, sourceID: sourceID}
}

type postingView struct {
	store    *Store
	sourceID string
}

func (v postingView) Postings(ctx context.Context, roleID, locale string) ([]sources.Posting, error) {
	rows, err := v.store.db.QueryContext(ctx, v.store.postingsQuery(), v.sourceID, roleID, locale)
	if err != nil {
		return nil, fmt.Errorf("query postings: %w", err)
	}
	defer rows.Close()

	postings := make([]sources.Posting, 0)
	for rows.Next() {
		var (
			p                sources.Posting
			loc, currency    sql.NullString
			salaryFrom, upTo sql.NullFloat64
			postedAt         sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.RoleID, &loc, &currency, &salaryFrom, &upTo, &postedAt); err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		p.Locale = loc.String
		p.Currency = currency.String
		p.SalaryFrom = salaryFrom.Float64
		p.SalaryTo = upTo.Float64
		if postedAt.Valid {
			p.PostedAt = postedAt.Time.UTC()
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

// normalize turns driver values into what the record decoder understands.
// lib/pq returns numeric and text columns as []byte.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}
