package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/spigell/hh-pricer/internal/sources"
)

func TestBenchmarks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := New(db, Config{BenchmarkTable: "bench"}, nil)
	observed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bench" WHERE source = $1 AND role_id = $2`)).
		WithArgs("survey", "swe").
		WillReturnRows(sqlmock.NewRows([]string{"source", "role_id", "currency", "p10", "p25", "p50", "p75", "p90", "sample_size", "observed_at"}).
			AddRow("survey", "swe", []byte("RUB"), nil, []byte("7000.00"), []byte("8000.00"), []byte("9000.00"), nil, int64(150), observed))

	rows, err := st.Benchmarks(context.Background(), "survey", "swe")
	if err != nil {
		t.Fatalf("Benchmarks: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if _, ok := rows[0]["p10"]; ok {
		t.Fatal("null columns must be omitted")
	}

	records, rejected := sources.DecodeRecords("survey", rows)
	if len(rejected) != 0 || len(records) != 1 {
		t.Fatalf("row must decode cleanly: %v", rejected)
	}
	if records[0].P50 != 8000 || records[0].SampleSize != 150 || !records[0].ObservedAt.Equal(observed) {
		t.Fatalf("unexpected record: %+v", records[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBenchmarksQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cause := errors.New("connection reset")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "salary_benchmarks"`)).WillReturnError(cause)

	if _, err := New(db, Config{}, nil).Benchmarks(context.Background(), "survey", "swe"); !errors.Is(err, cause) {
		t.Fatalf("expected query error, got %v", err)
	}
}

func TestPostings(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	posted := time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "job_postings" WHERE source = $1 AND role_id = $2`)).
		WithArgs("hh", "swe", "ru").
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "locale", "currency", "salary_from", "salary_to", "posted_at"}).
			AddRow("1", "swe", "ru", "RUB", 7000.0, 8000.0, posted).
			AddRow("2", "swe", nil, nil, nil, 9000.0, posted))

	postings, err := New(db, Config{}, nil).PostingSource("hh").Postings(context.Background(), "swe", "ru")
	if err != nil {
		t.Fatalf("Postings: %v", err)
	}
	if len(postings) != 2 {
		t.Fatalf("expected 2 postings, got %d", len(postings))
	}
	if postings[0].SalaryFrom != 7000 || postings[0].Locale != "ru" {
		t.Fatalf("unexpected first posting: %+v", postings[0])
	}
	if postings[1].SalaryFrom != 0 || postings[1].SalaryTo != 9000 || postings[1].Currency != "" {
		t.Fatalf("nulls must map to zero values: %+v", postings[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTableNamesAreQuoted(t *testing.T) {
	st := New(nil, Config{BenchmarkTable: `bench"; DROP TABLE x; --`}, nil)
	if got := st.benchmarkQuery(); !regexp.MustCompile(`FROM "bench""; DROP TABLE x; --" WHERE`).MatchString(got) {
		t.Fatalf("table name must be quoted as an identifier: %s", got)
	}
}
