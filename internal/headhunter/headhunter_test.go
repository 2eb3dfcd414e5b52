package headhunter

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/spigell/hh-pricer/internal/pricing"
)

func page(n, pages int, items ...map[string]any) map[string]any {
	return map[string]any{"items": items, "found": pages * len(items), "pages": pages, "page": n, "per_page": 100}
}

func item(id string, from float64) map[string]any {
	return map[string]any{
		"id":           id,
		"name":         "Backend Engineer",
		"published_at": "2026-05-20T10:00:00+0300",
		"salary":       map[string]any{"from": from, "to": nil, "currency": "RUR", "gross": true},
	}
}

func newTestServer(t *testing.T, pages int, gz bool, calls *int32, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Path != SearchPath {
			http.NotFound(w, r)
			return
		}
		if check != nil {
			check(r)
		}

		n, _ := strconv.Atoi(r.URL.Query().Get("page"))
		body := page(n, pages, item(fmt.Sprintf("v%d", n), float64(100000+n)))

		if gz {
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			defer zw.Close()
			_ = json.NewEncoder(zw).Encode(body)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestSearchFollowsPages(t *testing.T) {
	var calls int32
	srv := newTestServer(t, 3, true, &calls, func(r *http.Request) {
		q := r.URL.Query()
		if q.Get("text") != "Backend Engineer" || q.Get("only_with_salary") != "true" || q.Get("per_page") != perPage {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if got := q["area"]; len(got) != 2 || got[0] != "1" || got[1] != "2" {
			t.Errorf("unexpected areas: %v", got)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing authorization header")
		}
	})
	defer srv.Close()

	client := New(nil, "secret")
	client.APIURL = srv.URL

	vacancies, err := client.Search(context.Background(), &SearchParams{Text: "Backend Engineer", Areas: []int{1, 2}, OnlyWithSalary: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vacancies.Len() != 3 || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 vacancies over 3 calls, got %d / %d", vacancies.Len(), calls)
	}
	if vacancies.Items[0].Salary == nil || vacancies.Items[0].Salary.From != 100000 {
		t.Fatalf("salary must be decoded: %+v", vacancies.Items[0])
	}
}

func TestSearchRespectsPageLimit(t *testing.T) {
	var calls int32
	srv := newTestServer(t, 10, false, &calls, nil)
	defer srv.Close()

	client := New(nil, "")
	client.APIURL = srv.URL
	client.MaxPages = 2

	vacancies, err := client.Search(context.Background(), &SearchParams{Text: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vacancies.Len() != 2 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 pages, got %d vacancies over %d calls", vacancies.Len(), calls)
	}
}

func TestSearchBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := New(nil, "")
	client.APIURL = srv.URL
	if _, err := client.Search(context.Background(), &SearchParams{Text: "x"}); err == nil {
		t.Fatal("expected error on bad status")
	}
}

func TestBuildParamsSkipsZeroValues(t *testing.T) {
	q := buildParams(&SearchParams{Text: "QA", PerPage: "50"})
	if q.Get("only_with_salary") != "" || q.Get("period") != "" || q.Get("area") != "" {
		t.Fatalf("zero values must be omitted: %s", q.Encode())
	}
	if q.Get("text") != "QA" || q.Get("per_page") != "50" {
		t.Fatalf("unexpected params: %s", q.Encode())
	}
}

type roles map[string]pricing.CanonicalRole

func (r roles) Role(id string) (pricing.CanonicalRole, bool) {
	role, ok := r[id]
	return role, ok
}

func TestPostingStore(t *testing.T) {
	var calls int32
	srv := newTestServer(t, 1, false, &calls, func(r *http.Request) {
		q := r.URL.Query()
		if q.Get("search_field") != "name" || q.Get("period") != "30" || q.Get("area") != "1" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
	})
	defer srv.Close()

	client := New(nil, "")
	client.APIURL = srv.URL
	store := NewPostingStore(client, roles{"swe": {ID: "swe", Title: "Backend Engineer"}}, PostingsConfig{Areas: map[string][]int{"ru": {1}}}, nil)

	postings, err := store.Postings(context.Background(), "swe", "RU")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(postings) != 1 || postings[0].Currency != "RUB" || postings[0].RoleID != "swe" {
		t.Fatalf("unexpected postings: %+v", postings)
	}

	unknown, err := store.Postings(context.Background(), "ceo", "ru")
	if err != nil || len(unknown) != 0 {
		t.Fatalf("unknown role must yield no postings: %v, %v", unknown, err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("unknown role must not hit the API, got %d calls", calls)
	}
}

func TestPostingStoreHonoursCancellation(t *testing.T) {
	var calls int32
	srv := newTestServer(t, 1, false, &calls, nil)
	defer srv.Close()

	client := New(nil, "")
	client.APIURL = srv.URL
	store := NewPostingStore(client, roles{"swe": {ID: "swe", Title: "x"}}, PostingsConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Postings(ctx, "swe", ""); err == nil {
		t.Fatal("expected cancellation error")
	}
}
