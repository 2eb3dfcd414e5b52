package headhunter

import (
	"strings"
	"time"

	"github.com/spigell/hh-pricer/internal/sources"
)

// hh.ru reports Russian roubles with the legacy code.
var currencyAliases = map[string]string{"RUR": "RUB"}

const publishedLayout = "2006-01-02T15:04:05-0700"

type Vacancies struct {
	Items []*Vacancy
}

type Vacancy struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Area struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"area,omitempty"`
	Salary *struct {
		From     float64 `json:"from,omitempty"`
		To       float64 `json:"to,omitempty"`
		Currency string  `json:"currency,omitempty"`
		Gross    bool    `json:"gross,omitempty"`
	} `json:"salary,omitempty"`
	Employer struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"employer,omitempty"`
	Archived     bool   `json:"archived,omitempty"`
	AlternateURL string `json:"alternate_url,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	PublishedAt  string `json:"published_at,omitempty"`
}

func (v *Vacancies) Len() int {
	return len(v.Items)
}

// Published returns the publication time, falling back to creation time.
func (va *Vacancy) Published() (time.Time, bool) {
	for _, raw := range []string{va.PublishedAt, va.CreatedAt} {
		if raw == "" {
			continue
		}
		for _, layout := range []string{publishedLayout, time.RFC3339} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// ToPosting converts a vacancy into a posting for roleID. Vacancies without a
// salary still convert; the postings adapter drops them.
func (va *Vacancy) ToPosting(roleID, locale string) sources.Posting {
	posting := sources.Posting{
		ID:     va.ID,
		RoleID: roleID,
		Locale: locale,
	}
	if va.Salary != nil {
		posting.SalaryFrom = va.Salary.From
		posting.SalaryTo = va.Salary.To
		posting.Currency = normalizeCurrency(va.Salary.Currency)
	}
	if t, ok := va.Published(); ok {
		posting.PostedAt = t
	}
	return posting
}

// ToPostings converts all vacancies, skipping archived ones.
func (v *Vacancies) ToPostings(roleID, locale string) []sources.Posting {
	postings := make([]sources.Posting, 0, v.Len())
	seen := make(map[string]struct{}, v.Len())
	for _, vacancy := range v.Items {
		if vacancy == nil || vacancy.Archived {
			continue
		}
		if _, dup := seen[vacancy.ID]; dup {
			continue
		}
		seen[vacancy.ID] = struct{}{}
		postings = append(postings, vacancy.ToPosting(roleID, locale))
	}
	return postings
}

func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if alias, ok := currencyAliases[code]; ok {
		return alias
	}
	return code
}
