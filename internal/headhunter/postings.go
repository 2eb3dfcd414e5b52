package headhunter

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/pricing"
	"github.com/spigell/hh-pricer/internal/sources"
)

const defaultPeriodDays = 30

// RoleLookup resolves canonical role ids into roles.
type RoleLookup interface {
	Role(id string) (pricing.CanonicalRole, bool)
}

type PostingsConfig struct {
	// Areas maps a locale to hh.ru area ids. Unknown locales search everywhere.
	Areas map[string][]int `mapstructure:"areas"`
	// PeriodDays limits the search to recently published vacancies.
	PeriodDays uint `mapstructure:"period-days"`
}

// PostingStore searches live hh.ru vacancies by canonical role title.
type PostingStore struct {
	client *Client
	roles  RoleLookup
	cfg    PostingsConfig
	logger *zap.Logger
}

func NewPostingStore(client *Client, roles RoleLookup, cfg PostingsConfig, logger *zap.Logger) *PostingStore {
	if cfg.PeriodDays == 0 {
		cfg.PeriodDays = defaultPeriodDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostingStore{client: client, roles: roles, cfg: cfg, logger: logger}
}

var _ sources.PostingStore = (*PostingStore)(nil)

func (s *PostingStore) Postings(ctx context.Context, roleID, locale string) ([]sources.Posting, error) {
	role, ok := s.roles.Role(roleID)
	if !ok {
		s.logger.Debug("role is not in the taxonomy, no postings", zap.String("role_id", roleID))
		return []sources.Posting{}, nil
	}

	params := &SearchParams{
		Text:           role.Title,
		SearchField:    "name",
		Areas:          s.areas(locale),
		OnlyWithSalary: true,
		Period:         s.cfg.PeriodDays,
	}

	vacancies, err := s.client.Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("search vacancies for %q: %w", role.Title, err)
	}

	s.logger.Debug("vacancies found",
		zap.String("role_id", roleID),
		zap.String("query", role.Title),
		zap.Int("vacancies", vacancies.Len()),
	)
	return vacancies.ToPostings(roleID, locale), nil
}

// areas matches locales case-insensitively since viper lowercases map keys.
func (s *PostingStore) areas(locale string) []int {
	for k, ids := range s.cfg.Areas {
		if strings.EqualFold(k, locale) {
			return ids
		}
	}
	return nil
}
