package headhunter

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	apiURL    = "https://api.hh.ru"
	userAgent = "spigell/hh-pricer (spigelly@gmail.com)"
	// Max value for search per page.
	perPage = "100"
	// hh.ru serves at most 2000 search results, i.e. 20 pages of 100.
	defaultMaxPages = 20
)

type Client struct {
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
	// MaxPages caps the number of pages fetched per search.
	MaxPages int
}

// New creates an hh.ru API client. The token is optional for vacancy search.
func New(logger *zap.Logger, token string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
		MaxPages:  defaultMaxPages,
	}
}

func (c *Client) Search(ctx context.Context, params *SearchParams) (*Vacancies, error) {
	return c.search(ctx, params)
}
