package headhunter

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

const (
	SearchPath = "/vacancies"
)

type SearchParams struct {
	Text string `yaml:"text"`
	// hhparam is custom tag for reflect. Please see below.
	Areas          []int  `hhparam:"area"`
	SearchField    string `yaml:"search_field" mapstructure:"search_field"`
	OnlyWithSalary bool   `hhparam:"only_with_salary"`
	Currency       string `yaml:"currency"`
	PerPage        string `yaml:"per_page" mapstructure:"per_page"`
	Experience     string `yaml:"experience"`
	// Period is the search window in days.
	Period uint `yaml:"period"`
}

func (c *Client) search(ctx context.Context, params *SearchParams) (*Vacancies, error) {
	var vacancies []*Vacancy

	// Set per_page max as possible. It should be faster.
	if params.PerPage == "" {
		params.PerPage = perPage
	}

	q := buildParams(params)
	apiURLSearch := fmt.Sprintf("%s%s", c.APIURL, SearchPath)

	items, err := c.GetItems(ctx, apiURLSearch, q)
	if err != nil {
		return nil, err
	}

	cfg := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           &vacancies,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items); err != nil {
		// Partial results are still usable; mapstructure fills what it can.
		c.logger.Warn("some vacancies could not be decoded", zap.Error(err))
	}

	return &Vacancies{
		Items: vacancies,
	}, nil
}

func buildParams(params *SearchParams) url.Values {
	q := url.Values{}
	fields := reflect.VisibleFields(reflect.TypeOf(*params))
	for _, field := range fields {
		// Our custom tag is using here.
		key := field.Tag.Get("hhparam")
		if key == "" {
			// Failover to default tag if our tag do not exist.
			key = field.Tag.Get("yaml")
		}
		value := reflect.ValueOf(params).Elem().Field(field.Index[0])
		switch field.Type.Kind() {
		case reflect.Slice:
			switch v := value.Interface().(type) {
			case []int:
				for _, item := range v {
					q.Add(key, strconv.Itoa(item))
				}

			case []string:
				for _, item := range v {
					q.Add(key, item)
				}
			}

		case reflect.Bool:
			if value.Bool() {
				q.Set(key, "true")
			}

		default:
			s := fmt.Sprintf("%v", value.Interface())
			if s != "" && s != "0" {
				q.Set(key, s)
			}
		}
	}

	return q
}
