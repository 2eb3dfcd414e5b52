package sources

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/hh-pricer/internal/pricing"
)

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// RowError describes a row rejected at the adapter boundary.
type RowError struct {
	Index int
	Err   error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Index, e.Err) }

// DecodeRecords converts loosely typed rows into validated records. Rows that
// cannot be decoded or fail validation are returned as RowErrors and never
// reach aggregation. The source id is forced to sourceID.
func DecodeRecords(sourceID string, rows []map[string]any) ([]pricing.MarketDataRecord, []RowError) {
	records := make([]pricing.MarketDataRecord, 0, len(rows))
	var rejected []RowError

	for i, row := range rows {
		var record pricing.MarketDataRecord
		cfg := &mapstructure.DecoderConfig{
			DecodeHook:       stringToTimeHook,
			WeaklyTypedInput: true,
			Result:           &record,
		}
		decoder, err := mapstructure.NewDecoder(cfg)
		if err != nil {
			rejected = append(rejected, RowError{Index: i, Err: err})
			continue
		}
		if err := decoder.Decode(row); err != nil {
			rejected = append(rejected, RowError{Index: i, Err: err})
			continue
		}

		record.SourceID = sourceID
		record.Currency = strings.ToUpper(strings.TrimSpace(record.Currency))
		record.Locale = strings.TrimSpace(record.Locale)

		if err := record.Validate(); err != nil {
			rejected = append(rejected, RowError{Index: i, Err: err})
			continue
		}
		records = append(records, record)
	}

	return records, rejected
}

func stringToTimeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}

	s := strings.TrimSpace(data.(string))
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return nil, fmt.Errorf("unsupported date %q", s)
}
