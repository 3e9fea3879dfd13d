package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"erp-core/internal/platform/apperr"
)

// Money renders an amount with two decimals as a JSON number.
func Money(amount decimal.Decimal) json.Number {
	return json.Number(amount.StringFixed(2))
}

// ParseTimeParam reads an RFC3339 or YYYY-MM-DD query parameter. Date-only
// values used as an upper bound include the whole day.
func ParseTimeParam(r *http.Request, key string, endOfDay bool) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, apperr.BadRequest("invalid_"+key, "%s must be RFC3339 or YYYY-MM-DD", key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// ParseDecimalParam reads an optional decimal query parameter.
func ParseDecimalParam(r *http.Request, key string) (*decimal.Decimal, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return nil, apperr.BadRequest("invalid_"+key, "%s must be a number", key)
	}
	return &parsed, nil
}

// Date decodes an RFC3339 timestamp or a YYYY-MM-DD date from JSON.
type Date struct {
	time.Time
}

// UnmarshalJSON accepts a string in either layout, or null.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		d.Time = time.Time{}
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	if value == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		d.Time = t.UTC()
		return nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return fmt.Errorf("date %q must be RFC3339 or YYYY-MM-DD", value)
	}
	d.Time = t
	return nil
}

// Ptr returns nil for a nil date.
func (d *Date) Ptr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}
