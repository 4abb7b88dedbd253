package preorders

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// StartOfDay returns midnight of t's calendar day as observed in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ParseDeliveryDate accepts a bare calendar date ("2006-01-02"), taken as
// that day in loc, or an RFC 3339 instant, which is first converted into loc.
func ParseDeliveryDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: fechaEntrega is required", ErrInvalidInput)
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: fechaEntrega %q is not a date", ErrInvalidInput, s)
	}
	return StartOfDay(t, loc), nil
}

// dateKey is the SQL DATE literal for a normalized delivery date.
func dateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// fromSQLDate re-anchors a DATE column (scanned as UTC midnight) in loc.
func fromSQLDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
