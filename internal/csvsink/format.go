package csvsink

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TimeLayout is the display format for timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// Formatter renders query values as CSV fields.
type Formatter struct {
	TimestampColumn string         // rendered as display time, others as plain values
	Location        *time.Location // display zone; nil means UTC
}

// FormatTimestamp renders epoch milliseconds in loc. The result does not depend
// on the local machine's timezone.
func FormatTimestamp(ms int64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc).Format(TimeLayout)
}

// Format renders one value. nil becomes an empty field.
func (f Formatter) Format(column string, v any) string {
	if v == nil {
		return ""
	}
	if column != "" && column == f.TimestampColumn {
		if ms, ok := toMillis(v); ok {
			return FormatTimestamp(ms, f.Location)
		}
	}

	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

// Record renders values positionally against columns.
func (f Formatter) Record(columns []string, values []any) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		if i < len(values) {
			out[i] = f.Format(c, values[i])
		}
	}
	return out
}

func toMillis(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		if fl, err := x.Float64(); err == nil {
			return int64(fl), true
		}
	}
	return 0, false
}
