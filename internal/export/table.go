// Package export renders tabular result sets as CSV, Excel or PDF documents
// and reads uploaded CSV or Excel sheets back into records.
package export

import (
	"strconv"
	"strings"
	"time"
)

// Format identifies an export document type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat normalises a user supplied format, defaulting to CSV.
func ParseFormat(raw string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, true
	case FormatXLSX, "excel":
		return FormatXLSX, true
	case FormatPDF:
		return FormatPDF, true
	default:
		return "", false
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Table is a titled grid of cells. Cells hold strings, numbers, times,
// booleans, pointers to those, or nil.
type Table struct {
	Title   string
	Columns []string
	Rows    [][]any
}

// Append adds a row.
func (t *Table) Append(cells ...any) {
	t.Rows = append(t.Rows, cells)
}

// formatCell renders a cell for text based outputs.
func formatCell(v any) string {
	switch c := deref(v).(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return formatFloat(c)
	case float32:
		return formatFloat(float64(c))
	case int:
		return strconv.Itoa(c)
	case int32:
		return strconv.FormatInt(int64(c), 10)
	case int64:
		return strconv.FormatInt(c, 10)
	case bool:
		return strconv.FormatBool(c)
	case time.Time:
		if c.Hour() == 0 && c.Minute() == 0 && c.Second() == 0 && c.Nanosecond() == 0 {
			return c.Format("2006-01-02")
		}
		return c.Format("2006-01-02 15:04:05")
	default:
		return ""
	}
}

func deref(v any) any {
	switch p := v.(type) {
	case *string:
		if p == nil {
			return nil
		}
		return *p
	case *float64:
		if p == nil {
			return nil
		}
		return *p
	case *int64:
		if p == nil {
			return nil
		}
		return *p
	case *int:
		if p == nil {
			return nil
		}
		return *p
	case *bool:
		if p == nil {
			return nil
		}
		return *p
	case *time.Time:
		if p == nil {
			return nil
		}
		return *p
	default:
		return v
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
