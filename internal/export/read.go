package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrEmptySheet is returned when an upload holds no header row.
var ErrEmptySheet = errors.New("export: sheet is empty")

// ReadRecords parses an uploaded CSV or XLSX document into maps keyed by the
// lower-cased header names. Blank lines are skipped.
func ReadRecords(r io.Reader, format Format) ([]map[string]string, error) {
	var rows [][]string
	switch format {
	case FormatXLSX:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, fmt.Errorf("export: open workbook: %w", err)
		}
		defer func() { _ = f.Close() }()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptySheet
		}
		rows, err = f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("export: read rows: %w", err)
		}
	case FormatCSV:
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		var err error
		rows, err = reader.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("export: read csv: %w", err)
		}
	default:
		return nil, fmt.Errorf("export: unsupported upload format %q", format)
	}

	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	records := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		record := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				record[h] = strings.TrimSpace(row[i])
			} else {
				record[h] = ""
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
