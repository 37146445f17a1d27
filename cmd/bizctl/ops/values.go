package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bizpulse/bizpulse/internal/export"
	"github.com/bizpulse/bizpulse/internal/kpi"
)

// ValueImporter upserts parsed KPI value records.
type ValueImporter interface {
	ImportValues(ctx context.Context, kpiID int64, records []map[string]string) (kpi.BulkResult, error)
}

// ImportFile reads a CSV or XLSX file of KPI values and upserts it for kpiID.
func ImportFile(ctx context.Context, importer ValueImporter, kpiID int64, path string) (kpi.BulkResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return kpi.BulkResult{}, err
	}
	defer func() { _ = f.Close() }()
	return Import(ctx, importer, kpiID, f, FormatForPath(path))
}

// Import parses r in format and upserts the records for kpiID.
func Import(ctx context.Context, importer ValueImporter, kpiID int64, r io.Reader, format export.Format) (kpi.BulkResult, error) {
	records, err := export.ReadRecords(r, format)
	if err != nil {
		return kpi.BulkResult{}, err
	}
	return importer.ImportValues(ctx, kpiID, records)
}

// FormatForPath picks the upload format from the file extension.
func FormatForPath(path string) export.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return export.FormatXLSX
	default:
		return export.FormatCSV
	}
}

// PrintResult writes a one-line summary followed by any rejected rows.
func PrintResult(w io.Writer, res kpi.BulkResult) {
	fmt.Fprintf(w, "kpi %d: %d rows, %d inserted, %d updated, %d failed\n",
		res.KPIID, res.Total, res.Inserted, res.Updated, res.Failed)
	for _, row := range res.Rows {
		if row.Error == "" {
			continue
		}
		fmt.Fprintf(w, "  row %d: %s\n", row.Row, row.Error)
	}
}
