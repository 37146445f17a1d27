package export

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Renderer produces export documents in any supported format.
type Renderer struct {
	PDF *PDFExporter
	Now func() time.Time
}

// NewRenderer builds a renderer backed by the given PDF exporter.
func NewRenderer(pdf *PDFExporter) *Renderer {
	return &Renderer{PDF: pdf, Now: time.Now}
}

// Render encodes table in format.
func (r *Renderer) Render(ctx context.Context, format Format, table Table) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatCSV:
		if err := WriteCSV(&buf, table); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatXLSX:
		if err := WriteXLSX(&buf, table); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatPDF:
		if r == nil || r.PDF == nil {
			return nil, fmt.Errorf("pdf export not configured")
		}
		return r.PDF.Render(ctx, table)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// Serve renders table and writes it as an attachment named base plus a date
// stamp and the format extension.
func (r *Renderer) Serve(w http.ResponseWriter, req *http.Request, format Format, base string, table Table) error {
	data, err := r.Render(req.Context(), format, table)
	if err != nil {
		return err
	}
	now := time.Now
	if r != nil && r.Now != nil {
		now = r.Now
	}
	filename := fmt.Sprintf("%s_%s.%s", base, now().Format("20060102"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	return nil
}
