package export

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// PDFExporter renders tables to PDF through a Gotenberg instance.
type PDFExporter struct {
	Endpoint string
	Client   *http.Client
}

// NewPDFExporter returns an exporter for endpoint. An empty endpoint yields an
// exporter whose Render always fails.
func NewPDFExporter(endpoint string) *PDFExporter {
	return &PDFExporter{Endpoint: endpoint, Client: &http.Client{Timeout: 30 * time.Second}}
}

// Render sends the table as HTML to Gotenberg and returns the PDF bytes.
func (p *PDFExporter) Render(ctx context.Context, table Table) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("pdf exporter not initialised")
	}
	endpoint := strings.TrimRight(p.Endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("gotenberg endpoint required")
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, buildHTML(table)); err != nil {
		return nil, err
	}
	if len(table.Columns) > 6 {
		if err := writer.WriteField("landscape", "true"); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/forms/chromium/convert/html", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("gotenberg response %d: %s", resp.StatusCode, string(data))
	}

	return io.ReadAll(resp.Body)
}

func buildHTML(table Table) string {
	var b strings.Builder
	b.WriteString("<html><head><meta charset=\"utf-8\"><style>")
	b.WriteString("body{font-family:sans-serif;margin:24px;font-size:11px;}h1{font-size:18px;}table{width:100%;border-collapse:collapse;}th,td{border:1px solid #ddd;padding:4px 6px;text-align:left;}th{background:#f5f5f5;}td.num{text-align:right;}")
	b.WriteString("</style></head><body>")
	if table.Title != "" {
		b.WriteString("<h1>")
		b.WriteString(html.EscapeString(table.Title))
		b.WriteString("</h1>")
	}
	b.WriteString("<table><thead><tr>")
	for _, col := range table.Columns {
		b.WriteString("<th>")
		b.WriteString(html.EscapeString(col))
		b.WriteString("</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, row := range table.Rows {
		b.WriteString("<tr>")
		for i := range table.Columns {
			var cell any
			if i < len(row) {
				cell = row[i]
			}
			if isNumeric(cell) {
				b.WriteString("<td class=\"num\">")
			} else {
				b.WriteString("<td>")
			}
			b.WriteString(html.EscapeString(displayCell(cell)))
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table></body></html>")
	return b.String()
}

func isNumeric(v any) bool {
	switch deref(v).(type) {
	case float64, float32, int, int32, int64:
		return true
	default:
		return false
	}
}

var displayPrinter = message.NewPrinter(language.English)

// displayCell formats numbers with digit grouping for printed reports; other
// cells render as in CSV.
func displayCell(v any) string {
	switch c := deref(v).(type) {
	case float64:
		return displayPrinter.Sprint(number.Decimal(c, number.MaxFractionDigits(2)))
	case float32:
		return displayPrinter.Sprint(number.Decimal(float64(c), number.MaxFractionDigits(2)))
	case int, int32, int64:
		return displayPrinter.Sprint(number.Decimal(c))
	default:
		return formatCell(v)
	}
}
