// Package export renders employee listings as CSV, XLSX or PDF attachments.
package export

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"rhgestor.org/internal/audit"
	"rhgestor.org/internal/hr"
)

// Format is an export file type as named in the request path.
type Format string

const (
	CSV   Format = "csv"
	PDF   Format = "pdf"
	Excel Format = "excel"
)

// ParseFormat accepts the path segment of an export request.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case CSV, PDF, Excel:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv; charset=utf-8"
	case PDF:
		return "application/pdf"
	case Excel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}

func (f Format) Extension() string {
	if f == Excel {
		return "xlsx"
	}
	return string(f)
}

// Filename names the attachment after the export time.
func (f Format) Filename(now time.Time) string {
	return fmt.Sprintf("funcionarios-%d.%s", now.UnixMilli(), f.Extension())
}

// Write renders employees in format f.
func Write(w io.Writer, f Format, employees []hr.Employee) error {
	switch f {
	case CSV:
		return WriteCSV(w, employees)
	case PDF:
		return WritePDF(w, employees)
	case Excel:
		return WriteXLSX(w, employees)
	}
	return fmt.Errorf("unsupported export format %q", f)
}

// Headers returns the column labels: the id followed by every tracked
// attribute in display order.
func Headers() []string {
	out := make([]string, 0, len(hr.EmployeeFields)+1)
	out = append(out, "ID")
	for _, f := range hr.EmployeeFields {
		out = append(out, f.Label)
	}
	return out
}

// Row renders e in Headers order.
func Row(e hr.Employee) []string {
	snap := e.Snapshot()
	out := make([]string, 0, len(hr.EmployeeFields)+1)
	out = append(out, strconv.FormatInt(e.ID, 10))
	for _, f := range hr.EmployeeFields {
		if f.Key == "hasChildren" {
			out = append(out, yesNo(e.HasChildren))
			continue
		}
		out = append(out, audit.Stringify(snap[f.Key]))
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "Sim"
	}
	return "Não"
}
