package export

import (
	"encoding/csv"
	"io"

	"rhgestor.org/internal/hr"
)

// WriteCSV writes a header row and one row per employee.
func WriteCSV(w io.Writer, employees []hr.Employee) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Headers()); err != nil {
		return err
	}
	for _, e := range employees {
		if err := cw.Write(Row(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
