package export

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"rhgestor.org/internal/hr"
)

// WritePDF writes an A4 report with one block per employee: id and
// registration, name, position and department, contact and status.
func WritePDF(w io.Writer, employees []hr.Employee) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr("Relatório de Funcionários"), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	for _, e := range employees {
		pdf.SetFont("Helvetica", "", 12)
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("ID: %d - Matrícula: %s", e.ID, e.RegistrationNumber)), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "U", 14)
		pdf.CellFormat(0, 7, tr(e.FullName), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, tr(fmt.Sprintf("Cargo: %s - Departamento: %s", e.Position, e.Department)), "", "L", false)
		pdf.MultiCell(0, 5, tr(fmt.Sprintf("E-mail: %s - CPF: %s", e.InstitutionalEmail, e.CPF)), "", "L", false)
		pdf.MultiCell(0, 5, tr("Situação Funcional: "+e.FunctionalStatus), "", "L", false)
		pdf.Ln(6)
	}

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}
