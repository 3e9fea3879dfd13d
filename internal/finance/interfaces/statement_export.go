package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"erp-core/internal/finance/application"
)

const (
	summarySheet  = "summary"
	postingsSheet = "postings"
)

// BuildStatementXLSX renders an account statement with a summary sheet and
// one row per posting.
func BuildStatementXLSX(stmt *application.Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(postingsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Account Statement")
	summary := [][2]any{
		{"Account", stmt.Account.Name},
		{"Account ID", stmt.Account.ID},
		{"Currency", stmt.Currency},
		{"From", periodBound(stmt.From)},
		{"To", periodBound(stmt.To)},
		{"Opening Balance", stmt.Opening.InexactFloat64()},
		{"Closing Balance", stmt.Closing.InexactFloat64()},
		{"Postings", len(stmt.Lines)},
	}
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), row[1])
	}

	headers := []string{"Date", "Type", "Description", "Reference", "Amount", "Balance"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(postingsSheet, cell, h)
	}
	for i, line := range stmt.Lines {
		row := i + 2
		p := line.Posting
		_ = f.SetCellValue(postingsSheet, fmt.Sprintf("A%d", row), p.TransactionDate.Format("2006-01-02"))
		_ = f.SetCellValue(postingsSheet, fmt.Sprintf("B%d", row), string(p.Type))
		_ = f.SetCellValue(postingsSheet, fmt.Sprintf("C%d", row), p.Description)
		_ = f.SetCellValue(postingsSheet, fmt.Sprintf("D%d", row), string(p.ReferenceType))
		_ = f.SetCellValue(postingsSheet, fmt.Sprintf("E%d", row), p.Delta().InexactFloat64())
		_ = f.SetCellValue(postingsSheet, fmt.Sprintf("F%d", row), line.Balance.InexactFloat64())
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementPDF renders a minimal PDF of the same statement.
func BuildStatementPDF(stmt *application.Statement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Account Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s", stmt.Account.Name))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s - %s", periodBound(stmt.From), periodBound(stmt.To)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Opening Balance (%s): %s", stmt.Currency, stmt.Opening.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Closing Balance (%s): %s", stmt.Currency, stmt.Closing.StringFixed(2)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, "Date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(80, 6, "Description", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Balance", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, line := range stmt.Lines {
		pdf.CellFormat(30, 6, line.Posting.TransactionDate.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(80, 6, truncate(line.Posting.Description, 45), "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, line.Posting.Delta().StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, line.Balance.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func periodBound(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
