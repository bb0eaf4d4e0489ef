package invoice

import (
	"fmt"
	"io"

	"delivery-backend/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	recordsSheet = "Records"
	invoiceSheet = "Invoice"
)

var recordHeaders = []any{
	"Date", "Loaded", "Collected", "Cutters", "Returned", "Missplaced",
	"Delivered", "Expense", "Expense (no VAT)", "Odometer", "Note",
}

// WriteWorkbook writes the month's records and the invoice summary as an
// XLSX workbook.
func WriteWorkbook(w io.Writer, inv Invoice, records []models.DeliveryRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", recordsSheet); err != nil {
		return err
	}
	if err := writeRecordsSheet(f, records); err != nil {
		return fmt.Errorf("records sheet: %w", err)
	}

	idx, err := f.NewSheet(invoiceSheet)
	if err != nil {
		return err
	}
	if err := writeInvoiceSheet(f, inv); err != nil {
		return fmt.Errorf("invoice sheet: %w", err)
	}
	f.SetActiveSheet(idx)

	_, err = f.WriteTo(w)
	return err
}

func writeRecordsSheet(f *excelize.File, records []models.DeliveryRecord) error {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(recordsSheet, "A1", &recordHeaders); err != nil {
		return err
	}
	if err := f.SetRowStyle(recordsSheet, 1, 1, bold); err != nil {
		return err
	}

	for i, r := range records {
		delivered, _ := r.Delivered()
		var odometer any
		if r.OdometerEnd != nil {
			odometer = *r.OdometerEnd
		}
		row := []any{
			r.EntryDate.Format(dateLayout), r.Loaded, r.Collected, r.Cutters, r.Returned, r.Missplaced,
			delivered, r.Expense, r.ExpenseNoVat, odometer, r.Note,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(recordsSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(recordsSheet, "A", "A", 12)
}

func writeInvoiceSheet(f *excelize.File, inv Invoice) error {
	rows := [][]any{
		{"Invoice #", inv.Number},
		{"Period", fmt.Sprintf("%s %d", inv.MonthName, inv.Year)},
		{"Invoice date", inv.InvoiceDate},
		{"Due date", inv.DueDate},
		{},
		{"Description", "Quantity", "Unit price", "Subtotal", "VAT", "Total"},
	}
	for _, l := range inv.Lines {
		rows = append(rows, []any{l.Description, l.Quantity, l.UnitPrice, l.Subtotal, l.Tax, l.Total})
	}
	rows = append(rows, []any{"Total", "", "", inv.Subtotal, inv.Tax, inv.Total})

	for i, row := range rows {
		row := row
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(invoiceSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(invoiceSheet, "A", "A", 20)
}
