// Package invoice turns a month of delivery records into an invoice, a
// revenue summary and the documents derived from them.
package invoice

import (
	"fmt"
	"math"
	"sort"
	"time"

	"delivery-backend/internal/models"
)

const dateLayout = "2006-01-02"

// Pricing holds the per-unit prices and tax applied to every record.
type Pricing struct {
	PerDelivery   float64
	PerCollection float64
	TaxRate       float64
	DueDays       int
}

type Line struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Subtotal    float64 `json:"subtotal"`
	Tax         float64 `json:"tax"`
	Total       float64 `json:"total"`
}

type Invoice struct {
	Number      string  `json:"invoice_number"`
	Year        int     `json:"year"`
	Month       int     `json:"month"`
	MonthName   string  `json:"month_name"`
	InvoiceDate string  `json:"invoice_date"`
	DueDate     string  `json:"due_date"`
	TaxRate     float64 `json:"tax_rate"`

	TotalDeliveries  int `json:"total_deliveries"`
	TotalCollections int `json:"total_collections"`
	RecordCount      int `json:"record_count"`

	Lines    []Line  `json:"lines"`
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`

	Warnings []string `json:"warnings"`

	IssuedOn time.Time `json:"-"`
	DueOn    time.Time `json:"-"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func line(desc string, qty int, price, rate float64) Line {
	sub := round2(float64(qty) * price)
	tax := round2(sub * rate)
	return Line{
		Description: desc,
		Quantity:    qty,
		UnitPrice:   price,
		Subtotal:    sub,
		Tax:         tax,
		Total:       round2(sub + tax),
	}
}

func negativeWarning(r models.DeliveryRecord) string {
	return fmt.Sprintf("Record %d on %s has more items returned than loaded; delivered counted as 0",
		r.ID, r.EntryDate.Format(dateLayout))
}

// Number is the invoice number of a billing month. Each organization has at
// most one invoice per month, so the sequence part is always 001.
func Number(year, month int) string {
	return fmt.Sprintf("%04d-%02d-001", year, month)
}

// Compute prices the given records for one billing month. The invoice is
// dated on now's calendar day.
func Compute(records []models.DeliveryRecord, year, month int, p Pricing, now time.Time) Invoice {
	inv := Invoice{
		Number:    Number(year, month),
		Year:      year,
		Month:     month,
		MonthName: time.Month(month).String(),
		TaxRate:   p.TaxRate,
		Warnings:  []string{},
	}

	for _, r := range records {
		delivered, negative := r.Delivered()
		if negative {
			inv.Warnings = append(inv.Warnings, negativeWarning(r))
		}
		inv.TotalDeliveries += delivered
		inv.TotalCollections += r.CollectedTotal()
	}
	inv.RecordCount = len(records)

	inv.Lines = []Line{
		line("Parcel deliveries", inv.TotalDeliveries, p.PerDelivery, p.TaxRate),
		line("Parcel collections", inv.TotalCollections, p.PerCollection, p.TaxRate),
	}
	for _, l := range inv.Lines {
		inv.Subtotal += l.Subtotal
		inv.Tax += l.Tax
	}
	inv.Subtotal = round2(inv.Subtotal)
	inv.Tax = round2(inv.Tax)
	inv.Total = round2(inv.Subtotal + inv.Tax)

	inv.IssuedOn = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	inv.DueOn = inv.IssuedOn.AddDate(0, 0, p.DueDays)
	inv.InvoiceDate = inv.IssuedOn.Format(dateLayout)
	inv.DueDate = inv.DueOn.Format(dateLayout)
	return inv
}

// Header is the persisted form of an invoice.
func (inv Invoice) Header(orgID uint, clientID *uint) models.Invoice {
	return models.Invoice{
		OrganizationID:   orgID,
		Year:             inv.Year,
		Month:            inv.Month,
		ClientID:         clientID,
		Number:           inv.Number,
		IssuedOn:         inv.IssuedOn,
		DueOn:            inv.DueOn,
		TotalDeliveries:  inv.TotalDeliveries,
		TotalCollections: inv.TotalCollections,
		Subtotal:         inv.Subtotal,
		Tax:              inv.Tax,
		Total:            inv.Total,
	}
}

// Analytics is the revenue summary shown on the dashboard. Values include
// tax; expenses are taken as entered.
type Analytics struct {
	Records         int      `json:"records"`
	TotalDelivered  int      `json:"total_delivered"`
	TotalCollected  int      `json:"total_collected"`
	TotalReturned   int      `json:"total_returned"`
	AveragePerDay   float64  `json:"average_per_day"`
	DeliverySum     float64  `json:"delivery_sum"`
	CollectedSum    float64  `json:"collected_sum"`
	ExpenseSum      float64  `json:"expense_sum"`
	ExpenseNoVatSum float64  `json:"expense_no_vat_sum"`
	ToInvoice       float64  `json:"to_invoice"`
	Balance         float64  `json:"balance"`
	Warnings        []string `json:"warnings"`
}

func Analyze(records []models.DeliveryRecord, p Pricing) Analytics {
	a := Analytics{Records: len(records), Warnings: []string{}}
	gross := 1 + p.TaxRate
	for _, r := range records {
		delivered, negative := r.Delivered()
		if negative {
			a.Warnings = append(a.Warnings, negativeWarning(r))
		}
		collected := r.CollectedTotal()
		a.TotalDelivered += delivered
		a.TotalCollected += collected
		a.TotalReturned += r.Returned
		a.DeliverySum += float64(delivered) * p.PerDelivery * gross
		a.CollectedSum += float64(collected) * p.PerCollection * gross
		a.ExpenseSum += r.Expense
		a.ExpenseNoVatSum += r.ExpenseNoVat
	}
	if a.Records > 0 {
		a.AveragePerDay = round2(float64(a.TotalDelivered) / float64(a.Records))
	}
	a.DeliverySum = round2(a.DeliverySum)
	a.CollectedSum = round2(a.CollectedSum)
	a.ExpenseSum = round2(a.ExpenseSum)
	a.ExpenseNoVatSum = round2(a.ExpenseNoVatSum)
	a.ToInvoice = round2(a.DeliverySum + a.CollectedSum)
	a.Balance = round2(a.ToInvoice - a.ExpenseSum)
	return a
}

// YearSummaries computes an invoice for every month of the year that has
// records, in calendar order.
func YearSummaries(records []models.DeliveryRecord, year int, p Pricing, now time.Time) []Invoice {
	byMonth := map[int][]models.DeliveryRecord{}
	for _, r := range records {
		if r.EntryDate.Year() != year {
			continue
		}
		m := int(r.EntryDate.Month())
		byMonth[m] = append(byMonth[m], r)
	}
	months := make([]int, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Ints(months)

	out := make([]Invoice, 0, len(months))
	for _, m := range months {
		out = append(out, Compute(byMonth[m], year, m, p, now))
	}
	return out
}
