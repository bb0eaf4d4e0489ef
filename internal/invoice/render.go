package invoice

import (
	"fmt"
	"html/template"
	"io"
	"strings"

	"delivery-backend/internal/models"
)

type Party struct {
	Name      string `json:"name" form:"name"`
	Address   string `json:"address" form:"address"`
	Email     string `json:"email" form:"email"`
	Phone     string `json:"phone" form:"phone"`
	VatNumber string `json:"vat_number" form:"vat_number"`
}

type Bank struct {
	Name string `json:"name"`
	IBAN string `json:"iban"`
	BIC  string `json:"bic"`
}

// Parties are the issuer and receiver blocks printed on an invoice.
type Parties struct {
	Company  Party `json:"company"`
	Bank     Bank  `json:"bank"`
	Receiver Party `json:"receiver"`
}

func pick(override, fallback string) string {
	if s := strings.TrimSpace(override); s != "" {
		return s
	}
	return fallback
}

func (p Party) merge(o Party) Party {
	return Party{
		Name:      pick(o.Name, p.Name),
		Address:   pick(o.Address, p.Address),
		Email:     pick(o.Email, p.Email),
		Phone:     pick(o.Phone, p.Phone),
		VatNumber: pick(o.VatNumber, p.VatNumber),
	}
}

// Merge overlays the non-empty fields of o on p.
func (p Parties) Merge(o Parties) Parties {
	return Parties{
		Company: p.Company.merge(o.Company),
		Bank: Bank{
			Name: pick(o.Bank.Name, p.Bank.Name),
			IBAN: pick(o.Bank.IBAN, p.Bank.IBAN),
			BIC:  pick(o.Bank.BIC, p.Bank.BIC),
		},
		Receiver: p.Receiver.merge(o.Receiver),
	}
}

// ClientParty is the receiver block of a stored client.
func ClientParty(c *models.Client) Party {
	if c == nil {
		return Party{}
	}
	return Party{Name: c.Name, Address: c.Address, Email: c.Email, Phone: c.Phone, VatNumber: c.VatNumber}
}

// addressLines splits an address on commas and newlines.
func addressLines(addr string) []string {
	fields := strings.FieldsFunc(addr, func(r rune) bool { return r == ',' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func money(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "€" + b.String() + "." + frac
	if neg {
		return "-" + out
	}
	return out
}

func percent(rate float64) string {
	return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%.2f", rate*100), "0"), ".0") + "%"
}

var invoiceTmpl = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"money":   money,
	"percent": percent,
	"lines":   addressLines,
}).Parse(invoiceHTML))

type page struct {
	Invoice
	Parties
}

// RenderHTML writes a standalone printable invoice document.
func RenderHTML(w io.Writer, inv Invoice, parties Parties) error {
	return invoiceTmpl.Execute(w, page{Invoice: inv, Parties: parties})
}

const invoiceHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Invoice {{.Number}}</title>
<style>
body { font-family: Arial, sans-serif; color: #222; max-width: 800px; margin: 40px auto; }
header { display: flex; justify-content: space-between; border-bottom: 2px solid #333; padding-bottom: 16px; }
h1 { margin: 0 0 8px; }
.parties { display: flex; justify-content: space-between; margin: 24px 0; }
.parties p { margin: 2px 0; }
table { width: 100%; border-collapse: collapse; margin-top: 16px; }
th, td { padding: 8px; border-bottom: 1px solid #ddd; text-align: right; }
th:first-child, td:first-child { text-align: left; }
tfoot td { font-weight: bold; }
.warnings { color: #a00; }
footer { margin-top: 32px; font-size: 0.9em; color: #555; }
</style>
</head>
<body>
<header>
  <div>
    <h1>INVOICE</h1>
    <p><strong>Invoice #:</strong> {{.Number}}</p>
    <p><strong>Period:</strong> {{.MonthName}} {{.Year}}</p>
  </div>
  <div>
    <p><strong>Invoice Date:</strong> {{.InvoiceDate}}</p>
    <p><strong>Due Date:</strong> {{.DueDate}}</p>
  </div>
</header>
<section class="parties">
  <div>
    <h3>From</h3>
    <p><strong>{{.Company.Name}}</strong></p>
    {{range lines .Company.Address}}<p>{{.}}</p>{{end}}
    {{with .Company.Email}}<p>Email: {{.}}</p>{{end}}
    {{with .Company.Phone}}<p>Phone: {{.}}</p>{{end}}
    {{with .Company.VatNumber}}<p>VAT: {{.}}</p>{{end}}
  </div>
  {{if .Receiver.Name}}
  <div>
    <h3>Bill To</h3>
    <p><strong>{{.Receiver.Name}}</strong></p>
    {{range lines .Receiver.Address}}<p>{{.}}</p>{{end}}
    {{with .Receiver.Email}}<p>Email: {{.}}</p>{{end}}
    {{with .Receiver.Phone}}<p>Phone: {{.}}</p>{{end}}
    {{with .Receiver.VatNumber}}<p>VAT: {{.}}</p>{{end}}
  </div>
  {{end}}
</section>
<table>
  <thead>
    <tr><th>Description</th><th>Quantity</th><th>Unit Price</th><th>Subtotal</th><th>VAT ({{percent .TaxRate}})</th><th>Total</th></tr>
  </thead>
  <tbody>
    {{range .Lines}}
    <tr><td>{{.Description}}</td><td>{{.Quantity}}</td><td>{{money .UnitPrice}}</td><td>{{money .Subtotal}}</td><td>{{money .Tax}}</td><td>{{money .Total}}</td></tr>
    {{end}}
  </tbody>
  <tfoot>
    <tr><td colspan="3">Total</td><td>{{money .Subtotal}}</td><td>{{money .Tax}}</td><td>{{money .Total}}</td></tr>
  </tfoot>
</table>
{{if .Warnings}}
<ul class="warnings">{{range .Warnings}}<li>{{.}}</li>{{end}}</ul>
{{end}}
{{if .Bank.IBAN}}
<section>
  <h3>Payment Details</h3>
  {{with .Bank.Name}}<p><strong>Bank:</strong> {{.}}</p>{{end}}
  <p><strong>IBAN:</strong> {{.Bank.IBAN}}</p>
  {{with .Bank.BIC}}<p><strong>BIC:</strong> {{.}}</p>{{end}}
</section>
{{end}}
<footer>
  <p>Thank you for your business.</p>
  {{with .Company.Email}}<p>For any questions regarding this invoice, please contact {{.}}</p>{{end}}
</footer>
</body>
</html>
`
