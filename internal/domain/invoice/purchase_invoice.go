package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/o2o/erpsync/internal/domain/shared"
)

// Layouts used by ERPNext for dates and timestamps
const (
	DateLayout     = "2006-01-02"
	ModifiedLayout = "2006-01-02 15:04:05.999999"
)

// PurchaseInvoice is an ERPNext "Purchase Invoice" document.
// Site specific custom_* fields are kept in Custom.
type PurchaseInvoice struct {
	Name        string          `json:"name,omitempty"`
	Supplier    string          `json:"supplier"`
	PostingDate string          `json:"posting_date"`
	BillNo      string          `json:"bill_no,omitempty"`
	BillDate    string          `json:"bill_date,omitempty"`
	NetTotal    decimal.Decimal `json:"net_total"`
	TotalTaxes  decimal.Decimal `json:"total_taxes_and_charges"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
	Status      ERPStatus       `json:"status,omitempty"`
	DocStatus   int             `json:"docstatus"`
	Modified    string          `json:"modified,omitempty"`
	Items       []ItemRow       `json:"items,omitempty"`
	Taxes       []TaxRow        `json:"taxes,omitempty"`

	Custom map[string]any `json:"-"`
}

// ItemRow is one row of the ERPNext "items" child table
type ItemRow struct {
	ItemCode string          `json:"item_code"`
	ItemName string          `json:"item_name,omitempty"`
	Qty      decimal.Decimal `json:"qty"`
	Rate     decimal.Decimal `json:"rate"`
	Amount   decimal.Decimal `json:"amount,omitempty"`
}

// CustomString returns a custom field as a string, or "" when absent
func (p *PurchaseInvoice) CustomString(field string) string {
	if p.Custom == nil {
		return ""
	}
	switch v := p.Custom[field].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// SetCustom sets a custom field
func (p *PurchaseInvoice) SetCustom(field string, value any) {
	if p.Custom == nil {
		p.Custom = make(map[string]any)
	}
	p.Custom[field] = value
}

// IsSubmitted reports whether the document is submitted (docstatus 1)
func (p *PurchaseInvoice) IsSubmitted() bool {
	return p.DocStatus == DocStatusSubmitted
}

// PostingTime parses PostingDate in loc
func (p *PurchaseInvoice) PostingTime(loc *time.Location) (time.Time, error) {
	return ParseDate(p.PostingDate, loc)
}

// ModifiedAt parses the ERPNext "modified" timestamp in loc
func (p *PurchaseInvoice) ModifiedAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(ModifiedLayout, strings.TrimSpace(p.Modified), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: modified %q: %v", shared.ErrInvalidInput, p.Modified, err)
	}
	return t, nil
}

// Breakdown sums the taxes child table
func (p *PurchaseInvoice) Breakdown() Breakdown {
	return SplitTaxes(p.Taxes)
}

// ParseDate parses a YYYY-MM-DD date in loc
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", shared.ErrInvalidInput, s, err)
	}
	return t, nil
}

// FormatModified renders t the way ERPNext filters expect
func FormatModified(t time.Time) string {
	return t.Format(ModifiedLayout)
}

// ExternalInvoice is a row of the ProcureUAT po_invoices table
type ExternalInvoice struct {
	ID            int64
	InvoiceNumber string
	OrderCode     string
	VendorCode    string
	InvoiceDate   time.Time
	BillReference string
	SubTotal      decimal.Decimal
	CGST          decimal.Decimal
	SGST          decimal.Decimal
	IGST          decimal.Decimal
	TotalAmount   decimal.Decimal
	Status        Status
	ERPReference  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Breakdown returns the GST columns as a breakdown
func (e *ExternalInvoice) Breakdown() Breakdown {
	return Breakdown{CGST: e.CGST, SGST: e.SGST, IGST: e.IGST}
}

// SetBreakdown writes the GST columns. Non-GST taxes have no column and are dropped.
func (e *ExternalInvoice) SetBreakdown(b Breakdown) {
	b = b.Round()
	e.CGST, e.SGST, e.IGST = b.CGST, b.SGST, b.IGST
}

// Validate checks the row is complete enough to be synchronized
func (e *ExternalInvoice) Validate() error {
	if strings.TrimSpace(e.VendorCode) == "" {
		return fmt.Errorf("%w: vendor_code is required", shared.ErrInvalidInput)
	}
	if e.InvoiceDate.IsZero() {
		return fmt.Errorf("%w: invoice_date is required", shared.ErrInvalidInput)
	}
	if e.SubTotal.IsNegative() || e.TotalAmount.IsNegative() {
		return fmt.Errorf("%w: amounts cannot be negative", shared.ErrInvalidInput)
	}
	return e.Breakdown().Validate(e.SubTotal, e.TotalAmount)
}

// SameContent reports whether two rows carry the same synchronized values.
// Identity and bookkeeping columns are ignored.
func (e *ExternalInvoice) SameContent(o *ExternalInvoice) bool {
	return e.InvoiceNumber == o.InvoiceNumber &&
		e.OrderCode == o.OrderCode &&
		e.VendorCode == o.VendorCode &&
		e.InvoiceDate.Format(DateLayout) == o.InvoiceDate.Format(DateLayout) &&
		e.BillReference == o.BillReference &&
		e.SubTotal.Equal(o.SubTotal) &&
		e.CGST.Equal(o.CGST) &&
		e.SGST.Equal(o.SGST) &&
		e.IGST.Equal(o.IGST) &&
		e.TotalAmount.Equal(o.TotalAmount) &&
		e.Status == o.Status &&
		e.ERPReference == o.ERPReference
}

// ExternalInvoiceRepository persists po_invoices rows
type ExternalInvoiceRepository interface {
	// FindByERPReference returns shared.ErrNotFound when no row references the document
	FindByERPReference(ctx context.Context, ref string) (*ExternalInvoice, error)
	// Upsert inserts the row or updates the row with the same ERPReference.
	// It reports false when an existing row already held identical content.
	Upsert(ctx context.Context, inv *ExternalInvoice) (bool, error)
	// ListUpdatedSince returns rows with updated_at after since, oldest first
	ListUpdatedSince(ctx context.Context, since time.Time, limit, offset int) ([]ExternalInvoice, error)
	// SetERPReference records the ERPNext docname without touching updated_at
	SetERPReference(ctx context.Context, id int64, ref string) error
	// SetInvoiceNumber records an allocated code without touching updated_at
	SetInvoiceNumber(ctx context.Context, id int64, code string) error
}
