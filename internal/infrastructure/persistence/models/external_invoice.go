package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/o2o/erpsync/internal/domain/invoice"
)

// ExternalInvoiceModel maps the ProcureUAT po_invoices table.
// invoice_number and erp_reference are NULL until assigned so their unique
// indexes admit many unassigned rows.
type ExternalInvoiceModel struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	InvoiceNumber *string         `gorm:"type:varchar(64);uniqueIndex"`
	OrderCode     string          `gorm:"type:varchar(64)"`
	VendorCode    string          `gorm:"type:varchar(64);not null"`
	InvoiceDate   time.Time       `gorm:"type:date;not null"`
	BillReference string          `gorm:"type:varchar(140)"`
	SubTotal      decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	CGST          decimal.Decimal `gorm:"column:cgst;type:decimal(15,2);not null"`
	SGST          decimal.Decimal `gorm:"column:sgst;type:decimal(15,2);not null"`
	IGST          decimal.Decimal `gorm:"column:igst;type:decimal(15,2);not null"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Status        string          `gorm:"type:varchar(32);not null;default:pending"`
	ERPReference  *string         `gorm:"column:erp_reference;type:varchar(140);uniqueIndex"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null;index"`
}

// TableName returns the default table name
func (ExternalInvoiceModel) TableName() string {
	return "po_invoices"
}

// ToDomain converts the model to a domain invoice
func (m *ExternalInvoiceModel) ToDomain() invoice.ExternalInvoice {
	return invoice.ExternalInvoice{
		ID:            m.ID,
		InvoiceNumber: deref(m.InvoiceNumber),
		OrderCode:     m.OrderCode,
		VendorCode:    m.VendorCode,
		InvoiceDate:   m.InvoiceDate,
		BillReference: m.BillReference,
		SubTotal:      m.SubTotal,
		CGST:          m.CGST,
		SGST:          m.SGST,
		IGST:          m.IGST,
		TotalAmount:   m.TotalAmount,
		Status:        invoice.Status(m.Status),
		ERPReference:  deref(m.ERPReference),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// ExternalInvoiceModelFromDomain converts a domain invoice to a model
func ExternalInvoiceModelFromDomain(e *invoice.ExternalInvoice) *ExternalInvoiceModel {
	return &ExternalInvoiceModel{
		ID:            e.ID,
		InvoiceNumber: nullable(e.InvoiceNumber),
		OrderCode:     e.OrderCode,
		VendorCode:    e.VendorCode,
		InvoiceDate:   e.InvoiceDate,
		BillReference: e.BillReference,
		SubTotal:      e.SubTotal,
		CGST:          e.CGST,
		SGST:          e.SGST,
		IGST:          e.IGST,
		TotalAmount:   e.TotalAmount,
		Status:        string(e.Status),
		ERPReference:  nullable(e.ERPReference),
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
