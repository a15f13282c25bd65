package models

import (
	"time"

	"github.com/o2o/erpsync/internal/domain/numbering"
)

// InvoiceCounterModel is the persistence model for one counter row
type InvoiceCounterModel struct {
	Prefix        string    `gorm:"primaryKey;type:varchar(32)"`
	FinancialYear string    `gorm:"primaryKey;type:char(5)"`
	LastNumber    int64     `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the default table name
func (InvoiceCounterModel) TableName() string {
	return "invoice_counters"
}

// ToDomain converts the model to a domain counter
func (m *InvoiceCounterModel) ToDomain() numbering.Counter {
	return numbering.Counter{
		Key: numbering.CounterKey{
			Prefix:        m.Prefix,
			FinancialYear: numbering.FiscalYear(m.FinancialYear),
		},
		LastNumber: m.LastNumber,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
