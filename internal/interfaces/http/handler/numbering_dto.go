package handler

import (
	"time"

	"github.com/o2o/erpsync/internal/domain/numbering"
)

// AllocateNumberRequest asks for the next invoice code.
// An empty prefix uses the configured default. financial_year wins over
// date; with neither, the current financial year is used.
type AllocateNumberRequest struct {
	Prefix        string `json:"prefix" binding:"omitempty,max=32" example:"AGO2O"`
	FinancialYear string `json:"financial_year" binding:"omitempty,fiscal_year" example:"25-26"`
	Date          string `json:"date" binding:"omitempty,datetime=2006-01-02" example:"2025-04-01"`
	AllowFallback bool   `json:"allow_fallback" example:"false"`
}

// FiscalYearResponse is the financial year containing a date
type FiscalYearResponse struct {
	Date          string `json:"date" example:"2026-03-31"`
	FinancialYear string `json:"financial_year" example:"25-26"`
	StartsOn      string `json:"starts_on" example:"2025-04-01"`
	EndsOn        string `json:"ends_on" example:"2026-03-31"`
}

// CounterResponse is the persisted state of one counter
type CounterResponse struct {
	Prefix        string    `json:"prefix" example:"AGO2O"`
	FinancialYear string    `json:"financial_year" example:"25-26"`
	LastNumber    int64     `json:"last_number" example:"12"`
	NextCode      string    `json:"next_code" example:"AGO2O/25-26/0013"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toCounterResponse(c numbering.Counter, padWidth int) CounterResponse {
	return CounterResponse{
		Prefix:        c.Key.Prefix,
		FinancialYear: c.Key.FinancialYear.String(),
		LastNumber:    c.LastNumber,
		NextCode:      numbering.Code{Key: c.Key, Number: c.LastNumber + 1}.Format(padWidth),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}
