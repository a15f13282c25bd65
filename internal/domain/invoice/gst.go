package invoice

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/o2o/erpsync/internal/domain/shared"
)

// AmountPlaces is the number of decimal places amounts are rounded to
const AmountPlaces = 2

var (
	hundred   = decimal.NewFromInt(100)
	two       = decimal.NewFromInt(2)
	tolerance = decimal.New(1, -AmountPlaces)
)

// TaxKind classifies a tax row by its account head
type TaxKind string

const (
	TaxCGST  TaxKind = "CGST"
	TaxSGST  TaxKind = "SGST"
	TaxIGST  TaxKind = "IGST"
	TaxOther TaxKind = "OTHER"
)

// TaxRow is one row of the ERPNext "taxes" child table
type TaxRow struct {
	ChargeType  string          `json:"charge_type,omitempty"`
	AccountHead string          `json:"account_head"`
	Description string          `json:"description,omitempty"`
	Rate        decimal.Decimal `json:"rate"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
}

// Kind classifies the row. UTGST counts as SGST.
func (r TaxRow) Kind() TaxKind {
	return ClassifyAccountHead(r.AccountHead)
}

// ClassifyAccountHead returns the GST component an account head books to
func ClassifyAccountHead(head string) TaxKind {
	h := strings.ToUpper(head)
	switch {
	case strings.Contains(h, "CGST"):
		return TaxCGST
	case strings.Contains(h, "SGST"), strings.Contains(h, "UTGST"):
		return TaxSGST
	case strings.Contains(h, "IGST"):
		return TaxIGST
	default:
		return TaxOther
	}
}

// Breakdown is the GST split of an invoice
type Breakdown struct {
	CGST  decimal.Decimal
	SGST  decimal.Decimal
	IGST  decimal.Decimal
	Other decimal.Decimal
}

// Total returns the sum of all components
func (b Breakdown) Total() decimal.Decimal {
	return b.CGST.Add(b.SGST).Add(b.IGST).Add(b.Other)
}

// IsZero reports whether no tax was booked
func (b Breakdown) IsZero() bool {
	return b.Total().IsZero()
}

// InterState reports whether the breakdown is an IGST one
func (b Breakdown) InterState() bool {
	return !b.IGST.IsZero()
}

// Round rounds every component half-up to AmountPlaces
func (b Breakdown) Round() Breakdown {
	return Breakdown{
		CGST:  RoundAmount(b.CGST),
		SGST:  RoundAmount(b.SGST),
		IGST:  RoundAmount(b.IGST),
		Other: RoundAmount(b.Other),
	}
}

// RoundAmount rounds half away from zero to two places
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountPlaces)
}

// ComputeGST computes the tax on a taxable value at ratePercent.
// Inter-state supplies carry IGST; intra-state supplies split the rate equally
// between CGST and SGST. Each component is rounded on its own.
func ComputeGST(taxable, ratePercent decimal.Decimal, interState bool) (Breakdown, error) {
	if taxable.IsNegative() {
		return Breakdown{}, fmt.Errorf("%w: taxable value cannot be negative", shared.ErrInvalidInput)
	}
	if ratePercent.IsNegative() || ratePercent.GreaterThan(hundred) {
		return Breakdown{}, fmt.Errorf("%w: GST rate must be between 0 and 100, got %s", shared.ErrInvalidInput, ratePercent)
	}

	if interState {
		return Breakdown{IGST: RoundAmount(taxable.Mul(ratePercent).Div(hundred))}, nil
	}
	half := RoundAmount(taxable.Mul(ratePercent).Div(hundred).Div(two))
	return Breakdown{CGST: half, SGST: half}, nil
}

// SplitTaxAmount divides an already known tax amount into components.
// For intra-state supplies the odd paisa goes to CGST so the parts sum to amount.
func SplitTaxAmount(amount decimal.Decimal, interState bool) Breakdown {
	amount = RoundAmount(amount)
	if interState {
		return Breakdown{IGST: amount}
	}
	sgst := amount.Div(two).RoundFloor(AmountPlaces)
	return Breakdown{CGST: amount.Sub(sgst), SGST: sgst}
}

// SplitTaxes sums ERPNext tax rows into a breakdown
func SplitTaxes(rows []TaxRow) Breakdown {
	var b Breakdown
	for _, r := range rows {
		switch r.Kind() {
		case TaxCGST:
			b.CGST = b.CGST.Add(r.TaxAmount)
		case TaxSGST:
			b.SGST = b.SGST.Add(r.TaxAmount)
		case TaxIGST:
			b.IGST = b.IGST.Add(r.TaxAmount)
		default:
			b.Other = b.Other.Add(r.TaxAmount)
		}
	}
	return b.Round()
}

// Validate checks that subTotal plus taxes equals total within one paisa
func (b Breakdown) Validate(subTotal, total decimal.Decimal) error {
	if b.CGST.Sub(b.SGST).Abs().GreaterThan(tolerance) {
		return fmt.Errorf("%w: CGST %s and SGST %s differ", shared.ErrInvalidInput, b.CGST, b.SGST)
	}
	if !b.IGST.IsZero() && (!b.CGST.IsZero() || !b.SGST.IsZero()) {
		return fmt.Errorf("%w: IGST cannot be combined with CGST/SGST", shared.ErrInvalidInput)
	}
	diff := subTotal.Add(b.Total()).Sub(total).Abs()
	if diff.GreaterThan(tolerance) {
		return fmt.Errorf("%w: sub total %s plus tax %s does not equal total %s",
			shared.ErrInvalidInput, subTotal, b.Total(), total)
	}
	return nil
}
