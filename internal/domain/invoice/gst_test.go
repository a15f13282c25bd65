package invoice

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o2o/erpsync/internal/domain/shared"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeGST(t *testing.T) {
	tests := []struct {
		name       string
		taxable    string
		rate       string
		interState bool
		want       Breakdown
	}{
		{"intra-state 18%", "1000", "18", false, Breakdown{CGST: d("90"), SGST: d("90")}},
		{"inter-state 18%", "1000", "18", true, Breakdown{IGST: d("180")}},
		{"intra-state rounds half up", "1", "9", false, Breakdown{CGST: d("0.05"), SGST: d("0.05")}},
		{"inter-state rounds", "333.33", "12", true, Breakdown{IGST: d("40")}},
		{"zero rate", "500", "0", false, Breakdown{CGST: d("0"), SGST: d("0")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeGST(d(tt.taxable), d(tt.rate), tt.interState)
			require.NoError(t, err)
			assert.True(t, tt.want.CGST.Equal(got.CGST), "CGST %s", got.CGST)
			assert.True(t, tt.want.SGST.Equal(got.SGST), "SGST %s", got.SGST)
			assert.True(t, tt.want.IGST.Equal(got.IGST), "IGST %s", got.IGST)
		})
	}
}

func TestComputeGST_InvalidInput(t *testing.T) {
	_, err := ComputeGST(d("-1"), d("18"), false)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	_, err = ComputeGST(d("100"), d("101"), false)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestClassifyAccountHead(t *testing.T) {
	assert.Equal(t, TaxCGST, ClassifyAccountHead("Input Tax CGST - AGO"))
	assert.Equal(t, TaxSGST, ClassifyAccountHead("input tax sgst - AGO"))
	assert.Equal(t, TaxSGST, ClassifyAccountHead("Input Tax UTGST - AGO"))
	assert.Equal(t, TaxIGST, ClassifyAccountHead("Input Tax IGST - AGO"))
	assert.Equal(t, TaxOther, ClassifyAccountHead("Freight and Forwarding Charges - AGO"))
}

func TestSplitTaxes(t *testing.T) {
	rows := []TaxRow{
		{AccountHead: "Input Tax CGST - AGO", TaxAmount: d("45.005")},
		{AccountHead: "Input Tax SGST - AGO", TaxAmount: d("45.005")},
		{AccountHead: "Freight - AGO", TaxAmount: d("10")},
		{AccountHead: "Input Tax CGST - AGO", TaxAmount: d("1")},
	}

	b := SplitTaxes(rows)
	assert.True(t, d("46.01").Equal(b.CGST), b.CGST.String())
	assert.True(t, d("45.01").Equal(b.SGST), b.SGST.String())
	assert.True(t, b.IGST.IsZero())
	assert.True(t, d("10").Equal(b.Other))
	assert.True(t, d("101.02").Equal(b.Total()))
	assert.False(t, b.InterState())
}

func TestSplitTaxAmount(t *testing.T) {
	b := SplitTaxAmount(d("180.01"), false)
	assert.True(t, d("90.01").Equal(b.CGST), b.CGST.String())
	assert.True(t, d("90").Equal(b.SGST), b.SGST.String())
	assert.True(t, d("180.01").Equal(b.Total()))

	b = SplitTaxAmount(d("180.01"), true)
	assert.True(t, d("180.01").Equal(b.IGST))
	assert.True(t, b.InterState())
}

func TestBreakdown_Validate(t *testing.T) {
	t.Run("balanced intra-state", func(t *testing.T) {
		b := Breakdown{CGST: d("90"), SGST: d("90")}
		assert.NoError(t, b.Validate(d("1000"), d("1180")))
	})

	t.Run("within one paisa", func(t *testing.T) {
		b := Breakdown{CGST: d("90.01"), SGST: d("90")}
		assert.NoError(t, b.Validate(d("1000"), d("1180")))
	})

	t.Run("totals do not add up", func(t *testing.T) {
		b := Breakdown{IGST: d("180")}
		err := b.Validate(d("1000"), d("1200"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrInvalidInput))
	})

	t.Run("uneven split", func(t *testing.T) {
		b := Breakdown{CGST: d("100"), SGST: d("80")}
		assert.Error(t, b.Validate(d("1000"), d("1180")))
	})

	t.Run("IGST mixed with CGST", func(t *testing.T) {
		b := Breakdown{CGST: d("45"), SGST: d("45"), IGST: d("90")}
		assert.Error(t, b.Validate(d("1000"), d("1180")))
	})
}
