package integration

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o2o/erpsync/internal/domain/invoice"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	m, err := NewMapper(MapperConfig{
		Mappings: DefaultFieldMappings("custom_invoice_code"),
		TaxAccounts: TaxAccounts{
			CGST: "Input Tax CGST - AGO",
			SGST: "Input Tax SGST - AGO",
			IGST: "Input Tax IGST - AGO",
		},
		ExternalIDField: "custom_external_id",
		DefaultItemCode: "PURCHASE-SERVICE",
	})
	require.NoError(t, err)
	return m
}

func samplePI() *invoice.PurchaseInvoice {
	pi := &invoice.PurchaseInvoice{
		Name:        "ACC-PINV-2025-00042",
		Supplier:    "V-001",
		PostingDate: "2025-10-18",
		BillNo:      " BILL-77 ",
		NetTotal:    d("1000"),
		GrandTotal:  d("1180"),
		Status:      invoice.ERPStatusUnpaid,
		DocStatus:   invoice.DocStatusSubmitted,
		Taxes: []invoice.TaxRow{
			{AccountHead: "Input Tax CGST - AGO", TaxAmount: d("90")},
			{AccountHead: "Input Tax SGST - AGO", TaxAmount: d("90")},
		},
	}
	pi.SetCustom("custom_invoice_code", "AGO2O/25-26/0013")
	pi.SetCustom("custom_order_code", "PO-9")
	return pi
}

func TestMapper_ToExternal(t *testing.T) {
	m := newTestMapper(t)

	ext, err := m.ToExternal(samplePI())
	require.NoError(t, err)

	assert.Equal(t, "ACC-PINV-2025-00042", ext.ERPReference)
	assert.Equal(t, "AGO2O/25-26/0013", ext.InvoiceNumber)
	assert.Equal(t, "PO-9", ext.OrderCode)
	assert.Equal(t, "V-001", ext.VendorCode)
	assert.Equal(t, "BILL-77", ext.BillReference)
	assert.Equal(t, time.Date(2025, 10, 18, 0, 0, 0, 0, time.UTC), ext.InvoiceDate)
	assert.True(t, d("1000").Equal(ext.SubTotal))
	assert.True(t, d("1180").Equal(ext.TotalAmount))
	assert.True(t, d("90").Equal(ext.CGST))
	assert.True(t, d("90").Equal(ext.SGST))
	assert.True(t, ext.IGST.IsZero())
	assert.Equal(t, invoice.StatusApproved, ext.Status)
	assert.NoError(t, ext.Validate())
}

func TestMapper_ToExternal_BadDate(t *testing.T) {
	m := newTestMapper(t)
	pi := samplePI()
	pi.PostingDate = "18-10-2025"

	_, err := m.ToExternal(pi)
	assert.Error(t, err)
}

func TestMapper_ToERP(t *testing.T) {
	m := newTestMapper(t)
	ext := &invoice.ExternalInvoice{
		ID:            7,
		InvoiceNumber: "AGO2O/25-26/0014",
		VendorCode:    "V-002",
		InvoiceDate:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		SubTotal:      d("500"),
		IGST:          d("90"),
		TotalAmount:   d("590"),
		Status:        invoice.StatusPaid,
		ERPReference:  "ignored-on-pull",
	}

	pi, err := m.ToERP(ext)
	require.NoError(t, err)

	assert.Empty(t, pi.Name, "erp_reference only flows outward")
	assert.Empty(t, pi.Status, "status only flows outward")
	assert.Equal(t, "V-002", pi.Supplier)
	assert.Equal(t, "2025-04-01", pi.PostingDate)
	assert.Equal(t, "AGO2O/25-26/0014", pi.CustomString("custom_invoice_code"))
	assert.Equal(t, "7", pi.CustomString("custom_external_id"))
	require.Len(t, pi.Taxes, 1)
	assert.Equal(t, "Input Tax IGST - AGO", pi.Taxes[0].AccountHead)
	assert.True(t, d("90").Equal(pi.TotalTaxes))
	require.Len(t, pi.Items, 1)
	assert.Equal(t, "PURCHASE-SERVICE", pi.Items[0].ItemCode)
	assert.True(t, d("500").Equal(pi.Items[0].Rate))
}

func TestMapper_ToERP_RecomputesMissingSplit(t *testing.T) {
	m := newTestMapper(t)
	ext := &invoice.ExternalInvoice{
		VendorCode:  "V-002",
		InvoiceDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		SubTotal:    d("1000"),
		TotalAmount: d("1180.01"),
	}

	pi, err := m.ToERP(ext)
	require.NoError(t, err)

	b := pi.Breakdown()
	assert.True(t, d("90.01").Equal(b.CGST), b.CGST.String())
	assert.True(t, d("90").Equal(b.SGST), b.SGST.String())
	assert.NoError(t, b.Validate(ext.SubTotal, ext.TotalAmount))
}

func TestMapper_RoundTrip(t *testing.T) {
	m := newTestMapper(t)
	pi := samplePI()

	ext, err := m.ToExternal(pi)
	require.NoError(t, err)

	changes, err := m.ERPChanges(pi, ext)
	require.NoError(t, err)
	assert.Empty(t, changes, "a freshly pushed row produces no pull changes")
}

func TestMapper_ERPChanges(t *testing.T) {
	m := newTestMapper(t)
	pi := samplePI()

	ext, err := m.ToExternal(pi)
	require.NoError(t, err)
	ext.BillReference = "BILL-78"
	ext.SubTotal = d("2000")
	ext.CGST = d("180")
	ext.SGST = d("180")
	ext.TotalAmount = d("2360")

	changes, err := m.ERPChanges(pi, ext)
	require.NoError(t, err)

	assert.Equal(t, "BILL-78", changes["bill_no"])
	assert.Equal(t, "2000.00", changes["net_total"])
	assert.Equal(t, "2360.00", changes["grand_total"])
	assert.Contains(t, changes, "taxes")
	assert.Contains(t, changes, "items")
	assert.NotContains(t, changes, "supplier")
	assert.NotContains(t, changes, "posting_date")
}

func TestNewMapper_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mapping FieldMapping
	}{
		{"unknown external column", FieldMapping{ERPField: "supplier", ExternalField: "vendor_name"}},
		{"unknown erp field", FieldMapping{ERPField: "supplier_name", ExternalField: "vendor_code"}},
		{"kind mismatch", FieldMapping{ERPField: "net_total", ExternalField: "vendor_code", Kind: KindString}},
		{"custom status", FieldMapping{ERPField: "custom_state", ExternalField: "status"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMapper(MapperConfig{Mappings: []FieldMapping{tt.mapping}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnknownField))
		})
	}

	m, err := NewMapper(MapperConfig{Mappings: []FieldMapping{
		{ERPField: "custom_vendor_ref", ExternalField: "vendor_code"},
	}})
	require.NoError(t, err)
	assert.Equal(t, KindString, m.Mappings()[0].Kind)
	assert.Equal(t, MapBoth, m.Mappings()[0].Direction)

	field, ok := m.ERPFieldFor("vendor_code")
	assert.True(t, ok)
	assert.Equal(t, "custom_vendor_ref", field)
}

func TestSyncResult_Record(t *testing.T) {
	var r SyncResult
	r.Record(RecordSucceeded)
	r.Record(RecordFailed)
	r.Record(RecordSkipped)
	r.Record(RecordSucceeded)

	assert.Equal(t, 4, r.Processed)
	assert.Equal(t, 2, r.Succeeded)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Skipped)
}

func TestSyncRecord_Transitions(t *testing.T) {
	now := time.Date(2025, 10, 18, 10, 0, 0, 0, time.UTC)
	rec := NewSyncRecord("job-1", DirectionPush, "ACC-PINV-1", now)
	assert.Equal(t, now, rec.SyncedAt)

	rec.Fail(errors.New("boom"))
	assert.Equal(t, RecordFailed, rec.Status)
	assert.Equal(t, "boom", rec.ErrorMessage)

	rec.Succeed("12", "AGO2O/25-26/0001")
	assert.Equal(t, RecordSucceeded, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
	assert.Equal(t, "12", rec.TargetKey)

	assert.True(t, DirectionPull.IsValid())
	assert.False(t, Direction("sideways").IsValid())
}
