package integration

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/o2o/erpsync/internal/domain/invoice"
)

// FieldKind selects the value conversion between the two sides
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindDecimal FieldKind = "decimal"
	KindDate    FieldKind = "date"
	KindStatus  FieldKind = "status"
)

// MappingDirection restricts a mapping to one sync direction
type MappingDirection string

const (
	MapBoth     MappingDirection = "both"
	MapPushOnly MappingDirection = "push"
	MapPullOnly MappingDirection = "pull"
)

// FieldMapping pairs an ERPNext field with a po_invoices column.
// Dates are calendar dates and are always read in UTC.
type FieldMapping struct {
	ERPField      string           `mapstructure:"erp_field"`
	ExternalField string           `mapstructure:"external_field"`
	Kind          FieldKind        `mapstructure:"kind"`
	Direction     MappingDirection `mapstructure:"direction"`
}

func (m FieldMapping) appliesTo(d Direction) bool {
	switch m.Direction {
	case MapPushOnly:
		return d == DirectionPush
	case MapPullOnly:
		return d == DirectionPull
	default:
		return true
	}
}

// DefaultFieldMappings returns the standard Purchase Invoice mapping.
// codeField is the ERPNext custom field holding the allocated invoice code.
func DefaultFieldMappings(codeField string) []FieldMapping {
	return []FieldMapping{
		{ERPField: "name", ExternalField: "erp_reference", Kind: KindString, Direction: MapPushOnly},
		{ERPField: codeField, ExternalField: "invoice_number", Kind: KindString, Direction: MapBoth},
		{ERPField: "custom_order_code", ExternalField: "order_code", Kind: KindString, Direction: MapBoth},
		{ERPField: "supplier", ExternalField: "vendor_code", Kind: KindString, Direction: MapBoth},
		{ERPField: "posting_date", ExternalField: "invoice_date", Kind: KindDate, Direction: MapBoth},
		{ERPField: "bill_no", ExternalField: "bill_reference", Kind: KindString, Direction: MapBoth},
		{ERPField: "net_total", ExternalField: "sub_total", Kind: KindDecimal, Direction: MapBoth},
		{ERPField: "grand_total", ExternalField: "total_amount", Kind: KindDecimal, Direction: MapBoth},
		// ERPNext derives status from docstatus and payments, so it only flows outward
		{ERPField: "status", ExternalField: "status", Kind: KindStatus, Direction: MapPushOnly},
	}
}

// TaxAccounts are the ERPNext account heads used when building tax rows
type TaxAccounts struct {
	CGST string
	SGST string
	IGST string
}

// MapperConfig configures a Mapper
type MapperConfig struct {
	Mappings        []FieldMapping
	TaxAccounts     TaxAccounts
	ExternalIDField string // ERPNext custom field holding po_invoices.id
	DefaultItemCode string // item used for the single line of pulled invoices
}

type erpAccessor struct {
	kind FieldKind
	get  func(p *invoice.PurchaseInvoice) (any, error)
	set  func(p *invoice.PurchaseInvoice, v any)
	wire func(v any) any
}

type externalAccessor struct {
	kind FieldKind
	get  func(e *invoice.ExternalInvoice) any
	set  func(e *invoice.ExternalInvoice, v any)
}

func stringERP(get func(*invoice.PurchaseInvoice) string, set func(*invoice.PurchaseInvoice, string)) erpAccessor {
	return erpAccessor{
		kind: KindString,
		get:  func(p *invoice.PurchaseInvoice) (any, error) { return strings.TrimSpace(get(p)), nil },
		set:  func(p *invoice.PurchaseInvoice, v any) { set(p, v.(string)) },
		wire: func(v any) any { return v },
	}
}

func decimalERP(get func(*invoice.PurchaseInvoice) decimal.Decimal, set func(*invoice.PurchaseInvoice, decimal.Decimal)) erpAccessor {
	return erpAccessor{
		kind: KindDecimal,
		get:  func(p *invoice.PurchaseInvoice) (any, error) { return invoice.RoundAmount(get(p)), nil },
		set:  func(p *invoice.PurchaseInvoice, v any) { set(p, v.(decimal.Decimal)) },
		wire: func(v any) any { return v.(decimal.Decimal).StringFixed(invoice.AmountPlaces) },
	}
}

func dateERP(get func(*invoice.PurchaseInvoice) string, set func(*invoice.PurchaseInvoice, string)) erpAccessor {
	return erpAccessor{
		kind: KindDate,
		get: func(p *invoice.PurchaseInvoice) (any, error) {
			s := get(p)
			if s == "" {
				return time.Time{}, nil
			}
			return invoice.ParseDate(s, time.UTC)
		},
		set:  func(p *invoice.PurchaseInvoice, v any) { set(p, formatDate(v.(time.Time))) },
		wire: func(v any) any { return formatDate(v.(time.Time)) },
	}
}

var erpFields = map[string]erpAccessor{
	"name": stringERP(
		func(p *invoice.PurchaseInvoice) string { return p.Name },
		func(p *invoice.PurchaseInvoice, s string) { p.Name = s }),
	"supplier": stringERP(
		func(p *invoice.PurchaseInvoice) string { return p.Supplier },
		func(p *invoice.PurchaseInvoice, s string) { p.Supplier = s }),
	"bill_no": stringERP(
		func(p *invoice.PurchaseInvoice) string { return p.BillNo },
		func(p *invoice.PurchaseInvoice, s string) { p.BillNo = s }),
	"posting_date": dateERP(
		func(p *invoice.PurchaseInvoice) string { return p.PostingDate },
		func(p *invoice.PurchaseInvoice, s string) { p.PostingDate = s }),
	"bill_date": dateERP(
		func(p *invoice.PurchaseInvoice) string { return p.BillDate },
		func(p *invoice.PurchaseInvoice, s string) { p.BillDate = s }),
	"net_total": decimalERP(
		func(p *invoice.PurchaseInvoice) decimal.Decimal { return p.NetTotal },
		func(p *invoice.PurchaseInvoice, d decimal.Decimal) { p.NetTotal = d }),
	"grand_total": decimalERP(
		func(p *invoice.PurchaseInvoice) decimal.Decimal { return p.GrandTotal },
		func(p *invoice.PurchaseInvoice, d decimal.Decimal) { p.GrandTotal = d }),
	"status": {
		kind: KindStatus,
		get: func(p *invoice.PurchaseInvoice) (any, error) {
			return p.Status.ToExternal(), nil
		},
		set:  func(p *invoice.PurchaseInvoice, v any) { p.Status = v.(invoice.Status).ToERP() },
		wire: func(v any) any { return string(v.(invoice.Status).ToERP()) },
	},
}

var externalFields = map[string]externalAccessor{
	"invoice_number": {KindString,
		func(e *invoice.ExternalInvoice) any { return e.InvoiceNumber },
		func(e *invoice.ExternalInvoice, v any) { e.InvoiceNumber = v.(string) }},
	"order_code": {KindString,
		func(e *invoice.ExternalInvoice) any { return e.OrderCode },
		func(e *invoice.ExternalInvoice, v any) { e.OrderCode = v.(string) }},
	"vendor_code": {KindString,
		func(e *invoice.ExternalInvoice) any { return e.VendorCode },
		func(e *invoice.ExternalInvoice, v any) { e.VendorCode = v.(string) }},
	"bill_reference": {KindString,
		func(e *invoice.ExternalInvoice) any { return e.BillReference },
		func(e *invoice.ExternalInvoice, v any) { e.BillReference = v.(string) }},
	"erp_reference": {KindString,
		func(e *invoice.ExternalInvoice) any { return e.ERPReference },
		func(e *invoice.ExternalInvoice, v any) { e.ERPReference = v.(string) }},
	"invoice_date": {KindDate,
		func(e *invoice.ExternalInvoice) any { return e.InvoiceDate },
		func(e *invoice.ExternalInvoice, v any) { e.InvoiceDate = v.(time.Time) }},
	"sub_total": {KindDecimal,
		func(e *invoice.ExternalInvoice) any { return e.SubTotal },
		func(e *invoice.ExternalInvoice, v any) { e.SubTotal = v.(decimal.Decimal) }},
	"total_amount": {KindDecimal,
		func(e *invoice.ExternalInvoice) any { return e.TotalAmount },
		func(e *invoice.ExternalInvoice, v any) { e.TotalAmount = v.(decimal.Decimal) }},
	"status": {KindStatus,
		func(e *invoice.ExternalInvoice) any { return e.Status },
		func(e *invoice.ExternalInvoice, v any) { e.Status = v.(invoice.Status) }},
}

// customERP reads and writes site specific custom_* fields
func customERP(field string, kind FieldKind) (erpAccessor, error) {
	acc := erpAccessor{kind: kind}
	switch kind {
	case KindString:
		acc.get = func(p *invoice.PurchaseInvoice) (any, error) {
			return strings.TrimSpace(p.CustomString(field)), nil
		}
		acc.set = func(p *invoice.PurchaseInvoice, v any) { p.SetCustom(field, v) }
		acc.wire = func(v any) any { return v }
	case KindDecimal:
		acc.get = func(p *invoice.PurchaseInvoice) (any, error) {
			s := p.CustomString(field)
			if s == "" {
				return decimal.Zero, nil
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", field, err)
			}
			return invoice.RoundAmount(d), nil
		}
		acc.set = func(p *invoice.PurchaseInvoice, v any) {
			p.SetCustom(field, v.(decimal.Decimal).StringFixed(invoice.AmountPlaces))
		}
		acc.wire = func(v any) any { return v.(decimal.Decimal).StringFixed(invoice.AmountPlaces) }
	case KindDate:
		acc.get = func(p *invoice.PurchaseInvoice) (any, error) {
			s := p.CustomString(field)
			if s == "" {
				return time.Time{}, nil
			}
			return invoice.ParseDate(s, time.UTC)
		}
		acc.set = func(p *invoice.PurchaseInvoice, v any) { p.SetCustom(field, formatDate(v.(time.Time))) }
		acc.wire = func(v any) any { return formatDate(v.(time.Time)) }
	default:
		return erpAccessor{}, fmt.Errorf("%w: custom field %s cannot have kind %s", ErrUnknownField, field, kind)
	}
	return acc, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(invoice.DateLayout)
}

type boundMapping struct {
	FieldMapping
	erp erpAccessor
	ext externalAccessor
}

// Mapper converts documents between the two sides using one mapping table
type Mapper struct {
	mappings []boundMapping
	cfg      MapperConfig
}

// NewMapper validates the table and binds each entry to its accessors
func NewMapper(cfg MapperConfig) (*Mapper, error) {
	m := &Mapper{cfg: cfg}
	for _, fm := range cfg.Mappings {
		if fm.Direction == "" {
			fm.Direction = MapBoth
		}
		ext, ok := externalFields[fm.ExternalField]
		if !ok {
			return nil, fmt.Errorf("%w: po_invoices.%s", ErrUnknownField, fm.ExternalField)
		}
		if fm.Kind == "" {
			fm.Kind = ext.kind
		}
		if fm.Kind != ext.kind {
			return nil, fmt.Errorf("%w: po_invoices.%s is %s, mapping says %s", ErrUnknownField, fm.ExternalField, ext.kind, fm.Kind)
		}

		erp, ok := erpFields[fm.ERPField]
		if !ok {
			if !strings.HasPrefix(fm.ERPField, "custom_") {
				return nil, fmt.Errorf("%w: Purchase Invoice.%s", ErrUnknownField, fm.ERPField)
			}
			var err error
			if erp, err = customERP(fm.ERPField, fm.Kind); err != nil {
				return nil, err
			}
		}
		if erp.kind != fm.Kind {
			return nil, fmt.Errorf("%w: Purchase Invoice.%s is %s, mapping says %s", ErrUnknownField, fm.ERPField, erp.kind, fm.Kind)
		}
		m.mappings = append(m.mappings, boundMapping{FieldMapping: fm, erp: erp, ext: ext})
	}
	return m, nil
}

// Mappings returns the bound table
func (m *Mapper) Mappings() []FieldMapping {
	out := make([]FieldMapping, len(m.mappings))
	for i, b := range m.mappings {
		out[i] = b.FieldMapping
	}
	return out
}

// ERPFieldFor returns the ERPNext field mapped to an external column
func (m *Mapper) ERPFieldFor(externalField string) (string, bool) {
	for _, b := range m.mappings {
		if b.ExternalField == externalField {
			return b.ERPField, true
		}
	}
	return "", false
}

// ToExternal maps an ERPNext document to a po_invoices row
func (m *Mapper) ToExternal(pi *invoice.PurchaseInvoice) (*invoice.ExternalInvoice, error) {
	ext := &invoice.ExternalInvoice{Status: invoice.StatusPending}
	for _, b := range m.mappings {
		if !b.appliesTo(DirectionPush) {
			continue
		}
		v, err := b.erp.get(pi)
		if err != nil {
			return nil, fmt.Errorf("map %s -> %s: %w", b.ERPField, b.ExternalField, err)
		}
		b.ext.set(ext, v)
	}
	ext.SetBreakdown(pi.Breakdown())
	return ext, nil
}

// ToERP maps a po_invoices row to a new ERPNext document.
// Rows without a GST split get one derived from total minus sub total.
func (m *Mapper) ToERP(ext *invoice.ExternalInvoice) (*invoice.PurchaseInvoice, error) {
	pi := &invoice.PurchaseInvoice{}
	for _, b := range m.mappings {
		if !b.appliesTo(DirectionPull) {
			continue
		}
		b.erp.set(pi, b.ext.get(ext))
	}
	if m.cfg.ExternalIDField != "" && ext.ID != 0 {
		pi.SetCustom(m.cfg.ExternalIDField, strconv.FormatInt(ext.ID, 10))
	}

	breakdown := ext.Breakdown()
	if breakdown.IsZero() {
		if diff := ext.TotalAmount.Sub(ext.SubTotal); diff.IsPositive() {
			breakdown = invoice.SplitTaxAmount(diff, false)
		}
	}
	pi.Taxes = m.taxRows(breakdown)
	pi.TotalTaxes = breakdown.Total()
	if m.cfg.DefaultItemCode != "" {
		pi.Items = []invoice.ItemRow{{
			ItemCode: m.cfg.DefaultItemCode,
			Qty:      decimal.NewFromInt(1),
			Rate:     ext.SubTotal,
		}}
	}
	return pi, nil
}

func (m *Mapper) taxRows(b invoice.Breakdown) []invoice.TaxRow {
	var rows []invoice.TaxRow
	add := func(head string, amount decimal.Decimal) {
		if amount.IsZero() {
			return
		}
		rows = append(rows, invoice.TaxRow{
			ChargeType:  "Actual",
			AccountHead: head,
			Description: head,
			TaxAmount:   amount,
		})
	}
	add(m.cfg.TaxAccounts.CGST, b.CGST)
	add(m.cfg.TaxAccounts.SGST, b.SGST)
	add(m.cfg.TaxAccounts.IGST, b.IGST)
	return rows
}

// ERPChanges returns the fields of current that differ from the values ext
// would produce, in the form the ERPNext API accepts. An empty map means the
// document is already up to date.
func (m *Mapper) ERPChanges(current *invoice.PurchaseInvoice, ext *invoice.ExternalInvoice) (map[string]any, error) {
	desired, err := m.ToERP(ext)
	if err != nil {
		return nil, err
	}

	changes := make(map[string]any)
	for _, b := range m.mappings {
		if !b.appliesTo(DirectionPull) {
			continue
		}
		have, err := b.erp.get(current)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", b.ERPField, err)
		}
		want, _ := b.erp.get(desired)
		if !equalValues(have, want) {
			changes[b.ERPField] = b.erp.wire(want)
		}
	}

	if !sameBreakdown(current.Breakdown(), desired.Breakdown()) {
		changes["taxes"] = desired.Taxes
	}
	if _, ok := changes["net_total"]; ok && len(desired.Items) > 0 {
		changes["items"] = desired.Items
	}
	return changes, nil
}

func sameBreakdown(a, b invoice.Breakdown) bool {
	return a.CGST.Equal(b.CGST) && a.SGST.Equal(b.SGST) && a.IGST.Equal(b.IGST)
}

func equalValues(a, b any) bool {
	switch av := a.(type) {
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Equal(bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && formatDate(av) == formatDate(bv)
	default:
		return a == b
	}
}
