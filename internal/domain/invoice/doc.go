// Package invoice contains the Purchase Invoice model shared by both ends of the sync:
// the ERPNext document, the ProcureUAT po_invoices row, their status enumerations,
// and GST arithmetic.
package invoice
