// Package models contains GORM persistence models for the ProcureUAT tables.
// Models are kept apart from domain types; each model converts with ToDomain
// and a FromDomain constructor.
//
// Tables:
//   - invoice_counters: one row per (prefix, financial_year)
//   - po_invoices: purchase invoices owned by ProcureUAT
//   - sync_cursors, sync_records: sync bookkeeping
package models
