// Package integration contains the Purchase Invoice sync bounded context.
// It defines how records move between ERPNext and the ProcureUAT database.
//
// Key concepts:
//   - PurchaseInvoiceGateway: Port interface for the ERPNext REST API
//   - FieldMapping: One configuration table from which both directions are derived
//   - Cursor: Per-direction high-water mark of processed modification times
//   - SyncRecord: Outcome of synchronizing one document
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
