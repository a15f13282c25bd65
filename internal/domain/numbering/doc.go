// Package numbering contains the Invoice Numbering bounded context.
// It owns the rules for the human-readable purchase invoice codes issued to
// ProcureUAT and ERPNext, of the form PREFIX/FY/NNNN (e.g. AGO2O/25-26/0013).
//
// Key concepts:
//   - FiscalYear: the April-March Indian financial year, rendered as "YY-YY"
//   - CounterKey: the (prefix, financial year) pair owning one sequence
//   - Code: a formatted invoice code and its parsed parts
//   - CounterRepository: port for the persisted counter with an atomic increment
//   - HistorySource: port for previously issued codes used to seed a new counter
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (SQL, ERPNext) are in the infrastructure layer
package numbering
