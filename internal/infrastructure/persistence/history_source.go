package persistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/o2o/erpsync/internal/domain/numbering"
)

// SQLHistorySource seeds counters from codes already stored in a table column,
// for example po_invoices.invoice_number written before the counter existed.
type SQLHistorySource struct {
	db     *gorm.DB
	table  string
	column string
}

// NewSQLHistorySource creates a history source over table.column.
// Both names must already be validated as plain identifiers.
func NewSQLHistorySource(db *gorm.DB, table, column string) *SQLHistorySource {
	return &SQLHistorySource{db: db, table: table, column: column}
}

// Name identifies the source in logs
func (s *SQLHistorySource) Name() string {
	return s.table + "." + s.column
}

// MaxSequence returns the highest numeric suffix among codes of key.
// Codes with a non-numeric suffix are ignored, and a table that does not
// exist yet holds no codes.
func (s *SQLHistorySource) MaxSequence(ctx context.Context, key numbering.CounterKey) (int64, error) {
	col := quoteIdent(s.db, s.column)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIKE ? ESCAPE '!'", col, quoteIdent(s.db, s.table), col)

	rows, err := s.db.WithContext(ctx).Raw(query, key.LikePattern()).Rows()
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, classifyStoreError("read history from "+s.Name(), err)
	}
	defer rows.Close()

	var maxSeq int64
	for rows.Next() {
		var code *string
		if err := rows.Scan(&code); err != nil {
			return 0, classifyStoreError("scan history from "+s.Name(), err)
		}
		if code == nil {
			continue
		}
		if n, ok := numbering.ParseSequence(key, *code); ok && n > maxSeq {
			maxSeq = n
		}
	}
	if err := rows.Err(); err != nil {
		return 0, classifyStoreError("read history from "+s.Name(), err)
	}
	return maxSeq, nil
}
