package erpnext

import (
	"context"
	"fmt"
	"strings"

	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/domain/numbering"
)

const historyPageSize = 500

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// HistorySource reads codes already written to Purchase Invoices so a new
// counter never reissues them.
type HistorySource struct {
	gateway   integration.PurchaseInvoiceGateway
	codeField string
	pageSize  int
}

// NewHistorySource creates a history source over codeField
func NewHistorySource(gateway integration.PurchaseInvoiceGateway, codeField string) *HistorySource {
	return &HistorySource{gateway: gateway, codeField: codeField, pageSize: historyPageSize}
}

// Ensure HistorySource implements numbering.HistorySource
var _ numbering.HistorySource = (*HistorySource)(nil)

// Name identifies the source in logs
func (h *HistorySource) Name() string {
	return "erpnext:" + purchaseInvoiceDoctype + "." + h.codeField
}

// MaxSequence scans every document whose code belongs to key
func (h *HistorySource) MaxSequence(ctx context.Context, key numbering.CounterKey) (int64, error) {
	pattern := likeEscaper.Replace(key.CodePrefix()) + "%"

	var maxSeq int64
	for offset := 0; ; offset += h.pageSize {
		docs, err := h.gateway.ListPurchaseInvoices(ctx, integration.ListQuery{
			CodeField: h.codeField,
			CodeLike:  pattern,
			Fields:    []string{"name", h.codeField},
			Limit:     h.pageSize,
			Offset:    offset,
		})
		if err != nil {
			return 0, fmt.Errorf("scan %s: %w", h.Name(), err)
		}
		for i := range docs {
			if n, ok := numbering.ParseSequence(key, docs[i].CustomString(h.codeField)); ok && n > maxSeq {
				maxSeq = n
			}
		}
		if len(docs) < h.pageSize {
			return maxSeq, nil
		}
	}
}
