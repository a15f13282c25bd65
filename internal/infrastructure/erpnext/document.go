package erpnext

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/domain/invoice"
)

const customFieldPrefix = "custom_"

// decodeDocument parses a Purchase Invoice and collects its custom_* fields
func decodeDocument(raw json.RawMessage) (*invoice.PurchaseInvoice, error) {
	var pi invoice.PurchaseInvoice
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: purchase invoice: %v", integration.ErrGatewayInvalidResponse, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: purchase invoice: %v", integration.ErrGatewayInvalidResponse, err)
	}
	for key, value := range fields {
		if !strings.HasPrefix(key, customFieldPrefix) {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(value))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", integration.ErrGatewayInvalidResponse, key, err)
		}
		if v == nil {
			continue
		}
		pi.SetCustom(key, v)
	}
	return &pi, nil
}

// encodeDocument renders a Purchase Invoice with its custom fields inlined
func encodeDocument(pi *invoice.PurchaseInvoice) ([]byte, error) {
	base, err := json.Marshal(pi)
	if err != nil {
		return nil, fmt.Errorf("erpnext: encode purchase invoice: %w", err)
	}
	if len(pi.Custom) == 0 {
		return base, nil
	}

	doc := make(map[string]any)
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, fmt.Errorf("erpnext: encode purchase invoice: %w", err)
	}
	for key, value := range pi.Custom {
		if _, clash := doc[key]; clash {
			continue
		}
		doc[key] = value
	}
	return json.Marshal(doc)
}
