package ocr

import (
	"encoding/json"
	"strconv"
	"strings"
)

// The engine's callback payload is loosely keyed: field names vary in
// casing, aliases and trailing whitespace between workflow revisions,
// and the result is sometimes nested one level down. Normalizing that
// is this side's responsibility, not a protocol guarantee.

var (
	tokenKeys  = []string{"token", "correlation_token", "correlationtoken", "correlation_id", "correlationid", "token_id", "tokenid"}
	itemKeys   = []string{"item", "description", "merchant"}
	amountKeys = []string{"amount", "total", "price"}
	dateKeys   = []string{"date", "expense_date", "expensedate"}
	nestedKeys = []string{"data", "result", "body"}
)

// parseCallback extracts the correlation token and result fields from a
// raw callback body. It returns ErrBadCallback when the body is not a
// JSON object, carries no token, or carries no result field at all.
func parseCallback(body []byte) (string, ReceiptFields, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", ReceiptFields{}, ErrBadCallback
	}

	flat := normalizeKeys(raw)
	for _, k := range nestedKeys {
		if nested, ok := flat[k].(map[string]any); ok {
			for nk, nv := range normalizeKeys(nested) {
				if _, exists := flat[nk]; !exists {
					flat[nk] = nv
				}
			}
		}
	}

	token := firstString(flat, tokenKeys)
	if token == "" {
		return "", ReceiptFields{}, ErrBadCallback
	}

	fields := ReceiptFields{
		Item:   firstString(flat, itemKeys),
		Amount: firstString(flat, amountKeys),
		Date:   firstString(flat, dateKeys),
	}
	if fields.IsEmpty() {
		return "", ReceiptFields{}, ErrBadCallback
	}
	return token, fields, nil
}

// normalizeKeys lowercases and trims every key of m.
func normalizeKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// firstString returns the first non-empty value among keys, converting
// JSON numbers to their plain decimal form.
func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case json.Number:
			return s.String()
		}
	}
	return ""
}
