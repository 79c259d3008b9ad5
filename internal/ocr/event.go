package ocr

// Event is a single message pushed to a result subscriber over its
// streaming connection. Type is "connected" on registration and
// "ocr-result" when a matching callback completes.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ReceiptFields is the structured result extracted from a receipt image
// by the external engine. All fields are raw strings: OCR output is
// fuzzy and the client decides what to prefill.
type ReceiptFields struct {
	Item   string `json:"item,omitempty"`
	Amount string `json:"amount,omitempty"`
	Date   string `json:"date,omitempty"`
}

// IsEmpty reports whether no field was extracted at all.
func (f ReceiptFields) IsEmpty() bool {
	return f.Item == "" && f.Amount == "" && f.Date == ""
}
