package amqp

import (
	"encoding/json"
	"time"

	"billfold/internal/ocr"
)

// ExpenseSyncMessage tells the sync worker that an expense needs to be
// pushed to Google Sheets. It carries only the ID and version; the
// worker fetches the current row from the database so stale messages
// never overwrite newer data.
type ExpenseSyncMessage struct {
	ID        int64     `json:"id"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExpenseSyncMessage(id, version int64) *ExpenseSyncMessage {
	return &ExpenseSyncMessage{
		ID:        id,
		Version:   version,
		Timestamp: time.Now(),
	}
}

func (m *ExpenseSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ExpenseSyncMessageFromJSON(data []byte) (*ExpenseSyncMessage, error) {
	var msg ExpenseSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ReceiptAuditMessage is the wire form of an OCR correlation audit
// event. Orphaned results are published here so they can be inspected
// later instead of disappearing.
type ReceiptAuditMessage struct {
	Token     string    `json:"token"`
	Owner     string    `json:"owner,omitempty"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReceiptAuditMessage(ev ocr.AuditEvent) *ReceiptAuditMessage {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &ReceiptAuditMessage{
		Token:     ev.Token,
		Owner:     ev.Owner,
		Outcome:   string(ev.Outcome),
		Reason:    ev.Reason,
		Timestamp: ts,
	}
}

func (m *ReceiptAuditMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
