package memory

import (
	"context"
	"testing"
	"time"

	"billfold/internal/core"
)

func TestStore_Append(t *testing.T) {
	store := New()
	ctx := context.Background()

	e := core.Expense{
		UserID:    1,
		Item:      "groceries",
		Amount:    core.Money{Cents: 4250},
		Date:      core.NewDate(2024, 3, 10),
		Category:  "food",
		CreatedAt: time.Now(),
	}

	ref, err := store.Append(ctx, e)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if ref != "mem:1" {
		t.Errorf("ref = %q, want %q", ref, "mem:1")
	}

	rows := store.Rows()
	if len(rows) != 1 || rows[0].Item != "groceries" {
		t.Errorf("Rows() = %+v, want one groceries row", rows)
	}
}

func TestStore_AppendRejectsInvalid(t *testing.T) {
	store := New()

	_, err := store.Append(context.Background(), core.Expense{})
	if err == nil {
		t.Fatal("Append() should reject an invalid expense")
	}
	if len(store.Rows()) != 0 {
		t.Error("invalid expense should not be stored")
	}
}
