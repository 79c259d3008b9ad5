package worker

import (
	"context"
	"fmt"
	"log/slog"

	"billfold/internal/amqp"
	"billfold/internal/core"
	"billfold/internal/sheets"
	"billfold/internal/storage"
)

// SyncWorker pushes expenses from SQLite to the export backend. It is
// driven by AMQP sync messages, with a periodic sweep over pending
// rows as a backup in case messages are lost.
type SyncWorker struct {
	storage   *storage.Repository
	sheets    sheets.ExpenseWriter
	batchSize int
}

func NewSyncWorker(storage *storage.Repository, sheets sheets.ExpenseWriter, batchSize int) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &SyncWorker{
		storage:   storage,
		sheets:    sheets,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single expense sync message.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.ExpenseSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"id", msg.ID,
		"version", msg.Version)

	// Always fetch the current row; the message may be stale.
	expense, err := w.storage.GetExpenseByID(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("get expense from storage: %w", err)
	}

	if err := w.syncExpense(ctx, expense.ID, expense); err != nil {
		return fmt.Errorf("sync expense: %w", err)
	}
	return nil
}

// ProcessPendingExpenses syncs expenses that are still marked pending.
// This covers messages lost while the broker or worker was down.
func (w *SyncWorker) ProcessPendingExpenses(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncExpenses(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending expenses: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending expenses", "count", len(pending))

	for _, expense := range pending {
		if err := w.syncExpense(ctx, expense.ID, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to sync expense", "id", expense.ID, "error", err)
			continue
		}
	}
	return nil
}

// StartupSyncCheck drains the pending backlog once at worker startup,
// with a larger batch than the periodic sweep.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncExpenses(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending expenses for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending expenses found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending expenses on startup", "count", len(pending))

	synced := 0
	failed := 0
	for _, expense := range pending {
		if err := w.syncExpense(ctx, expense.ID, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to sync expense during startup",
				"id", expense.ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *SyncWorker) syncExpense(ctx context.Context, id int64, expense core.Expense) error {
	ref, err := w.sheets.Append(ctx, expense)
	if err != nil {
		if markErr := w.storage.MarkSyncError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", id, "error", markErr)
		}
		return fmt.Errorf("append to export backend: %w", err)
	}

	if err := w.storage.MarkSynced(ctx, id); err != nil {
		// The append succeeded, so log and move on.
		slog.ErrorContext(ctx, "Failed to mark as synced", "id", id, "error", err)
	}

	slog.InfoContext(ctx, "Synced expense",
		"id", id,
		"row_ref", ref,
		"item", expense.Item,
		"amount_cents", expense.Amount.Cents)
	return nil
}
