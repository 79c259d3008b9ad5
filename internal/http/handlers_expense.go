package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"billfold/internal/core"
)

type expenseRequest struct {
	Item     string          `json:"item"`
	Amount   json.RawMessage `json:"amount"`
	Date     string          `json:"expense_date"`
	DateAlt  string          `json:"date"` // accepted alias
	Category string          `json:"category"`
}

type expenseResponse struct {
	ID          int64  `json:"id"`
	Item        string `json:"item"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
	Date        string `json:"expense_date"`
	Category    string `json:"category"`
	CreatedAt   string `json:"created_at"`
}

func toExpenseResponse(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:          e.ID,
		Item:        e.Item,
		Amount:      core.FormatCents(e.Amount.Cents),
		AmountCents: e.Amount.Cents,
		Date:        e.Date.ISO(),
		Category:    e.Category,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

// parseExpenseRequest validates the request body into a core.Expense.
// The amount is accepted as either a JSON string or number.
func parseExpenseRequest(r *http.Request) (core.Expense, string) {
	var req expenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return core.Expense{}, "invalid JSON body"
	}

	item := sanitizeInput(req.Item)
	if item == "" {
		return core.Expense{}, "item is required"
	}

	amountText := strings.Trim(strings.TrimSpace(string(req.Amount)), `"`)
	if amountText == "" || amountText == "null" {
		return core.Expense{}, "amount is required"
	}
	cents, err := core.ParseDecimalToCents(amountText)
	if err != nil {
		return core.Expense{}, "invalid amount: " + err.Error()
	}

	dateText := strings.TrimSpace(req.Date)
	if dateText == "" {
		dateText = strings.TrimSpace(req.DateAlt)
	}
	date, err := core.ParseDate(dateText)
	if err != nil {
		return core.Expense{}, "invalid date, expected YYYY-MM-DD"
	}

	category := sanitizeInput(req.Category)
	if category == "" {
		return core.Expense{}, "category is required"
	}

	return core.Expense{
		Item:     item,
		Amount:   core.Money{Cents: cents},
		Date:     date,
		Category: category,
	}, ""
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}

	expense, problem := parseExpenseRequest(r)
	if problem != "" {
		writeError(w, http.StatusUnprocessableEntity, problem)
		return
	}
	expense.UserID = sess.UserID

	id, err := s.repo.CreateExpense(r.Context(), expense)
	if err != nil {
		slog.ErrorContext(r.Context(), "Create expense failed", "error", err, "user_id", sess.UserID)
		writeError(w, http.StatusInternalServerError, "could not create expense")
		return
	}

	s.publishSync(r, id, 1)

	created, err := s.repo.GetExpense(r.Context(), sess.UserID, id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Read back created expense failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "could not read expense")
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseResponse(created))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}

	expenses, err := s.repo.ListExpenses(r.Context(), sess.UserID)
	if err != nil {
		slog.ErrorContext(r.Context(), "List expenses failed", "error", err, "user_id", sess.UserID)
		writeError(w, http.StatusInternalServerError, "could not list expenses")
		return
	}

	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	expense, err := s.repo.GetExpense(r.Context(), sess.UserID, id)
	if err != nil {
		if errors.Is(err, core.ErrExpenseNotFound) {
			writeError(w, http.StatusNotFound, "expense not found")
			return
		}
		slog.ErrorContext(r.Context(), "Get expense failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "could not read expense")
		return
	}
	writeJSON(w, http.StatusOK, toExpenseResponse(expense))
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	expense, problem := parseExpenseRequest(r)
	if problem != "" {
		writeError(w, http.StatusUnprocessableEntity, problem)
		return
	}
	expense.ID = id
	expense.UserID = sess.UserID

	if err := s.repo.UpdateExpense(r.Context(), expense); err != nil {
		if errors.Is(err, core.ErrExpenseNotFound) {
			writeError(w, http.StatusNotFound, "expense not found")
			return
		}
		slog.ErrorContext(r.Context(), "Update expense failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "could not update expense")
		return
	}

	s.publishSync(r, id, 2)

	updated, err := s.repo.GetExpense(r.Context(), sess.UserID, id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Read back updated expense failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "could not read expense")
		return
	}
	writeJSON(w, http.StatusOK, toExpenseResponse(updated))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.repo.DeleteExpense(r.Context(), sess.UserID, id); err != nil {
		if errors.Is(err, core.ErrExpenseNotFound) {
			writeError(w, http.StatusNotFound, "expense not found")
			return
		}
		slog.ErrorContext(r.Context(), "Delete expense failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "could not delete expense")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "expense deleted"})
}

func (s *Server) handleMonthSummary(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}

	now := time.Now()
	year, month := now.Year(), int(now.Month())
	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			year = y
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			month = m
		}
	}
	if month < 1 || month > 12 {
		writeError(w, http.StatusUnprocessableEntity, "month must be between 1 and 12")
		return
	}

	summary, err := s.repo.MonthSummary(r.Context(), sess.UserID, year, month)
	if err != nil {
		slog.ErrorContext(r.Context(), "Month summary failed", "error", err, "user_id", sess.UserID)
		writeError(w, http.StatusInternalServerError, "could not compute summary")
		return
	}

	type categoryAmount struct {
		Category    string `json:"category"`
		Amount      string `json:"amount"`
		AmountCents int64  `json:"amount_cents"`
	}
	byCategory := make([]categoryAmount, 0, len(summary.ByCategory))
	for _, ca := range summary.ByCategory {
		byCategory = append(byCategory, categoryAmount{
			Category:    ca.Name,
			Amount:      core.FormatCents(ca.Amount.Cents),
			AmountCents: ca.Amount.Cents,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"year":        summary.Year,
		"month":       summary.Month,
		"total":       core.FormatCents(summary.Total.Cents),
		"total_cents": summary.Total.Cents,
		"by_category": byCategory,
	})
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid expense id")
		return 0, false
	}
	return id, true
}

// publishSync is best effort; the worker's pending sweep covers lost
// messages.
func (s *Server) publishSync(r *http.Request, id, version int64) {
	if s.sync == nil {
		return
	}
	if err := s.sync.PublishExpenseSync(r.Context(), id, version); err != nil {
		slog.WarnContext(r.Context(), "Failed to publish sync message", "error", err, "id", id)
	}
}
