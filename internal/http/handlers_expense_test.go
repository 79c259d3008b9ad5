package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func doJSON(t *testing.T, env *testEnv, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if cookie != nil {
		req.AddCookie(cookie)
	}
	env.server.Handler.ServeHTTP(rr, req)
	return rr
}

func TestExpenseCRUD(t *testing.T) {
	env := newTestServer(t)
	cookie := signIn(t, env, "alice")

	rr := doJSON(t, env, http.MethodPost, "/api/expenses",
		`{"item":"coffee","amount":"3.50","expense_date":"2024-06-01","category":"food"}`, cookie)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}

	var created expenseResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Item != "coffee" || created.AmountCents != 350 || created.Date != "2024-06-01" {
		t.Errorf("created = %+v", created)
	}
	if created.Amount != "3.50" {
		t.Errorf("amount = %q, want 3.50", created.Amount)
	}

	t.Run("create publishes a sync message", func(t *testing.T) {
		env.sync.mu.Lock()
		defer env.sync.mu.Unlock()
		if len(env.sync.ids) != 1 || env.sync.ids[0] != created.ID {
			t.Errorf("sync ids = %v, want [%d]", env.sync.ids, created.ID)
		}
	})

	t.Run("date alias is accepted", func(t *testing.T) {
		rr := doJSON(t, env, http.MethodPost, "/api/expenses",
			`{"item":"tea","amount":"2.00","date":"2024-06-03","category":"food"}`, cookie)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
		}
		var resp expenseResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Date != "2024-06-03" {
			t.Errorf("date = %q, want 2024-06-03", resp.Date)
		}
	})

	t.Run("numeric amount is accepted", func(t *testing.T) {
		rr := doJSON(t, env, http.MethodPost, "/api/expenses",
			`{"item":"bus","amount":2.40,"expense_date":"2024-06-02","category":"transport"}`, cookie)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
		}
		var resp expenseResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.AmountCents != 240 {
			t.Errorf("amount cents = %d, want 240", resp.AmountCents)
		}
	})

	t.Run("list returns all expenses", func(t *testing.T) {
		rr := doJSON(t, env, http.MethodGet, "/api/expenses", "", cookie)
		if rr.Code != http.StatusOK {
			t.Fatalf("list status = %d", rr.Code)
		}
		var list []expenseResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
			t.Fatal(err)
		}
		if len(list) != 3 {
			t.Errorf("list length = %d, want 3", len(list))
		}
	})

	t.Run("get by id", func(t *testing.T) {
		rr := doJSON(t, env, http.MethodGet, fmt.Sprintf("/api/expenses/%d", created.ID), "", cookie)
		if rr.Code != http.StatusOK {
			t.Fatalf("get status = %d", rr.Code)
		}
	})

	t.Run("update", func(t *testing.T) {
		rr := doJSON(t, env, http.MethodPut, fmt.Sprintf("/api/expenses/%d", created.ID),
			`{"item":"espresso","amount":"4.00","expense_date":"2024-06-01","category":"food"}`, cookie)
		if rr.Code != http.StatusOK {
			t.Fatalf("update status = %d, body %s", rr.Code, rr.Body.String())
		}
		var resp expenseResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Item != "espresso" || resp.AmountCents != 400 {
			t.Errorf("updated = %+v", resp)
		}
	})

	t.Run("delete", func(t *testing.T) {
		rr := doJSON(t, env, http.MethodDelete, fmt.Sprintf("/api/expenses/%d", created.ID), "", cookie)
		if rr.Code != http.StatusOK {
			t.Fatalf("delete status = %d", rr.Code)
		}
		rr = doJSON(t, env, http.MethodGet, fmt.Sprintf("/api/expenses/%d", created.ID), "", cookie)
		if rr.Code != http.StatusNotFound {
			t.Errorf("get after delete status = %d, want 404", rr.Code)
		}
	})
}

func TestExpenseValidation(t *testing.T) {
	env := newTestServer(t)
	cookie := signIn(t, env, "alice")

	tests := []struct {
		name string
		body string
	}{
		{"not json", `receipt`},
		{"missing item", `{"amount":"1.00","expense_date":"2024-06-01","category":"food"}`},
		{"garbage amount", `{"item":"x","amount":"abc","expense_date":"2024-06-01","category":"food"}`},
		{"negative amount", `{"item":"x","amount":"-5.00","expense_date":"2024-06-01","category":"food"}`},
		{"bad date", `{"item":"x","amount":"1.00","expense_date":"June 1st","category":"food"}`},
		{"missing category", `{"item":"x","amount":"1.00","expense_date":"2024-06-01"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, env, http.MethodPost, "/api/expenses", tt.body, cookie)
			if tt.name == "not json" {
				if rr.Code != http.StatusUnprocessableEntity && rr.Code != http.StatusBadRequest {
					t.Errorf("status = %d, want 4xx", rr.Code)
				}
				return
			}
			if rr.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422, body %s", rr.Code, rr.Body.String())
			}
		})
	}

	t.Run("all endpoints require a session", func(t *testing.T) {
		paths := []struct{ method, path string }{
			{http.MethodGet, "/api/expenses"},
			{http.MethodPost, "/api/expenses"},
			{http.MethodGet, "/api/expenses/1"},
			{http.MethodPut, "/api/expenses/1"},
			{http.MethodDelete, "/api/expenses/1"},
			{http.MethodGet, "/api/summary"},
		}
		for _, p := range paths {
			rr := doJSON(t, env, p.method, p.path, "{}", nil)
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("%s %s status = %d, want 401", p.method, p.path, rr.Code)
			}
		}
	})
}

func TestExpenseUserScoping(t *testing.T) {
	env := newTestServer(t)
	alice := signIn(t, env, "alice")
	bob := signIn(t, env, "bob")

	rr := doJSON(t, env, http.MethodPost, "/api/expenses",
		`{"item":"coffee","amount":"3.50","expense_date":"2024-06-01","category":"food"}`, alice)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rr.Code)
	}
	var created expenseResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rr = doJSON(t, env, http.MethodGet, fmt.Sprintf("/api/expenses/%d", created.ID), "", bob)
	if rr.Code != http.StatusNotFound {
		t.Errorf("cross-user get status = %d, want 404", rr.Code)
	}

	rr = doJSON(t, env, http.MethodGet, "/api/expenses", "", bob)
	var list []expenseResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("bob sees %d expenses, want 0", len(list))
	}
}

func TestMonthSummaryEndpoint(t *testing.T) {
	env := newTestServer(t)
	cookie := signIn(t, env, "alice")

	for _, body := range []string{
		`{"item":"coffee","amount":"3.00","expense_date":"2024-06-01","category":"food"}`,
		`{"item":"bread","amount":"2.00","expense_date":"2024-06-15","category":"food"}`,
		`{"item":"bus","amount":"1.50","expense_date":"2024-06-20","category":"transport"}`,
		`{"item":"rent","amount":"500.00","expense_date":"2024-07-01","category":"home"}`,
	} {
		if rr := doJSON(t, env, http.MethodPost, "/api/expenses", body, cookie); rr.Code != http.StatusCreated {
			t.Fatalf("create status = %d", rr.Code)
		}
	}

	rr := doJSON(t, env, http.MethodGet, "/api/summary?year=2024&month=6", "", cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Year       int    `json:"year"`
		Month      int    `json:"month"`
		TotalCents int64  `json:"total_cents"`
		Total      string `json:"total"`
		ByCategory []struct {
			Category    string `json:"category"`
			AmountCents int64  `json:"amount_cents"`
		} `json:"by_category"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalCents != 650 {
		t.Errorf("total cents = %d, want 650", resp.TotalCents)
	}
	if len(resp.ByCategory) != 2 {
		t.Errorf("categories = %d, want 2", len(resp.ByCategory))
	}
	if resp.ByCategory[0].Category != "food" || resp.ByCategory[0].AmountCents != 500 {
		t.Errorf("top category = %+v, want food with 500", resp.ByCategory[0])
	}

	t.Run("invalid month", func(t *testing.T) {
		rr := doJSON(t, env, http.MethodGet, "/api/summary?year=2024&month=13", "", cookie)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rr.Code)
		}
	})
}
