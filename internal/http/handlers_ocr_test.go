package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"billfold/internal/ocr"
)

func multipartReceipt(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func uploadReceipt(t *testing.T, env *testEnv, cookie *http.Cookie, field string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartReceipt(t, field, "receipt.jpg", "fake image bytes")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ocr/upload", body)
	req.Header.Set("Content-Type", contentType)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	env.server.Handler.ServeHTTP(rr, req)
	return rr
}

func TestReceiptUpload(t *testing.T) {
	env := newTestServer(t)
	cookie := signIn(t, env, "alice")

	rr := uploadReceipt(t, env, cookie, "ocrFile")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, body %s", rr.Code, rr.Body.String())
	}

	var acc ocr.Acceptance
	if err := json.Unmarshal(rr.Body.Bytes(), &acc); err != nil {
		t.Fatal(err)
	}
	if acc.Token == "" || acc.Status != "accepted" {
		t.Errorf("acceptance = %+v", acc)
	}

	env.dispatcher.Wait()
	if got := env.forwarder.lastToken(); got != acc.Token {
		t.Errorf("forwarded token = %q, want %q", got, acc.Token)
	}
}

func TestReceiptUpload_LegacyFieldName(t *testing.T) {
	env := newTestServer(t)
	cookie := signIn(t, env, "alice")

	rr := uploadReceipt(t, env, cookie, "file")
	if rr.Code != http.StatusAccepted {
		t.Errorf("upload status = %d, want 202", rr.Code)
	}
}

func TestReceiptUpload_Errors(t *testing.T) {
	env := newTestServer(t)
	cookie := signIn(t, env, "alice")

	t.Run("no session", func(t *testing.T) {
		rr := uploadReceipt(t, env, nil, "ocrFile")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("wrong field name", func(t *testing.T) {
		rr := uploadReceipt(t, env, cookie, "attachment")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ocr/upload", strings.NewReader("raw bytes"))
		req.AddCookie(cookie)
		env.server.Handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func postWebhook(t *testing.T, env *testEnv, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/ocr-result", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.server.Handler.ServeHTTP(rr, req)
	return rr
}

func TestOCRWebhookIsNotRateLimited(t *testing.T) {
	env := newTestServer(t)

	// The engine delivers every callback from one address, so the
	// per-IP POST limit must not apply on this route.
	for i := 0; i < 120; i++ {
		body := fmt.Sprintf(`{"token":"unknown-%d","item":"x"}`, i)
		rr := postWebhook(t, env, body)
		if rr.Code != http.StatusOK {
			t.Fatalf("callback %d status = %d, want 200, body %s", i+1, rr.Code, rr.Body.String())
		}
	}
}

func TestOCRWebhook(t *testing.T) {
	env := newTestServer(t)

	t.Run("malformed body is rejected", func(t *testing.T) {
		for _, body := range []string{"not json", "[]", `{"item":"x"}`} {
			rr := postWebhook(t, env, body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("body %q status = %d, want 400", body, rr.Code)
			}
		}
	})

	t.Run("unknown token is acknowledged as orphaned", func(t *testing.T) {
		rr := postWebhook(t, env, `{"token":"no-such-token","item":"coffee"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		var resp map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp["outcome"] != string(ocr.OutcomeOrphaned) {
			t.Errorf("outcome = %q, want orphaned", resp["outcome"])
		}
	})
}

// sseEvent reads frames off a server-sent event stream.
func readSSE(t *testing.T, r io.Reader, out chan<- ocr.Event) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev ocr.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Errorf("bad event payload %q: %v", line, err)
			return
		}
		out <- ev
	}
}

func waitEvent(t *testing.T, events <-chan ocr.Event, wantType string) ocr.Event {
	t.Helper()
	select {
	case ev := <-events:
		if ev.Type != wantType {
			t.Fatalf("event type = %q, want %q", ev.Type, wantType)
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %q event", wantType)
		return ocr.Event{}
	}
}

// TestReceiptPipeline_EndToEnd walks the full loop: open the event
// stream, upload a receipt, feed the engine's callback through the
// webhook and read the result off the stream.
func TestReceiptPipeline_EndToEnd(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.server.Handler)
	defer ts.Close()

	client := ts.Client()

	// Sign in over the wire to get a real cookie.
	resp, err := client.Post(ts.URL+"/api/session", "application/json",
		strings.NewReader(`{"username":"alice"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie")
	}

	// Open the event stream.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamReq, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/ocr/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	streamReq.AddCookie(cookie)
	stream, err := client.Do(streamReq)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Body.Close()
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", stream.StatusCode)
	}

	events := make(chan ocr.Event, 8)
	go readSSE(t, stream.Body, events)

	waitEvent(t, events, "connected")

	// Upload a receipt.
	body, contentType := multipartReceipt(t, "ocrFile", "receipt.jpg", "fake image bytes")
	uploadReq, err := http.NewRequest(http.MethodPost, ts.URL+"/api/ocr/upload", body)
	if err != nil {
		t.Fatal(err)
	}
	uploadReq.Header.Set("Content-Type", contentType)
	uploadReq.AddCookie(cookie)
	uploadResp, err := client.Do(uploadReq)
	if err != nil {
		t.Fatal(err)
	}
	var acc ocr.Acceptance
	if err := json.NewDecoder(uploadResp.Body).Decode(&acc); err != nil {
		t.Fatal(err)
	}
	uploadResp.Body.Close()
	if acc.Token == "" {
		t.Fatal("no token in acceptance")
	}

	// Simulate the engine callback.
	callback := fmt.Sprintf(`{"token":%q,"item":"Grocery Store","amount":"42.50","date":"2024-06-01"}`, acc.Token)
	cbResp, err := client.Post(ts.URL+"/api/webhook/ocr-result", "application/json",
		strings.NewReader(callback))
	if err != nil {
		t.Fatal(err)
	}
	cbBody, _ := io.ReadAll(cbResp.Body)
	cbResp.Body.Close()
	if cbResp.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d, body %s", cbResp.StatusCode, cbBody)
	}

	// The result lands on the stream.
	ev := waitEvent(t, events, "ocr-result")
	data, ok := ev.Data.(map[string]any)
	if !ok {
		t.Fatalf("event data = %T, want object", ev.Data)
	}
	if data["item"] != "Grocery Store" || data["amount"] != "42.50" || data["date"] != "2024-06-01" {
		t.Errorf("event data = %v", data)
	}

	// A replayed callback finds the token consumed.
	replay, err := client.Post(ts.URL+"/api/webhook/ocr-result", "application/json",
		strings.NewReader(callback))
	if err != nil {
		t.Fatal(err)
	}
	var replayResp map[string]string
	if err := json.NewDecoder(replay.Body).Decode(&replayResp); err != nil {
		t.Fatal(err)
	}
	replay.Body.Close()
	if replay.StatusCode != http.StatusOK || replayResp["outcome"] != string(ocr.OutcomeOrphaned) {
		t.Errorf("replay status = %d outcome = %q, want 200 orphaned", replay.StatusCode, replayResp["outcome"])
	}
}
