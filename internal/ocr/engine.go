package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// EngineClient forwards receipt assets to the external OCR workflow
// engine. The engine processes out-of-band and reports back on the
// webhook; no result is ever read from this call.
type EngineClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewEngineClient points at the engine's intake webhook. timeout bounds
// the whole forward call (send a 5MB image, read the acknowledgment).
func NewEngineClient(webhookURL string, timeout time.Duration) *EngineClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EngineClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Forward sends the asset at path plus the correlation token as a
// multipart POST. The engine is expected to echo the token back in its
// result callback; that echo is the only way the result finds its owner.
func (c *EngineClient) Forward(ctx context.Context, path, token string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open asset: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy asset into form: %w", err)
	}
	if err := mw.WriteField("token", token); err != nil {
		return fmt.Errorf("write token field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, &body)
	if err != nil {
		return fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to engine: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("engine rejected forward: status %d", resp.StatusCode)
	}
	return nil
}
