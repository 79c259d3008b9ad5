package ocr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// AssetStore is the transient storage collaborator used for uploaded
// receipt images.
type AssetStore interface {
	Save(name string, r io.Reader) (path string, err error)
	Remove(path string) error
}

// Forwarder sends a stored asset plus its correlation token to the
// external engine.
type Forwarder interface {
	Forward(ctx context.Context, path, token string) error
}

// Acceptance is what the uploader gets back: the dispatch was queued,
// nothing more. Results arrive later on the streaming channel.
type Acceptance struct {
	Token  string `json:"token"`
	Status string `json:"status"`
}

// Dispatcher accepts an uploaded asset, binds it to a fresh correlation
// token and forwards it to the engine without holding the client past
// acceptance. Forwarding is at-most-once: a failed forward is logged
// and the token simply expires.
type Dispatcher struct {
	assets  AssetStore
	tracker *Tracker
	engine  Forwarder

	forwardTimeout time.Duration
	inflight       sync.WaitGroup
}

func NewDispatcher(assets AssetStore, tracker *Tracker, engine Forwarder, forwardTimeout time.Duration) *Dispatcher {
	if forwardTimeout <= 0 {
		forwardTimeout = 30 * time.Second
	}
	return &Dispatcher{
		assets:         assets,
		tracker:        tracker,
		engine:         engine,
		forwardTimeout: forwardTimeout,
	}
}

// Dispatch stores the asset, issues a token for owner and detaches the
// forward call. It returns once the asset is durably queued; a storage
// failure yields ErrDispatch and the uploader should retry.
func (d *Dispatcher) Dispatch(ctx context.Context, owner, filename string, file io.Reader) (Acceptance, error) {
	path, err := d.assets.Save(filename, file)
	if err != nil {
		return Acceptance{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	token := d.tracker.Issue(owner)
	slog.InfoContext(ctx, "Receipt dispatch accepted",
		"owner", owner,
		"token", token,
		"asset", path)

	d.inflight.Add(1)
	go d.forward(path, token)

	return Acceptance{Token: token, Status: "accepted"}, nil
}

// forward runs detached from the originating request. The asset is
// removed after the attempt no matter how it ends.
func (d *Dispatcher) forward(path, token string) {
	defer d.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.forwardTimeout)
	defer cancel()
	defer func() {
		if err := d.assets.Remove(path); err != nil {
			slog.Warn("Failed to remove forwarded asset", "asset", path, "error", err)
		}
	}()

	if err := d.engine.Forward(ctx, path, token); err != nil {
		// No retry: a duplicate submission could produce a duplicate
		// callback. The unclaimed token expires via the tracker sweep.
		slog.Error("Receipt forward failed",
			"token", token,
			"asset", path,
			"error", err)
		return
	}

	slog.Info("Receipt forwarded to engine", "token", token, "asset", path)
}

// Wait blocks until all in-flight forwards finish. Called on shutdown
// so asset cleanup always runs; tests use it for determinism.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
