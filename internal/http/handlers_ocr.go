package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"billfold/internal/ocr"
)

// maxCallbackBytes bounds the OCR engine callback body.
const maxCallbackBytes = 1 << 20

// handleReceiptUpload accepts a receipt image and answers as soon as
// the dispatch is queued. The recognized fields arrive later on the
// event stream.
func (s *Server) handleReceiptUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body or file too large")
		return
	}

	file, header, err := r.FormFile("ocrFile")
	if err != nil {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing receipt file")
		return
	}
	defer file.Close()

	acceptance, err := s.dispatcher.Dispatch(r.Context(), sess.ID, header.Filename, file)
	if err != nil {
		slog.ErrorContext(r.Context(), "Receipt dispatch failed", "error", err, "owner", sess.ID)
		writeError(w, http.StatusInternalServerError, "could not accept receipt")
		return
	}

	writeJSON(w, http.StatusAccepted, acceptance)
}

// handleOCRWebhook ingests the engine's asynchronous result. Only a
// malformed body is the caller's fault; an unknown or expired token is
// still acknowledged so the engine stops retrying.
func (s *Server) handleOCRWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	outcome, err := s.ingestor.HandleCallback(r.Context(), body)
	if err != nil {
		if errors.Is(err, ocr.ErrBadCallback) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Callback handling failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not process result")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "result processed",
		"outcome":   string(outcome),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleReceiptEvents streams OCR results to the uploading session
// over server-sent events. A newer stream from the same session
// replaces this one; the handler returns when its channel closes.
func (s *Server) handleReceiptEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.registry.Register(sess.ID)
	defer s.registry.Unregister(sess.ID, sub)

	slog.InfoContext(r.Context(), "Event stream opened", "owner", sess.ID)

	for {
		select {
		case <-r.Context().Done():
			slog.InfoContext(r.Context(), "Event stream closed by client", "owner", sess.ID)
			return
		case ev, open := <-sub.Events():
			if !open {
				// Replaced by a newer stream or evicted.
				slog.InfoContext(r.Context(), "Event stream superseded", "owner", sess.ID)
				return
			}
			if err := writeSSE(w, ev); err != nil {
				slog.WarnContext(r.Context(), "Event write failed", "error", err, "owner", sess.ID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, ev ocr.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
