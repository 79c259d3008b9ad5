package ocr

import "errors"

var (
	// ErrBadCallback marks an engine callback whose payload shape is
	// unusable (no token or no result fields). The webhook handler
	// rejects these outright; nothing else does.
	ErrBadCallback = errors.New("malformed callback payload")

	// ErrTokenNotFound is the expected outcome for unknown, expired or
	// already-consumed correlation tokens. Callers treat it as "no
	// matching session to deliver to", not as a failure.
	ErrTokenNotFound = errors.New("correlation token not found")

	// ErrDispatch means the uploaded asset could not be queued for
	// forwarding; the uploader should retry.
	ErrDispatch = errors.New("receipt dispatch failed")
)
