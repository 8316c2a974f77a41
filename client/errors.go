package client

import "errors"

var (
	// ErrClosed indicates the Client has been closed.
	ErrClosed = errors.New("client: closed")

	// ErrInvalidBaseURL indicates Config.BaseURL is missing or not absolute.
	ErrInvalidBaseURL = errors.New("client: invalid base url")

	// ErrInvalidRequest indicates a RequestConfig that cannot be sent.
	ErrInvalidRequest = errors.New("client: invalid request")

	// ErrPushDisabled indicates a push operation on a Client built without
	// a push URL or transport.
	ErrPushDisabled = errors.New("client: push channel not configured")
)
