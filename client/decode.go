package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/jonwraymond/quotelink/resilience"
)

// Validator is implemented by response types that check their own shape
// after decoding.
type Validator interface {
	Validate() error
}

// Decode parses data as a single JSON value of type T. Unknown fields,
// trailing data and a failed Validate yield a VALIDATION ClassifiedError.
func Decode[T any](data []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, resilience.NewValidationError("decode response", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return v, resilience.NewValidationError("decode response", errors.New("trailing data after JSON value"))
	}
	val, ok := any(v).(Validator)
	if !ok {
		val, ok = any(&v).(Validator)
	}
	if ok {
		if err := val.Validate(); err != nil {
			return v, resilience.NewValidationError("invalid response", err)
		}
	}
	return v, nil
}

// Fetch runs req and decodes the body into T. A body that fails to decode
// is evicted from the cache so the next call goes to the server.
func Fetch[T any](ctx context.Context, c *Client, req RequestConfig, opts RequestOptions) (T, error) {
	var zero T
	resp, err := c.Request(ctx, req, opts)
	if err != nil {
		return zero, err
	}
	v, err := Decode[T](resp.Body)
	if err != nil {
		if c.cache != nil && cacheable(req.method()) {
			_ = c.cache.Delete(ctx, resp.Signature)
		}
		return zero, err
	}
	return v, nil
}
