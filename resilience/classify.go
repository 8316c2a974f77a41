package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"
)

// Kind is the failure category assigned by the classifier.
type Kind int

const (
	// KindUnknown is an outcome that fits no other category.
	KindUnknown Kind = iota
	// KindNetwork means no response was received.
	KindNetwork
	// KindTimeout means the attempt ran out of time.
	KindTimeout
	// KindAuth is HTTP 401.
	KindAuth
	// KindAuthz is HTTP 403.
	KindAuthz
	// KindValidation is HTTP 422 or a response that failed decoding.
	KindValidation
	// KindRateLimit is HTTP 429.
	KindRateLimit
	// KindClient is any other 4xx.
	KindClient
	// KindServer is any 5xx.
	KindServer
)

// String returns the upper-case taxonomy name.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NETWORK"
	case KindTimeout:
		return "TIMEOUT"
	case KindAuth:
		return "AUTH"
	case KindAuthz:
		return "AUTHZ"
	case KindValidation:
		return "VALIDATION"
	case KindRateLimit:
		return "RATE_LIMIT"
	case KindClient:
		return "CLIENT"
	case KindServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// DefaultRetryable reports whether failures of kind k are retried when no
// RetryIf override is configured.
func DefaultRetryable(k Kind) bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimit, KindServer:
		return true
	default:
		return false
	}
}

// MaxRetryAfter caps the server-requested delay honored on 429.
const MaxRetryAfter = time.Hour

// ClassifiedError is a transport failure or HTTP status mapped into the
// taxonomy.
type ClassifiedError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Retryable  bool

	// RetryAfter is the server-requested delay. Only set for KindRateLimit.
	RetryAfter time.Duration

	Cause error
}

// Error implements error.
func (e *ClassifiedError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil && (e.Message == "" || !strings.Contains(e.Message, e.Cause.Error())) {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// KindName returns the taxonomy name of the error's kind.
func (e *ClassifiedError) KindName() string {
	return e.Kind.String()
}

// Unwrap returns the underlying cause.
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// Is matches another ClassifiedError of the same kind.
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	return ok && t != nil && e.Kind == t.Kind
}

// IsKind reports whether err carries a ClassifiedError of kind k.
func IsKind(err error, k Kind) bool {
	ce, ok := AsClassified(err)
	return ok && ce.Kind == k
}

// AsClassified extracts the ClassifiedError from err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// NewValidationError reports a response whose shape did not match.
func NewValidationError(msg string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Kind:    KindValidation,
		Message: msg,
		Cause:   cause,
	}
}

// ClassifyStatus maps an HTTP response status to a ClassifiedError.
// It returns nil for 1xx, 2xx and 3xx statuses. body is used only for the
// message and is truncated.
func ClassifyStatus(status int, header http.Header, body []byte) *ClassifiedError {
	if status < 400 {
		return nil
	}

	ce := &ClassifiedError{
		StatusCode: status,
		Message:    statusMessage(status, body),
	}

	switch {
	case status == http.StatusUnauthorized:
		ce.Kind = KindAuth
	case status == http.StatusForbidden:
		ce.Kind = KindAuthz
	case status == http.StatusUnprocessableEntity:
		ce.Kind = KindValidation
	case status == http.StatusTooManyRequests:
		ce.Kind = KindRateLimit
		if header != nil {
			ce.RetryAfter = ParseRetryAfter(header.Get("Retry-After"))
		}
	case status >= 500:
		ce.Kind = KindServer
	default:
		ce.Kind = KindClient
	}
	ce.Retryable = DefaultRetryable(ce.Kind)
	return ce
}

// ClassifyError maps a transport-level failure to a ClassifiedError.
// A ClassifiedError anywhere in err's chain is returned as-is.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	if ce, ok := AsClassified(err); ok {
		return ce
	}

	ce := &ClassifiedError{Cause: err}

	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError

	switch {
	case errors.Is(err, context.Canceled):
		ce.Kind = KindUnknown
		ce.Message = "request canceled"
		return ce // never retryable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		ce.Kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		ce.Kind = KindTimeout
	case errors.As(err, &dnsErr), errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		ce.Kind = KindNetwork
	case errors.Is(err, ErrRateLimitExceeded):
		ce.Kind = KindRateLimit
		ce.Message = "client-side rate limit"
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrBulkheadFull):
		ce.Kind = KindNetwork
		ce.Message = "request rejected locally"
		return ce
	default:
		// Anything the transport returns without a response counts as
		// a network failure.
		ce.Kind = KindNetwork
	}
	ce.Retryable = DefaultRetryable(ce.Kind)
	return ce
}

// ParseRetryAfter reads a Retry-After header value given either as delta
// seconds or as an HTTP-date. Invalid, non-finite or non-positive values
// yield 0.
// The result is capped at MaxRetryAfter.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
			return 0
		}
		// Cap before converting; large values overflow Duration.
		if secs >= MaxRetryAfter.Seconds() {
			return MaxRetryAfter
		}
		return time.Duration(secs * float64(time.Second))
	}

	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d <= 0 {
			return 0
		}
		return min(d, MaxRetryAfter)
	}
	return 0
}

// maxSnippet is how many bytes of a response body an error message keeps.
const maxSnippet = 200

func statusMessage(status int, body []byte) string {
	msg := http.StatusText(status)
	if len(body) == 0 {
		return msg
	}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxSnippet {
		n := maxSnippet
		for n > 0 && !utf8.RuneStart(snippet[n]) {
			n--
		}
		snippet = snippet[:n] + "..."
	}
	if msg == "" {
		return snippet
	}
	return msg + ": " + snippet
}
