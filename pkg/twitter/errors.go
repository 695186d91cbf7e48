// Copyright 2024-2026 Aiku AI

package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrStall is returned by a stream that received no data, not even a
// keep-alive newline, within the stall timeout.
var ErrStall = errors.New("stream stalled")

// StatusEnhanceYourCalm is the legacy rate limit status of the stream API.
const StatusEnhanceYourCalm = 420

// HTTPError is a non-200 response to the stream request.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stream returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("stream returned HTTP %d: %s", e.StatusCode, e.Body)
}

// NetworkError wraps a transport level failure: dial, TLS, or a read that
// ended before the session was closed by us.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "stream network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FailureClass groups stream failures by how the caller should react.
type FailureClass int

const (
	ClassUnknown FailureClass = iota
	ClassNetwork
	ClassStall
	ClassAuth
	ClassHTTP
	ClassRateLimit
	ClassAborted
)

func (c FailureClass) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassStall:
		return "stall"
	case ClassAuth:
		return "auth"
	case ClassHTTP:
		return "http"
	case ClassRateLimit:
		return "rate_limit"
	case ClassAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Classify maps the error that ended a stream to its failure class. A nil
// error means the server closed the stream, which is treated like a
// dropped connection.
func Classify(err error) FailureClass {
	if err == nil {
		return ClassNetwork
	}
	if errors.Is(err, context.Canceled) {
		return ClassAborted
	}
	if errors.Is(err, ErrStall) {
		return ClassStall
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusUnauthorized:
			return ClassAuth
		case StatusEnhanceYourCalm, http.StatusTooManyRequests:
			return ClassRateLimit
		default:
			return ClassHTTP
		}
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return ClassNetwork
	}
	return ClassUnknown
}
