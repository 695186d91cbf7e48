// Copyright 2024-2026 Aiku AI

package twitter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dghubble/oauth1"
)

// DefaultStreamURL is the v1.1 filter endpoint.
const DefaultStreamURL = "https://stream.twitter.com/1.1/statuses/filter.json"

// DefaultStallTimeout is how long the stream may stay silent before it is
// considered dead. The server sends a keep-alive newline every 30 seconds.
const DefaultStallTimeout = 90 * time.Second

// Credentials are the OAuth 1.0a user context keys of the bridge account.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// HTTPTransport opens filter stream sessions over HTTP.
type HTTPTransport struct {
	Client       *http.Client
	URL          string
	StallTimeout time.Duration
}

// NewHTTPTransport returns a transport that signs its requests with the
// given credentials.
func NewHTTPTransport(creds Credentials, streamURL string) *HTTPTransport {
	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	if streamURL == "" {
		streamURL = DefaultStreamURL
	}
	return &HTTPTransport{
		Client:       config.Client(oauth1.NoContext, token),
		URL:          streamURL,
		StallTimeout: DefaultStallTimeout,
	}
}

func (t *HTTPTransport) stallTimeout() time.Duration {
	if t.StallTimeout <= 0 {
		return DefaultStallTimeout
	}
	return t.StallTimeout
}

// Stream opens a session following the given account ids and blocks until
// it ends. onConnect runs once the server accepted the request; onMessage
// runs for every non-empty line. The returned error can be passed to
// Classify. Cancelling ctx ends the session with a context.Canceled error.
func (t *HTTPTransport) Stream(ctx context.Context, follow []string, onConnect func(), onMessage func([]byte)) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	form := url.Values{}
	form.Set("follow", strings.Join(follow, ","))
	form.Set("stall_warnings", "true")

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, t.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	// The watchdog also covers the wait for response headers; a server that
	// accepts the connection and then stays silent is a stall too.
	timeout := t.stallTimeout()
	var stalled atomic.Bool
	watchdog := time.AfterFunc(timeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	resp, err := client.Do(req)
	if err != nil {
		switch {
		case stalled.Load():
			return ErrStall
		case ctx.Err() != nil:
			return ctx.Err()
		}
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	watchdog.Reset(timeout)
	if onConnect != nil {
		onConnect()
	}

	reader := bufio.NewReaderSize(resp.Body, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			watchdog.Reset(timeout)
			if msg := bytes.TrimSpace(line); len(msg) > 0 && onMessage != nil {
				onMessage(msg)
			}
		}
		if err == nil {
			continue
		}
		switch {
		case stalled.Load():
			return ErrStall
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, io.EOF):
			return &NetworkError{Err: io.ErrUnexpectedEOF}
		default:
			return &NetworkError{Err: err}
		}
	}
}
