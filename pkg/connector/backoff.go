// Copyright 2024-2026 Aiku AI

package connector

import (
	"time"

	"github.com/aiku/mattermost-tweetbridge/pkg/twitter"
)

// Reconnect schedule of the filter stream, per failure class.
const (
	networkBackoffStep = 250 * time.Millisecond
	networkBackoffMax  = 16 * time.Second
	httpBackoffStart   = 5 * time.Second
	httpBackoffMax     = 320 * time.Second
	rateBackoffStart   = 60 * time.Second

	// maxDoublings keeps the uncapped rate limit delay from overflowing.
	maxDoublings = 20
)

// Reaction is what the supervisor does when a stream ends.
type Reaction int

const (
	// ReactBackoff reopens the stream with the same tracked set after a delay.
	ReactBackoff Reaction = iota
	// ReactFatal stops the bridge.
	ReactFatal
	// ReactReconnect runs a full connect, reloading the tracked set.
	ReactReconnect
	// ReactClear drops session state; the stream was closed by us.
	ReactClear
)

func (r Reaction) String() string {
	switch r {
	case ReactBackoff:
		return "backoff"
	case ReactFatal:
		return "fatal"
	case ReactReconnect:
		return "reconnect"
	case ReactClear:
		return "clear"
	default:
		return "unknown"
	}
}

// ReactionFor returns the transition taken for a failure class.
func ReactionFor(class twitter.FailureClass) Reaction {
	switch class {
	case twitter.ClassNetwork, twitter.ClassStall, twitter.ClassHTTP, twitter.ClassRateLimit:
		return ReactBackoff
	case twitter.ClassAuth:
		return ReactFatal
	case twitter.ClassAborted:
		return ReactClear
	default:
		return ReactReconnect
	}
}

// Backoff tracks consecutive failures per schedule. Network errors and
// stalls share the linear schedule.
type Backoff struct {
	linear int
	http   int
	rate   int
}

// Next records a failure and returns how long to wait before reopening.
// Classes without a schedule return 0.
func (b *Backoff) Next(class twitter.FailureClass) time.Duration {
	switch class {
	case twitter.ClassNetwork, twitter.ClassStall:
		b.linear++
		return min(time.Duration(b.linear)*networkBackoffStep, networkBackoffMax)
	case twitter.ClassHTTP:
		b.http++
		return min(doubled(httpBackoffStart, b.http), httpBackoffMax)
	case twitter.ClassRateLimit:
		b.rate++
		return doubled(rateBackoffStart, b.rate)
	default:
		return 0
	}
}

// Reset clears every schedule after a successful connection.
func (b *Backoff) Reset() {
	*b = Backoff{}
}

func doubled(start time.Duration, attempt int) time.Duration {
	shift := min(attempt-1, maxDoublings)
	return start << shift
}
