// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"time"

	"github.com/aiku/mattermost-tweetbridge/pkg/store"
)

// Transport opens one filtered stream session and blocks until it ends.
// Implemented by twitter.HTTPTransport.
type Transport interface {
	Stream(ctx context.Context, follow []string, onConnect func(), onMessage func([]byte)) error
}

// AccountSource lists the accounts the stream should follow.
type AccountSource interface {
	TrackedAccountIDs(ctx context.Context) ([]string, error)
}

// DeliveryIndex maps relayed posts to the chat messages created for them.
type DeliveryIndex interface {
	DeliveriesForPost(ctx context.Context, postID string) ([]store.Delivery, error)
	ForgetDelivery(ctx context.Context, channelID, messageID string) error
}

// Deliverer sends rendered posts to chat and removes them again.
type Deliverer interface {
	Deliver(ctx context.Context, msg *Message) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// Archiver stores raw post snapshots.
type Archiver interface {
	Save(name string, data []byte) error
}

// Sweeper purges expired snapshots.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// DeliveryPruner drops delivered-message records older than a cutoff.
type DeliveryPruner interface {
	PruneDeliveries(ctx context.Context, cutoff time.Time) (int, error)
}
