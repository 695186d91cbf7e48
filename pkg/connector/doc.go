// Copyright 2024-2026 Aiku AI

// Package connector relays posts from the Twitter filter stream into
// Mattermost channels.
//
// # Core Types
//
// [Supervisor] owns the stream connection. It loads the tracked accounts,
// opens the stream, reconnects according to the failure class of each
// disconnect, and runs periodic housekeeping (reload checks and archive
// sweeps). A single goroutine runs its loop; the tracked set, the dedup
// window and the connection state are only touched from there.
//
// [Router] classifies each raw stream frame (post, deletion notice,
// control notice, malformed) without fully decoding it.
//
// [Pipeline] filters posts (author, duplicates, replies to other users),
// archives the raw payload, normalizes the text and media, and dispatches
// delivery on a background goroutine.
//
// [MattermostDeliverer] posts normalized messages to every channel
// subscribed to the author and records the created chat posts so that
// [DeletionHandler] can remove them when the source post is deleted.
//
// [AdminAPI] exposes reload, manual injection, subscription management and
// Prometheus metrics over HTTP.
//
// # Sub-packages
//
//   - tweetfmt renders normalized posts as Mattermost markdown.
package connector
