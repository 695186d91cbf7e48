// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/aiku/mattermost-tweetbridge/pkg/twitter"
)

// Frame kinds reported by the router.
const (
	kindMalformed = "malformed"
	kindDelete    = "delete"
	kindControl   = "control"
	kindPost      = "post"
	kindIgnored   = "ignored"
)

// Router classifies raw stream frames and dispatches them.
type Router struct {
	pipeline *Pipeline
	metrics  *Metrics
	log      zerolog.Logger
}

// NewRouter creates a router feeding pipeline.
func NewRouter(pipeline *Pipeline, metrics *Metrics, log zerolog.Logger) *Router {
	return &Router{
		pipeline: pipeline,
		metrics:  metrics,
		log:      log.With().Str("component", "router").Logger(),
	}
}

// Route handles one frame and returns its kind. Malformed frames are
// logged and dropped; they never end the connection.
func (r *Router) Route(ctx context.Context, frame []byte) string {
	kind := r.route(ctx, frame)
	r.metrics.streamEvents.WithLabelValues(kind).Inc()
	return kind
}

func (r *Router) route(ctx context.Context, frame []byte) string {
	if !gjson.ValidBytes(frame) {
		r.log.Warn().Int("length", len(frame)).Msg("Dropping malformed stream frame")
		return kindMalformed
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		r.log.Trace().Str("type", root.Type.String()).Msg("Ignoring non-object stream frame")
		return kindIgnored
	}

	if del := root.Get("delete"); del.Exists() {
		postID := del.Get("status.id_str").String()
		r.log.Debug().
			Str("post_id", postID).
			Str("author_id", del.Get("status.user_id_str").String()).
			Msg("Received deletion notice")
		r.pipeline.HandleDeletion(ctx, postID)
		return kindDelete
	}

	for _, key := range []string{"limit", "warning", "disconnect"} {
		if notice := root.Get(key); notice.Exists() {
			r.logControl(key, notice)
			return kindControl
		}
	}

	if root.Get("id_str").Exists() {
		post, err := twitter.ParsePost(frame)
		if err != nil {
			r.log.Warn().Err(err).Msg("Dropping undecodable post")
			return kindMalformed
		}
		r.pipeline.HandlePost(ctx, post, HandleOptions{})
		return kindPost
	}

	r.log.Trace().RawJSON("frame", frame).Msg("Ignoring unknown stream frame")
	return kindIgnored
}

func (r *Router) logControl(key string, notice gjson.Result) {
	switch key {
	case "limit":
		r.log.Warn().
			Int64("undelivered", notice.Get("track").Int()).
			Msg("Stream is rate limiting matches")
	case "warning":
		r.log.Warn().
			Str("code", notice.Get("code").String()).
			Str("message", notice.Get("message").String()).
			Int64("percent_full", notice.Get("percent_full").Int()).
			Msg("Stream warning")
	case "disconnect":
		r.log.Warn().
			Int64("code", notice.Get("code").Int()).
			Str("reason", notice.Get("reason").String()).
			Msg("Stream announced disconnect")
	}
}
