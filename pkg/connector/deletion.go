// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"

	"github.com/rs/zerolog"
)

// DeletionHandler removes the chat messages of a post that was deleted
// upstream.
type DeletionHandler struct {
	index     DeliveryIndex
	deliverer Deliverer
	metrics   *Metrics
	log       zerolog.Logger
}

// NewDeletionHandler creates a handler.
func NewDeletionHandler(index DeliveryIndex, deliverer Deliverer, metrics *Metrics, log zerolog.Logger) *DeletionHandler {
	return &DeletionHandler{
		index:     index,
		deliverer: deliverer,
		metrics:   metrics,
		log:       log.With().Str("component", "deletion").Logger(),
	}
}

// HandleDeletion issues one delete request per chat message recorded for
// postID. Each failure is logged on its own and does not stop the others.
// It returns the number of messages deleted.
func (h *DeletionHandler) HandleDeletion(ctx context.Context, postID string) int {
	deliveries, err := h.index.DeliveriesForPost(ctx, postID)
	if err != nil {
		h.log.Error().Err(err).Str("post_id", postID).Msg("Failed to look up delivered messages")
		return 0
	}
	if len(deliveries) == 0 {
		h.log.Trace().Str("post_id", postID).Msg("Deleted post was never delivered")
		return 0
	}

	deleted := 0
	for _, d := range deliveries {
		if err := h.deliverer.DeleteMessage(ctx, d.ChannelID, d.MessageID); err != nil {
			h.metrics.deletions.WithLabelValues("error").Inc()
			h.log.Warn().Err(err).
				Str("post_id", postID).
				Str("channel_id", d.ChannelID).
				Str("message_id", d.MessageID).
				Msg("Failed to delete chat message")
			continue
		}
		h.metrics.deletions.WithLabelValues("ok").Inc()
		deleted++
		if err := h.index.ForgetDelivery(ctx, d.ChannelID, d.MessageID); err != nil {
			h.log.Warn().Err(err).
				Str("channel_id", d.ChannelID).
				Str("message_id", d.MessageID).
				Msg("Failed to forget deleted message")
		}
	}

	h.log.Info().
		Str("post_id", postID).
		Int("deleted", deleted).
		Int("total", len(deliveries)).
		Msg("Handled post deletion")
	return deleted
}
