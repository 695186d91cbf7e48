// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aiku/mattermost-tweetbridge/pkg/store"
)

// DefaultPostsPerSecond throttles chat API writes.
const DefaultPostsPerSecond = 5

// ChannelIndex resolves subscribed channels and records what was posted.
type ChannelIndex interface {
	ChannelsForAccount(ctx context.Context, accountID string) ([]string, error)
	RecordDelivery(ctx context.Context, d store.Delivery) error
}

// MattermostDeliverer posts relayed messages to Mattermost channels.
type MattermostDeliverer struct {
	client  *model.Client4
	index   ChannelIndex
	limiter *rate.Limiter
	log     zerolog.Logger
}

var _ Deliverer = (*MattermostDeliverer)(nil)

// NewMattermostDeliverer creates a deliverer authenticated with a bot or
// personal access token. postsPerSecond <= 0 selects the default.
func NewMattermostDeliverer(serverURL, token string, index ChannelIndex, postsPerSecond float64, log zerolog.Logger) *MattermostDeliverer {
	client := model.NewAPIv4Client(serverURL)
	client.SetToken(token)
	if postsPerSecond <= 0 {
		postsPerSecond = DefaultPostsPerSecond
	}
	return &MattermostDeliverer{
		client:  client,
		index:   index,
		limiter: rate.NewLimiter(rate.Limit(postsPerSecond), 1),
		log:     log.With().Str("component", "mm_deliverer").Logger(),
	}
}

// Verify checks the token against the server and returns the bot user.
func (d *MattermostDeliverer) Verify(ctx context.Context) (*model.User, error) {
	me, _, err := d.client.GetMe(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to verify Mattermost session: %w", err)
	}
	d.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")
	return me, nil
}

// Deliver posts msg to every channel subscribed to its author, or only to
// its channel override. A failing channel does not stop the others.
func (d *MattermostDeliverer) Deliver(ctx context.Context, msg *Message) error {
	channels, err := d.channelsFor(ctx, msg)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		d.log.Debug().Str("post_id", msg.PostID).Msg("No channel subscribed to author")
		return nil
	}

	var errs []error
	for _, channelID := range channels {
		if err := d.send(ctx, channelID, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *MattermostDeliverer) channelsFor(ctx context.Context, msg *Message) ([]string, error) {
	if msg.ChannelID != "" {
		return []string{msg.ChannelID}, nil
	}
	if msg.Post == nil {
		return nil, nil
	}
	channels, err := d.index.ChannelsForAccount(ctx, msg.Post.User.IDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to look up subscribed channels: %w", err)
	}
	return channels, nil
}

func (d *MattermostDeliverer) send(ctx context.Context, channelID string, msg *Message) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for post slot: %w", err)
	}

	post := &model.Post{
		ChannelId: channelID,
		Message:   msg.Text,
	}
	if attachments := mediaAttachments(msg.Media); len(attachments) > 0 {
		post.AddProp("attachments", attachments)
	}

	created, _, err := d.client.CreatePost(ctx, post)
	if err != nil {
		return fmt.Errorf("failed to create post in %s: %w", channelID, err)
	}

	d.log.Debug().
		Str("post_id", msg.PostID).
		Str("channel_id", channelID).
		Str("mm_post_id", created.Id).
		Msg("Delivered post")

	if err := d.index.RecordDelivery(ctx, store.Delivery{
		PostID:    msg.PostID,
		ChannelID: channelID,
		MessageID: created.Id,
	}); err != nil {
		// The message is out; only later deletion is affected.
		d.log.Warn().Err(err).Str("mm_post_id", created.Id).Msg("Failed to record delivery")
	}
	return nil
}

// DeleteMessage removes one chat post.
func (d *MattermostDeliverer) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for post slot: %w", err)
	}
	if _, err := d.client.DeletePost(ctx, messageID); err != nil {
		return fmt.Errorf("failed to delete post %s in %s: %w", messageID, channelID, err)
	}
	return nil
}

// mediaAttachments renders media entries as message attachments. Videos
// link to the video and show the still image.
func mediaAttachments(media []Media) []*model.SlackAttachment {
	var attachments []*model.SlackAttachment
	for _, m := range media {
		if m.Image == "" && m.Video == "" {
			continue
		}
		a := &model.SlackAttachment{ImageURL: m.Image}
		if m.Video != "" {
			a.Title = "Video"
			a.TitleLink = m.Video
			a.Fallback = m.Video
		} else {
			a.Fallback = m.Image
		}
		attachments = append(attachments, a)
	}
	return attachments
}
