// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-tweetbridge/pkg/archive"
	"github.com/aiku/mattermost-tweetbridge/pkg/connector/tweetfmt"
	"github.com/aiku/mattermost-tweetbridge/pkg/twitter"
)

// Message is a post normalized for chat.
type Message struct {
	Post   *twitter.Post
	Handle string
	PostID string
	// Text is the rendered markdown body.
	Text  string
	Media []Media
	// Manual is set for posts injected through the admin API.
	Manual bool
	// ChannelID overrides the subscribed channels of the author.
	ChannelID string
}

// HandleOptions describe where a post came from.
type HandleOptions struct {
	// Manual marks an injected post.
	Manual bool
	// Bypass skips the author and dedup filters.
	Bypass bool
	// ChannelID, if set, is the only channel the post goes to.
	ChannelID string
}

// Pipeline filters stream posts and hands the survivors to delivery.
// HandlePost must be called from the supervisor loop; delivery itself runs
// on background goroutines.
type Pipeline struct {
	session   *Session
	archive   Archiver
	deliverer Deliverer
	deletions *DeletionHandler
	media     MediaProcessor
	metrics   *Metrics
	log       zerolog.Logger

	escapeOpen  string
	escapeClose string

	wg sync.WaitGroup
}

// PipelineParams bundles the collaborators of a Pipeline.
type PipelineParams struct {
	Session     *Session
	Archive     Archiver
	Deliverer   Deliverer
	Deletions   *DeletionHandler
	Media       MediaProcessor
	Metrics     *Metrics
	Log         zerolog.Logger
	EscapeOpen  string
	EscapeClose string
}

// NewPipeline creates a pipeline. A nil media processor accepts every
// entry unchanged.
func NewPipeline(params PipelineParams) *Pipeline {
	media := params.Media
	if media == nil {
		media = PassthroughMedia{}
	}
	return &Pipeline{
		session:     params.Session,
		archive:     params.Archive,
		deliverer:   params.Deliverer,
		deletions:   params.Deletions,
		media:       media,
		metrics:     params.Metrics,
		log:         params.Log.With().Str("component", "pipeline").Logger(),
		escapeOpen:  params.EscapeOpen,
		escapeClose: params.EscapeClose,
	}
}

// HandlePost runs a post through the filters and, if it survives, starts
// its delivery. It reports whether delivery was started.
func (p *Pipeline) HandlePost(ctx context.Context, post *twitter.Post, opts HandleOptions) bool {
	if post.Delete != nil {
		p.HandleDeletion(ctx, post.Delete.Status.IDStr)
		return false
	}

	log := p.log.With().
		Str("post_id", post.IDStr).
		Str("author_id", post.User.IDStr).
		Str("author", post.User.ScreenName).
		Bool("manual", opts.Manual).
		Logger()

	if !opts.Bypass && !p.session.Tracked.Has(post.User.IDStr) {
		p.metrics.postsFiltered.WithLabelValues(reasonUntracked).Inc()
		log.Trace().Msg("Skipping post from untracked author")
		return false
	}

	if !opts.Bypass && !p.session.Dedup.Add(post.IDStr) {
		p.metrics.postsFiltered.WithLabelValues(reasonDuplicate).Inc()
		log.Debug().Msg("Skipping duplicate post")
		return false
	}

	p.archivePost(post, opts.Manual, log)

	if post.IsReply() && !post.IsSelfReply() {
		p.metrics.postsFiltered.WithLabelValues(reasonReply).Inc()
		log.Debug().
			Str("reply_to_user_id", post.InReplyToUserIDStr).
			Msg("Skipping reply to another user")
		return false
	}

	msg := NormalizePost(post, p.escapeOpen, p.escapeClose)
	msg.Manual = opts.Manual
	msg.ChannelID = opts.ChannelID

	log.Debug().Int("media", len(msg.Media)).Msg("Relaying post")

	p.wg.Add(1)
	go p.deliver(ctx, msg, log)
	return true
}

// HandleDeletion starts removing the chat messages of a deleted post.
func (p *Pipeline) HandleDeletion(ctx context.Context, postID string) {
	if postID == "" || p.deletions == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.deletions.HandleDeletion(ctx, postID)
	}()
}

// Wait blocks until every started delivery and deletion has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) archivePost(post *twitter.Post, manual bool, log zerolog.Logger) {
	if p.archive == nil {
		return
	}
	data := []byte(post.Raw)
	if len(data) == 0 {
		var err error
		data, err = json.Marshal(post)
		if err != nil {
			p.metrics.archiveFailures.Inc()
			log.Error().Err(err).Msg("Failed to serialize post for archive")
			return
		}
	}
	name := archive.FileName(post.User.ScreenName, post.IDStr, manual)
	if err := p.archive.Save(name, data); err != nil {
		p.metrics.archiveFailures.Inc()
		log.Error().Err(err).Str("file", name).Msg("Failed to archive post")
	}
}

func (p *Pipeline) deliver(ctx context.Context, msg *Message, log zerolog.Logger) {
	defer p.wg.Done()

	if len(msg.Media) > 0 {
		outcomes, err := processMediaBatch(ctx, p.media, msg.Media)
		if err != nil {
			log.Error().Err(err).Msg("Media batch failed, delivering anyway")
		}
		media := make([]Media, 0, len(outcomes))
		for i, o := range outcomes {
			if o.Err != nil {
				p.metrics.mediaFailures.Inc()
				log.Warn().Err(o.Err).Int("index", i).Msg("Failed to process media entry")
			}
			media = append(media, o.Media)
		}
		msg.Media = media
	}

	if err := p.deliverer.Deliver(ctx, msg); err != nil {
		p.metrics.deliveryErrors.Inc()
		log.Error().Err(err).Msg("Failed to deliver post")
		return
	}
	p.metrics.postsDelivered.Inc()
}

// NormalizePost resolves the content source of a post and renders it.
// Retweets take text and media from the retweeted post; truncated posts
// take them from the extended block. Short links of media are wrapped in
// the escape delimiters once.
func NormalizePost(post *twitter.Post, escapeOpen, escapeClose string) *Message {
	source := post
	retweetOf := ""
	if post.IsRetweet() {
		source = post.RetweetedStatus
		retweetOf = source.User.ScreenName
	}

	text := tweetfmt.DecodeEntities(source.FullText())
	escaper := tweetfmt.NewLinkEscaper(escapeOpen, escapeClose)

	var media []Media
	for _, entity := range source.MediaEntities() {
		switch entity.Type {
		case twitter.MediaPhoto:
			media = append(media, Media{Image: entity.MediaURLHTTPS})
		case twitter.MediaVideo, twitter.MediaAnimatedGIF:
			media = append(media, Media{Video: entity.VideoURL(), Image: entity.MediaURLHTTPS})
		}
		text = escaper.Escape(text, entity.URL)
	}

	rendered := tweetfmt.Message{
		Handle:    post.User.ScreenName,
		Permalink: post.Permalink(),
		Text:      text,
		RetweetOf: retweetOf,
	}
	if quoted := source.QuotedStatus; quoted != nil && quoted.IDStr != "" {
		rendered.QuoteHandle = quoted.User.ScreenName
		rendered.QuoteLink = quoted.Permalink()
	}

	return &Message{
		Post:   post,
		Handle: post.User.ScreenName,
		PostID: post.IDStr,
		Text:   tweetfmt.Render(rendered),
		Media:  media,
	}
}
