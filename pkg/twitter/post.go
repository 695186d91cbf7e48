// Copyright 2024-2026 Aiku AI

// Package twitter holds the wire model of the Twitter v1.1 filter stream and
// an HTTP transport that keeps one streaming session open.
package twitter

import (
	"encoding/json"
	"fmt"
	"strings"
)

// User is the author block embedded in every post.
type User struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
}

// Variant is one encoding of a video or animated GIF.
type Variant struct {
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
	Bitrate     int    `json:"bitrate,omitempty"`
}

// VideoInfo lists the available encodings of a video media entity.
type VideoInfo struct {
	Variants []Variant `json:"variants"`
}

// Media types reported by the stream.
const (
	MediaPhoto       = "photo"
	MediaVideo       = "video"
	MediaAnimatedGIF = "animated_gif"
)

// MediaEntity is a media attachment. URL is the short link embedded in the
// post text, MediaURLHTTPS is the direct image location.
type MediaEntity struct {
	IDStr         string     `json:"id_str"`
	Type          string     `json:"type"`
	URL           string     `json:"url"`
	ExpandedURL   string     `json:"expanded_url,omitempty"`
	MediaURLHTTPS string     `json:"media_url_https"`
	VideoInfo     *VideoInfo `json:"video_info,omitempty"`
}

// Entities carries the media entities of a post.
type Entities struct {
	Media []MediaEntity `json:"media,omitempty"`
}

// ExtendedTweet holds the untruncated content of a post longer than the
// legacy 140 character window.
type ExtendedTweet struct {
	FullText         string    `json:"full_text"`
	Entities         Entities  `json:"entities"`
	ExtendedEntities *Entities `json:"extended_entities,omitempty"`
}

// DeletedStatus identifies a post that was removed by its author.
type DeletedStatus struct {
	IDStr     string `json:"id_str"`
	UserIDStr string `json:"user_id_str"`
}

// DeleteNotice is the stream's deletion marker.
type DeleteNotice struct {
	Status DeletedStatus `json:"status"`
}

// Post is a single status as received from the stream. Raw keeps the exact
// bytes it was decoded from.
type Post struct {
	IDStr                string         `json:"id_str"`
	CreatedAt            string         `json:"created_at,omitempty"`
	Text                 string         `json:"text"`
	Truncated            bool           `json:"truncated"`
	User                 User           `json:"user"`
	InReplyToStatusIDStr string         `json:"in_reply_to_status_id_str,omitempty"`
	InReplyToUserIDStr   string         `json:"in_reply_to_user_id_str,omitempty"`
	RetweetedStatus      *Post          `json:"retweeted_status,omitempty"`
	QuotedStatus         *Post          `json:"quoted_status,omitempty"`
	Entities             Entities       `json:"entities"`
	ExtendedEntities     *Entities      `json:"extended_entities,omitempty"`
	ExtendedTweet        *ExtendedTweet `json:"extended_tweet,omitempty"`
	Delete               *DeleteNotice  `json:"delete,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParsePost decodes a post and keeps a copy of its raw bytes.
func ParsePost(data []byte) (*Post, error) {
	var post Post
	if err := json.Unmarshal(data, &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}
	post.Raw = append(json.RawMessage(nil), data...)
	return &post, nil
}

// IsRetweet reports whether the post is a plain retweet of another post.
func (p *Post) IsRetweet() bool {
	return p.RetweetedStatus != nil
}

// IsReply reports whether the post answers another post.
func (p *Post) IsReply() bool {
	return p.InReplyToStatusIDStr != "" || p.InReplyToUserIDStr != ""
}

// IsSelfReply reports whether the post is a reply to its own author, i.e.
// part of a thread. Non-replies are not self-replies.
func (p *Post) IsSelfReply() bool {
	return p.IsReply() && p.InReplyToUserIDStr == p.User.IDStr
}

// FullText returns the displayable text, preferring the extended text of a
// truncated post.
func (p *Post) FullText() string {
	if p.Truncated && p.ExtendedTweet != nil {
		return p.ExtendedTweet.FullText
	}
	return p.Text
}

// MediaEntities returns the media attachments that belong with FullText.
// A truncated post carries its media in the extended block.
func (p *Post) MediaEntities() []MediaEntity {
	if p.Truncated && p.ExtendedTweet != nil {
		if p.ExtendedTweet.ExtendedEntities != nil {
			return p.ExtendedTweet.ExtendedEntities.Media
		}
		return nil
	}
	if p.ExtendedEntities != nil {
		return p.ExtendedEntities.Media
	}
	return nil
}

// Permalink is the public URL of the post.
func (p *Post) Permalink() string {
	return Permalink(p.User.ScreenName, p.IDStr)
}

// Permalink builds the public URL of a post from its author handle and id.
func Permalink(screenName, id string) string {
	return "https://twitter.com/" + strings.TrimPrefix(screenName, "@") + "/status/" + id
}

// VideoURL picks the first video encoding, falling back to the first
// variant of any kind. It returns "" when no variant exists.
func (m *MediaEntity) VideoURL() string {
	if m.VideoInfo == nil || len(m.VideoInfo.Variants) == 0 {
		return ""
	}
	for _, v := range m.VideoInfo.Variants {
		if v.URL != "" && strings.HasPrefix(v.ContentType, "video/") {
			return v.URL
		}
	}
	return m.VideoInfo.Variants[0].URL
}
