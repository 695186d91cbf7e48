// Copyright 2024-2026 Aiku AI

package twitter

import (
	"testing"
)

const truncatedPost = `{
	"id_str": "100",
	"text": "Hello <world> &amp; fri…",
	"truncated": true,
	"user": {"id_str": "7", "screen_name": "alice", "name": "Alice"},
	"extended_tweet": {
		"full_text": "Hello <world> &amp; friends https://t.co/abc",
		"extended_entities": {"media": [
			{"id_str": "m1", "type": "photo", "url": "https://t.co/abc", "media_url_https": "https://pbs.twimg.com/media/a.jpg"}
		]}
	}
}`

func TestParsePost_KeepsRaw(t *testing.T) {
	t.Parallel()
	post, err := ParsePost([]byte(truncatedPost))
	if err != nil {
		t.Fatalf("ParsePost: %v", err)
	}
	if string(post.Raw) != truncatedPost {
		t.Error("Raw should hold the exact input bytes")
	}
	if post.User.ScreenName != "alice" || post.IDStr != "100" {
		t.Errorf("unexpected decode: %+v", post)
	}
}

func TestParsePost_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := ParsePost([]byte(`{"id_str":`)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestPost_TruncatedUsesExtendedFields(t *testing.T) {
	t.Parallel()
	post, err := ParsePost([]byte(truncatedPost))
	if err != nil {
		t.Fatalf("ParsePost: %v", err)
	}
	if got := post.FullText(); got != "Hello <world> &amp; friends https://t.co/abc" {
		t.Errorf("FullText: got %q", got)
	}
	media := post.MediaEntities()
	if len(media) != 1 || media[0].Type != MediaPhoto {
		t.Fatalf("MediaEntities: got %+v", media)
	}
}

func TestPost_UntruncatedIgnoresExtendedTweet(t *testing.T) {
	t.Parallel()
	post := &Post{
		Text:             "short",
		ExtendedTweet:    &ExtendedTweet{FullText: "long"},
		ExtendedEntities: &Entities{Media: []MediaEntity{{Type: MediaPhoto}}},
	}
	if post.FullText() != "short" {
		t.Errorf("FullText: got %q", post.FullText())
	}
	if len(post.MediaEntities()) != 1 {
		t.Errorf("expected top-level extended entities")
	}
}

func TestPost_ReplyPredicates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		post      Post
		reply     bool
		selfReply bool
	}{
		{"plain", Post{User: User{IDStr: "1"}}, false, false},
		{"thread", Post{User: User{IDStr: "1"}, InReplyToStatusIDStr: "9", InReplyToUserIDStr: "1"}, true, true},
		{"cross user", Post{User: User{IDStr: "1"}, InReplyToStatusIDStr: "9", InReplyToUserIDStr: "2"}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.post.IsReply() != tt.reply {
				t.Errorf("IsReply: got %v", tt.post.IsReply())
			}
			if tt.post.IsSelfReply() != tt.selfReply {
				t.Errorf("IsSelfReply: got %v", tt.post.IsSelfReply())
			}
		})
	}
}

func TestMediaEntity_VideoURL(t *testing.T) {
	t.Parallel()
	m := MediaEntity{VideoInfo: &VideoInfo{Variants: []Variant{
		{ContentType: "application/x-mpegURL", URL: "https://video/pl.m3u8"},
		{ContentType: "video/mp4", URL: "https://video/a.mp4", Bitrate: 832000},
	}}}
	if got := m.VideoURL(); got != "https://video/a.mp4" {
		t.Errorf("VideoURL: got %q", got)
	}

	hlsOnly := MediaEntity{VideoInfo: &VideoInfo{Variants: []Variant{{ContentType: "application/x-mpegURL", URL: "https://video/pl.m3u8"}}}}
	if got := hlsOnly.VideoURL(); got != "https://video/pl.m3u8" {
		t.Errorf("VideoURL fallback: got %q", got)
	}

	if (&MediaEntity{}).VideoURL() != "" {
		t.Error("expected empty VideoURL without video info")
	}
}

func TestPermalink(t *testing.T) {
	t.Parallel()
	if got := Permalink("@alice", "42"); got != "https://twitter.com/alice/status/42" {
		t.Errorf("Permalink: got %q", got)
	}
}
