// Copyright 2024-2026 Aiku AI

// Package tweetfmt renders stream posts as Mattermost markdown.
package tweetfmt

import (
	"html"
	"strings"
)

// Default delimiters that keep Mattermost from unfurling a link. Mattermost
// neither autolinks nor previews text inside an inline code span, while a
// bare or angle-bracketed URL gets an OpenGraph preview.
const (
	DefaultEscapeOpen  = "`"
	DefaultEscapeClose = "`"
)

// Message holds the parts of a rendered post.
type Message struct {
	Handle    string
	Permalink string
	Text      string
	// RetweetOf is the handle of the original author of a retweet.
	RetweetOf string
	// QuoteHandle and QuoteLink describe a quoted post, if any.
	QuoteHandle string
	QuoteLink   string
}

// DecodeEntities turns HTML character references such as &amp; into the
// characters they stand for.
func DecodeEntities(text string) string {
	if !strings.Contains(text, "&") {
		return text
	}
	return html.UnescapeString(text)
}

// LinkEscaper wraps links in escape delimiters, at most once per distinct
// link.
type LinkEscaper struct {
	Open, Close string
	seen        map[string]struct{}
}

// NewLinkEscaper returns an escaper using the given delimiters, or the
// defaults when both are empty.
func NewLinkEscaper(openDelim, closeDelim string) *LinkEscaper {
	if openDelim == "" && closeDelim == "" {
		openDelim, closeDelim = DefaultEscapeOpen, DefaultEscapeClose
	}
	return &LinkEscaper{Open: openDelim, Close: closeDelim, seen: make(map[string]struct{})}
}

// Escape wraps the first occurrence of link in text. A link that was
// already handled by this escaper is left alone.
func (e *LinkEscaper) Escape(text, link string) string {
	if link == "" {
		return text
	}
	if _, ok := e.seen[link]; ok {
		return text
	}
	e.seen[link] = struct{}{}
	return strings.Replace(text, link, e.Open+link+e.Close, 1)
}

// Render builds the chat message: a header naming the author with the
// permalink, then the text (prefixed for retweets), then a quote line.
func Render(m Message) string {
	var b strings.Builder
	b.WriteString("**@")
	b.WriteString(strings.TrimPrefix(m.Handle, "@"))
	b.WriteString("** ")
	b.WriteString(m.Permalink)

	text := strings.TrimSpace(m.Text)
	if text != "" {
		b.WriteString("\n")
		if m.RetweetOf != "" {
			b.WriteString("RT @")
			b.WriteString(strings.TrimPrefix(m.RetweetOf, "@"))
			b.WriteString(": ")
		}
		b.WriteString(text)
	}

	if m.QuoteLink != "" {
		b.WriteString("\n> QT @")
		b.WriteString(strings.TrimPrefix(m.QuoteHandle, "@"))
		b.WriteString(": ")
		b.WriteString(m.QuoteLink)
	}
	return b.String()
}
