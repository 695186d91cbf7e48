// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRouter_Classification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"malformed", `{"id_str": "1", `, kindMalformed},
		{"not json", `hello`, kindMalformed},
		{"array", `[1, 2]`, kindIgnored},
		{"delete", `{"delete": {"status": {"id_str": "1", "user_id_str": "7"}}}`, kindDelete},
		{"limit", `{"limit": {"track": 12}}`, kindControl},
		{"warning", `{"warning": {"code": "FALLING_BEHIND", "message": "slow", "percent_full": 60}}`, kindControl},
		{"disconnect", `{"disconnect": {"code": 7, "reason": "duplicate stream"}}`, kindControl},
		{"post", postJSON("1", "99", "someone", "hi"), kindPost},
		{"unknown object", `{"friends": [1, 2, 3]}`, kindIgnored},
		{"post with wrong field types", `{"id_str": "1", "user": "nope"}`, kindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, _, _, _ := newTestPipeline("7")
			r := NewRouter(p, NewMetrics(nil), zerolog.Nop())
			if got := r.Route(context.Background(), []byte(tt.frame)); got != tt.want {
				t.Errorf("Route: got %q, want %q", got, tt.want)
			}
			p.Wait()
		})
	}
}

func TestRouter_PostReachesDelivery(t *testing.T) {
	t.Parallel()
	p, deliverer, _, _ := newTestPipeline("7")
	r := NewRouter(p, NewMetrics(nil), zerolog.Nop())

	r.Route(context.Background(), []byte(postJSON("1", "7", "alice", "hi &amp; bye")))
	msg := deliverer.next(t)
	if msg.Text != "**@alice** https://twitter.com/alice/status/1\nhi & bye" {
		t.Errorf("Text: got %q", msg.Text)
	}
}

func TestRouter_MalformedDoesNotDisturbLaterFrames(t *testing.T) {
	t.Parallel()
	p, deliverer, _, _ := newTestPipeline("7")
	r := NewRouter(p, NewMetrics(nil), zerolog.Nop())

	r.Route(context.Background(), []byte(`{"id_str": `))
	r.Route(context.Background(), []byte(postJSON("2", "7", "alice", "still here")))
	if msg := deliverer.next(t); msg.PostID != "2" {
		t.Errorf("PostID: got %q", msg.PostID)
	}
}

func TestRouter_DeletionNotice(t *testing.T) {
	t.Parallel()
	p, deliverer, _, index := newTestPipeline("7")
	index.add("55", "ch1", "m1")
	index.add("55", "ch2", "m2")
	r := NewRouter(p, NewMetrics(nil), zerolog.Nop())

	r.Route(context.Background(), []byte(`{"delete": {"status": {"id_str": "55", "user_id_str": "7"}}}`))
	p.Wait()
	if got := deliverer.Deleted(); len(got) != 2 {
		t.Errorf("delete requests: got %v, want 2", got)
	}
	deliverer.expectNone(t, 20*time.Millisecond)
}
