// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-tweetbridge/pkg/store"
	"github.com/aiku/mattermost-tweetbridge/pkg/twitter"
)

const testTimeout = 2 * time.Second

// waitFor polls cond until it holds or the test timeout passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// streamCall is one Stream invocation on fakeTransport. The test drives it
// through onConnect, onMessage and end.
type streamCall struct {
	ctx       context.Context
	follow    []string
	onConnect func()
	onMessage func([]byte)
	end       chan error
}

func (c *streamCall) connect()           { c.onConnect() }
func (c *streamCall) send(frame string)  { c.onMessage([]byte(frame)) }
func (c *streamCall) finish(err error)   { c.end <- err }
func (c *streamCall) cancelled() bool    { return c.ctx.Err() != nil }
func (c *streamCall) followed() []string { return c.follow }

// fakeTransport hands every Stream call to the test.
type fakeTransport struct {
	calls chan *streamCall
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{calls: make(chan *streamCall, 16)}
}

func (f *fakeTransport) Stream(ctx context.Context, follow []string, onConnect func(), onMessage func([]byte)) error {
	c := &streamCall{
		ctx:       ctx,
		follow:    follow,
		onConnect: onConnect,
		onMessage: onMessage,
		end:       make(chan error, 1),
	}
	f.calls <- c
	select {
	case err := <-c.end:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) next(t *testing.T) *streamCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a stream to be opened")
		return nil
	}
}

func (f *fakeTransport) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected stream opened following %v", c.follow)
	case <-time.After(wait):
	}
}

// fakeAccounts is an AccountSource with a settable result.
type fakeAccounts struct {
	mu    sync.Mutex
	ids   []string
	err   error
	loads int
}

func (f *fakeAccounts) TrackedAccountIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.ids...), nil
}

func (f *fakeAccounts) set(ids []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = ids
	f.err = err
}

func (f *fakeAccounts) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// recordingDeliverer captures deliveries and deletions.
type recordingDeliverer struct {
	mu         sync.Mutex
	delivered  chan *Message
	deleted    []string
	deliverErr error
	deleteErrs map[string]error
}

func newRecordingDeliverer() *recordingDeliverer {
	return &recordingDeliverer{
		delivered:  make(chan *Message, 32),
		deleteErrs: make(map[string]error),
	}
}

func (r *recordingDeliverer) Deliver(_ context.Context, msg *Message) error {
	r.delivered <- msg
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliverErr
}

func (r *recordingDeliverer) DeleteMessage(_ context.Context, channelID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, channelID+"/"+messageID)
	return r.deleteErrs[messageID]
}

func (r *recordingDeliverer) Deleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

func (r *recordingDeliverer) next(t *testing.T) *Message {
	t.Helper()
	select {
	case msg := <-r.delivered:
		return msg
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a delivery")
		return nil
	}
}

func (r *recordingDeliverer) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-r.delivered:
		t.Fatalf("unexpected delivery of post %s", msg.PostID)
	case <-time.After(wait):
	}
}

// memArchive is an in-memory Archiver.
type memArchive struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newMemArchive() *memArchive {
	return &memArchive{files: make(map[string][]byte)}
}

func (a *memArchive) Save(name string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.files[name] = append([]byte(nil), data...)
	return nil
}

func (a *memArchive) Get(name string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[name]
	return data, ok
}

// fakeIndex is an in-memory DeliveryIndex.
type fakeIndex struct {
	mu         sync.Mutex
	deliveries map[string][]store.Delivery
	forgotten  []string
	err        error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{deliveries: make(map[string][]store.Delivery)}
}

func (f *fakeIndex) add(postID, channelID, messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[postID] = append(f.deliveries[postID], store.Delivery{
		PostID: postID, ChannelID: channelID, MessageID: messageID,
	})
}

func (f *fakeIndex) DeliveriesForPost(_ context.Context, postID string) ([]store.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]store.Delivery(nil), f.deliveries[postID]...), nil
}

func (f *fakeIndex) ForgetDelivery(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, channelID+"/"+messageID)
	return nil
}

func (f *fakeIndex) Forgotten() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.forgotten...)
}

// postJSON builds a raw stream post.
func postJSON(id, authorID, handle, text string) string {
	b, _ := json.Marshal(map[string]any{
		"id_str": id,
		"text":   text,
		"user":   map[string]string{"id_str": authorID, "screen_name": handle},
	})
	return string(b)
}

func mustParse(t *testing.T, raw string) *twitter.Post {
	t.Helper()
	post, err := twitter.ParsePost([]byte(raw))
	if err != nil {
		t.Fatalf("ParsePost: %v", err)
	}
	return post
}

// newTestPipeline returns a pipeline with a session tracking the given
// accounts.
func newTestPipeline(tracked ...string) (*Pipeline, *recordingDeliverer, *memArchive, *fakeIndex) {
	session := NewSession()
	session.Tracked = NewTrackedSet(tracked)
	deliverer := newRecordingDeliverer()
	arch := newMemArchive()
	index := newFakeIndex()
	metrics := NewMetrics(nil)
	log := zerolog.Nop()
	p := NewPipeline(PipelineParams{
		Session:     session,
		Archive:     arch,
		Deliverer:   deliverer,
		Deletions:   NewDeletionHandler(index, deliverer, metrics, log),
		Metrics:     metrics,
		Log:         log,
		EscapeOpen:  "<",
		EscapeClose: ">",
	})
	return p, deliverer, arch, index
}

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu     sync.Mutex
	calls  []endpointCall
	nextID int

	// Me is returned by GET /api/v4/users/me for the token "test-token".
	Me *model.User
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
	// FailChannels causes post creation in these channels to return 500.
	FailChannels map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Me:            &model.User{Id: "bot-user-id", Username: "tweetbridge"},
		FailEndpoints: make(map[string]bool),
		FailChannels:  make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// CreatedPosts decodes the bodies of every POST /api/v4/posts call.
func (f *fakeMM) CreatedPosts() []*model.Post {
	var posts []*model.Post
	for _, c := range f.Calls() {
		if c.Method != http.MethodPost || c.Path != "/api/v4/posts" {
			continue
		}
		var p model.Post
		if err := json.Unmarshal([]byte(c.Body), &p); err == nil {
			posts = append(posts, &p)
		}
	}
	return posts
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/api/v4/users/me":
		auth := r.Header.Get("Authorization")
		if auth != "BEARER test-token" && auth != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		_ = json.NewEncoder(w).Encode(f.Me)

	case r.Method == http.MethodPost && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		if f.FailChannels[post.ChannelId] {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
		f.mu.Lock()
		f.nextID++
		post.Id = "mm-post-" + strconv.Itoa(f.nextID)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&post)

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/api/v4/posts/"):
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

// fakeChannelIndex is an in-memory ChannelIndex.
type fakeChannelIndex struct {
	mu       sync.Mutex
	channels map[string][]string
	recorded []store.Delivery
	err      error
}

func (f *fakeChannelIndex) ChannelsForAccount(_ context.Context, accountID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.channels[accountID], nil
}

func (f *fakeChannelIndex) RecordDelivery(_ context.Context, d store.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, d)
	return nil
}

func (f *fakeChannelIndex) Recorded() []store.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Delivery(nil), f.recorded...)
}
