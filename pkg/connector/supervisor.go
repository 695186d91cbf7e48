// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-tweetbridge/pkg/archive"
	"github.com/aiku/mattermost-tweetbridge/pkg/twitter"
)

// ErrBadCredentials is returned by Run when the stream rejects the
// bridge's credentials. Retrying cannot fix it.
var ErrBadCredentials = errors.New("stream credentials were rejected")

// ErrNotRunning is returned by Inject when the supervisor loop has exited.
var ErrNotRunning = errors.New("supervisor is not running")

// Housekeeping schedule.
const (
	DefaultReloadInterval = 5 * time.Minute
	DefaultSweepDelay     = 10 * time.Second
	DefaultSweepInterval  = 24 * time.Hour
)

const inboxSize = 64

type eventKind int

const (
	eventConnected eventKind = iota
	eventFrame
	eventEnded
)

// streamEvent is sent by a stream goroutine to the loop. gen identifies
// the session that produced it.
type streamEvent struct {
	gen   uint64
	kind  eventKind
	frame []byte
	err   error
}

type injection struct {
	post *twitter.Post
	opts HandleOptions
	done chan bool
}

// SupervisorParams bundles the collaborators of a Supervisor.
type SupervisorParams struct {
	Transport Transport
	Accounts  AccountSource
	Index     DeliveryIndex
	Deliverer Deliverer
	Archive   Archiver
	Sweeper   Sweeper
	Pruner    DeliveryPruner
	Media     MediaProcessor
	Metrics   *Metrics
	Log       zerolog.Logger

	EscapeOpen  string
	EscapeClose string

	// Zero values select the defaults.
	ReloadInterval time.Duration
	SweepDelay     time.Duration
	SweepInterval  time.Duration
	// Retention is the age after which delivery records are pruned.
	Retention      time.Duration
}

// Supervisor owns the stream connection. A single loop goroutine (Run)
// holds the session state and runs the router and the pipeline filters,
// so none of it is locked.
type Supervisor struct {
	transport Transport
	accounts  AccountSource
	sweeper   Sweeper
	pruner    DeliveryPruner
	session   *Session
	pipeline  *Pipeline
	router    *Router
	metrics   *Metrics
	log       zerolog.Logger

	reloadInterval time.Duration
	sweepDelay     time.Duration
	sweepInterval  time.Duration
	retention      time.Duration
	now            func() time.Time

	inbox      chan streamEvent
	injections chan injection
	stopped    chan struct{}

	reloadPending atomic.Bool
	sweeping      atomic.Bool
	state         atomic.Int32

	// Loop-owned.
	backoff      Backoff
	generation   uint64
	cancelStream context.CancelFunc
	backoffTimer *time.Timer

	wg sync.WaitGroup
}

// NewSupervisor wires a supervisor and its pipeline.
func NewSupervisor(params SupervisorParams) *Supervisor {
	metrics := params.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	log := params.Log.With().Str("component", "supervisor").Logger()
	session := NewSession()
	pipeline := NewPipeline(PipelineParams{
		Session:     session,
		Archive:     params.Archive,
		Deliverer:   params.Deliverer,
		Deletions:   NewDeletionHandler(params.Index, params.Deliverer, metrics, params.Log),
		Media:       params.Media,
		Metrics:     metrics,
		Log:         params.Log,
		EscapeOpen:  params.EscapeOpen,
		EscapeClose: params.EscapeClose,
	})
	s := &Supervisor{
		transport:      params.Transport,
		accounts:       params.Accounts,
		sweeper:        params.Sweeper,
		pruner:         params.Pruner,
		session:        session,
		pipeline:       pipeline,
		router:         NewRouter(pipeline, metrics, params.Log),
		metrics:        metrics,
		log:            log,
		reloadInterval: orDefault(params.ReloadInterval, DefaultReloadInterval),
		sweepDelay:     orDefault(params.SweepDelay, DefaultSweepDelay),
		sweepInterval:  orDefault(params.SweepInterval, DefaultSweepInterval),
		retention:      orDefault(params.Retention, archive.DefaultRetention),
		now:            time.Now,
		inbox:          make(chan streamEvent, inboxSize),
		injections:     make(chan injection),
		stopped:        make(chan struct{}),
	}
	s.setState(StateDisconnected)
	return s
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// State returns the current connection state. Safe from any goroutine.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// ScheduleReload asks the loop to reconnect with a fresh tracked set at
// its next periodic check.
func (s *Supervisor) ScheduleReload() {
	s.reloadPending.Store(true)
	s.log.Debug().Msg("Reload scheduled")
}

// Inject runs a manually supplied post through the pipeline on the loop.
// With bypass set, the author and dedup filters are skipped. A non-empty
// channelID replaces the author's subscribed channels. It reports whether
// delivery was started.
func (s *Supervisor) Inject(ctx context.Context, post *twitter.Post, bypass bool, channelID string) (bool, error) {
	inj := injection{
		post: post,
		opts: HandleOptions{Manual: true, Bypass: bypass, ChannelID: channelID},
		done: make(chan bool, 1),
	}
	select {
	case s.injections <- inj:
	case <-s.stopped:
		return false, ErrNotRunning
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case started := <-inj.done:
		return started, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Run connects and processes stream events until ctx is cancelled, which
// returns nil, or the credentials are rejected, which returns
// ErrBadCredentials. Background deliveries are awaited before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer s.shutdown()

	reload := time.NewTicker(s.reloadInterval)
	defer reload.Stop()
	sweep := time.NewTimer(s.sweepDelay)
	defer sweep.Stop()

	s.log.Info().Msg("Starting stream supervisor")
	s.connect(ctx)

	for {
		var backoffC <-chan time.Time
		if s.backoffTimer != nil {
			backoffC = s.backoffTimer.C
		}

		select {
		case <-ctx.Done():
			s.log.Info().Msg("Stopping stream supervisor")
			return nil
		case ev := <-s.inbox:
			if err := s.handleEvent(ctx, ev); err != nil {
				return err
			}
		case inj := <-s.injections:
			inj.done <- s.pipeline.HandlePost(ctx, inj.post, inj.opts)
		case <-reload.C:
			if s.reloadPending.CompareAndSwap(true, false) {
				s.log.Info().Msg("Reloading tracked accounts")
				s.connect(ctx)
			}
		case <-sweep.C:
			s.startSweep(ctx)
			sweep.Reset(s.sweepInterval)
		case <-backoffC:
			s.backoffTimer = nil
			s.reopen(ctx)
		}
	}
}

func (s *Supervisor) shutdown() {
	s.stopBackoff()
	if s.cancelStream != nil {
		s.cancelStream()
		s.cancelStream = nil
	}
	s.generation++
	s.wg.Wait()
	s.pipeline.Wait()
	s.setState(StateDisconnected)
}

// connect closes the current session, reloads the tracked set and opens a
// new stream for it. An empty set leaves the supervisor idle.
func (s *Supervisor) connect(ctx context.Context) {
	s.close()

	ids, err := s.accounts.TrackedAccountIDs(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load tracked accounts, will retry on next reload check")
		s.reloadPending.Store(true)
		return
	}
	s.session.Tracked = NewTrackedSet(ids)
	s.metrics.trackedAccounts.Set(float64(s.session.Tracked.Len()))
	if s.session.Tracked.Len() == 0 {
		s.log.Info().Msg("No tracked accounts, staying disconnected")
		return
	}
	s.open(ctx)
}

// close tears down the active session and forgets the tracked set and
// the dedup window. Events still in flight from the old session are
// discarded.
func (s *Supervisor) close() {
	s.stopBackoff()
	if s.cancelStream != nil {
		s.cancelStream()
		s.cancelStream = nil
	}
	s.generation++
	s.session.Clear()
	s.metrics.trackedAccounts.Set(0)
	s.setState(StateDisconnected)
}

// reopen starts a new stream with the current tracked set. The dedup
// window is kept.
func (s *Supervisor) reopen(ctx context.Context) {
	if s.session.Tracked.Len() == 0 {
		s.setState(StateDisconnected)
		return
	}
	s.log.Info().Int("tracked", s.session.Tracked.Len()).Msg("Reopening stream")
	s.open(ctx)
}

func (s *Supervisor) open(ctx context.Context) {
	if s.cancelStream != nil {
		s.cancelStream()
	}
	s.generation++
	gen := s.generation
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancelStream = cancel
	follow := s.session.Tracked.IDs()

	s.setState(StateConnecting)
	s.log.Debug().Uint64("generation", gen).Int("tracked", len(follow)).Msg("Opening stream")

	send := func(ev streamEvent) {
		ev.gen = gen
		select {
		case s.inbox <- ev:
		case <-streamCtx.Done():
		}
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.transport.Stream(streamCtx, follow,
			func() { send(streamEvent{kind: eventConnected}) },
			func(frame []byte) { send(streamEvent{kind: eventFrame, frame: frame}) },
		)
		send(streamEvent{kind: eventEnded, err: err})
	}()
}

func (s *Supervisor) handleEvent(ctx context.Context, ev streamEvent) error {
	if ev.gen != s.generation {
		s.log.Trace().Uint64("generation", ev.gen).Msg("Dropping event from closed stream")
		return nil
	}
	switch ev.kind {
	case eventConnected:
		s.backoff.Reset()
		s.setState(StateStreaming)
		s.log.Info().Int("tracked", s.session.Tracked.Len()).Msg("Stream connected")
	case eventFrame:
		s.router.Route(ctx, ev.frame)
	case eventEnded:
		return s.handleEnd(ctx, ev.err)
	}
	return nil
}

func (s *Supervisor) handleEnd(ctx context.Context, err error) error {
	if s.cancelStream != nil {
		s.cancelStream()
		s.cancelStream = nil
	}
	class := twitter.Classify(err)
	s.metrics.streamEnds.WithLabelValues(class.String()).Inc()
	log := s.log.With().Err(err).Stringer("class", class).Logger()

	switch ReactionFor(class) {
	case ReactBackoff:
		delay := s.backoff.Next(class)
		log.Warn().Dur("delay", delay).Msg("Stream ended, backing off")
		s.setState(StateBackoff)
		s.stopBackoff()
		s.backoffTimer = time.NewTimer(delay)
	case ReactFatal:
		log.Error().Msg("Stream rejected credentials")
		s.close()
		return fmt.Errorf("%w: %w", ErrBadCredentials, err)
	case ReactReconnect:
		log.Warn().Msg("Stream ended unexpectedly, reconnecting")
		s.connect(ctx)
	case ReactClear:
		log.Debug().Msg("Stream aborted")
		s.close()
	}
	return nil
}

func (s *Supervisor) stopBackoff() {
	if s.backoffTimer != nil {
		s.backoffTimer.Stop()
		s.backoffTimer = nil
	}
}

func (s *Supervisor) startSweep(ctx context.Context) {
	if (s.sweeper == nil && s.pruner == nil) || !s.sweeping.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sweeping.Store(false)
		if s.sweeper != nil {
			removed, err := s.sweeper.Sweep(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("Archive sweep failed")
			} else {
				s.log.Info().Int("removed", removed).Msg("Archive sweep finished")
			}
		}
		if s.pruner != nil {
			pruned, err := s.pruner.PruneDeliveries(ctx, s.now().Add(-s.retention))
			if err != nil {
				s.log.Error().Err(err).Msg("Failed to prune delivery records")
				return
			}
			s.log.Info().Int("pruned", pruned).Msg("Delivery records pruned")
		}
	}()
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
	s.session.State = st
	s.metrics.setState(st)
}
