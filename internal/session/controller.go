// Package session owns the session lifecycle: the idle/starting/active/
// ending state machine, the per-session loops, and the end-of-session
// durability path.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/poiselabs/poise/internal/analysis"
	"github.com/poiselabs/poise/internal/capture"
	"github.com/poiselabs/poise/internal/coach"
	"github.com/poiselabs/poise/internal/domain"
	"github.com/poiselabs/poise/internal/metrics"
	"github.com/poiselabs/poise/internal/store"
	"github.com/poiselabs/poise/internal/transport"
)

// State is the session lifecycle state.
type State int

// Session states.
const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateEnding
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	default:
		return "idle"
	}
}

// adviseInterval spaces coaching-provider calls during an active session.
const adviseInterval = 5 * time.Second

// persistTimeout bounds the end-of-session durability write. The write runs
// on its own context so a cancelled caller cannot skip persistence.
const persistTimeout = 5 * time.Second

// Transport is the duplex channel the controller drives. *transport.Stream
// satisfies it.
type Transport interface {
	SetOnClosed(func(error))
	OnEvent(transport.Listener)
	Connect(ctx context.Context, sessionID string) error
	Activate()
	SendAudio(chunk []byte)
	SendObservation(obs domain.Observation)
	Close() error
}

// StreamFactory builds a fresh transport per session.
type StreamFactory func() Transport

// Config configures one session.
type Config struct {
	FocusAreas    []domain.FocusArea
	DisableCamera bool
	DisableMic    bool
}

// Status is a point-in-time snapshot for callers.
type Status struct {
	State        string                   `json:"state"`
	SessionID    string                   `json:"session_id,omitempty"`
	Duration     time.Duration            `json:"duration"`
	Metrics      domain.ConfidenceMetrics `json:"metrics"`
	Cues         []domain.CoachingCue     `json:"cues"`
	ThrottleMode domain.ThrottleMode      `json:"throttle_mode"`
}

// Controller coordinates capture, analysis, transport, and durability for
// the single active session. Only one session may be active process-wide;
// the active SessionRecord is mutated exclusively by the controller's loop.
type Controller struct {
	profile   domain.CapabilityProfile
	throttle  analysis.ThrottleSource
	analyzers map[domain.FeatureKind]analysis.Analyzer
	agg       *analysis.Aggregator
	capmgr    capture.Manager
	newStream StreamFactory
	repo      store.Repository
	quota     QuotaService
	stats     StatsService
	syncer    Syncer
	provider  coach.Provider

	mu       sync.Mutex
	state    State
	record   *domain.SessionRecord
	handle   *capture.Handle
	stream   Transport
	pipeline *analysis.Pipeline

	cues       *cueQueue
	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup
	eventCh    chan transport.Event
	closedCh   chan error

	durationSecs atomic.Int64
	degraded     atomic.Bool
	endReason    atomic.Value // string

	// Running aggregates, written only by the loop goroutine and read after
	// the loop has been joined.
	tickCount    int
	sumOverall   float64
	peakOverall  float64
	earlyOverall float64
	earlySet     bool
	lastObs      domain.Observation
}

// Deps bundles the controller's collaborators.
type Deps struct {
	Profile   domain.CapabilityProfile
	Throttle  analysis.ThrottleSource
	Analyzers map[domain.FeatureKind]analysis.Analyzer
	Capture   capture.Manager
	Stream    StreamFactory
	Repo      store.Repository
	Quota     QuotaService
	Stats     StatsService
	Syncer    Syncer
	Provider  coach.Provider
}

// NewController creates the session controller.
func NewController(d Deps) *Controller {
	return &Controller{
		profile:   d.Profile,
		throttle:  d.Throttle,
		analyzers: d.Analyzers,
		agg:       analysis.NewAggregator(),
		capmgr:    d.Capture,
		newStream: d.Stream,
		repo:      d.Repo,
		quota:     d.Quota,
		stats:     d.Stats,
		syncer:    d.Syncer,
		provider:  d.Provider,
		cues:      newCueQueue(),
	}
}

// Start begins a session: quota check, capture acquisition, transport
// connect, then the active loops. On any failure it unwinds what it acquired
// and returns to idle. Only quota, capture, and already-active failures
// surface to the caller.
func (c *Controller) Start(ctx context.Context, cfg Config) (string, error) {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateEnded {
		st := c.state
		c.mu.Unlock()
		return "", fmt.Errorf("start in state %s: %w", st, domain.ErrAlreadyActive)
	}
	c.state = StateStarting
	c.mu.Unlock()

	// Entitlement precondition: fail fast before touching any resource.
	if err := c.quota.Consume(ctx); err != nil {
		c.toIdle()
		return "", fmt.Errorf("quota check: %w", err)
	}

	handle, err := c.acquireCapture(ctx, cfg)
	if err != nil {
		c.toIdle()
		return "", err
	}

	sessionID := uuid.NewString()
	stream := c.newStream()
	c.eventCh = make(chan transport.Event, 32)
	c.closedCh = make(chan error, 1)

	stream.OnEvent(func(ev transport.Event) {
		select {
		case c.eventCh <- ev:
		default:
			slog.Warn("Inbound event queue full, dropping event", "event", ev.Type)
		}
	})
	stream.SetOnClosed(func(err error) {
		select {
		case c.closedCh <- err:
		default:
		}
	})

	if err := stream.Connect(ctx, sessionID); err != nil {
		if relErr := c.capmgr.Release(handle); relErr != nil {
			slog.Error("Failed to release capture after connect failure", "error", relErr)
		}
		c.toIdle()
		return "", fmt.Errorf("transport connect: %w", err)
	}

	// Per-session state reset.
	c.agg.Reset()
	c.agg.SetFocusAreas(cfg.FocusAreas)
	c.cues.reset()
	c.durationSecs.Store(0)
	c.degraded.Store(false)
	c.endReason.Store("user")
	c.tickCount = 0
	c.sumOverall = 0
	c.peakOverall = 0
	c.earlySet = false
	c.lastObs = domain.Observation{}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.record = &domain.SessionRecord{
		SessionID: sessionID,
		StartedAt: time.Now(),
	}
	c.handle = handle
	c.stream = stream
	c.pipeline = analysis.NewPipeline(c.profile, c.throttle, c.analyzers)
	c.loopCancel = cancel
	c.state = StateActive
	c.mu.Unlock()

	stream.Activate()

	c.loopWG.Add(1)
	go c.run(loopCtx, handle, stream)

	metrics.IncSessionsStarted()
	slog.Info("Session started", "session_id", sessionID, "tier", c.profile.Tier)
	return sessionID, nil
}

// acquireCapture maps profile capability onto capture constraints. A
// DeviceUnavailable failure is retried exactly once; everything else
// surfaces immediately.
func (c *Controller) acquireCapture(ctx context.Context, cfg Config) (*capture.Handle, error) {
	cons := capture.Constraints{
		FrameRate:  c.profile.MaxFrameRate,
		Width:      640,
		Height:     480,
		AudioChunk: 250 * time.Millisecond,
		WantCamera: !cfg.DisableCamera,
		WantMic:    !cfg.DisableMic,
	}

	handle, err := c.capmgr.Acquire(ctx, cons)
	if errors.Is(err, domain.ErrDeviceUnavailable) {
		slog.Warn("Capture device unavailable, retrying once", "error", err)
		handle, err = c.capmgr.Acquire(ctx, cons)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire capture: %w", err)
	}
	return handle, nil
}

func (c *Controller) toIdle() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

// run is the session's single owner loop. All SessionRecord mutation
// happens here until End joins it.
func (c *Controller) run(ctx context.Context, handle *capture.Handle, stream Transport) {
	defer c.loopWG.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	adviseCh := make(chan *domain.CoachingCue, 1)
	adviseInFlight := false
	lastAdvise := time.Time{}

	var lastAudio capture.AudioChunk

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-handle.Frames():
			if !ok {
				continue
			}
			obs, processed := c.pipeline.ProcessTick(ctx, frame, lastAudio)
			if !processed {
				continue
			}
			c.lastObs = obs
			c.agg.Ingest(obs)
			stream.SendObservation(obs)

		case chunk, ok := <-handle.AudioChunks():
			if !ok {
				continue
			}
			lastAudio = chunk
			stream.SendAudio(chunk.PCM)

		case ev := <-c.eventCh:
			c.handleInbound(ev)

		case err := <-c.closedCh:
			// Mid-session transport loss degrades to local-only mode; the
			// session ends gracefully and the record queues for sync.
			c.degraded.Store(true)
			c.endReason.Store("transport_closed")
			slog.Warn("Transport closed mid-session, ending session", "error", err)
			go func() {
				if _, endErr := c.End(context.Background()); endErr != nil {
					slog.Debug("Self-end after transport close", "error", endErr)
				}
			}()

		case cue := <-adviseCh:
			adviseInFlight = false
			if cue != nil {
				c.cues.push(*cue)
			}

		case now := <-ticker.C:
			c.durationSecs.Add(1)
			c.sampleTick(now)

			if !adviseInFlight && now.Sub(lastAdvise) >= adviseInterval {
				adviseInFlight = true
				lastAdvise = now
				go c.advise(ctx, adviseCh)
			}
		}
	}
}

// sampleTick folds the current metrics into the running aggregates and the
// per-session series. One sample per second keeps the series bounded.
func (c *Controller) sampleTick(now time.Time) {
	cur := c.agg.Current()
	if c.agg.Len() == 0 {
		return
	}

	c.tickCount++
	c.sumOverall += cur.Overall
	if cur.Overall > c.peakOverall {
		c.peakOverall = cur.Overall
	}
	if !c.earlySet && c.agg.Len() >= 10 {
		c.earlyOverall = cur.Overall
		c.earlySet = true
	}

	rec := c.record
	if rec == nil {
		return
	}

	if block, ok := c.lastObs.Scores[domain.FeatureEmotionAnalysis]; ok {
		rec.EmotionsSeries = append(rec.EmotionsSeries, domain.EmotionSample{
			Timestamp: now,
			Dominant:  dominantComponent(block.Components),
			Scores:    block.Components,
		})
	}
	if block, ok := c.lastObs.Scores[domain.FeatureFaceDetection]; ok {
		sample := domain.VisionSample{Timestamp: now, EyeContact: block.Components["eyeContact"]}
		if pose, ok := c.lastObs.Scores[domain.FeaturePoseTracking]; ok {
			sample.Posture = pose.Score
		}
		rec.VisionSeries = append(rec.VisionSeries, sample)
	}
}

func dominantComponent(components map[string]float64) string {
	dominant := "neutral"
	best := 0.0
	for name, v := range components {
		if v > best {
			dominant, best = name, v
		}
	}
	return dominant
}

// advise asks the coaching provider for a cue; a failing provider degrades
// to the local fallback path silently.
func (c *Controller) advise(ctx context.Context, out chan<- *domain.CoachingCue) {
	snap := coach.Snapshot{
		Metrics:  c.agg.Current(),
		Mode:     c.throttle.State().Mode,
		Elapsed:  time.Duration(c.durationSecs.Load()) * time.Second,
		Degraded: c.degraded.Load(),
	}
	cue, err := c.provider.Advise(ctx, snap)
	if err != nil {
		slog.Debug("Coaching provider advise failed", "error", err)
		cue = nil
	}
	select {
	case out <- cue:
	case <-ctx.Done():
	}
}

// handleInbound merges remote events into session state. Runs on the loop
// goroutine, so record mutation here is single-writer.
func (c *Controller) handleInbound(ev transport.Event) {
	switch ev.Type {
	case transport.EventCoachingCue:
		var cue domain.CoachingCue
		if err := json.Unmarshal(ev.Payload, &cue); err != nil {
			slog.Warn("Malformed coaching cue", "error", err)
			return
		}
		if cue.ID == "" {
			cue.ID = uuid.NewString()
		}
		if cue.Timestamp.IsZero() {
			cue.Timestamp = time.Now()
		}
		c.cues.push(cue)

	case transport.EventSessionMetrics:
		var payload struct {
			Transcript     string  `json:"transcript"`
			WordsPerMinute float64 `json:"words_per_minute"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.Transcript == "" {
			return
		}
		if rec := c.record; rec != nil {
			rec.TranscriptionSeries = append(rec.TranscriptionSeries, domain.TranscriptSample{
				Timestamp: time.Now(),
				Text:      payload.Transcript,
				WordsPerM: payload.WordsPerMinute,
			})
		}

	case transport.EventError:
		var payload struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		_ = json.Unmarshal(ev.Payload, &payload)
		slog.Warn("Remote session error", "message", payload.Message, "code", payload.Code)

	case transport.EventSessionEnded:
		c.endReason.Store("remote_ended")
		slog.Info("Remote ended session")
		go func() {
			if _, err := c.End(context.Background()); err != nil {
				slog.Debug("Self-end after remote session end", "error", err)
			}
		}()
	}
}

// End stops the session: loops first, then capture release, then the
// durability write, then the sync attempt. Persistence precedes networking;
// a failed sync leaves the record queued with synced=false.
func (c *Controller) End(ctx context.Context) (*domain.SessionRecord, error) {
	c.mu.Lock()
	if c.state != StateActive {
		st := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("end in state %s: no active session", st)
	}
	c.state = StateEnding
	record := c.record
	handle := c.handle
	stream := c.stream
	cancel := c.loopCancel
	c.mu.Unlock()

	// Stop all loops before touching the capture resource.
	cancel()
	c.loopWG.Wait()

	if err := c.capmgr.Release(handle); err != nil {
		slog.Error("Failed to release capture", "error", err)
	}
	if err := stream.Close(); err != nil {
		slog.Debug("Failed to close transport", "error", err)
	}

	record.Finalize(time.Now(), c.finalAggregate())

	// Durability boundary: the record is persisted before any sync attempt,
	// on an independent context so caller cancellation cannot skip it.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), persistTimeout)
	if err := c.repo.Append(persistCtx, record); err != nil {
		slog.Error("Failed to persist session record", "session_id", record.SessionID, "error", err)
	}
	persistCancel()

	c.syncRecord(ctx, record)

	c.mu.Lock()
	c.state = StateEnded
	c.record = nil
	c.handle = nil
	c.stream = nil
	c.pipeline = nil
	c.mu.Unlock()

	reason, _ := c.endReason.Load().(string)
	metrics.IncSessionsEnded(reason)
	slog.Info("Session ended",
		"session_id", record.SessionID,
		"duration", record.Duration,
		"synced", record.Synced,
		"reason", reason)
	return record, nil
}

func (c *Controller) finalAggregate() domain.AggregateScores {
	final := c.agg.Current()

	avg := final.Overall
	if c.tickCount > 0 {
		avg = c.sumOverall / float64(c.tickCount)
	}
	delta := 0.0
	if c.earlySet {
		delta = final.Overall - c.earlyOverall
	}

	return domain.AggregateScores{
		Average:          avg,
		Peak:             c.peakOverall,
		ImprovementDelta: delta,
		Breakdown:        final.Breakdown,
	}
}

// syncRecord attempts the remote sync. Failure is recoverable: the sync
// worker retries later from the durability store.
func (c *Controller) syncRecord(ctx context.Context, record *domain.SessionRecord) {
	if c.degraded.Load() {
		slog.Info("Skipping sync in degraded mode", "session_id", record.SessionID)
		return
	}

	if err := c.syncer.Sync(ctx, record); err != nil {
		slog.Warn("Session sync failed, queued for retry", "session_id", record.SessionID, "error", err)
		return
	}

	if err := c.repo.MarkSynced(ctx, record.SessionID); err != nil {
		slog.Error("Failed to mark record synced", "session_id", record.SessionID, "error", err)
		return
	}
	record.Synced = true

	stats := domain.UserStats{
		Duration:          record.Duration,
		AverageConfidence: record.Aggregate.Average,
		PeakConfidence:    record.Aggregate.Peak,
		ImprovementDelta:  record.Aggregate.ImprovementDelta,
	}
	if err := c.stats.Push(ctx, stats); err != nil {
		slog.Warn("Failed to push user stats", "error", err)
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a point-in-time snapshot for the control-plane API.
func (c *Controller) Status() Status {
	c.mu.Lock()
	state := c.state
	sessionID := ""
	if c.record != nil {
		sessionID = c.record.SessionID
	}
	c.mu.Unlock()

	return Status{
		State:        state.String(),
		SessionID:    sessionID,
		Duration:     time.Duration(c.durationSecs.Load()) * time.Second,
		Metrics:      c.agg.Current(),
		Cues:         c.cues.snapshot(),
		ThrottleMode: c.throttle.State().Mode,
	}
}
