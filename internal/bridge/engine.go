// Package bridge is the direct-touch decision engine.
//
// The Engine watches foreground and window changes, decides whether the
// foreground application should receive raw touch input instead of
// touch-exploration gestures, and keeps the host's passthrough region in sync
// with that decision.
//
// Key properties:
//   - One goroutine owns all engine state; host callbacks only enqueue
//   - Window events are debounced (150ms default) into a single decision pass
//   - Screen-off and peer-service withdrawal disable passthrough immediately
//   - Haptic feedback fires once per passthrough on/off edge
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"touchbridge/internal/capability"
	"touchbridge/internal/debounce"
	"touchbridge/internal/geom"
	"touchbridge/internal/haptics"
	"touchbridge/internal/platform"
	"touchbridge/internal/region"
	"touchbridge/internal/uitree"
)

var (
	// ErrAlreadyRunning is returned when Start is called while running.
	ErrAlreadyRunning = errors.New("bridge: already running")

	// ErrNotRunning is returned for operations requiring a running engine.
	ErrNotRunning = errors.New("bridge: not running")

	// ErrMissingDependency is returned by New when a required host
	// interface is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")
)

// Deps are the host collaborators the engine drives.
type Deps struct {
	Preferences platform.Preferences
	Surfaces    platform.SurfaceSource
	Sink        platform.PassthroughSink
	// Metadata may be nil; only allow-listed applications are then eligible.
	Metadata platform.MetadataQuery
	// Actuator may be nil to disable haptic feedback entirely.
	Actuator platform.Actuator
	// Recorder may be nil.
	Recorder Recorder
	// Observer may be nil.
	Observer Observer
	Logger   *slog.Logger
}

type messageKind int

const (
	msgEvent messageKind = iota
	msgDebounceFired
	msgPreferenceChanged
	msgCall
)

type message struct {
	kind  messageKind
	event platform.Event
	gen   uint64
	key   string
	fn    func(ctx context.Context)
	done  chan struct{}
}

// Engine is the decision state machine.
type Engine struct {
	config *Config
	deps   Deps
	logger *slog.Logger

	resolver  *capability.Resolver
	scanner   *uitree.Scanner
	notifier  *haptics.Notifier
	debouncer *debounce.Debouncer

	inbox chan message

	// Owned by the loop goroutine.
	phase       Phase
	state       EngineState
	applied     geom.Region
	dirty       bool
	unsupported bool
	passes      uint64
	lastPass    time.Time

	mu          sync.Mutex
	running     bool
	sessionID   string
	snap        Snapshot
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
}

// New creates an engine. cfg may be nil for defaults.
func New(cfg *Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Preferences == nil || deps.Surfaces == nil || deps.Sink == nil {
		return nil, ErrMissingDependency
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	scanner, err := uitree.New(cfg.scannerConfig(), deps.Logger)
	if err != nil {
		return nil, ErrInvalidConfig{err.Error()}
	}

	e := &Engine{
		config:  cfg,
		deps:    deps,
		logger:  deps.Logger,
		scanner: scanner,
		resolver: capability.NewResolver(deps.Preferences, deps.Metadata,
			capability.WithCapabilityKey(cfg.CapabilityKey),
			capability.WithLogger(deps.Logger)),
		notifier: haptics.NewNotifier(deps.Actuator, deps.Preferences, deps.Logger),
		inbox:    make(chan message, cfg.QueueSize),
	}
	e.debouncer = debounce.New(cfg.DebounceDuration, e.onDebounceFired)
	return e, nil
}

// Start begins processing events. The engine runs until Stop or until ctx
// is cancelled. Either way the loop tears down before exiting, so no
// passthrough region outlives the engine; callers should still Stop to
// release the preference subscription.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}

	e.sessionID = uuid.NewString()
	e.logger = e.deps.Logger.With("session", e.sessionID)

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	e.snap = Snapshot{SessionID: e.sessionID, Running: true}
	go e.loop(loopCtx, e.done)
	e.mu.Unlock()

	unsubscribe := e.deps.Preferences.Subscribe(e.onPreferenceChanged)
	e.mu.Lock()
	e.unsubscribe = unsubscribe
	e.mu.Unlock()

	e.logger.Info("bridge engine started", "debounce", e.config.DebounceDuration)
	return nil
}

// Stop releases the preference subscription and stops the event loop, which
// tears down on its way out: the pending pass is cancelled, the inactive
// state is forced so no passthrough region stays applied, and both caches
// are cleared.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	cancel()
	<-done

	e.mu.Lock()
	e.snap.Running = false
	e.done = nil
	e.mu.Unlock()

	e.logger.Info("bridge engine stopped")
	return nil
}

// HandleEvent enqueues a raw host event. It is safe to call from any
// goroutine and never touches engine state directly.
func (e *Engine) HandleEvent(ev platform.Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	return e.enqueue(message{kind: msgEvent, event: ev})
}

// Refresh runs a decision pass immediately, bypassing the debounce window,
// and waits for it to complete.
func (e *Engine) Refresh(ctx context.Context) error {
	if !e.call(func(ctx context.Context) {
		e.debouncer.Cancel()
		e.runPass(ctx)
	}) {
		return ErrNotRunning
	}
	return nil
}

// State returns a snapshot of the engine state.
func (e *Engine) State() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// SessionID returns the identifier of the current (or last) run.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return *e.config
}

func (e *Engine) enqueue(m message) error {
	e.mu.Lock()
	running, done := e.running, e.done
	e.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	select {
	case e.inbox <- m:
		return nil
	case <-done:
		return ErrNotRunning
	}
}

// call runs fn on the loop goroutine and waits for it. It returns false if
// the loop is not running.
func (e *Engine) call(fn func(ctx context.Context)) bool {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return false
	}

	m := message{kind: msgCall, fn: fn, done: make(chan struct{})}
	select {
	case e.inbox <- m:
	case <-done:
		return false
	}
	select {
	case <-m.done:
		return true
	case <-done:
		return false
	}
}

func (e *Engine) onDebounceFired(gen uint64) {
	// A stopped loop drops the firing; the next event retriggers.
	_ = e.enqueue(message{kind: msgDebounceFired, gen: gen})
}

func (e *Engine) onPreferenceChanged(key string) {
	_ = e.enqueue(message{kind: msgPreferenceChanged, key: key})
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return
		case m := <-e.inbox:
			e.dispatch(ctx, m)
			e.publish()
			if m.done != nil {
				close(m.done)
			}
		}
	}
}

// teardown cancels any pending pass, forces the inactive state (applying the
// empty region) and clears both caches. It runs on the loop goroutine as the
// loop's last step. A failed final apply leaves dirty set so the next run
// re-applies whatever it computes.
func (e *Engine) teardown() {
	e.debouncer.Cancel()
	e.enterInactive(ReasonTeardown)
	e.resolver.Reset()
	e.state = EngineState{}
	e.notifier.Reset()
	e.applied = geom.Region{}
	e.unsupported = false
	e.publish()
}

func (e *Engine) dispatch(ctx context.Context, m message) {
	switch m.kind {
	case msgEvent:
		e.handleEvent(m.event)

	case msgDebounceFired:
		if e.debouncer.Consume(m.gen) {
			e.runPass(ctx)
		}

	case msgPreferenceChanged:
		e.handlePreferenceChanged(ctx, m.key)

	case msgCall:
		m.fn(ctx)
	}
}

func (e *Engine) handleEvent(ev platform.Event) {
	e.deps.Observer.EventReceived(ev.Kind)
	switch {
	case ev.Kind.Qualifies():
		e.debouncer.Trigger()

	case ev.Kind == platform.EventScreenOff:
		e.emergency(ReasonScreenOff)

	case ev.Kind == platform.EventPeerServiceStateChanged:
		if !ev.OtherTouchExplorationRequested {
			e.emergency(ReasonPeerWithdrawn)
		}

	default:
		e.logger.Debug("ignoring event", "kind", ev.Kind)
	}
}

// emergency disables passthrough synchronously. The pending pass is
// cancelled first so it cannot re-enable passthrough afterwards.
func (e *Engine) emergency(reason string) {
	e.debouncer.Cancel()
	e.enterInactive(reason)
}

func (e *Engine) handlePreferenceChanged(ctx context.Context, key string) {
	switch {
	case key == platform.KeyMasterSwitch:
		e.debouncer.Cancel()
		e.runPass(ctx)

	case key == platform.KeyEnabledApps:
		e.resolver.Invalidate()
		e.debouncer.Trigger()

	case strings.HasPrefix(key, platform.KeyDirectTypingPrefix):
		e.resolver.InvalidateDirectTyping()
		e.debouncer.Trigger()
	}
}

// runPass evaluates the transition rules once against the current surfaces.
func (e *Engine) runPass(ctx context.Context) {
	e.passes++
	e.lastPass = time.Now()
	defer func(start time.Time) {
		e.deps.Observer.PassCompleted(time.Since(start))
	}(e.lastPass)

	if !e.deps.Preferences.MasterSwitchEnabled() {
		e.enterInactive(ReasonMasterSwitchOff)
		return
	}

	fg, ok := e.foreground(ctx)
	if !ok {
		return
	}

	if fg.SystemOverlayActive || e.scanner.IsIgnoredOwner(fg.ApplicationID) {
		reason := ReasonIgnoredForeground
		if fg.SystemOverlayActive {
			reason = ReasonSystemOverlay
		}
		if e.state.ActiveApplicationID != "" {
			e.enterSuppressed(e.state.ActiveApplicationID, reason)
		} else {
			e.enterInactive(reason)
		}
		return
	}

	if !e.resolver.IsEligible(fg.ApplicationID) {
		e.enterInactive(ReasonIneligible)
		return
	}

	if e.scanner.HasNativeInteractiveSurface(fg.Surfaces) {
		e.enterSuppressed(fg.ApplicationID, ReasonNativeUI)
		return
	}

	directTyping := e.resolver.DirectTyping(fg.ApplicationID)
	r := region.ComputePassthroughRegion(fg.Surfaces, e.deps.Surfaces.ScreenBounds(), directTyping)
	e.enterActive(fg.ApplicationID, r)
}

// foreground builds the context for one pass. It reports false when no
// foreground application can be determined; the pass then does nothing.
func (e *Engine) foreground(ctx context.Context) (ForegroundContext, bool) {
	surfaces, err := e.deps.Surfaces.Surfaces(ctx)
	if err != nil {
		e.logger.Debug("surfaces unavailable", "error", err)
		return ForegroundContext{}, false
	}

	app := foregroundApplication(surfaces)
	if app == "" {
		e.logger.Debug("no foreground application", "surfaces", len(surfaces))
		return ForegroundContext{}, false
	}

	screen := e.deps.Surfaces.ScreenBounds()
	return ForegroundContext{
		ApplicationID:       app,
		SystemOverlayActive: systemOverlayBlocks(surfaces, screen, e.config.OverlayBlockingRatio),
		Surfaces:            surfaces,
	}, true
}

// foregroundApplication prefers the active application window, then any
// active window, then the first window with a known owner.
func foregroundApplication(surfaces []platform.Surface) string {
	for _, s := range surfaces {
		if s.Active && s.Kind == platform.KindApplication && s.Owner != "" {
			return s.Owner
		}
	}
	for _, s := range surfaces {
		if s.Active && s.Owner != "" {
			return s.Owner
		}
	}
	for _, s := range surfaces {
		if s.Owner != "" {
			return s.Owner
		}
	}
	return ""
}

// systemOverlayBlocks reports whether an active system window covers more
// than ratio of the screen height.
func systemOverlayBlocks(surfaces []platform.Surface, screen geom.Rect, ratio float64) bool {
	limit := float64(screen.Dy()) * ratio
	for _, s := range surfaces {
		if s.Kind != platform.KindSystem || !s.Active {
			continue
		}
		if float64(s.Bounds.Intersect(screen).Dy()) > limit {
			return true
		}
	}
	return false
}

func (e *Engine) enterActive(app string, r geom.Region) {
	from := e.phase
	fromApp := e.state.ActiveApplicationID
	e.phase = PhaseActive
	e.state.ActiveApplicationID = app
	e.applyRegion(r)
	e.afterTransition(from, fromApp, ReasonEligible)
}

func (e *Engine) enterSuppressed(app, reason string) {
	from := e.phase
	fromApp := e.state.ActiveApplicationID
	e.phase = PhaseSuppressed
	e.state.ActiveApplicationID = app
	e.applyRegion(geom.Region{})
	e.afterTransition(from, fromApp, reason)
}

func (e *Engine) enterInactive(reason string) {
	from := e.phase
	fromApp := e.state.ActiveApplicationID
	e.phase = PhaseInactive
	e.state.ActiveApplicationID = ""
	e.applyRegion(geom.Region{})
	e.afterTransition(from, fromApp, reason)
}

// applyRegion pushes r to the sink unless it is already applied.
func (e *Engine) applyRegion(r geom.Region) {
	if !e.dirty && e.applied.Equal(r) {
		return
	}
	if e.unsupported {
		return
	}

	err := e.deps.Sink.ApplyPassthroughRegion(r)
	e.deps.Observer.RegionApplied(r, err)
	switch {
	case errors.Is(err, platform.ErrUnsupported):
		e.unsupported = true
		e.applied = geom.Region{}
		e.dirty = false
		e.logger.Warn("passthrough regions unsupported by host; continuing without applying them")
	case err != nil:
		e.dirty = true
		e.logger.Warn("apply passthrough region failed", "region", r, "error", err)
	default:
		e.applied = r
		e.dirty = false
	}
}

func (e *Engine) afterTransition(from Phase, fromApp, reason string) {
	enabled := !e.applied.IsEmpty()
	if enabled != e.state.LastPassthroughEnabled {
		e.state.LastPassthroughEnabled = enabled
		e.notifier.Notify(enabled)
	}

	if from == e.phase && fromApp == e.state.ActiveApplicationID {
		return
	}

	t := Transition{
		SessionID:     e.sessionID,
		Time:          time.Now(),
		From:          from,
		To:            e.phase,
		ApplicationID: e.state.ActiveApplicationID,
		Region:        e.applied,
		Reason:        reason,
	}
	if t.ApplicationID == "" {
		t.ApplicationID = fromApp
	}
	e.deps.Observer.TransitionRecorded(t)
	e.logger.Info("passthrough transition",
		"from", from, "to", e.phase, "app", t.ApplicationID,
		"reason", reason, "region", e.applied)

	if e.deps.Recorder != nil {
		if err := e.deps.Recorder.RecordTransition(t); err != nil {
			e.logger.Warn("record transition failed", "error", err)
		}
	}
}

func (e *Engine) publish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap = Snapshot{
		SessionID:          e.sessionID,
		Running:            e.running,
		Phase:              e.phase,
		ApplicationID:      e.state.ActiveApplicationID,
		Region:             e.applied,
		PassthroughEnabled: e.state.LastPassthroughEnabled,
		RegionUnsupported:  e.unsupported,
		Passes:             e.passes,
		LastPass:           e.lastPass,
	}
}
