package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"touchbridge/internal/geom"
	"touchbridge/internal/platform"
)

var screen = geom.R(0, 0, 1080, 1920)

// =============================================================================
// Fakes
// =============================================================================

type fakePrefs struct {
	mu      sync.Mutex
	master  bool
	haptics bool
	allowed map[string]bool
	typing  map[string]bool
	subs    map[int]func(string)
	nextID  int
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{
		master:  true,
		haptics: true,
		allowed: map[string]bool{},
		typing:  map[string]bool{},
		subs:    map[int]func(string){},
	}
}

func (p *fakePrefs) MasterSwitchEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.master
}

func (p *fakePrefs) HapticsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.haptics
}

func (p *fakePrefs) IsAllowListed(appID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowed[appID]
}

func (p *fakePrefs) DirectTyping(appID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typing[appID]
}

func (p *fakePrefs) Subscribe(fn func(string)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *fakePrefs) set(key string, mutate func()) {
	p.mu.Lock()
	mutate()
	subs := make([]func(string), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(key)
	}
}

type fakeSurfaces struct {
	mu       sync.Mutex
	surfaces []platform.Surface
	err      error
}

func (f *fakeSurfaces) Surfaces(ctx context.Context) ([]platform.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.surfaces, f.err
}

func (f *fakeSurfaces) ScreenBounds() geom.Rect { return screen }

func (f *fakeSurfaces) set(s ...platform.Surface) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.surfaces = s
}

type fakeSink struct {
	mu      sync.Mutex
	regions []geom.Region
	err     error
}

func (s *fakeSink) ApplyPassthroughRegion(r geom.Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.regions = append(s.regions, r)
	return nil
}

func (s *fakeSink) applied() []geom.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]geom.Region(nil), s.regions...)
}

type fakeActuator struct {
	mu     sync.Mutex
	pulses int
}

func (a *fakeActuator) Vibrate(p []time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pulses++
	return nil
}

func (a *fakeActuator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pulses
}

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *fakeRecorder) RecordTransition(t Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
	return nil
}

type staticNode struct {
	class    string
	children []*staticNode
}

func (n *staticNode) ClassName() string         { return n.class }
func (n *staticNode) Text() string              { return "" }
func (n *staticNode) Clickable() bool           { return false }
func (n *staticNode) ChildCount() int           { return len(n.children) }
func (n *staticNode) Child(i int) platform.Node { return n.children[i] }
func (n *staticNode) Release()                  {}
func tree(n *staticNode) func() platform.Node   { return func() platform.Node { return n } }

// =============================================================================
// Helpers
// =============================================================================

const game = "org.example.game"

type harness struct {
	engine   *Engine
	prefs    *fakePrefs
	surfaces *fakeSurfaces
	sink     *fakeSink
	actuator *fakeActuator
	recorder *fakeRecorder
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()
	h := &harness{
		prefs:    newFakePrefs(),
		surfaces: &fakeSurfaces{},
		sink:     &fakeSink{},
		actuator: &fakeActuator{},
		recorder: &fakeRecorder{},
	}
	h.prefs.allowed[game] = true

	e, err := New(cfg, Deps{
		Preferences: h.prefs,
		Surfaces:    h.surfaces,
		Sink:        h.sink,
		Actuator:    h.actuator,
		Recorder:    h.recorder,
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Stop() })
	h.engine = e
	return h
}

// flush waits until every message queued so far has been processed.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	require.True(t, h.engine.call(func(context.Context) {}))
}

func (h *harness) refresh(t *testing.T) Snapshot {
	t.Helper()
	require.NoError(t, h.engine.Refresh(context.Background()))
	return h.engine.State()
}

func appSurface(owner string) platform.Surface {
	return platform.Surface{Kind: platform.KindApplication, Bounds: screen, Active: true, Owner: owner}
}

func imeSurface() platform.Surface {
	return platform.Surface{Kind: platform.KindInputMethod, Bounds: geom.R(0, 1500, 1080, 1920), Owner: "com.google.android.inputmethod.latin"}
}

// =============================================================================
// Transition rules
// =============================================================================

func TestEligibleForegroundBecomesActive(t *testing.T) {
	h := newHarness(t, nil)
	h.surfaces.set(appSurface(game), imeSurface())

	snap := h.refresh(t)
	assert.Equal(t, PhaseActive, snap.Phase)
	assert.Equal(t, game, snap.ApplicationID)
	assert.True(t, snap.PassthroughEnabled)
	assert.True(t, snap.Region.Equal(geom.NewRegion(geom.R(0, 0, 1080, 1500))))
	assert.True(t, snap.Region.SubsetOf(geom.NewRegion(screen)))
	assert.Equal(t, 1, h.actuator.count())

	// Same surfaces again: no new sink call, no new pulse.
	h.refresh(t)
	assert.Len(t, h.sink.applied(), 1)
	assert.Equal(t, 1, h.actuator.count())
}

func TestDirectTypingKeepsKeyboardArea(t *testing.T) {
	h := newHarness(t, nil)
	h.prefs.typing[game] = true
	h.surfaces.set(appSurface(game), imeSurface())

	snap := h.refresh(t)
	assert.True(t, snap.Region.Equal(geom.NewRegion(screen)))
}

func TestMasterSwitchOffForcesInactive(t *testing.T) {
	h := newHarness(t, nil)
	h.surfaces.set(appSurface(game))
	require.Equal(t, PhaseActive, h.refresh(t).Phase)

	h.prefs.set(platform.KeyMasterSwitch, func() { h.prefs.master = false })
	h.flush(t)

	snap := h.engine.State()
	assert.Equal(t, PhaseInactive, snap.Phase)
	assert.Empty(t, snap.ApplicationID)

	// Further passes while off must not re-send the empty region.
	h.refresh(t)
	h.refresh(t)

	regions := h.sink.applied()
	empties := 0
	for _, r := range regions {
		if r.IsEmpty() {
			empties++
		}
	}
	assert.Equal(t, 1, empties)
	assert.Len(t, regions, 2)
	assert.Equal(t, 2, h.actuator.count(), "one pulse on, one pulse off")
}

func TestIneligibleForegroundClearsApplication(t *testing.T) {
	h := newHarness(t, nil)
	h.surfaces.set(appSurface(game))
	h.refresh(t)

	h.surfaces.set(appSurface("org.example.mail"))
	snap := h.refresh(t)
	assert.Equal(t, PhaseInactive, snap.Phase)
	assert.Empty(t, snap.ApplicationID)
	assert.False(t, snap.PassthroughEnabled)
}

func TestNativeDialogSuppresses(t *testing.T) {
	h := newHarness(t, nil)
	dialog := appSurface(game)
	dialog.Root = tree(&staticNode{class: "android.widget.FrameLayout", children: []*staticNode{{class: "android.app.AlertDialog"}}})

	h.surfaces.set(dialog)
	snap := h.refresh(t)
	assert.Equal(t, PhaseSuppressed, snap.Phase)
	assert.Equal(t, game, snap.ApplicationID)
	assert.False(t, snap.PassthroughEnabled)
	assert.Empty(t, h.sink.applied(), "nothing was enabled, nothing to disable")

	h.surfaces.set(appSurface(game))
	snap = h.refresh(t)
	assert.Equal(t, PhaseActive, snap.Phase)

	h.surfaces.set(dialog)
	snap = h.refresh(t)
	assert.Equal(t, PhaseSuppressed, snap.Phase)
	assert.Equal(t, 2, h.actuator.count())
}

func TestSystemOverlayPolicy(t *testing.T) {
	tests := []struct {
		name   string
		bounds geom.Rect
		active bool
		want   Phase
	}{
		{"notification shade over half", geom.R(0, 0, 1080, 1200), true, PhaseSuppressed},
		{"exactly half does not block", geom.R(0, 0, 1080, 960), true, PhaseActive},
		{"status bar", geom.R(0, 0, 1080, 80), true, PhaseActive},
		{"inactive large system window", geom.R(0, 0, 1080, 1920), false, PhaseActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.surfaces.set(appSurface(game))
			require.Equal(t, PhaseActive, h.refresh(t).Phase)

			overlay := platform.Surface{Kind: platform.KindSystem, Bounds: tt.bounds, Active: tt.active, Owner: "com.android.systemui"}
			h.surfaces.set(appSurface(game), overlay)
			snap := h.refresh(t)
			assert.Equal(t, tt.want, snap.Phase)
			assert.Equal(t, game, snap.ApplicationID)
		})
	}
}

func TestIgnoredForeground(t *testing.T) {
	h := newHarness(t, nil)

	// Nothing active yet: remain inactive without touching the sink.
	h.surfaces.set(appSurface("com.android.systemui"))
	assert.Equal(t, PhaseInactive, h.refresh(t).Phase)
	assert.Empty(t, h.sink.applied())

	h.surfaces.set(appSurface(game))
	h.refresh(t)

	h.surfaces.set(appSurface("com.android.systemui"))
	snap := h.refresh(t)
	assert.Equal(t, PhaseSuppressed, snap.Phase)
	assert.Equal(t, game, snap.ApplicationID, "claim is held through suppression")
}

func TestNoForegroundTakesNoAction(t *testing.T) {
	h := newHarness(t, nil)
	h.surfaces.set(appSurface(game))
	h.refresh(t)

	h.surfaces.set(platform.Surface{Kind: platform.KindApplication, Bounds: screen})
	assert.Equal(t, PhaseActive, h.refresh(t).Phase)

	h.surfaces.mu.Lock()
	h.surfaces.err = errors.New("window list invalidated")
	h.surfaces.mu.Unlock()
	assert.Equal(t, PhaseActive, h.refresh(t).Phase)
	assert.Len(t, h.sink.applied(), 1)
}

// =============================================================================
// Emergency paths
// =============================================================================

func TestScreenOffCancelsPendingPass(t *testing.T) {
	h := newHarness(t, DefaultConfig().WithDebounceDuration(80*time.Millisecond))
	h.surfaces.set(appSurface(game))
	h.refresh(t)
	passes := h.engine.State().Passes

	require.NoError(t, h.engine.HandleEvent(platform.Event{Kind: platform.EventWindowsChanged}))
	require.NoError(t, h.engine.HandleEvent(platform.Event{Kind: platform.EventScreenOff}))
	h.flush(t)

	snap := h.engine.State()
	assert.Equal(t, PhaseInactive, snap.Phase)
	assert.Empty(t, snap.ApplicationID)

	time.Sleep(250 * time.Millisecond)
	h.flush(t)
	snap = h.engine.State()
	assert.Equal(t, PhaseInactive, snap.Phase, "stale pass must not re-enable passthrough")
	assert.Equal(t, passes, snap.Passes)

	regions := h.sink.applied()
	assert.True(t, regions[len(regions)-1].IsEmpty())
}

func TestPeerServiceWithdrawal(t *testing.T) {
	h := newHarness(t, nil)
	h.surfaces.set(appSurface(game))
	h.refresh(t)

	require.NoError(t, h.engine.HandleEvent(platform.Event{Kind: platform.EventPeerServiceStateChanged, OtherTouchExplorationRequested: true}))
	h.flush(t)
	assert.Equal(t, PhaseActive, h.engine.State().Phase)

	require.NoError(t, h.engine.HandleEvent(platform.Event{Kind: platform.EventPeerServiceStateChanged}))
	h.flush(t)
	assert.Equal(t, PhaseInactive, h.engine.State().Phase)
}

// =============================================================================
// Debounce, preferences, teardown
// =============================================================================

func TestBurstRunsOnePass(t *testing.T) {
	h := newHarness(t, nil)
	h.surfaces.set(appSurface(game))

	for i := 0; i < 3; i++ {
		require.NoError(t, h.engine.HandleEvent(platform.Event{Kind: platform.EventWindowContentChanged}))
		time.Sleep(50 * time.Millisecond)
	}
	h.flush(t)
	assert.Equal(t, uint64(0), h.engine.State().Passes, "window still open")

	require.Eventually(t, func() bool {
		return h.engine.State().Passes == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	h.flush(t)
	assert.Equal(t, uint64(1), h.engine.State().Passes)
	assert.Equal(t, PhaseActive, h.engine.State().Phase)
}

func TestAllowListChangeInvalidatesCache(t *testing.T) {
	h := newHarness(t, DefaultConfig().WithDebounceDuration(20*time.Millisecond))
	h.surfaces.set(appSurface("org.example.mail"))
	require.Equal(t, PhaseInactive, h.refresh(t).Phase)

	h.prefs.set(platform.KeyEnabledApps, func() { h.prefs.allowed["org.example.mail"] = true })

	require.Eventually(t, func() bool {
		return h.engine.State().Phase == PhaseActive
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDirectTypingChangeInvalidatesCache(t *testing.T) {
	h := newHarness(t, DefaultConfig().WithDebounceDuration(20*time.Millisecond))
	h.surfaces.set(appSurface(game), imeSurface())
	require.False(t, h.refresh(t).Region.Contains(10, 1600))

	h.prefs.set(platform.DirectTypingKey(game), func() { h.prefs.typing[game] = true })

	require.Eventually(t, func() bool {
		return h.engine.State().Region.Contains(10, 1600)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopDisablesAndClearsCaches(t *testing.T) {
	h := newHarness(t, nil)
	h.surfaces.set(appSurface(game))
	h.refresh(t)
	_, cached := h.engine.resolver.Cached(game)
	require.True(t, cached)

	require.NoError(t, h.engine.Stop())

	snap := h.engine.State()
	assert.False(t, snap.Running)
	assert.Equal(t, PhaseInactive, snap.Phase)
	regions := h.sink.applied()
	assert.True(t, regions[len(regions)-1].IsEmpty())
	_, cached = h.engine.resolver.Cached(game)
	assert.False(t, cached)

	assert.ErrorIs(t, h.engine.HandleEvent(platform.Event{Kind: platform.EventWindowsChanged}), ErrNotRunning)
	assert.ErrorIs(t, h.engine.Refresh(context.Background()), ErrNotRunning)
	assert.NoError(t, h.engine.Stop())
}

func TestContextCancelClearsRegion(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Stop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.engine.Start(ctx))
	h.surfaces.set(appSurface(game))
	require.Equal(t, PhaseActive, h.refresh(t).Phase)

	cancel()
	require.Eventually(t, func() bool {
		regions := h.sink.applied()
		return len(regions) == 2 && regions[1].IsEmpty()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.engine.Stop())
	snap := h.engine.State()
	assert.False(t, snap.Running)
	assert.Equal(t, PhaseInactive, snap.Phase)
	assert.True(t, snap.Region.IsEmpty())
	_, cached := h.engine.resolver.Cached(game)
	assert.False(t, cached)
}

func TestRestartAfterUnsupportedSink(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.mu.Lock()
	h.sink.err = platform.ErrUnsupported
	h.sink.mu.Unlock()
	h.surfaces.set(appSurface(game))
	require.True(t, h.refresh(t).RegionUnsupported)
	require.NoError(t, h.engine.Stop())

	h.sink.mu.Lock()
	h.sink.err = nil
	h.sink.mu.Unlock()
	require.NoError(t, h.engine.Start(context.Background()))

	snap := h.refresh(t)
	assert.False(t, snap.RegionUnsupported)
	assert.True(t, snap.PassthroughEnabled)
	regions := h.sink.applied()
	require.Len(t, regions, 1)
	assert.True(t, regions[0].Equal(geom.NewRegion(screen)))
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.engine.Start(context.Background()), ErrAlreadyRunning)
}

func TestUnsupportedSinkDegrades(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.err = platform.ErrUnsupported
	h.surfaces.set(appSurface(game))

	snap := h.refresh(t)
	assert.Equal(t, PhaseActive, snap.Phase)
	assert.True(t, snap.RegionUnsupported)
	assert.False(t, snap.PassthroughEnabled)
	assert.Equal(t, 0, h.actuator.count())
}

func TestSinkFailureRetries(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.err = errors.New("binder died")
	h.surfaces.set(appSurface(game))
	assert.False(t, h.refresh(t).PassthroughEnabled)

	h.sink.mu.Lock()
	h.sink.err = nil
	h.sink.mu.Unlock()
	assert.True(t, h.refresh(t).PassthroughEnabled)
}

func TestTransitionsRecorded(t *testing.T) {
	h := newHarness(t, nil)
	h.surfaces.set(appSurface(game))
	h.refresh(t)
	h.surfaces.set(appSurface("org.example.mail"))
	h.refresh(t)

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	require.Len(t, h.recorder.transitions, 2)
	first, second := h.recorder.transitions[0], h.recorder.transitions[1]
	assert.Equal(t, PhaseInactive, first.From)
	assert.Equal(t, PhaseActive, first.To)
	assert.Equal(t, ReasonEligible, first.Reason)
	assert.Equal(t, h.engine.SessionID(), first.SessionID)
	assert.Equal(t, PhaseInactive, second.To)
	assert.Equal(t, game, second.ApplicationID)
	assert.Equal(t, ReasonIneligible, second.Reason)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}
