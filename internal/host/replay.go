// Package host provides concrete platform adapters for running the engine
// outside a device: a JSON-lines replay source, a writer-backed region sink,
// a YAML metadata manifest, a logging actuator and session bus watchers.
package host

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"touchbridge/internal/geom"
	"touchbridge/internal/platform"
)

// Frame is one line of a replay stream: an optional window snapshot followed
// by the event it produced.
type Frame struct {
	// Event is the event kind name, e.g. "windows_changed".
	Event string `json:"event"`
	// OtherTouchExploration accompanies peer_service_state_changed.
	OtherTouchExploration bool `json:"other_touch_exploration,omitempty"`
	// Surfaces replaces the current window list when present.
	Surfaces []SurfaceFrame `json:"surfaces,omitempty"`
	// DelayMs waits before the frame is delivered.
	DelayMs int `json:"delay_ms,omitempty"`
}

// SurfaceFrame describes one window.
type SurfaceFrame struct {
	Kind   string    `json:"kind"`
	Bounds [4]int    `json:"bounds"`
	Active bool      `json:"active,omitempty"`
	Owner  string    `json:"owner,omitempty"`
	Tree   *TreeNode `json:"tree,omitempty"`
}

// TreeNode is a static UI-tree element.
type TreeNode struct {
	Class     string      `json:"class"`
	Text      string      `json:"text,omitempty"`
	Clickable bool        `json:"clickable,omitempty"`
	Children  []*TreeNode `json:"children,omitempty"`
}

// Replay is a SurfaceSource fed from frames.
type Replay struct {
	screen geom.Rect
	logger *slog.Logger

	mu       sync.RWMutex
	surfaces []SurfaceFrame
	frames   int
}

var _ platform.SurfaceSource = (*Replay)(nil)

// NewReplay creates a replay source for a screen of the given size.
func NewReplay(width, height int, logger *slog.Logger) *Replay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replay{
		screen: geom.R(0, 0, width, height),
		logger: logger,
	}
}

// ScreenBounds implements platform.SurfaceSource.
func (r *Replay) ScreenBounds() geom.Rect {
	return r.screen
}

// Surfaces implements platform.SurfaceSource. Each call builds fresh
// surfaces from the latest snapshot.
func (r *Replay) Surfaces(ctx context.Context) ([]platform.Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]platform.Surface, 0, len(r.surfaces))
	for _, sf := range r.surfaces {
		s := platform.Surface{
			Kind:   platform.ParseSurfaceKind(sf.Kind),
			Bounds: geom.R(sf.Bounds[0], sf.Bounds[1], sf.Bounds[2], sf.Bounds[3]),
			Active: sf.Active,
			Owner:  sf.Owner,
		}
		if tree := sf.Tree; tree != nil {
			s.Root = func() platform.Node { return &treeHandle{n: tree} }
		}
		out = append(out, s)
	}
	return out, nil
}

// Frames returns the number of frames applied so far.
func (r *Replay) Frames() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frames
}

// Apply installs the frame's snapshot and returns the event it carries.
func (r *Replay) Apply(f Frame) (platform.Event, error) {
	kind, ok := platform.ParseEventKind(f.Event)
	if !ok {
		return platform.Event{}, fmt.Errorf("unknown event %q", f.Event)
	}

	r.mu.Lock()
	if f.Surfaces != nil {
		r.surfaces = f.Surfaces
	}
	r.frames++
	r.mu.Unlock()

	return platform.Event{
		Kind:                           kind,
		OtherTouchExplorationRequested: f.OtherTouchExploration,
		Time:                           time.Now(),
	}, nil
}

// Run reads frames from src until EOF or ctx is done and hands every event to
// deliver. Malformed lines are logged and skipped.
func (r *Replay) Run(ctx context.Context, src io.Reader, deliver func(platform.Event) error) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			r.logger.Warn("skipping malformed frame", "line", line, "error", err)
			continue
		}

		if f.DelayMs > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(f.DelayMs) * time.Millisecond):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := r.Apply(f)
		if err != nil {
			r.logger.Warn("skipping frame", "line", line, "error", err)
			continue
		}
		if err := deliver(ev); err != nil {
			return fmt.Errorf("deliver line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read frames: %w", err)
	}
	return nil
}

type treeHandle struct {
	n        *TreeNode
	released bool
}

func (h *treeHandle) ClassName() string { return h.n.Class }
func (h *treeHandle) Text() string      { return h.n.Text }
func (h *treeHandle) Clickable() bool   { return h.n.Clickable }
func (h *treeHandle) ChildCount() int   { return len(h.n.Children) }

func (h *treeHandle) Child(i int) platform.Node {
	if i < 0 || i >= len(h.n.Children) || h.n.Children[i] == nil {
		return nil
	}
	return &treeHandle{n: h.n.Children[i]}
}

func (h *treeHandle) Release() { h.released = true }
