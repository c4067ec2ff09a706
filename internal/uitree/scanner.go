// Package uitree inspects on-screen UI trees for native dialogs, text fields
// and buttons that must never receive direct touch, even inside an eligible
// application.
package uitree

import (
	"log/slog"
	"strings"

	"touchbridge/internal/platform"
)

// DefaultMaxDepth bounds the scan; the root is at depth 1.
const DefaultMaxDepth = 10

// Config configures a Scanner.
type Config struct {
	MaxDepth         int
	DialogPatterns   []string
	EditablePatterns []string
	ButtonPatterns   []string
	ButtonLabels     []string
	IgnoredOwners    []string
}

// DefaultConfig returns the built-in patterns and depth bound.
func DefaultConfig() Config {
	return Config{
		MaxDepth:         DefaultMaxDepth,
		DialogPatterns:   DefaultDialogPatterns,
		EditablePatterns: DefaultEditablePatterns,
		ButtonPatterns:   DefaultButtonPatterns,
		ButtonLabels:     DefaultButtonLabels,
		IgnoredOwners:    DefaultIgnoredOwners,
	}
}

// Scanner detects native interactive UI across a set of surfaces.
type Scanner struct {
	maxDepth int
	dialog   *PatternSet
	editable *PatternSet
	button   *PatternSet
	labels   map[string]struct{}
	ignored  *PatternSet
	logger   *slog.Logger
}

// New compiles cfg into a Scanner. A zero MaxDepth means DefaultMaxDepth.
func New(cfg Config, logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	s := &Scanner{
		maxDepth: cfg.MaxDepth,
		labels:   make(map[string]struct{}, len(cfg.ButtonLabels)),
		logger:   logger,
	}

	var err error
	if s.dialog, err = CompilePatterns(cfg.DialogPatterns); err != nil {
		return nil, err
	}
	if s.editable, err = CompilePatterns(cfg.EditablePatterns); err != nil {
		return nil, err
	}
	if s.button, err = CompilePatterns(cfg.ButtonPatterns); err != nil {
		return nil, err
	}
	if s.ignored, err = CompilePatterns(cfg.IgnoredOwners); err != nil {
		return nil, err
	}
	for _, l := range cfg.ButtonLabels {
		s.labels[strings.ToLower(l)] = struct{}{}
	}
	return s, nil
}

// IsIgnoredOwner reports whether owner belongs to the shell/system ignore-set.
func (s *Scanner) IsIgnoredOwner(owner string) bool {
	return s.ignored.Match(owner)
}

// HasNativeInteractiveSurface reports whether any application or system
// surface not owned by an ignored package shows a native dialog, editable
// field or button within the depth bound. Surfaces are scanned in order and
// the first match wins.
func (s *Scanner) HasNativeInteractiveSurface(surfaces []platform.Surface) bool {
	for _, surf := range surfaces {
		if surf.Kind != platform.KindApplication && surf.Kind != platform.KindSystem {
			continue
		}
		if s.ignored.Match(surf.Owner) || surf.Root == nil {
			continue
		}
		root := surf.Root()
		if root == nil {
			continue
		}
		if s.scan(root, 1) {
			s.logger.Debug("native interactive surface found", "owner", surf.Owner, "kind", surf.Kind)
			return true
		}
	}
	return false
}

// scan takes ownership of node and releases it before returning on every path.
func (s *Scanner) scan(node platform.Node, depth int) bool {
	defer node.Release()

	if s.matches(node) {
		return true
	}
	if depth >= s.maxDepth {
		return false
	}
	for i := 0; i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if s.scan(child, depth+1) {
			return true
		}
	}
	return false
}

func (s *Scanner) matches(node platform.Node) bool {
	class := node.ClassName()
	if s.dialog.Match(class) || s.editable.Match(class) {
		return true
	}
	if !node.Clickable() {
		return false
	}
	if s.button.Match(class) {
		return true
	}
	_, ok := s.labels[strings.ToLower(strings.TrimSpace(node.Text()))]
	return ok
}
