package uitree

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Default class-name patterns. Matching is case-insensitive.
var (
	DefaultDialogPatterns   = []string{"*alertdialog*", "*android.app.dialog*", "*dialog"}
	DefaultEditablePatterns = []string{"*edittext*", "*textfield*", "*textinput*"}
	DefaultButtonPatterns   = []string{"*button*"}

	// DefaultButtonLabels are texts of clickable elements treated as native
	// dialog buttons regardless of class name.
	DefaultButtonLabels = []string{"ok", "cancel", "yes", "no", "dismiss", "close"}

	// DefaultIgnoredOwners covers the shell, system UI, input methods and
	// launchers. Their windows never count as native application UI.
	DefaultIgnoredOwners = []string{
		"android",
		"com.android.systemui",
		"com.android.inputmethod*",
		"com.google.android.inputmethod*",
		"com.google.android.gms",
		"*launcher*",
	}
)

// PatternSet is a compiled, case-insensitive set of glob patterns.
type PatternSet struct {
	globs []glob.Glob
}

// CompilePatterns compiles patterns without separators, so '*' also spans
// the dots in class and package names.
func CompilePatterns(patterns []string) (*PatternSet, error) {
	ps := &PatternSet{}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		ps.globs = append(ps.globs, g)
	}
	return ps, nil
}

// Match reports whether s matches any pattern.
func (p *PatternSet) Match(s string) bool {
	if p == nil || s == "" {
		return false
	}
	s = strings.ToLower(s)
	for _, g := range p.globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
