package config

import (
	"slices"
	"sort"
	"sync"

	"touchbridge/internal/platform"
)

// Store serves the preferences section of the configuration to the engine
// and turns configuration reloads into per-key change notifications.
type Store struct {
	mu     sync.RWMutex
	prefs  PreferencesConfig
	allow  map[string]bool
	subs   map[int]func(key string)
	nextID int
}

var _ platform.Preferences = (*Store)(nil)

// NewStore creates a store seeded with prefs.
func NewStore(prefs PreferencesConfig) *Store {
	s := &Store{subs: make(map[int]func(string))}
	s.prefs = clonePreferences(prefs)
	s.allow = allowSet(prefs.EnabledApps)
	return s
}

// MasterSwitchEnabled reports the global enable switch.
func (s *Store) MasterSwitchEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.MasterSwitch
}

// HapticsEnabled reports whether vibration feedback is on.
func (s *Store) HapticsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.HapticsEnabled
}

// IsAllowListed reports whether the user opted appID in.
func (s *Store) IsAllowListed(appID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allow[appID]
}

// DirectTyping reports appID's direct-typing override.
func (s *Store) DirectTyping(appID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.DirectTyping[appID]
}

// Preferences returns a copy of the current preferences.
func (s *Store) Preferences() PreferencesConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePreferences(s.prefs)
}

// Subscribe registers fn for change notifications.
func (s *Store) Subscribe(fn func(key string)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Update replaces the preferences and notifies subscribers once per changed
// key. It returns the keys that changed.
func (s *Store) Update(prefs PreferencesConfig) []string {
	s.mu.Lock()
	keys := diffPreferences(s.prefs, prefs)
	if len(keys) > 0 {
		s.prefs = clonePreferences(prefs)
		s.allow = allowSet(prefs.EnabledApps)
	}
	subs := make([]func(string), 0, len(s.subs))
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	for _, key := range keys {
		for _, fn := range subs {
			fn(key)
		}
	}
	return keys
}

// Bind feeds every configuration reload of l into the store.
func (s *Store) Bind(l *Loader) {
	l.OnChange(func(c *Config) {
		s.Update(c.Clone().Preferences)
	})
}

func diffPreferences(old, cur PreferencesConfig) []string {
	var keys []string
	if old.MasterSwitch != cur.MasterSwitch {
		keys = append(keys, platform.KeyMasterSwitch)
	}
	if old.HapticsEnabled != cur.HapticsEnabled {
		keys = append(keys, platform.KeyHapticsEnabled)
	}

	a := append([]string(nil), old.EnabledApps...)
	b := append([]string(nil), cur.EnabledApps...)
	slices.Sort(a)
	slices.Sort(b)
	if !slices.Equal(slices.Compact(a), slices.Compact(b)) {
		keys = append(keys, platform.KeyEnabledApps)
	}

	apps := make(map[string]struct{})
	for app := range old.DirectTyping {
		apps[app] = struct{}{}
	}
	for app := range cur.DirectTyping {
		apps[app] = struct{}{}
	}
	changed := make([]string, 0, len(apps))
	for app := range apps {
		if old.DirectTyping[app] != cur.DirectTyping[app] {
			changed = append(changed, platform.DirectTypingKey(app))
		}
	}
	sort.Strings(changed)
	return append(keys, changed...)
}

func allowSet(apps []string) map[string]bool {
	set := make(map[string]bool, len(apps))
	for _, app := range apps {
		set[app] = true
	}
	return set
}

func clonePreferences(p PreferencesConfig) PreferencesConfig {
	out := p
	out.EnabledApps = append([]string(nil), p.EnabledApps...)
	out.DirectTyping = make(map[string]bool, len(p.DirectTyping))
	for k, v := range p.DirectTyping {
		out.DirectTyping[k] = v
	}
	return out
}
