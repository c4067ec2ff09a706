// Package capability decides whether an application may receive direct touch
// input, either because the user allow-listed it or because it declares the
// direct-touch capability flag in its static metadata.
//
// Both eligibility results and per-application direct-typing overrides are
// memoized. The caches are only ever cleared wholesale.
package capability

import (
	"log/slog"
	"sync"

	"touchbridge/internal/platform"
)

// DefaultCapabilityKey is the metadata flag applications declare to opt in.
const DefaultCapabilityKey = "org.nvgt.capability.DIRECT_TOUCH"

// AllowList is the subset of preferences the resolver reads.
type AllowList interface {
	IsAllowListed(appID string) bool
	DirectTyping(appID string) bool
}

// Resolver answers eligibility queries with a cache in front of the
// allow-list and metadata lookups. It is safe for concurrent use.
type Resolver struct {
	mu           sync.Mutex
	eligible     map[string]bool
	directTyping map[string]bool

	prefs  AllowList
	meta   platform.MetadataQuery
	key    string
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCapabilityKey overrides the metadata flag name.
func WithCapabilityKey(key string) Option {
	return func(r *Resolver) {
		if key != "" {
			r.key = key
		}
	}
}

// WithLogger sets the logger used for lookup failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver. meta may be nil, in which case only the
// allow-list grants eligibility.
func NewResolver(prefs AllowList, meta platform.MetadataQuery, opts ...Option) *Resolver {
	r := &Resolver{
		eligible:     make(map[string]bool),
		directTyping: make(map[string]bool),
		prefs:        prefs,
		meta:         meta,
		key:          DefaultCapabilityKey,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsEligible reports whether appID may receive direct touch. The first answer
// for an application is cached, positive or negative, until Invalidate.
func (r *Resolver) IsEligible(appID string) bool {
	if appID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.eligible[appID]; ok {
		return v
	}

	if r.prefs != nil && r.prefs.IsAllowListed(appID) {
		r.eligible[appID] = true
		return true
	}

	v := r.declaresCapability(appID)
	r.eligible[appID] = v
	r.logger.Debug("eligibility resolved", "app", appID, "eligible", v)
	return v
}

// declaresCapability checks the application's metadata, then its primary
// launchable entry point unless the application itself declares true.
func (r *Resolver) declaresCapability(appID string) bool {
	if r.meta == nil {
		return false
	}

	md, err := r.meta.ApplicationMetadata(appID)
	if err != nil {
		r.logger.Debug("application metadata lookup failed", "app", appID, "error", err)
		return false
	}
	if v, _ := md.Bool(r.key); v {
		return true
	}

	md, err = r.meta.EntryPointMetadata(appID)
	if err != nil {
		r.logger.Debug("entry point metadata lookup failed", "app", appID, "error", err)
		return false
	}
	v, _ := md.Bool(r.key)
	return v
}

// DirectTyping returns the cached direct-typing override for appID.
func (r *Resolver) DirectTyping(appID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.directTyping[appID]; ok {
		return v
	}
	v := r.prefs != nil && r.prefs.DirectTyping(appID)
	r.directTyping[appID] = v
	return v
}

// Invalidate clears every cached eligibility result.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.eligible)
}

// InvalidateDirectTyping clears every cached direct-typing override.
func (r *Resolver) InvalidateDirectTyping() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.directTyping)
}

// Reset clears both caches.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.eligible)
	clear(r.directTyping)
}

// Cached returns the cached eligibility for appID without resolving it.
func (r *Resolver) Cached(appID string) (eligible, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eligible, ok = r.eligible[appID]
	return eligible, ok
}
