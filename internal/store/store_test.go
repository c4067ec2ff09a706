package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"touchbridge/internal/bridge"
	"touchbridge/internal/geom"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "subdir", "nested", "journal.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), v)
}

func TestRecordAndList(t *testing.T) {
	s := openTest(t)
	base := time.Unix(1_700_000_000, 0)
	region := geom.NewRegion(geom.R(0, 0, 1080, 1920)).Subtract(geom.R(0, 1500, 1080, 1920))

	require.NoError(t, s.RecordTransition(bridge.Transition{
		SessionID: "s1", Time: base,
		From: bridge.PhaseInactive, To: bridge.PhaseActive,
		ApplicationID: "org.example.game", Region: region, Reason: bridge.ReasonEligible,
	}))
	require.NoError(t, s.RecordTransition(bridge.Transition{
		SessionID: "s1", Time: base.Add(time.Second),
		From: bridge.PhaseActive, To: bridge.PhaseSuppressed,
		ApplicationID: "org.example.game", Reason: bridge.ReasonNativeUI,
	}))

	entries, err := s.List(Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "suppressed", entries[0].To)
	assert.Equal(t, bridge.ReasonNativeUI, entries[0].Reason)
	assert.True(t, entries[0].Region.IsEmpty())

	assert.Equal(t, "inactive", entries[1].From)
	assert.Equal(t, "active", entries[1].To)
	assert.True(t, entries[1].Region.Equal(region), "got %v", entries[1].Region)
	assert.Equal(t, base.UnixNano(), entries[1].Time.UnixNano())
}

func TestListFilters(t *testing.T) {
	s := openTest(t)
	base := time.Unix(1_700_000_000, 0)

	for i, tr := range []struct{ session, app string }{
		{"s1", "a"}, {"s1", "b"}, {"s2", "a"}, {"s2", "a"},
	} {
		require.NoError(t, s.RecordTransition(bridge.Transition{
			SessionID: tr.session, Time: base.Add(time.Duration(i) * time.Minute),
			From: bridge.PhaseInactive, To: bridge.PhaseActive,
			ApplicationID: tr.app, Reason: bridge.ReasonEligible,
		}))
	}

	bySession, err := s.List(Filter{SessionID: "s2"})
	require.NoError(t, err)
	assert.Len(t, bySession, 2)

	byApp, err := s.List(Filter{ApplicationID: "a"})
	require.NoError(t, err)
	assert.Len(t, byApp, 3)

	since, err := s.List(Filter{Since: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	limited, err := s.List(Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "s2", limited[0].SessionID)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTest(t)
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.RecordTransition(bridge.Transition{
		SessionID: "s1", Time: base,
		From: bridge.PhaseInactive, To: bridge.PhaseActive, Reason: bridge.ReasonEligible,
	}))

	sess, err := s.Session("s1")
	require.NoError(t, err)
	assert.True(t, sess.Ended.IsZero())
	assert.Equal(t, 1, sess.Transitions)

	require.NoError(t, s.RecordTransition(bridge.Transition{
		SessionID: "s1", Time: base.Add(time.Minute),
		From: bridge.PhaseActive, To: bridge.PhaseInactive, Reason: bridge.ReasonTeardown,
	}))

	sess, err = s.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Minute).UnixNano(), sess.Ended.UnixNano())
	assert.Equal(t, 2, sess.Transitions)

	_, err = s.Session("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	sessions, err := s.Sessions(0)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestPrune(t *testing.T) {
	s := openTest(t)
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.RecordTransition(bridge.Transition{
		SessionID: "old", Time: base,
		From: bridge.PhaseInactive, To: bridge.PhaseActive, Reason: bridge.ReasonEligible,
	}))
	require.NoError(t, s.RecordTransition(bridge.Transition{
		SessionID: "new", Time: base.Add(48 * time.Hour),
		From: bridge.PhaseInactive, To: bridge.PhaseActive, Reason: bridge.ReasonEligible,
	}))

	n, err := s.Prune(base.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.Session("old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Session("new")
	assert.NoError(t, err)
}
