package haptics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeActuator struct {
	patterns [][]time.Duration
	err      error
}

func (a *fakeActuator) Vibrate(p []time.Duration) error {
	a.patterns = append(a.patterns, p)
	return a.err
}

type gate bool

func (g gate) HapticsEnabled() bool { return bool(g) }

func TestNotifyIsEdgeTriggered(t *testing.T) {
	act := &fakeActuator{}
	n := NewNotifier(act, gate(true), nil)

	n.Notify(true)
	n.Notify(true)
	assert.Len(t, act.patterns, 1)
	assert.Equal(t, EnablePattern, act.patterns[0])

	n.Notify(false)
	n.Notify(false)
	assert.Len(t, act.patterns, 2)
	assert.Equal(t, DisablePattern, act.patterns[1])
}

func TestInitialFalseIsNoop(t *testing.T) {
	act := &fakeActuator{}
	n := NewNotifier(act, gate(true), nil)
	n.Notify(false)
	assert.Empty(t, act.patterns)
}

func TestHapticsDisabled(t *testing.T) {
	act := &fakeActuator{}
	n := NewNotifier(act, gate(false), nil)
	n.Notify(true)
	n.Notify(false)
	assert.Empty(t, act.patterns)
}

func TestActuatorFailureSwallowed(t *testing.T) {
	act := &fakeActuator{err: errors.New("no vibrator")}
	n := NewNotifier(act, nil, nil)
	assert.NotPanics(t, func() { n.Notify(true) })
	assert.Len(t, act.patterns, 1)

	n.Notify(true)
	assert.Len(t, act.patterns, 1, "failed pulse still counts as the edge")
}

func TestReset(t *testing.T) {
	act := &fakeActuator{}
	n := NewNotifier(act, nil, nil)
	n.Notify(true)
	n.Reset()
	n.Notify(true)
	assert.Len(t, act.patterns, 2)
}

func TestNilActuator(t *testing.T) {
	n := NewNotifier(nil, nil, nil)
	assert.NotPanics(t, func() {
		n.Notify(true)
		n.Notify(false)
	})
}
