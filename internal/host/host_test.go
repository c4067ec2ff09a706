package host

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"touchbridge/internal/geom"
	"touchbridge/internal/platform"
)

const replayStream = `
# a game comes to the foreground
{"event":"foreground_changed","surfaces":[{"kind":"application","bounds":[0,0,1080,1920],"active":true,"owner":"org.example.game","tree":{"class":"android.widget.FrameLayout","children":[{"class":"android.widget.Button","text":"OK","clickable":true}]}}]}
not json
{"event":"bogus"}
{"event":"screen_off"}
{"event":"peer_service_state_changed","other_touch_exploration":true}
`

func TestReplayRun(t *testing.T) {
	r := NewReplay(1080, 1920, nil)

	var events []platform.Event
	err := r.Run(context.Background(), strings.NewReader(replayStream), func(ev platform.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, platform.EventForegroundChanged, events[0].Kind)
	assert.Equal(t, platform.EventScreenOff, events[1].Kind)
	assert.Equal(t, platform.EventPeerServiceStateChanged, events[2].Kind)
	assert.True(t, events[2].OtherTouchExplorationRequested)

	// Frames without surfaces keep the previous snapshot.
	surfaces, err := r.Surfaces(context.Background())
	require.NoError(t, err)
	require.Len(t, surfaces, 1)
	s := surfaces[0]
	assert.Equal(t, platform.KindApplication, s.Kind)
	assert.Equal(t, geom.R(0, 0, 1080, 1920), s.Bounds)
	assert.Equal(t, "org.example.game", s.Owner)
	assert.True(t, s.Active)

	root := s.Root()
	require.NotNil(t, root)
	assert.Equal(t, 1, root.ChildCount())
	child := root.Child(0)
	require.NotNil(t, child)
	assert.Equal(t, "OK", child.Text())
	assert.True(t, child.Clickable())
	assert.Nil(t, root.Child(5))
	child.Release()
	root.Release()
}

func TestReplayRunStopsOnContext(t *testing.T) {
	r := NewReplay(100, 100, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, strings.NewReader(`{"event":"windows_changed","delay_ms":1000}`+"\n"), func(platform.Event) error {
		t.Fatal("no event should be delivered")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayScreenBounds(t *testing.T) {
	r := NewReplay(1080, 1920, nil)
	assert.Equal(t, geom.R(0, 0, 1080, 1920), r.ScreenBounds())
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf, true)

	region := geom.NewRegion(geom.R(0, 0, 10, 10))
	require.NoError(t, s.ApplyPassthroughRegion(region))
	require.NoError(t, s.ApplyPassthroughRegion(geom.Region{}))

	assert.Equal(t, "passthrough (0,0,10,10)\npassthrough empty\n", buf.String())
	last, n := s.Applied()
	assert.True(t, last.IsEmpty())
	assert.Equal(t, 2, n)
}

func TestWriterSinkUnsupported(t *testing.T) {
	s := NewWriterSink(&bytes.Buffer{}, false)
	assert.ErrorIs(t, s.ApplyPassthroughRegion(geom.Region{}), platform.ErrUnsupported)
}

func TestManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`
applications:
  org.example.game:
    metadata:
      org.nvgt.capability.DIRECT_TOUCH: "true"
  org.example.launcher:
    entry_point:
      org.nvgt.capability.DIRECT_TOUCH: "yes"
`))
	require.NoError(t, err)

	md, err := m.ApplicationMetadata("org.example.game")
	require.NoError(t, err)
	v, ok := md.Bool("org.nvgt.capability.DIRECT_TOUCH")
	assert.True(t, ok)
	assert.True(t, v)

	_, err = m.EntryPointMetadata("org.example.game")
	assert.Error(t, err)

	ep, err := m.EntryPointMetadata("org.example.launcher")
	require.NoError(t, err)
	v, _ = ep.Bool("org.nvgt.capability.DIRECT_TOUCH")
	assert.True(t, v)

	_, err = m.ApplicationMetadata("org.example.missing")
	assert.ErrorIs(t, err, ErrUnknownApplication)

	m.Set("org.example.missing", ManifestApp{})
	md, err = m.ApplicationMetadata("org.example.missing")
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestLoadManifestEmptyPath(t *testing.T) {
	m, err := LoadManifest("")
	require.NoError(t, err)
	_, err = m.ApplicationMetadata("x")
	assert.ErrorIs(t, err, ErrUnknownApplication)
}

func TestEventFromSignal(t *testing.T) {
	tests := []struct {
		name   string
		sig    *dbus.Signal
		want   platform.EventKind
		other  bool
		wantOK bool
	}{
		{
			name:   "screen saver activated",
			sig:    &dbus.Signal{Name: ScreenSaverSignal, Body: []interface{}{true}},
			want:   platform.EventScreenOff,
			wantOK: true,
		},
		{
			name: "screen saver deactivated",
			sig:  &dbus.Signal{Name: ScreenSaverSignal, Body: []interface{}{false}},
		},
		{
			name: "screen reader disabled",
			sig: &dbus.Signal{
				Name: PropertiesSignal,
				Path: A11yBusPath,
				Body: []interface{}{
					A11yStatusInterface,
					map[string]dbus.Variant{"ScreenReaderEnabled": dbus.MakeVariant(false)},
					[]string{},
				},
			},
			want:   platform.EventPeerServiceStateChanged,
			wantOK: true,
		},
		{
			name: "screen reader enabled",
			sig: &dbus.Signal{
				Name: PropertiesSignal,
				Path: A11yBusPath,
				Body: []interface{}{
					A11yStatusInterface,
					map[string]dbus.Variant{"ScreenReaderEnabled": dbus.MakeVariant(true)},
					[]string{},
				},
			},
			want:   platform.EventPeerServiceStateChanged,
			other:  true,
			wantOK: true,
		},
		{
			name: "unrelated property",
			sig: &dbus.Signal{
				Name: PropertiesSignal,
				Path: A11yBusPath,
				Body: []interface{}{
					A11yStatusInterface,
					map[string]dbus.Variant{"IsEnabled": dbus.MakeVariant(true)},
					[]string{},
				},
			},
		},
		{
			name: "other object",
			sig: &dbus.Signal{
				Name: PropertiesSignal,
				Path: "/org/example",
				Body: []interface{}{A11yStatusInterface, map[string]dbus.Variant{}},
			},
		},
		{name: "nil", sig: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := EventFromSignal(tt.sig)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, ev.Kind)
				assert.Equal(t, tt.other, ev.OtherTouchExplorationRequested)
			}
		})
	}
}
