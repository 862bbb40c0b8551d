package source

import (
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, err := ParseKind(" SteamVR ")
	require.NoError(t, err)
	assert.Equal(t, KindSteamVR, k)

	_, err = ParseKind("lighthouse")
	require.Error(t, err)

	_, err = Open(Options{Kind: "lighthouse"})
	require.Error(t, err)
}

func TestMockSourceIsDeterministic(t *testing.T) {
	t.Parallel()

	opts := DefaultMockOptions()
	a, b := NewMockSource(opts), NewMockSource(opts)
	for i := 0; i < 20; i++ {
		sa, err := a.Next()
		require.NoError(t, err)
		sb, err := b.Next()
		require.NoError(t, err)
		assert.Equal(t, sa, sb)
	}
}

func TestMockSourceFollowsOrbit(t *testing.T) {
	t.Parallel()

	opts := MockOptions{
		Pivot:   geometry.NewPoint(0, 1, 0),
		Radius:  0.5,
		TiltDeg: 30,
		StepDeg: 10,
	}
	src, err := Open(Options{Kind: KindMock, Mock: opts})
	require.NoError(t, err)
	defer src.Close()

	for i := 0; i < 36; i++ {
		s, err := src.Next()
		require.NoError(t, err)
		assert.False(t, s.Stale)
		assert.InDelta(t, 0.5, geometry.Distance(s.Point, opts.Pivot), 1e-12)
		if diff := cmp.Diff(OrbitPoint(opts, float64(i)*10), s.Point, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("sample %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestParseReplayLayouts(t *testing.T) {
	t.Parallel()

	want := []geometry.Point3D{
		geometry.NewPoint(1, 2, 3),
		geometry.NewPoint(4, 5, 6),
		geometry.NewPoint(7, 8, 9),
		geometry.NewPoint(10, 11, 12),
		geometry.NewPoint(13, 14, 15),
	}

	cases := []struct {
		name    string
		doc     string
		skipped int
	}{
		{
			name: "list of mixed items",
			doc:  `[{"x":1,"y":2,"z":3},{"pos":[4,5,6]},{"position":[7,8,9]},{"p":[10,11,12]},[13,14,15]]`,
		},
		{
			name: "samples object",
			doc:  `{"samples":[{"x":1,"y":2,"z":3,"ts":0.1},[4,5,6],[7,8,9],[10,11,12],{"pos":[13,14,15,99]}]}`,
		},
		{
			name:    "malformed items skipped",
			doc:     `[{"x":1,"y":2,"z":3},{"x":"a","y":2,"z":3},[4,5,6],[1,2],{"pos":[7,8,9]},null,[10,11,12],{"p":[13,14,15]}]`,
			skipped: 3,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, skipped, err := ParseReplay([]byte(tc.doc))
			require.NoError(t, err)
			assert.Equal(t, tc.skipped, skipped)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseReplayRejects(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{`nope`, `{"points":[]}`, `[]`, `[[1,2]]`, `42`} {
		_, _, err := ParseReplay([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func writeReplay(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestReplaySourceTerminates(t *testing.T) {
	t.Parallel()

	src, err := NewReplaySource(writeReplay(t, `[[1,0,0],[0,1,0]]`), false)
	require.NoError(t, err)
	defer src.Close()

	s, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, geometry.NewPoint(1, 0, 0), s.Point)
	_, err = src.Next()
	require.NoError(t, err)

	_, err = src.Next()
	require.ErrorIs(t, err, ErrExhausted)
	_, err = src.Next()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestReplaySourceLoops(t *testing.T) {
	t.Parallel()

	src, err := Open(Options{Kind: KindReplay, ReplayFile: writeReplay(t, `{"samples":[[1,0,0],[0,1,0]]}`), ReplayLoop: true})
	require.NoError(t, err)
	defer src.Close()

	var got []geometry.Point3D
	for i := 0; i < 5; i++ {
		s, err := src.Next()
		require.NoError(t, err)
		got = append(got, s.Point)
	}
	a, b := geometry.NewPoint(1, 0, 0), geometry.NewPoint(0, 1, 0)
	assert.Equal(t, []geometry.Point3D{a, b, a, b, a}, got)
}

func TestReplaySourceMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewReplaySource(filepath.Join(t.TempDir(), "missing.json"), false)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func sendTo(t *testing.T, addr *net.UDPAddr, payload string) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
}

func TestUDPSourceLatestAndStale(t *testing.T) {
	t.Parallel()

	src, err := NewUDPSource("127.0.0.1:0", 20*time.Millisecond)
	require.NoError(t, err)
	defer src.Close()
	addr := src.(*udpSource).LocalAddr()

	_, err = src.Next()
	require.ErrorIs(t, err, ErrNoSample)

	sendTo(t, addr, `{"x":1.5,"y":2.5,"z":-3,"ts":10}`)

	var s Sample
	require.Eventually(t, func() bool {
		s, err = src.Next()
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, geometry.NewPoint(1.5, 2.5, -3), s.Point)
	assert.False(t, s.Stale)

	s, err = src.Next()
	require.NoError(t, err)
	assert.True(t, s.Stale, "no new datagram repeats the cached sample")
	assert.Equal(t, geometry.NewPoint(1.5, 2.5, -3), s.Point)

	sendTo(t, addr, `{"hello":"world"}`)
	sendTo(t, addr, `{"x":4,"y":5,"z":6}`)
	require.Eventually(t, func() bool {
		s, err = src.Next()
		return err == nil && !s.Stale
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, geometry.NewPoint(4, 5, 6), s.Point)
}

const steamFrame = `{"type":"trackers","time":12.5,"trackers":[
	{"index":1,"serial":"LHR-AAAA","valid":true,"position":[0.1,1.2,0.3],"rotation":[0,0,0,1]},
	{"index":2,"serial":"LHR-BBBB","valid":false,"position":[9,9,9],"rotation":[0,0,0,1]},
	{"index":3,"serial":"LHR-CCCC","valid":true,"matrix":[[0,-1,0,1],[1,0,0,2],[0,0,1,3]]}
]}`

func TestParseTrackerFrame(t *testing.T) {
	t.Parallel()

	pose, found, err := ParseTrackerFrame([]byte(steamFrame), Selector{Serial: "LHR-AAAA"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "LHR-AAAA", pose.Tracker)
	assert.Equal(t, geometry.NewPoint(0.1, 1.2, 0.3), pose.Position)
	assert.InDelta(t, 1, pose.Rotation.Real, 1e-12)

	pose, found, err = ParseTrackerFrame([]byte(steamFrame), Selector{Index: 3})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, geometry.NewPoint(1, 2, 3), pose.Position)
	assert.InDelta(t, 90, pose.Euler.Yaw, 1e-9)
	assert.InDelta(t, math.Sqrt2/2, pose.Rotation.Real, 1e-12)
	assert.InDelta(t, math.Sqrt2/2, pose.Rotation.Kmag, 1e-12)

	_, found, err = ParseTrackerFrame([]byte(steamFrame), Selector{Serial: "LHR-BBBB"})
	require.NoError(t, err)
	assert.False(t, found, "invalid tracker is absent")

	_, found, err = ParseTrackerFrame([]byte(steamFrame), Selector{Serial: "LHR-ZZZZ"})
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = ParseTrackerFrame([]byte(`{"type":"circle"}`), Selector{})
	require.ErrorIs(t, err, errNotTrackerFrame)
}

func TestSteamVRSource(t *testing.T) {
	t.Parallel()

	src, err := NewSteamVRSource("127.0.0.1:0", 20*time.Millisecond, Selector{Serial: "LHR-AAAA"})
	require.NoError(t, err)
	defer src.Close()
	addr := src.(*steamVRSource).hub.LocalAddr()

	_, ok := src.Pose()
	assert.False(t, ok)
	_, err = src.Next()
	require.ErrorIs(t, err, ErrNoSample)

	sendTo(t, addr, steamFrame)
	var s Sample
	require.Eventually(t, func() bool {
		s, err = src.Next()
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, geometry.NewPoint(0.1, 1.2, 0.3), s.Point)

	pose, ok := src.Pose()
	require.True(t, ok)
	assert.Equal(t, "LHR-AAAA", pose.Tracker)

	s, err = src.Next()
	require.NoError(t, err)
	assert.True(t, s.Stale)

	sendTo(t, addr, `{"type":"trackers","trackers":[{"index":1,"serial":"LHR-AAAA","valid":false}]}`)
	require.Eventually(t, func() bool {
		_, err = src.Next()
		return err == ErrNoSample
	}, 2*time.Second, 10*time.Millisecond)
	_, ok = src.Pose()
	assert.False(t, ok)
}

func TestSteamVRHubSharedByTrackers(t *testing.T) {
	t.Parallel()

	hub, err := NewSteamVRHub("127.0.0.1:0", 20*time.Millisecond)
	require.NoError(t, err)
	defer hub.Close()

	vertical, err := Open(Options{Kind: KindSteamVR, SteamVRHub: hub, TrackerSerial: "LHR-AAAA"})
	require.NoError(t, err)
	horizontal, err := Open(Options{Kind: KindSteamVR, SteamVRHub: hub, TrackerIndex: 3})
	require.NoError(t, err)

	sendTo(t, hub.LocalAddr(), `{"type":"circle"}`)
	sendTo(t, hub.LocalAddr(), steamFrame)

	var v, h Sample
	require.Eventually(t, func() bool {
		v, err = vertical.Next()
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	h, err = horizontal.Next()
	require.NoError(t, err)

	assert.Equal(t, geometry.NewPoint(0.1, 1.2, 0.3), v.Point)
	assert.Equal(t, geometry.NewPoint(1, 2, 3), h.Point)

	// Closing a view leaves the hub serving the other one.
	require.NoError(t, vertical.Close())
	h, err = horizontal.Next()
	require.NoError(t, err)
	assert.True(t, h.Stale)
}

func TestAS5600ReadsAngleRegister(t *testing.T) {
	t.Parallel()

	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: AS5600DefaultAddr, W: []byte{0x0E}, R: []byte{0x08, 0x00}},
		{Addr: AS5600DefaultAddr, W: []byte{0x0E}, R: []byte{0xF4, 0x00}},
	}}
	enc := NewAS5600(bus, 0)

	deg, err := enc.ReadAngleDeg()
	require.NoError(t, err)
	assert.InDelta(t, 180, deg, 1e-12)

	// Upper nibble of the high byte is not part of the angle.
	raw, err := enc.ReadAngleRaw()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x400), raw)

	require.NoError(t, enc.Close())
	require.NoError(t, bus.Close())
}

func TestSerialEncoderKeepsLatestLine(t *testing.T) {
	t.Parallel()

	enc := NewSerialEncoder(io.NopCloser(strings.NewReader("90\n\n{\"angle_deg\":180.5}\ngarbage\n270")))

	// Malformed lines are skipped; only the newest angle is kept.
	var deg float64
	require.Eventually(t, func() bool {
		var err error
		deg, err = enc.ReadAngleDeg()
		return err == nil
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 270.0, deg)

	_, err := enc.ReadAngleDeg()
	require.ErrorIs(t, err, io.EOF)
	require.ErrorIs(t, err, ErrExhausted)
	require.NoError(t, enc.Close())
}

func TestSerialEncoderDoesNotBlock(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	enc := NewSerialEncoder(pr)

	_, err := enc.ReadAngleDeg()
	require.ErrorIs(t, err, ErrNoSample)

	go func() { _, _ = pw.Write([]byte("45\n")) }()
	var deg float64
	require.Eventually(t, func() bool {
		deg, err = enc.ReadAngleDeg()
		return err == nil
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 45.0, deg)

	// Nothing new since the previous call.
	_, err = enc.ReadAngleDeg()
	require.ErrorIs(t, err, ErrNoSample)

	require.NoError(t, enc.Close())
	select {
	case <-enc.done:
	default:
		t.Fatal("reader goroutine still running after Close")
	}
}

func TestSerialEncoderSourceSkipsSilence(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	src := NewEncoderSource(NewSerialEncoder(pr), 1)
	defer src.Close()

	_, err := src.Next()
	require.ErrorIs(t, err, ErrNoSample)

	go func() { _, _ = pw.Write([]byte("90\n")) }()
	var s Sample
	require.Eventually(t, func() bool {
		s, err = src.Next()
		return err == nil
	}, 2*time.Second, time.Millisecond)
	assert.InDelta(t, 1, s.Point.Y, 1e-12)
}

type fixedAngles struct {
	angles []float64
	closed bool
}

func (f *fixedAngles) ReadAngleDeg() (float64, error) {
	if len(f.angles) == 0 {
		return 0, io.EOF
	}
	a := f.angles[0]
	f.angles = f.angles[1:]
	return a, nil
}

func (f *fixedAngles) Close() error {
	f.closed = true
	return nil
}

func TestEncoderSourceMapsToCircle(t *testing.T) {
	t.Parallel()

	reader := &fixedAngles{angles: []float64{0, 90}}
	src := NewEncoderSource(reader, 2)

	s, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, geometry.NewPoint(2, 0, 0), s.Point)

	s, err = src.Next()
	require.NoError(t, err)
	assert.InDelta(t, 0, s.Point.X, 1e-12)
	assert.InDelta(t, 2, s.Point.Y, 1e-12)

	_, err = src.Next()
	require.ErrorIs(t, err, io.EOF)

	require.NoError(t, src.Close())
	assert.True(t, reader.closed)
}
