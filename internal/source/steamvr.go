// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

// DefaultSteamVRPort is the port the SteamVR bridge broadcasts frames on.
const DefaultSteamVRPort = 5068

// errNotTrackerFrame marks datagrams that are not a "trackers" frame.
var errNotTrackerFrame = errors.New("not a trackers frame")

// Selector picks one tracker out of a frame: by serial when set, otherwise
// by device index.
type Selector struct {
	Serial string
	Index  int
}

func (s Selector) String() string {
	if s.Serial != "" {
		return s.Serial
	}
	return "#" + strconv.Itoa(s.Index)
}

func (s Selector) matches(t gjson.Result) bool {
	if s.Serial != "" {
		return t.Get("serial").String() == s.Serial
	}
	idx := t.Get("index")
	return idx.Exists() && idx.Int() == int64(s.Index)
}

// ParseTrackerFrame extracts the selected tracker from a bridge frame:
//
//	{"type":"trackers","time":..,"trackers":[{"index":1,"serial":"LHR-..",
//	  "valid":true,"position":[x,y,z],"rotation":[x,y,z,w]}, ...]}
//
// A tracker may carry a 3x4 "matrix" pose instead of position/rotation.
// found is false when the tracker is missing or flagged invalid.
func ParseTrackerFrame(payload []byte, sel Selector) (pose Pose, found bool, err error) {
	if !gjson.ValidBytes(payload) {
		return Pose{}, false, fmt.Errorf("%w: invalid JSON", errNotTrackerFrame)
	}
	root := gjson.ParseBytes(payload)
	if typ := root.Get("type"); typ.Exists() && typ.String() != "trackers" {
		return Pose{}, false, fmt.Errorf("%w: type %q", errNotTrackerFrame, typ.String())
	}
	trackers := root.Get("trackers")
	if !trackers.IsArray() {
		return Pose{}, false, fmt.Errorf("%w: no trackers list", errNotTrackerFrame)
	}

	trackers.ForEach(func(_, t gjson.Result) bool {
		if !sel.matches(t) {
			return true
		}
		if valid := t.Get("valid"); valid.Exists() && !valid.Bool() {
			return false
		}
		pose, found = poseFromTracker(t)
		if found && pose.Tracker == "" {
			pose.Tracker = sel.String()
		}
		return false
	})
	return pose, found, nil
}

func poseFromTracker(t gjson.Result) (Pose, bool) {
	var (
		pos geometry.Point3D
		rot geometry.Mat3
	)

	if m := t.Get("matrix"); m.IsArray() {
		rows := m.Array()
		if len(rows) < 3 {
			return Pose{}, false
		}
		var col3 [3]float64
		for i := 0; i < 3; i++ {
			cells := rows[i].Array()
			if len(cells) < 4 {
				return Pose{}, false
			}
			for j := 0; j < 3; j++ {
				rot[i][j] = cells[j].Float()
			}
			col3[i] = cells[3].Float()
		}
		pos = geometry.NewPoint(col3[0], col3[1], col3[2])
	} else {
		p, ok := pointFromArray(t.Get("position"))
		if !ok {
			return Pose{}, false
		}
		pos = p
		rot = geometry.Identity()
		if r := t.Get("rotation").Array(); len(r) >= 4 {
			q := quat.Number{Real: r[3].Float(), Imag: r[0].Float(), Jmag: r[1].Float(), Kmag: r[2].Float()}
			rot = geometry.QuaternionToRotationMatrix(q)
		}
	}

	return Pose{
		Tracker:  t.Get("serial").String(),
		Position: pos,
		Rotation: geometry.RotationMatrixToQuaternion(rot),
		Euler:    geometry.RotationMatrixToEulerDeg(rot),
	}, true
}

// SteamVRHub receives the bridge broadcast once and serves any number of
// tracker views. The receiver goroutine owns the latest-frame slot; views
// copy it under the lock.
type SteamVRHub struct {
	relay *relay

	mu    sync.RWMutex
	frame []byte
	seq   uint64
}

// NewSteamVRHub binds addr (normally ":5068") and starts receiving frames.
func NewSteamVRHub(addr string, readTimeout time.Duration) (*SteamVRHub, error) {
	h := &SteamVRHub{}
	r, err := startRelay("steamvr", addr, readTimeout, h.handle)
	if err != nil {
		return nil, err
	}
	h.relay = r
	return h, nil
}

func (h *SteamVRHub) handle(payload []byte, from *net.UDPAddr) {
	if !gjson.ValidBytes(payload) {
		log.Printf("steamvr source: ignoring invalid JSON from %s", from)
		return
	}
	if typ := gjson.GetBytes(payload, "type"); typ.Exists() && typ.String() != "trackers" {
		log.Printf("steamvr source: ignoring %q datagram from %s", typ.String(), from)
		return
	}

	h.mu.Lock()
	h.frame = payload
	h.seq++
	h.mu.Unlock()
}

// latest returns the last frame and its sequence number. The payload is
// never modified after it is stored, so sharing it is safe.
func (h *SteamVRHub) latest() ([]byte, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frame, h.seq
}

// Source returns a view following the tracker picked by sel. Closing the
// view leaves the hub running.
func (h *SteamVRHub) Source(sel Selector) PoseSource {
	return &steamVRSource{hub: h, sel: sel}
}

// LocalAddr returns the bound address.
func (h *SteamVRHub) LocalAddr() *net.UDPAddr {
	return h.relay.listener.LocalAddr()
}

// Close stops the receiver.
func (h *SteamVRHub) Close() error {
	return h.relay.close()
}

// steamVRSource follows one tracker of a hub. Its fields are only touched
// by the consumer.
type steamVRSource struct {
	hub   *SteamVRHub
	sel   Selector
	owned bool

	lastSeq  uint64
	lastPose Pose
	hasPose  bool
}

// NewSteamVRSource starts a private hub on addr and follows the tracker
// picked by sel. Next returns ErrNoSample while the tracker is absent or
// invalid in the latest frame.
func NewSteamVRSource(addr string, readTimeout time.Duration, sel Selector) (PoseSource, error) {
	hub, err := NewSteamVRHub(addr, readTimeout)
	if err != nil {
		return nil, err
	}
	return &steamVRSource{hub: hub, sel: sel, owned: true}, nil
}

func (s *steamVRSource) Next() (Sample, error) {
	frame, seq := s.hub.latest()
	if seq == 0 {
		return Sample{}, ErrNoSample
	}
	if seq == s.lastSeq && s.hasPose {
		return Sample{Point: s.lastPose.Position, Stale: true}, nil
	}

	pose, found, err := ParseTrackerFrame(frame, s.sel)
	if err != nil || !found {
		s.lastSeq = seq
		s.hasPose = false
		return Sample{}, ErrNoSample
	}
	s.lastSeq = seq
	s.lastPose = pose
	s.hasPose = true
	return Sample{Point: pose.Position}, nil
}

func (s *steamVRSource) Pose() (Pose, bool) {
	return s.lastPose, s.hasPose
}

func (s *steamVRSource) Close() error {
	if !s.owned {
		return nil
	}
	return s.hub.Close()
}
