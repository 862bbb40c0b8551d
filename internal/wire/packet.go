// Package wire defines the JSON packets sent to viewers, one object per
// datagram.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

// Packet kinds. Position and phase packets carry no "type" field on the
// wire; the kind is still used for routing (MQTT topic suffix).
const (
	KindPosition = "position"
	KindCircle   = "circle"
	KindRefLine  = "refline"
	KindPhase    = "phase"
	KindPose     = "pose"
)

// ErrUnknownPacket is returned by Decode for payloads matching no packet.
var ErrUnknownPacket = errors.New("unknown packet")

// Packet is any outbound message.
type Packet interface {
	Kind() string
}

// Position is a raw sample, sent while calibrating.
type Position struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	TS float64 `json:"ts"`
}

// Circle is the fitted circle.
type Circle struct {
	Center [3]float64 `json:"center"`
	Normal [3]float64 `json:"normal"`
	Radius float64    `json:"radius"`
	TS     float64    `json:"ts"`
}

// RefLine is the zero-angle reference line. Highest is the reference
// sample.
type RefLine struct {
	Origin  [3]float64 `json:"origin"`
	Highest [3]float64 `json:"highest"`
	TS      float64    `json:"ts"`
}

// Phase is one phase update.
type Phase struct {
	AngleDeg        float64 `json:"angle_deg"`
	AngularVelocity float64 `json:"angular_velocity"`
	TS              float64 `json:"ts"`
}

// Pose is the full pose of a tracker that reports rotation. Rotation is
// [w,x,y,z]; Euler is [roll,pitch,yaw] in degrees.
type Pose struct {
	Tracker  string     `json:"tracker"`
	Position [3]float64 `json:"position"`
	Rotation [4]float64 `json:"rotation"`
	Euler    [3]float64 `json:"euler"`
	TS       float64    `json:"ts"`
}

func (Position) Kind() string { return KindPosition }
func (Circle) Kind() string   { return KindCircle }
func (RefLine) Kind() string  { return KindRefLine }
func (Phase) Kind() string    { return KindPhase }
func (Pose) Kind() string     { return KindPose }

func (c Circle) MarshalJSON() ([]byte, error) {
	type plain Circle
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{KindCircle, plain(c)})
}

func (r RefLine) MarshalJSON() ([]byte, error) {
	type plain RefLine
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{KindRefLine, plain(r)})
}

func (p Pose) MarshalJSON() ([]byte, error) {
	type plain Pose
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{KindPose, plain(p)})
}

// Timestamp converts t to seconds since the Unix epoch.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// NewPosition builds a position packet.
func NewPosition(p geometry.Point3D, ts float64) Position {
	return Position{X: p.X, Y: p.Y, Z: p.Z, TS: ts}
}

// NewCircle builds a circle packet.
func NewCircle(c geometry.Circle, ts float64) Circle {
	return Circle{
		Center: geometry.Array(c.Center),
		Normal: geometry.Array(c.Normal),
		Radius: c.Radius,
		TS:     ts,
	}
}

// NewRefLine builds a reference line packet.
func NewRefLine(origin, reference geometry.Point3D, ts float64) RefLine {
	return RefLine{
		Origin:  geometry.Array(origin),
		Highest: geometry.Array(reference),
		TS:      ts,
	}
}

// NewPhase builds a phase packet.
func NewPhase(angleDeg, angularVelocity, ts float64) Phase {
	return Phase{AngleDeg: angleDeg, AngularVelocity: angularVelocity, TS: ts}
}

// Marshal encodes p as a single JSON object.
func Marshal(p Packet) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s packet: %w", p.Kind(), err)
	}
	return b, nil
}

// Decode classifies payload by its "type" field, or by field presence for
// untyped packets, and decodes it.
func Decode(payload []byte) (Packet, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrUnknownPacket)
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrUnknownPacket)
	}

	var dst Packet
	switch typ := root.Get("type"); {
	case typ.Exists():
		switch typ.String() {
		case KindCircle:
			dst = &Circle{}
		case KindRefLine:
			dst = &RefLine{}
		case KindPose:
			dst = &Pose{}
		default:
			return nil, fmt.Errorf("%w: type %q", ErrUnknownPacket, typ.String())
		}
	case root.Get("angle_deg").Exists():
		dst = &Phase{}
	case root.Get("x").Exists() && root.Get("y").Exists() && root.Get("z").Exists():
		dst = &Position{}
	default:
		return nil, ErrUnknownPacket
	}

	if err := json.Unmarshal(payload, dst); err != nil {
		return nil, fmt.Errorf("decode %s packet: %w", dst.Kind(), err)
	}
	return deref(dst), nil
}

// deref returns the value form of a decoded packet so callers can type
// switch on the same types they publish.
func deref(p Packet) Packet {
	switch v := p.(type) {
	case *Position:
		return *v
	case *Circle:
		return *v
	case *RefLine:
		return *v
	case *Phase:
		return *v
	case *Pose:
		return *v
	}
	return p
}
