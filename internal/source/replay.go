package source

import (
	"fmt"
	"log"
	"os"

	"github.com/tidwall/gjson"

	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

type replaySource struct {
	path   string
	points []geometry.Point3D
	next   int
	loop   bool
}

// NewReplaySource loads a recorded session from path. See ParseReplay for
// the accepted layouts. With loop set the samples repeat forever; otherwise
// Next returns ErrExhausted after the last one.
func NewReplaySource(path string, loop bool) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: read %s: %w", path, err)
	}
	points, skipped, err := ParseReplay(data)
	if err != nil {
		return nil, fmt.Errorf("replay: %s: %w", path, err)
	}
	if skipped > 0 {
		log.Printf("replay: skipped %d malformed samples in %s", skipped, path)
	}
	return &replaySource{path: path, points: points, loop: loop}, nil
}

// ParseReplay normalizes a recording. The document is either a list of
// samples or an object with a "samples" list. Each sample is
// {"x":..,"y":..,"z":..}, an object holding a "pos", "position" or "p"
// array, or a bare [x,y,z] array. Malformed samples are skipped and
// counted.
func ParseReplay(data []byte) ([]geometry.Point3D, int, error) {
	if !gjson.ValidBytes(data) {
		return nil, 0, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(data)

	var items []gjson.Result
	switch {
	case root.IsArray():
		items = root.Array()
	case root.IsObject() && root.Get("samples").IsArray():
		items = root.Get("samples").Array()
	default:
		return nil, 0, fmt.Errorf("expected a list of samples or an object with \"samples\"")
	}

	points := make([]geometry.Point3D, 0, len(items))
	skipped := 0
	for _, item := range items {
		p, ok := pointFromResult(item)
		if !ok {
			skipped++
			continue
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil, skipped, fmt.Errorf("no usable samples")
	}
	return points, skipped, nil
}

func (r *replaySource) Next() (Sample, error) {
	if r.next >= len(r.points) {
		if !r.loop {
			return Sample{}, ErrExhausted
		}
		r.next = 0
	}
	p := r.points[r.next]
	r.next++
	return Sample{Point: p}, nil
}

func (r *replaySource) Close() error { return nil }
