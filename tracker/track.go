package tracker

import (
	"image"

	objdet "go.viam.com/rdk/vision/objectdetection"
)

// Direction is the horizontal direction a track is moving in.
type Direction int

const (
	// DirectionNone means the track has not moved far enough to tell.
	DirectionNone Direction = iota
	// DirectionLeft is movement towards smaller x.
	DirectionLeft
	// DirectionRight is movement towards larger x.
	DirectionRight
)

func (d Direction) String() string {
	switch d {
	case DirectionLeft:
		return "left"
	case DirectionRight:
		return "right"
	default:
		return "none"
	}
}

// ParseDirection is the inverse of Direction.String. Unknown names map to DirectionNone.
func ParseDirection(s string) Direction {
	switch s {
	case "left":
		return DirectionLeft
	case "right":
		return DirectionRight
	default:
		return DirectionNone
	}
}

// Movement describes where a track is heading, with a label suitable for display.
type Movement struct {
	Direction Direction
	Label     string
}

var movementLabels = map[Direction]string{
	DirectionNone:  "standing",
	DirectionLeft:  "walking left",
	DirectionRight: "walking right",
}

func newMovement(d Direction) Movement {
	return Movement{Direction: d, Label: movementLabels[d]}
}

// Point is a bounding box centroid in pixel coordinates.
type Point struct {
	X, Y float64
}

// Centroid returns the center of a bounding box. Inverted or empty boxes are
// not canonicalized, the corners are averaged as given.
func Centroid(bb *image.Rectangle) Point {
	if bb == nil {
		return Point{}
	}
	return Point{
		X: float64(bb.Min.X+bb.Max.X) / 2,
		Y: float64(bb.Min.Y+bb.Max.Y) / 2,
	}
}

// Track is one pedestrian identity followed across frames.
type Track struct {
	ID       int
	Det      objdet.Detection
	History  []Point
	Missing  int
	Movement Movement
}

func newTrack(id int, det objdet.Detection, c Point) *Track {
	return &Track{
		ID:       id,
		Det:      det,
		History:  []Point{c},
		Movement: newMovement(DirectionNone),
	}
}

func (tr *Track) clone() *Track {
	history := make([]Point, len(tr.History))
	copy(history, tr.History)
	return &Track{
		ID:       tr.ID,
		Det:      tr.Det,
		History:  history,
		Missing:  tr.Missing,
		Movement: tr.Movement,
	}
}

// Centroid is the most recent centroid of the track.
func (tr *Track) Centroid() Point {
	if len(tr.History) == 0 {
		return Centroid(tr.Det.BoundingBox())
	}
	return tr.History[len(tr.History)-1]
}

// observe moves the track onto a new detection and re-estimates its direction
// from the net horizontal displacement over the retained history.
func (tr *Track) observe(det objdet.Detection, c Point, historySize int, threshold float64) {
	tr.Det = det
	tr.Missing = 0
	tr.History = append(tr.History, c)
	if len(tr.History) > historySize {
		tr.History = tr.History[len(tr.History)-historySize:]
	}
	dx := tr.History[len(tr.History)-1].X - tr.History[0].X
	switch {
	case dx > threshold:
		tr.Movement = newMovement(DirectionRight)
	case dx < -threshold:
		tr.Movement = newMovement(DirectionLeft)
	default:
		tr.Movement = newMovement(DirectionNone)
	}
}

func cloneTracks(tracks []*Track) []*Track {
	out := make([]*Track, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, tr.clone())
	}
	return out
}

// Detections returns the current detection of every track, relabelled with
// the track identity (see Label). Tracks whose detection has no bounding box
// are left out.
func Detections(tracks []*Track) []objdet.Detection {
	dets := make([]objdet.Detection, 0, len(tracks))
	for _, tr := range tracks {
		if tr.Det == nil || tr.Det.BoundingBox() == nil {
			continue
		}
		dets = append(dets, ReplaceLabel(tr.Det, Label(tr)))
	}
	return dets
}
