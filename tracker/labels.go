// Package tracker implements the pedestrian identity tracker.
// This file contains methods that handle the label (or name) of a detection.
// Tracked detections are relabelled classname_ID_direction, e.g. person_4_left.
package tracker

import (
	"image"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	objdet "go.viam.com/rdk/vision/objectdetection"
)

// DefaultClassName is used for tracks whose detection carries no label.
const DefaultClassName = "person"

// ReplaceLabel returns an almost identical detection (new label). A detection
// without a bounding box gets an empty one.
func ReplaceLabel(det objdet.Detection, label string) objdet.Detection {
	var bb image.Rectangle
	if box := det.BoundingBox(); box != nil {
		bb = *box
	}
	return objdet.NewDetection(bb, det.Score(), label)
}

// baseLabel is the lower-cased class name, i.e. everything before the first underscore.
func baseLabel(label string) string {
	return strings.ToLower(strings.Split(label, "_")[0])
}

// Label names a track as classname_ID_direction.
func Label(tr *Track) string {
	class := DefaultClassName
	if tr.Det != nil {
		if b := baseLabel(tr.Det.Label()); b != "" {
			class = b
		}
	}
	return class + "_" + strconv.Itoa(tr.ID) + "_" + tr.Movement.Direction.String()
}

// ParseLabel recovers the class name, track ID and direction from a label built by Label.
func ParseLabel(label string) (string, int, Direction, error) {
	parts := strings.Split(label, "_")
	if len(parts) < 3 {
		return "", 0, DirectionNone, errors.Errorf("label %q is not of the form class_id_direction", label)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, DirectionNone, errors.Wrapf(err, "unable to parse label %v", label)
	}
	return parts[0], id, ParseDirection(parts[2]), nil
}
