package models

import "seehuhn.de/go/geom/rect"

// BoardOutline is the board shape derived from the positive surfaces of a
// profile, as SVG path data.
type BoardOutline struct {
	Islands []string  `json:"islands"`
	Holes   []string  `json:"holes"`
	Bounds  rect.Rect `json:"bounds"`
}

// Empty reports whether the outline has no contours.
func (o *BoardOutline) Empty() bool {
	return len(o.Islands) == 0 && len(o.Holes) == 0
}
