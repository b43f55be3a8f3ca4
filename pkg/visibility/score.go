package visibility

import "math"

// DefaultMaxScore caps the score of elements far outside the viewport.
const DefaultMaxScore = 2000

// Rect is an axis-aligned rectangle in pixels.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
}

func (r Rect) finite() bool {
	for _, v := range [...]float64{r.Top, r.Left, r.Bottom, r.Right} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Viewport returns the rectangle of a width x height viewport at the origin.
func Viewport(width, height float64) Rect {
	return Rect{Bottom: height, Right: width}
}

// Entry is one visibility report for an element.
type Entry struct {
	// Intersecting is true when the element overlaps the tracked region.
	Intersecting bool `json:"intersecting"`
	// Bounds is the element's bounding rectangle relative to the viewport.
	Bounds Rect `json:"bounds"`
	// Root is the viewport rectangle.
	Root Rect `json:"root"`
}

// Score returns the fetch priority for e. Intersecting elements score 0.
// Others score their pixel distance from the nearest viewport edge, rounded
// up and capped at limit. A limit <= 0 means DefaultMaxScore. Rectangles
// with non-finite coordinates score limit.
func Score(e Entry, limit int) int {
	if limit <= 0 {
		limit = DefaultMaxScore
	}
	if e.Intersecting {
		return 0
	}
	if !e.Bounds.finite() || !e.Root.finite() {
		return limit
	}
	d := Distance(e.Bounds, e.Root)
	if d >= float64(limit) {
		return limit
	}
	return int(math.Ceil(d))
}

// Distance is the gap in pixels between b and root along the axis where it
// is larger. Overlapping rectangles are 0 apart.
func Distance(b, root Rect) float64 {
	dy := gap(b.Top, b.Bottom, root.Top, root.Bottom)
	dx := gap(b.Left, b.Right, root.Left, root.Right)
	return math.Max(dx, dy)
}

func gap(lo, hi, rootLo, rootHi float64) float64 {
	switch {
	case hi < rootLo:
		return rootLo - hi
	case lo > rootHi:
		return lo - rootHi
	default:
		return 0
	}
}

// Prioritizer is implemented by schedulers whose queued tasks can be moved
// forward, such as *fetchq.Scheduler.
type Prioritizer interface {
	Prioritize(key string, priority int) bool
}

// Reprioritize returns an Observe callback that re-scores key on every
// report and hands the score to p. Only improvements take effect.
func Reprioritize(p Prioritizer, key string, limit int) func(Entry) {
	return func(e Entry) {
		p.Prioritize(key, Score(e, limit))
	}
}
