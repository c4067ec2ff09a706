// Package geom provides the screen-space rectangle and region algebra used to
// describe passthrough areas.
//
// A Region is a union of rectangles kept pairwise disjoint, so area and
// containment can be computed by summing over its pieces. Rectangles are
// half-open: Min is inclusive, Max is exclusive.
package geom

import (
	"fmt"
	"image"
	"sort"
	"strings"
)

// Rect is an axis-aligned screen rectangle in pixels.
type Rect = image.Rectangle

// R is shorthand for image.Rect(left, top, right, bottom).
func R(left, top, right, bottom int) Rect {
	return image.Rect(left, top, right, bottom)
}

// Region is a possibly non-rectangular screen area. The zero value is empty.
type Region struct {
	rects []Rect
}

// NewRegion returns a region covering r.
func NewRegion(r Rect) Region {
	r = r.Canon()
	if r.Empty() {
		return Region{}
	}
	return Region{rects: []Rect{r}}
}

// IsEmpty reports whether the region covers no pixels.
func (g Region) IsEmpty() bool {
	return len(g.rects) == 0
}

// Rects returns a copy of the disjoint rectangles making up the region,
// ordered top-to-bottom then left-to-right.
func (g Region) Rects() []Rect {
	out := make([]Rect, len(g.rects))
	copy(out, g.rects)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Min.Y != out[j].Min.Y {
			return out[i].Min.Y < out[j].Min.Y
		}
		return out[i].Min.X < out[j].Min.X
	})
	return out
}

// Bounds returns the smallest rectangle containing the region.
func (g Region) Bounds() Rect {
	var b Rect
	for _, r := range g.rects {
		b = b.Union(r)
	}
	return b
}

// Area returns the number of pixels covered.
func (g Region) Area() int {
	total := 0
	for _, r := range g.rects {
		total += r.Dx() * r.Dy()
	}
	return total
}

// Contains reports whether the pixel at (x, y) is inside the region.
func (g Region) Contains(x, y int) bool {
	p := image.Pt(x, y)
	for _, r := range g.rects {
		if p.In(r) {
			return true
		}
	}
	return false
}

// Subtract returns g minus r.
func (g Region) Subtract(r Rect) Region {
	r = r.Canon()
	if r.Empty() || g.IsEmpty() {
		return g
	}
	out := make([]Rect, 0, len(g.rects)+3)
	for _, piece := range g.rects {
		out = append(out, subtractRect(piece, r)...)
	}
	return Region{rects: out}
}

// SubtractRegion returns g minus every rectangle of o.
func (g Region) SubtractRegion(o Region) Region {
	for _, r := range o.rects {
		g = g.Subtract(r)
	}
	return g
}

// Intersect returns the part of g inside r.
func (g Region) Intersect(r Rect) Region {
	out := make([]Rect, 0, len(g.rects))
	for _, piece := range g.rects {
		if in := piece.Intersect(r); !in.Empty() {
			out = append(out, in)
		}
	}
	return Region{rects: out}
}

// Union returns the area covered by g or r.
func (g Region) Union(r Rect) Region {
	r = r.Canon()
	if r.Empty() {
		return g
	}
	out := make([]Rect, 0, len(g.rects)+1)
	out = append(out, g.Subtract(r).rects...)
	out = append(out, r)
	return Region{rects: out}
}

// SubsetOf reports whether every pixel of g lies inside o.
func (g Region) SubsetOf(o Region) bool {
	return g.SubtractRegion(o).IsEmpty()
}

// Equal reports whether g and o cover exactly the same pixels, regardless of
// how either is split into rectangles.
func (g Region) Equal(o Region) bool {
	if g.Area() != o.Area() {
		return false
	}
	return g.SubsetOf(o)
}

func (g Region) String() string {
	if g.IsEmpty() {
		return "empty"
	}
	parts := make([]string, 0, len(g.rects))
	for _, r := range g.Rects() {
		parts = append(parts, fmt.Sprintf("(%d,%d,%d,%d)", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y))
	}
	return strings.Join(parts, "+")
}

// subtractRect splits a minus b into at most four disjoint bands: the full
// width strips above and below b, then the left and right remainders beside it.
func subtractRect(a, b Rect) []Rect {
	in := a.Intersect(b)
	if in.Empty() {
		return []Rect{a}
	}
	out := make([]Rect, 0, 4)
	if a.Min.Y < in.Min.Y {
		out = append(out, image.Rect(a.Min.X, a.Min.Y, a.Max.X, in.Min.Y))
	}
	if in.Max.Y < a.Max.Y {
		out = append(out, image.Rect(a.Min.X, in.Max.Y, a.Max.X, a.Max.Y))
	}
	if a.Min.X < in.Min.X {
		out = append(out, image.Rect(a.Min.X, in.Min.Y, in.Min.X, in.Max.Y))
	}
	if in.Max.X < a.Max.X {
		out = append(out, image.Rect(in.Max.X, in.Min.Y, a.Max.X, in.Max.Y))
	}
	return out
}
