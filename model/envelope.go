package model

import (
	"fmt"
	"math"
)

// Envelope is an axis-aligned bounding box in an unspecified (but consistent) coordinate system.
type Envelope struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

func NewEnvelope(x1, y1, x2, y2 float64) Envelope {
	return Envelope{
		MinX: math.Min(x1, x2),
		MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2),
		MaxY: math.Max(y1, y2),
	}
}

// An envelope is empty when it is inverted on either axis, which is also what a zero-area "nothing" accumulator looks like.
func (e Envelope) IsEmpty() bool {
	return e.MinX > e.MaxX || e.MinY > e.MaxY
}

func (e Envelope) isValid() bool {
	for _, v := range []float64{e.MinX, e.MinY, e.MaxX, e.MaxY} {
		if math.IsNaN(v) {
			return false
		}
	}
	return !e.IsEmpty()
}

func (e Envelope) Intersects(other Envelope) bool {
	if e.IsEmpty() || other.IsEmpty() {
		return false
	}
	return !(other.MinX > e.MaxX || other.MaxX < e.MinX || other.MinY > e.MaxY || other.MaxY < e.MinY)
}

// ExpandToInclude returns the smallest envelope covering both e and other.
func (e Envelope) ExpandToInclude(other Envelope) Envelope {
	if other.IsEmpty() {
		return e
	}
	if e.IsEmpty() {
		return other
	}
	return Envelope{
		MinX: math.Min(e.MinX, other.MinX),
		MinY: math.Min(e.MinY, other.MinY),
		MaxX: math.Max(e.MaxX, other.MaxX),
		MaxY: math.Max(e.MaxY, other.MaxY),
	}
}

func (e Envelope) String() string {
	return fmt.Sprintf("[%g %g, %g %g]", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

func envelopeEqual(a, b *Envelope) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func emptyEnvelope() Envelope {
	return Envelope{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
}
