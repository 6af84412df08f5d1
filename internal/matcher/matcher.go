// Package matcher assigns identities to detected faces by nearest gallery encoding.
package matcher

import (
	"math"

	"github.com/andresmejia3/securiface/internal/types"
)

const (
	DefaultTolerance    = 0.5
	DefaultUnknownLabel = "Unknown"
)

type Matcher struct {
	Tolerance    float64
	UnknownLabel string
}

func New(tolerance float64, unknownLabel string) *Matcher {
	if unknownLabel == "" {
		unknownLabel = DefaultUnknownLabel
	}
	return &Matcher{Tolerance: tolerance, UnknownLabel: unknownLabel}
}

// EuclideanDistance returns +Inf when the vectors differ in length.
func EuclideanDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match finds the closest gallery face. The first face wins on equal distances.
// A face is matched when its distance is within Tolerance, boundary included.
func (m *Matcher) Match(face types.DetectedFace, gallery []types.KnownFace) types.MatchResult {
	res := types.MatchResult{
		Face:     face,
		Identity: m.UnknownLabel,
		Distance: math.Inf(1),
	}
	best := -1
	for i, known := range gallery {
		d := EuclideanDistance(face.Encoding, known.Encoding)
		if d < res.Distance {
			res.Distance = d
			best = i
		}
	}
	if best >= 0 && res.Distance <= m.Tolerance {
		res.Identity = gallery[best].Name
		res.Matched = true
	}
	return res
}

// MatchAll matches every face and returns the results in input order.
func (m *Matcher) MatchAll(faces []types.DetectedFace, gallery []types.KnownFace) []types.MatchResult {
	out := make([]types.MatchResult, len(faces))
	for i, f := range faces {
		out[i] = m.Match(f, gallery)
	}
	return out
}
