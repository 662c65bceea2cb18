// Package comparator judges whether two face images show the same person.
//
// The production backend is the iFlytek face_compare private API; Mock is
// provided for tests and offline runs.
package comparator

import "context"

// DefaultThreshold is the similarity a verdict must exceed to be a match.
const DefaultThreshold = 0.67

// Verdict is the outcome of one comparison the service answered.
type Verdict struct {
	// Ret is the service status; 0 is success.
	Ret int `json:"ret"`

	// Score is the similarity in [0, 1].
	Score float64 `json:"score"`
}

// Matches reports whether the verdict is a successful comparison scoring
// strictly above threshold.
func (v Verdict) Matches(threshold float64) bool {
	return v.Ret == 0 && v.Score > threshold
}

// Comparator compares a probe image against a reference image.
// Both are encoded images (JPEG in practice). An error means the service
// could not give a verdict; a Verdict with a non-zero Ret is not an error.
type Comparator interface {
	Compare(ctx context.Context, probe, reference []byte) (Verdict, error)
}
