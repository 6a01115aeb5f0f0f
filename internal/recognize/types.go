// Package recognize implements the identity gallery and the frame processing
// pipeline: detect candidate faces, embed them, and score them against the
// enrolled signatures.
package recognize

import (
	"errors"

	"github.com/kozaktomas/roll-call/internal/vision"
)

// Enrollment errors. Enrollment requires exactly one usable face in the frame.
var (
	ErrNoFace        = errors.New("no usable face in frame")
	ErrMultipleFaces = errors.New("multiple faces in frame")
)

// MatchResult is the scoring outcome for one face. An empty IdentityID means
// no gallery entry cleared the match threshold; Score and Confidence still
// describe the best candidate so callers can log near misses.
type MatchResult struct {
	IdentityID string
	Score      float64
	Confidence float64
}

// FaceResult is the full pipeline outcome for one detected face.
type FaceResult struct {
	Box      vision.BoundingBox
	DetScore float64
	Match    MatchResult
}

// FrameResult aggregates the outcomes of one submitted frame. Detected counts
// every region the detector proposed; Faces holds only the regions that
// survived the size and confidence filters.
type FrameResult struct {
	Detected int
	Faces    []FaceResult
}
