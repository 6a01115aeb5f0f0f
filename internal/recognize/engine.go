package recognize

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/kozaktomas/roll-call/internal/config"
	"github.com/kozaktomas/roll-call/internal/constants"
	"github.com/kozaktomas/roll-call/internal/vision"
)

// Detector locates candidate face regions in a frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]vision.Detection, error)
}

// Embedder computes the signature vector for a face crop.
type Embedder interface {
	EmbedCrop(ctx context.Context, crop []byte) ([]float32, error)
}

// Engine runs the frame pipeline: detect, filter, crop, embed, match.
type Engine struct {
	gallery  *Gallery
	detector Detector
	embedder Embedder
	cal      config.ModelCalibration
}

// NewEngine creates a recognition engine bound to a gallery and a vision
// backend, calibrated for the backend's signature model.
func NewEngine(gallery *Gallery, detector Detector, embedder Embedder, cal config.ModelCalibration) *Engine {
	return &Engine{
		gallery:  gallery,
		detector: detector,
		embedder: embedder,
		cal:      cal,
	}
}

// Gallery returns the engine's gallery.
func (e *Engine) Gallery() *Gallery {
	return e.gallery
}

// ProcessFrame runs the full pipeline on one frame. Detections below the
// detector confidence threshold or the minimum face size are dropped before
// embedding; they count toward Detected but produce no FaceResult. All faces
// of a frame are matched against the same gallery snapshot. Zero faces is a
// valid outcome.
func (e *Engine) ProcessFrame(ctx context.Context, frame []byte) (*FrameResult, error) {
	img, err := vision.DecodeFrame(frame)
	if err != nil {
		return nil, err
	}

	detections, err := e.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}

	result := &FrameResult{Detected: len(detections)}
	kept := filterDetections(detections, e.cal.DetectionThreshold)
	if len(kept) == 0 {
		return result, nil
	}

	snap := e.gallery.Snapshot()
	faces := make([]FaceResult, len(kept))
	errs := make([]error, len(kept))

	var wg sync.WaitGroup
	sem := make(chan struct{}, constants.FrameWorkerLimit)
	for i, det := range kept {
		wg.Add(1)
		go func(i int, det vision.Detection) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			faces[i], errs[i] = e.processFace(ctx, img, det, snap)
		}(i, det)
	}
	wg.Wait()

	for i, det := range kept {
		if errs[i] != nil {
			return nil, fmt.Errorf("face at %d,%d: %w", det.Box.X, det.Box.Y, errs[i])
		}
		result.Faces = append(result.Faces, faces[i])
	}
	return result, nil
}

// processFace embeds one detection and scores it against the snapshot. A
// region that clamps to nothing or embeds to a zero vector yields a result
// without a match instead of an error.
func (e *Engine) processFace(ctx context.Context, img image.Image, det vision.Detection, snap *Snapshot) (FaceResult, error) {
	face := FaceResult{Box: det.Box, DetScore: det.Score}

	region, ok := vision.ClampCrop(det.Box, img.Bounds())
	if !ok {
		return face, nil
	}

	crop, err := vision.EncodeCrop(img, region)
	if err != nil {
		return face, err
	}

	raw, err := e.embedder.EmbedCrop(ctx, crop)
	if err != nil {
		return face, fmt.Errorf("embedding: %w", err)
	}

	vec := vision.Normalize(raw)
	if vec == nil {
		return face, nil
	}

	face.Match = Match(vec, snap, e.cal.MatchThreshold)
	return face, nil
}

// EmbedSingleFace runs detect and embed for enrollment. The frame must
// contain exactly one usable face; anything else is rejected so a signature
// can never be stored for the wrong person. Returns the unit-length vector.
func (e *Engine) EmbedSingleFace(ctx context.Context, frame []byte) ([]float32, error) {
	img, err := vision.DecodeFrame(frame)
	if err != nil {
		return nil, err
	}

	detections, err := e.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}

	kept := filterDetections(detections, e.cal.DetectionThreshold)
	switch {
	case len(kept) == 0:
		return nil, ErrNoFace
	case len(kept) > 1:
		return nil, fmt.Errorf("%w: found %d", ErrMultipleFaces, len(kept))
	}

	region, ok := vision.ClampCrop(kept[0].Box, img.Bounds())
	if !ok {
		return nil, ErrNoFace
	}

	crop, err := vision.EncodeCrop(img, region)
	if err != nil {
		return nil, err
	}

	raw, err := e.embedder.EmbedCrop(ctx, crop)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}

	vec := vision.Normalize(raw)
	if vec == nil {
		return nil, ErrNoFace
	}
	return vec, nil
}

// filterDetections drops low-confidence and undersized regions.
func filterDetections(detections []vision.Detection, detThreshold float64) []vision.Detection {
	kept := make([]vision.Detection, 0, len(detections))
	for _, det := range detections {
		if det.Score < detThreshold {
			continue
		}
		if det.Box.W < constants.MinFaceSize || det.Box.H < constants.MinFaceSize {
			continue
		}
		kept = append(kept, det)
	}
	return kept
}
