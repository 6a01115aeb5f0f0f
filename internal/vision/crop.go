package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/roll-call/internal/constants"
)

// ErrInvalidFrame marks frame data that cannot be decoded as an image. It lets
// callers tell a bad upload apart from a vision backend failure.
var ErrInvalidFrame = errors.New("invalid frame")

// DecodeFrame decodes a JPEG or PNG frame into an image.
func DecodeFrame(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return img, nil
}

// ClampCrop clamps a bounding box to the frame bounds. The second return
// value is false when the clamped region has zero area, which callers must
// treat as "no signature" rather than an error.
func ClampCrop(box BoundingBox, bounds image.Rectangle) (image.Rectangle, bool) {
	r := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H).Intersect(bounds)
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return image.Rectangle{}, false
	}
	return r, true
}

// EncodeCrop extracts the region from the frame, scales it to the embedder's
// expected square geometry and re-encodes it as JPEG.
func EncodeCrop(frame image.Image, region image.Rectangle) ([]byte, error) {
	size := constants.EmbedderInputSize
	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), frame, region, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encoding crop: %w", err)
	}
	return buf.Bytes(), nil
}

// Normalize returns the L2-normalized copy of a vector, or nil for an empty
// or zero vector. Signatures are compared by dot product downstream, which
// equals cosine similarity only when both sides are unit length.
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return nil
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
