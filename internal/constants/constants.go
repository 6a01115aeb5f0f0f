// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Recognition constants
const (
	// SignatureDim is the fixed dimension of face signature vectors (SFace family).
	SignatureDim = 128

	// SignatureVersion is the signature format tag the gallery currently accepts.
	// Rows with a different tag are skipped during refresh and must be re-enrolled.
	SignatureVersion = "sface-v1"

	// DefaultMatchThreshold is the cosine similarity above which a candidate is
	// accepted as a positive identification. Calibrated for the SFace embedding
	// family; other models need their own entry in calibration.yaml.
	DefaultMatchThreshold = 0.4

	// DefaultDetectionThreshold is the minimum detector confidence for a
	// candidate face region. Lower scores are treated as absence, not errors.
	DefaultDetectionThreshold = 0.5

	// MinFaceSize is the minimum width and height (pixels) of a detected face.
	// Smaller regions carry too little signal to embed reliably.
	MinFaceSize = 80

	// EmbedderInputSize is the square geometry (pixels) the embedding model expects.
	EmbedderInputSize = 112
)

// Gallery constants
const (
	// GalleryHNSWMinSize is the snapshot size at which the gallery switches
	// from brute-force scoring to an HNSW index. Below this, a linear scan
	// is both faster and exact.
	GalleryHNSWMinSize = 512
)

// Write coordinator constants
const (
	// MarkRetryAttempts is the number of retries after the initial attempt
	// when the storage layer reports transient contention.
	MarkRetryAttempts = 3

	// MarkRetryBaseDelayMS is the initial backoff in milliseconds; it doubles
	// on each retry (100, 200, 400).
	MarkRetryBaseDelayMS = 100
)

// Processing constants
const (
	// FrameWorkerLimit caps the number of faces embedded concurrently for a
	// single frame. Faces within a frame are independent.
	FrameWorkerLimit = 8

	// MaxFrameBytes is the maximum accepted size of a submitted frame after
	// base64 decoding.
	MaxFrameBytes = 10 << 20
)
