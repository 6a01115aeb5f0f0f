// Package vision adapts an external face detection/embedding service and the
// local crop geometry around it. Detection and embedding are served by a
// pretrained model behind HTTP; clamping, scaling and normalization happen here.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/kozaktomas/roll-call/internal/constants"
)

const (
	defaultVisionURL = "http://localhost:8000"
)

// Client talks to the detection/embedding service.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewClient creates a new vision service client.
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = defaultVisionURL
	}
	if model == "" {
		model = constants.SignatureVersion
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

// detectResponse is the payload of the /detect/face endpoint.
type detectResponse struct {
	FacesCount int `json:"faces_count"`
	Faces      []struct {
		BBox     []float64 `json:"bbox"` // [x1, y1, x2, y2] in frame pixels
		DetScore float64   `json:"det_score"`
	} `json:"faces"`
}

// embedResponse is the payload of the /embed/crop endpoint.
type embedResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// postMultipartImage constructs a multipart form with the image data and posts
// it to the given endpoint. The part carries an explicit Content-Type header
// based on magic byte detection.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Detect locates candidate face regions in a raw frame. Zero faces is a valid
// result, not an error. Boxes are converted from corner to x/y/w/h form.
func (c *Client) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	body, err := c.postMultipartImage(ctx, "/detect/face", frame)
	if err != nil {
		return nil, err
	}

	var detResp detectResponse
	if err := json.Unmarshal(body, &detResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	detections := make([]Detection, 0, len(detResp.Faces))
	for _, f := range detResp.Faces {
		if len(f.BBox) != 4 {
			continue
		}
		x1, y1, x2, y2 := int(f.BBox[0]), int(f.BBox[1]), int(f.BBox[2]), int(f.BBox[3])
		detections = append(detections, Detection{
			Box:   BoundingBox{X: x1, Y: y1, W: x2 - x1, H: y2 - y1},
			Score: f.DetScore,
		})
	}

	return detections, nil
}

// EmbedCrop computes the signature vector for a pre-cropped, pre-scaled face
// region. The returned vector is NOT normalized; callers run Normalize.
func (c *Client) EmbedCrop(ctx context.Context, crop []byte) ([]float32, error) {
	body, err := c.postMultipartImage(ctx, "/embed/crop", crop)
	if err != nil {
		return nil, err
	}

	var embResp embedResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	if embResp.Model != "" && embResp.Model != c.model {
		return nil, fmt.Errorf("embedding model mismatch: service produced %q, expected %q", embResp.Model, c.model)
	}

	return embResp.Embedding, nil
}

// Model returns the signature format tag the service produces.
func (c *Client) Model() string {
	return c.model
}

// detectMIMEType detects the MIME type from image data.
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}
