package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/kozaktomas/roll-call/internal/vision"
)

func TestEnroll(t *testing.T) {
	api := newTestAPI(t)
	api.seedStudents(1)
	api.detector.detections = []vision.Detection{goodDetection()}
	api.embedder.vector = unitVec(128, 3)

	rec := api.do(t, http.MethodPost, "/api/v1/identities/S1/signatures",
		map[string]string{"image": testFrameBase64(t)})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		IdentityID  string `json:"identity_id"`
		SignatureID int64  `json:"signature_id"`
		Version     string `json:"version"`
	}
	decodeBody(t, rec, &resp)
	if resp.IdentityID != "S1" || resp.Version != "sface-v1" || resp.SignatureID == 0 {
		t.Errorf("response = %+v", resp)
	}

	ident, err := api.store.GetIdentity(context.Background(), "S1")
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if !ident.IsTrained {
		t.Error("enrolled identity must be flagged trained")
	}

	// The gallery picks the signature up immediately.
	stats := api.engine.Gallery().Stats()
	if stats.Signatures != 1 {
		t.Errorf("gallery signatures = %d, want 1", stats.Signatures)
	}
}

func TestEnrollReplacesSignature(t *testing.T) {
	api := newTestAPI(t)
	api.seedStudents(1)
	api.detector.detections = []vision.Detection{goodDetection()}
	api.embedder.vector = unitVec(128, 0)

	body := map[string]string{"image": testFrameBase64(t)}
	if rec := api.do(t, http.MethodPost, "/api/v1/identities/S1/signatures", body); rec.Code != http.StatusCreated {
		t.Fatalf("first enrollment: %d", rec.Code)
	}

	api.embedder.vector = unitVec(128, 5)
	if rec := api.do(t, http.MethodPost, "/api/v1/identities/S1/signatures", body); rec.Code != http.StatusCreated {
		t.Fatalf("re-enrollment: %d", rec.Code)
	}

	stats := api.engine.Gallery().Stats()
	if stats.Signatures != 1 {
		t.Errorf("gallery signatures after re-enrollment = %d, want 1", stats.Signatures)
	}
}

func TestEnrollUnknownIdentity(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/api/v1/identities/ghost/signatures",
		map[string]string{"image": testFrameBase64(t)})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestEnrollFaceCountGate(t *testing.T) {
	api := newTestAPI(t)
	api.seedStudents(1)
	api.embedder.vector = unitVec(128, 0)

	second := goodDetection()
	second.Box.X = 300

	tests := []struct {
		name       string
		detections []vision.Detection
	}{
		{"no face", nil},
		{"two faces", []vision.Detection{goodDetection(), second}},
		{"only a weak detection", []vision.Detection{{Box: goodDetection().Box, Score: 0.1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api.detector.detections = tt.detections
			rec := api.do(t, http.MethodPost, "/api/v1/identities/S1/signatures",
				map[string]string{"image": testFrameBase64(t)})
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}
