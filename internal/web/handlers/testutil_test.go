package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/roll-call/internal/attendance"
	"github.com/kozaktomas/roll-call/internal/config"
	"github.com/kozaktomas/roll-call/internal/database"
	"github.com/kozaktomas/roll-call/internal/database/mock"
	"github.com/kozaktomas/roll-call/internal/recognize"
	"github.com/kozaktomas/roll-call/internal/vision"
)

// stubDetector returns a fixed set of detections.
type stubDetector struct {
	detections []vision.Detection
	err        error
}

func (d *stubDetector) Detect(ctx context.Context, frame []byte) ([]vision.Detection, error) {
	return d.detections, d.err
}

// stubEmbedder returns a fixed vector for every crop.
type stubEmbedder struct {
	vector []float32
	err    error
}

func (e *stubEmbedder) EmbedCrop(ctx context.Context, crop []byte) ([]float32, error) {
	return e.vector, e.err
}

// testAPI bundles the fixture the handler tests share: a mock store, a
// recognition engine with stubbed vision, and a router mirroring the API.
type testAPI struct {
	store    *mock.Store
	engine   *recognize.Engine
	svc      *attendance.Service
	router   *chi.Mux
	detector *stubDetector
	embedder *stubEmbedder
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := mock.NewStore()
	gallery := recognize.NewGallery(store, "sface-v1")
	detector := &stubDetector{}
	embedder := &stubEmbedder{}
	engine := recognize.NewEngine(gallery, detector, embedder,
		config.ModelCalibration{MatchThreshold: 0.4, DetectionThreshold: 0.5})
	svc := attendance.NewService(store)

	sessionsHandler := NewSessionsHandler(svc)
	framesHandler := NewFramesHandler(engine, svc)
	enrollHandler := NewEnrollHandler(engine, store, store, "sface-v1")
	galleryHandler := NewGalleryHandler(gallery)

	r := chi.NewRouter()
	r.Get("/api/v1/health", HealthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", sessionsHandler.Create)
		r.Get("/sessions/{id}", sessionsHandler.Get)
		r.Get("/sessions/{id}/summary", sessionsHandler.Summary)
		r.Post("/sessions/{id}/end", sessionsHandler.End)
		r.Post("/sessions/{id}/cancel", sessionsHandler.Cancel)
		r.Post("/sessions/{id}/frames", framesHandler.Process)
		r.Post("/identities/{id}/signatures", enrollHandler.Enroll)
		r.Post("/gallery/refresh", galleryHandler.Refresh)
		r.Get("/gallery/stats", galleryHandler.Stats)
	})

	return &testAPI{
		store:    store,
		engine:   engine,
		svc:      svc,
		router:   r,
		detector: detector,
		embedder: embedder,
	}
}

// do runs a request through the router and returns the recorder.
func (api *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	return rec
}

// decodeBody unmarshals a JSON response body.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

// testFrameBase64 produces a base64-encoded JPEG test frame.
func testFrameBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test frame: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// unitVec returns a unit vector along one axis.
func unitVec(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

// goodDetection is a detection that passes the size and confidence filters.
func goodDetection() vision.Detection {
	return vision.Detection{Box: vision.BoundingBox{X: 50, Y: 50, W: 120, H: 120}, Score: 0.9}
}

// seedStudents adds n trained, active identities S1..Sn in SE/A.
func (api *testAPI) seedStudents(n int) {
	for i := 1; i <= n; i++ {
		api.store.AddIdentity(database.Identity{
			ID: fmt.Sprintf("S%d", i), Name: fmt.Sprintf("Student %d", i),
			ClassYear: "SE", Division: "A", IsTrained: true, IsActive: true,
		})
	}
}

// startSession creates an active session over the API and returns its ID.
func (api *testAPI) startSession(t *testing.T) string {
	t.Helper()
	rec := api.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{
		"class_year": "SE", "division": "A", "subject": "CS301", "period": "1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("creating session: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &resp)
	return resp.ID
}

// enrollVector seeds a signature and refreshes the gallery.
func (api *testAPI) enrollVector(t *testing.T, identityID string, vec []float32) {
	t.Helper()
	api.store.SeedSignature(database.StoredSignature{
		IdentityID: identityID, Embedding: vec, Version: "sface-v1", IsActive: true,
	})
	if err := api.engine.Gallery().Refresh(context.Background()); err != nil {
		t.Fatalf("gallery refresh: %v", err)
	}
}
