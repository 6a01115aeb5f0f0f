package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/roll-call/internal/attendance"
	"github.com/kozaktomas/roll-call/internal/constants"
	"github.com/kozaktomas/roll-call/internal/database"
	"github.com/kozaktomas/roll-call/internal/recognize"
	"github.com/kozaktomas/roll-call/internal/vision"
)

// FramesHandler accepts camera frames for an active session and turns face
// matches into present marks.
type FramesHandler struct {
	engine *recognize.Engine
	svc    *attendance.Service
}

// NewFramesHandler creates a new frames handler.
func NewFramesHandler(engine *recognize.Engine, svc *attendance.Service) *FramesHandler {
	return &FramesHandler{engine: engine, svc: svc}
}

type frameRequest struct {
	Image string `json:"image"` // base64-encoded JPEG or PNG
}

// Face statuses reported per detected face.
const (
	faceStatusNoMatch       = "no_match"
	faceStatusMarked        = "marked"
	faceStatusAlreadyMarked = "already_marked"
)

type faceResponse struct {
	Box        vision.BoundingBox `json:"box"`
	IdentityID string             `json:"identity_id,omitempty"`
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	Status     string             `json:"status"`
	MarkedAt   *time.Time         `json:"marked_at,omitempty"`
}

type frameResponse struct {
	SessionID    string         `json:"session_id"`
	Detected     int            `json:"detected"`
	Faces        []faceResponse `json:"faces"`
	PresentCount int            `json:"present_count"`
}

// Process handles POST /api/v1/sessions/{id}/frames.
//
// Every face of the frame is matched against one gallery snapshot; matched
// identities are marked present through the retry policy. An identity already
// marked in the session reports already_marked with the original timestamp.
func (h *FramesHandler) Process(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req frameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Image == "" {
		respondError(w, http.StatusBadRequest, "image is required")
		return
	}

	frame, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "image must be base64 encoded")
		return
	}
	if len(frame) > constants.MaxFrameBytes {
		respondError(w, http.StatusBadRequest, "frame too large")
		return
	}

	// Reject frames for unknown or closed sessions before spending detector
	// and embedder round trips on them.
	sess, err := h.svc.Get(r.Context(), sessionID)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	if sess.Status != database.SessionActive {
		respondError(w, http.StatusConflict, "session is "+string(sess.Status))
		return
	}

	result, err := h.engine.ProcessFrame(r.Context(), frame)
	if err != nil {
		// Undecodable frames are the client's fault; everything else is the
		// vision backend failing mid-pipeline and the kiosk should retry.
		if errors.Is(err, vision.ErrInvalidFrame) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := frameResponse{
		SessionID:    sessionID,
		Detected:     result.Detected,
		Faces:        make([]faceResponse, 0, len(result.Faces)),
		PresentCount: sess.PresentCount,
	}

	for _, face := range result.Faces {
		fr := faceResponse{
			Box:        face.Box,
			Score:      face.Match.Score,
			Confidence: face.Match.Confidence,
			Status:     faceStatusNoMatch,
		}

		if face.Match.IdentityID != "" {
			mark, err := h.svc.MarkPresent(r.Context(), sessionID, face.Match.IdentityID, face.Match.Confidence)
			if err != nil {
				respondStorageError(w, err)
				return
			}

			fr.IdentityID = face.Match.IdentityID
			fr.MarkedAt = &mark.MarkedAt
			if mark.AlreadyMarked {
				fr.Status = faceStatusAlreadyMarked
			} else {
				fr.Status = faceStatusMarked
				log.Printf("Session %s: marked %s present (confidence %.1f)",
					sessionID, sanitizeForLog(face.Match.IdentityID), face.Match.Confidence)
			}
			if mark.PresentCount > resp.PresentCount {
				resp.PresentCount = mark.PresentCount
			}
		}

		resp.Faces = append(resp.Faces, fr)
	}

	respondJSON(w, http.StatusOK, resp)
}
