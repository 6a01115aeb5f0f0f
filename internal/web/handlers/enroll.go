package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/roll-call/internal/constants"
	"github.com/kozaktomas/roll-call/internal/database"
	"github.com/kozaktomas/roll-call/internal/recognize"
	"github.com/kozaktomas/roll-call/internal/vision"
)

// EnrollHandler captures reference signatures for identities.
type EnrollHandler struct {
	engine     *recognize.Engine
	signatures database.SignatureWriter
	identities database.IdentityStore
	model      string
}

// NewEnrollHandler creates a new enrollment handler.
func NewEnrollHandler(engine *recognize.Engine, signatures database.SignatureWriter, identities database.IdentityStore, model string) *EnrollHandler {
	return &EnrollHandler{
		engine:     engine,
		signatures: signatures,
		identities: identities,
		model:      model,
	}
}

type enrollRequest struct {
	Image string `json:"image"` // base64-encoded JPEG or PNG
}

// Enroll handles POST /api/v1/identities/{id}/signatures.
//
// The frame must contain exactly one usable face. The new signature replaces
// any previous one for the identity, the identity is flagged trained, and the
// gallery is refreshed so the signature takes effect immediately.
func (h *EnrollHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "id")

	ident, err := h.identities.GetIdentity(r.Context(), identityID)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	var req enrollRequest
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

	vec, err := h.engine.EmbedSingleFace(r.Context(), frame)
	if err != nil {
		if errors.Is(err, recognize.ErrNoFace) || errors.Is(err, recognize.ErrMultipleFaces) ||
			errors.Is(err, vision.ErrInvalidFrame) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	sigID, err := h.signatures.AddSignature(r.Context(), identityID, vec, h.model)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	if err := h.identities.SetTrained(r.Context(), identityID, true); err != nil {
		respondStorageError(w, err)
		return
	}

	if err := h.engine.Gallery().Refresh(r.Context()); err != nil {
		// The signature is stored; the gallery catches up on the next refresh.
		log.Printf("gallery refresh after enrolling %s failed: %v", sanitizeForLog(identityID), err)
	}

	log.Printf("Enrolled %s (%s)", sanitizeForLog(identityID), sanitizeForLog(ident.Name))
	respondJSON(w, http.StatusCreated, map[string]any{
		"identity_id":  identityID,
		"signature_id": sigID,
		"version":      h.model,
	})
}
