package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/roll-call/internal/attendance"
	"github.com/kozaktomas/roll-call/internal/database"
)

// SessionsHandler handles the session lifecycle endpoints.
type SessionsHandler struct {
	svc *attendance.Service
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(svc *attendance.Service) *SessionsHandler {
	return &SessionsHandler{svc: svc}
}

type createSessionRequest struct {
	ClassYear string `json:"class_year"`
	Division  string `json:"division"`
	Subject   string `json:"subject"`
	Period    string `json:"period"`
	Date      string `json:"date"` // YYYY-MM-DD, defaults to today
	Notes     string `json:"notes"`
}

type sessionResponse struct {
	ID            string     `json:"id"`
	ClassYear     string     `json:"class_year"`
	Division      string     `json:"division"`
	Subject       string     `json:"subject"`
	Period        string     `json:"period"`
	Date          string     `json:"date"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	TotalStudents int        `json:"total_students"`
	PresentCount  int        `json:"present_count"`
	AbsentCount   int        `json:"absent_count"`
	Notes         string     `json:"notes,omitempty"`
}

func toSessionResponse(s *database.Session) sessionResponse {
	return sessionResponse{
		ID:            s.ID,
		ClassYear:     s.ClassYear,
		Division:      s.Division,
		Subject:       s.Subject,
		Period:        s.Period,
		Date:          s.Date.Format("2006-01-02"),
		Status:        string(s.Status),
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		TotalStudents: s.TotalStudents,
		PresentCount:  s.PresentCount,
		AbsentCount:   s.AbsentCount,
		Notes:         s.Notes,
	}
}

type recordResponse struct {
	IdentityID   string    `json:"identity_id"`
	Status       string    `json:"status"`
	Confidence   float64   `json:"confidence"`
	MarkedByFace bool      `json:"marked_by_face"`
	MarkedAt     time.Time `json:"marked_at"`
}

// Create handles POST /api/v1/sessions.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	params := attendance.StartParams{
		ClassYear: req.ClassYear,
		Division:  req.Division,
		Subject:   req.Subject,
		Period:    req.Period,
		Notes:     req.Notes,
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		params.Date = date
	}

	if req.ClassYear == "" || req.Division == "" || req.Subject == "" {
		respondError(w, http.StatusBadRequest, "class_year, division and subject are required")
		return
	}

	sess, err := h.svc.Start(r.Context(), params)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	log.Printf("Started session %s (%s/%s %s period %s)",
		sess.ID, sanitizeForLog(sess.ClassYear), sanitizeForLog(sess.Division),
		sanitizeForLog(sess.Subject), sanitizeForLog(sess.Period))
	respondJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// Get handles GET /api/v1/sessions/{id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSessionResponse(sess))
}

// Summary handles GET /api/v1/sessions/{id}/summary.
func (h *SessionsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summarize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStorageError(w, err)
		return
	}

	records := make([]recordResponse, 0, len(summary.Records))
	for _, rec := range summary.Records {
		records = append(records, recordResponse{
			IdentityID:   rec.IdentityID,
			Status:       string(rec.Status),
			Confidence:   rec.Confidence,
			MarkedByFace: rec.MarkedByFace,
			MarkedAt:     rec.MarkedAt,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session":    toSessionResponse(summary.Session),
		"records":    records,
		"percentage": summary.Percentage,
	})
}

// End handles POST /api/v1/sessions/{id}/end.
func (h *SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.End(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStorageError(w, err)
		return
	}

	log.Printf("Ended session %s: %d present, %d absent",
		sess.ID, sess.PresentCount, sess.AbsentCount)
	respondJSON(w, http.StatusOK, toSessionResponse(sess))
}

// Cancel handles POST /api/v1/sessions/{id}/cancel.
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStorageError(w, err)
		return
	}

	log.Printf("Cancelled session %s", sess.ID)
	respondJSON(w, http.StatusOK, toSessionResponse(sess))
}
