// Package attendance owns the session lifecycle on top of the storage layer:
// starting sessions, marking identities present through the retry policy, and
// closing sessions out.
package attendance

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/roll-call/internal/database"
)

// Service coordinates attendance sessions. Present-marks go through the
// retry policy so transient storage contention surfaces to callers only
// after the attempts are exhausted.
type Service struct {
	store database.SessionStore
	retry database.RetryPolicy
}

// NewService creates an attendance service with the default retry policy.
func NewService(store database.SessionStore) *Service {
	return &Service{
		store: store,
		retry: database.DefaultRetryPolicy(),
	}
}

// StartParams describes the scope of a new session.
type StartParams struct {
	ClassYear string
	Division  string
	Subject   string
	Period    string
	Date      time.Time
	Notes     string
}

// Start creates a new active session and returns it.
func (s *Service) Start(ctx context.Context, p StartParams) (*database.Session, error) {
	if p.ClassYear == "" || p.Division == "" || p.Subject == "" {
		return nil, fmt.Errorf("class year, division and subject are required")
	}
	if p.Date.IsZero() {
		p.Date = time.Now()
	}

	sess := &database.Session{
		ID:        uuid.NewString(),
		ClassYear: p.ClassYear,
		Division:  p.Division,
		Subject:   p.Subject,
		Period:    p.Period,
		Date:      p.Date,
		Status:    database.SessionActive,
		Notes:     p.Notes,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, sess.ID)
}

// Get returns a session by ID.
func (s *Service) Get(ctx context.Context, id string) (*database.Session, error) {
	return s.store.GetSession(ctx, id)
}

// MarkPresent records an identity as present in a session, retrying on
// transient storage contention. State errors (unknown session, terminal
// status) and the already-marked outcome pass through without retries.
func (s *Service) MarkPresent(ctx context.Context, sessionID, identityID string, confidence float64) (*database.MarkResult, error) {
	var result *database.MarkResult
	err := s.retry.Do(ctx, func() error {
		var err error
		result, err = s.store.MarkPresent(ctx, sessionID, identityID, confidence)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// End completes a session. The storage layer synthesizes absent records and
// computes the final counters atomically with the status transition.
func (s *Service) End(ctx context.Context, sessionID string) (*database.Session, error) {
	return s.store.EndSession(ctx, sessionID)
}

// Cancel discards a session without synthesizing absents.
func (s *Service) Cancel(ctx context.Context, sessionID string) (*database.Session, error) {
	return s.store.CancelSession(ctx, sessionID)
}

// Summary is the roll-up of one session.
type Summary struct {
	Session    *database.Session           `json:"session"`
	Records    []database.AttendanceRecord `json:"records"`
	Percentage float64                     `json:"percentage"`
}

// Summarize returns the session with its records and attendance percentage.
// For an active session the percentage runs against the marks so far.
func (s *Service) Summarize(ctx context.Context, sessionID string) (*Summary, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.SessionRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Session:    sess,
		Records:    records,
		Percentage: Percentage(sess.PresentCount, sess.TotalStudents),
	}, nil
}

// Percentage computes present/total as a percentage rounded to two decimal
// places. A zero total yields zero, not NaN.
func Percentage(present, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(present)/float64(total)*10000) / 100
}
