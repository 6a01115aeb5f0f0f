// Package mock provides an in-memory implementation of the database
// interfaces for testing. It enforces the same invariants as the PostgreSQL
// backend: at most one present record per (session, identity) and
// last-check-wins rejection of marks against terminal sessions.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/roll-call/internal/database"
)

// Store is an in-memory database backend.
type Store struct {
	mu         sync.Mutex
	identities map[string]*database.Identity
	signatures []database.StoredSignature
	sessions   map[string]*database.Session
	records    map[string][]database.AttendanceRecord // keyed by session ID
	nextID     int64

	// Error injection. MarkPresentErrs is consumed one element per call,
	// letting tests simulate transient contention that resolves on retry.
	SignaturesError error
	MarkPresentErrs []error

	Now func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		identities: make(map[string]*database.Identity),
		sessions:   make(map[string]*database.Session),
		records:    make(map[string][]database.AttendanceRecord),
		Now:        time.Now,
	}
}

// AddIdentity seeds an identity.
func (s *Store) AddIdentity(id database.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[id.ID] = &id
}

// SeedSignature seeds a raw signature row (any version or active flag).
func (s *Store) SeedSignature(sig database.StoredSignature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sig.ID = s.nextID
	s.signatures = append(s.signatures, sig)
}

// ActiveSignatures implements database.SignatureReader.
func (s *Store) ActiveSignatures(ctx context.Context) ([]database.StoredSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SignaturesError != nil {
		return nil, s.SignaturesError
	}
	var out []database.StoredSignature
	for _, sig := range s.signatures {
		if sig.IsActive {
			out = append(out, sig)
		}
	}
	return out, nil
}

// AddSignature implements database.SignatureWriter: retires existing active
// rows for the identity and inserts a fresh active one.
func (s *Store) AddSignature(ctx context.Context, identityID string, embedding []float32, version string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.signatures {
		if s.signatures[i].IdentityID == identityID {
			s.signatures[i].IsActive = false
		}
	}
	s.nextID++
	s.signatures = append(s.signatures, database.StoredSignature{
		ID:         s.nextID,
		IdentityID: identityID,
		Embedding:  embedding,
		Version:    version,
		IsActive:   true,
		CreatedAt:  s.Now(),
	})
	return s.nextID, nil
}

// GetIdentity implements database.IdentityStore.
func (s *Store) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	cp := *ident
	return &cp, nil
}

// SetTrained implements database.IdentityStore.
func (s *Store) SetTrained(ctx context.Context, id string, trained bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[id]
	if !ok {
		return fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	ident.IsTrained = trained
	return nil
}

// CountActive implements database.IdentityStore.
func (s *Store) CountActive(ctx context.Context, classYear, division string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, ident := range s.identities {
		if ident.IsActive && ident.ClassYear == classYear && ident.Division == division {
			count++
		}
	}
	return count, nil
}

// CreateSession implements database.SessionStore.
func (s *Store) CreateSession(ctx context.Context, sess *database.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// GetSession implements database.SessionStore.
func (s *Store) GetSession(ctx context.Context, id string) (*database.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSessionLocked(id)
}

func (s *Store) getSessionLocked(id string) (*database.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, database.ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

// MarkPresent implements database.SessionStore.
func (s *Store) MarkPresent(ctx context.Context, sessionID, identityID string, confidence float64) (*database.MarkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.MarkPresentErrs) > 0 {
		err := s.MarkPresentErrs[0]
		s.MarkPresentErrs = s.MarkPresentErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, database.ErrNotFound)
	}
	if sess.Status != database.SessionActive {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, database.ErrSessionNotActive)
	}

	for _, rec := range s.records[sessionID] {
		if rec.IdentityID == identityID && rec.Status == database.RecordPresent {
			return &database.MarkResult{
				AlreadyMarked: true,
				MarkedAt:      rec.MarkedAt,
				PresentCount:  sess.PresentCount,
			}, nil
		}
	}

	s.nextID++
	now := s.Now()
	s.records[sessionID] = append(s.records[sessionID], database.AttendanceRecord{
		ID:           s.nextID,
		SessionID:    sessionID,
		IdentityID:   identityID,
		Status:       database.RecordPresent,
		Confidence:   confidence,
		MarkedByFace: true,
		MarkedAt:     now,
	})
	sess.PresentCount++

	return &database.MarkResult{
		AlreadyMarked: false,
		MarkedAt:      now,
		PresentCount:  sess.PresentCount,
	}, nil
}

// EndSession implements database.SessionStore.
func (s *Store) EndSession(ctx context.Context, sessionID string) (*database.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, database.ErrNotFound)
	}
	if sess.Status != database.SessionActive {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, database.ErrSessionNotActive)
	}

	present := make(map[string]bool)
	for _, rec := range s.records[sessionID] {
		if rec.Status == database.RecordPresent {
			present[rec.IdentityID] = true
		}
	}

	now := s.Now()
	for _, ident := range s.identities {
		if !ident.IsActive || !ident.IsTrained {
			continue
		}
		if ident.ClassYear != sess.ClassYear || ident.Division != sess.Division {
			continue
		}
		if present[ident.ID] {
			continue
		}
		s.nextID++
		s.records[sessionID] = append(s.records[sessionID], database.AttendanceRecord{
			ID:         s.nextID,
			SessionID:  sessionID,
			IdentityID: ident.ID,
			Status:     database.RecordAbsent,
			MarkedAt:   now,
		})
	}

	presentCount, absentCount := 0, 0
	for _, rec := range s.records[sessionID] {
		switch rec.Status {
		case database.RecordPresent:
			presentCount++
		case database.RecordAbsent:
			absentCount++
		}
	}

	sess.Status = database.SessionCompleted
	sess.EndedAt = &now
	sess.PresentCount = presentCount
	sess.AbsentCount = absentCount
	sess.TotalStudents = presentCount + absentCount

	cp := *sess
	return &cp, nil
}

// CancelSession implements database.SessionStore.
func (s *Store) CancelSession(ctx context.Context, sessionID string) (*database.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, database.ErrNotFound)
	}
	if sess.Status != database.SessionActive {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, database.ErrSessionNotActive)
	}

	now := s.Now()
	sess.Status = database.SessionCancelled
	sess.EndedAt = &now

	cp := *sess
	return &cp, nil
}

// SessionRecords implements database.SessionStore.
func (s *Store) SessionRecords(ctx context.Context, sessionID string) ([]database.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, database.ErrNotFound)
	}
	out := make([]database.AttendanceRecord, len(s.records[sessionID]))
	copy(out, s.records[sessionID])
	return out, nil
}
