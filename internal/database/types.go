package database

import (
	"time"
)

// SessionStatus is the lifecycle state of an attendance session.
// Completed and cancelled are terminal; no transition leaves them.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether a status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// RecordStatus is the outcome stored on an attendance record.
type RecordStatus string

const (
	RecordPresent RecordStatus = "present"
	RecordAbsent  RecordStatus = "absent"
)

// Identity represents one enrolled person. Owned by the enrollment subsystem;
// the recognition engine only reads it (and flips IsTrained on enrollment).
type Identity struct {
	ID         string
	Name       string
	RollNumber string
	ClassYear  string
	Division   string
	IsTrained  bool
	IsActive   bool
	CreatedAt  time.Time
}

// StoredSignature is a face signature vector persisted for an identity.
// Signatures are never mutated in place; re-enrollment retires the old rows
// and inserts a new one.
type StoredSignature struct {
	ID         int64
	IdentityID string
	Embedding  []float32
	Version    string
	IsActive   bool
	CreatedAt  time.Time
}

// Session is one bounded attendance-taking window for a
// (class, division, subject, period, date) tuple.
type Session struct {
	ID            string
	ClassYear     string
	Division      string
	Subject       string
	Period        string
	Date          time.Time
	Status        SessionStatus
	StartedAt     time.Time
	EndedAt       *time.Time
	TotalStudents int
	PresentCount  int
	AbsentCount   int
	Notes         string
}

// AttendanceRecord links an identity to a session outcome. For a given
// (session, identity) pair at most one present record may exist; that
// uniqueness is enforced by the storage layer, not by callers.
type AttendanceRecord struct {
	ID           int64
	SessionID    string
	IdentityID   string
	Status       RecordStatus
	Confidence   float64
	MarkedByFace bool
	MarkedAt     time.Time
}

// MarkResult reports the outcome of a present-mark attempt. When the identity
// was already marked in the session, MarkedAt carries the original timestamp.
type MarkResult struct {
	AlreadyMarked bool
	MarkedAt      time.Time
	PresentCount  int
}
