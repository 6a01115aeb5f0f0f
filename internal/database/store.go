// Package database defines the storage contracts of the attendance engine
// and the retry policy used to ride out transient write contention.
package database

import (
	"context"
	"errors"
)

// Sentinel errors shared by all storage backends. Callers branch with
// errors.Is; the concrete backend wraps them with context.
var (
	// ErrNotFound is returned when a session or identity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSessionNotActive is returned when a present-mark targets a session
	// that has already completed or been cancelled. This is a state error;
	// retrying will not help.
	ErrSessionNotActive = errors.New("session is not active")

	// ErrTransient marks storage failures expected to resolve on retry
	// (lock contention, serialization conflicts). Backends wrap it so the
	// retry policy can distinguish these from permanent failures.
	ErrTransient = errors.New("transient storage contention")
)

// SignatureReader loads enrolled signatures for gallery refresh.
type SignatureReader interface {
	// ActiveSignatures returns every signature row with is_active=true,
	// regardless of version tag. Version filtering happens in the gallery
	// so skipped rows can be counted and logged.
	ActiveSignatures(ctx context.Context) ([]StoredSignature, error)
}

// SignatureWriter persists signatures during enrollment.
type SignatureWriter interface {
	// AddSignature retires any active signatures for the identity and
	// inserts a new active row, as one atomic unit.
	AddSignature(ctx context.Context, identityID string, embedding []float32, version string) (int64, error)
}

// IdentityStore reads and updates enrolled identities.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	SetTrained(ctx context.Context, id string, trained bool) error
	// CountActive returns the number of active identities in a class/division scope.
	CountActive(ctx context.Context, classYear, division string) (int, error)
}

// SessionStore owns the attendance session lifecycle and its records.
//
// MarkPresent and EndSession must be safe under concurrent callers sharing
// one session: the (session, identity, present) uniqueness and the
// active-status check are enforced inside the storage transaction, because
// multiple processes may share a session and an in-process check is only
// advisory.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)

	// MarkPresent records the identity as present exactly once. A second
	// call for the same (session, identity) is a no-op reporting
	// AlreadyMarked with the original timestamp. Returns
	// ErrSessionNotActive when the session has reached a terminal state,
	// including calls that started before the transition and commit after.
	MarkPresent(ctx context.Context, sessionID, identityID string, confidence float64) (*MarkResult, error)

	// EndSession transitions active → completed. In the same atomic unit it
	// synthesizes absent records for every trained, active identity in the
	// session scope without a present record, and computes the final
	// counters from the record set. Ending a terminal session returns
	// ErrSessionNotActive.
	EndSession(ctx context.Context, sessionID string) (*Session, error)

	// CancelSession transitions active → cancelled. No absent records are
	// synthesized.
	CancelSession(ctx context.Context, sessionID string) (*Session, error)

	// SessionRecords returns all attendance records of a session.
	SessionRecords(ctx context.Context, sessionID string) ([]AttendanceRecord, error)
}
