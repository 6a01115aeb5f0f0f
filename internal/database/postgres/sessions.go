package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/roll-call/internal/database"
)

// SessionRepository provides PostgreSQL-backed attendance session storage.
//
// The active-status check and the (session, identity, present) uniqueness
// both live inside the transaction: a mark racing with EndSession either
// commits before absents are computed (EndSession's row lock waits for it)
// or is rejected because the status already flipped. Never both.
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a new PostgreSQL session repository.
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateSession stores a new active session.
func (r *SessionRepository) CreateSession(ctx context.Context, s *database.Session) error {
	query := `
		INSERT INTO sessions (id, class_year, division, subject, period, date, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID, s.ClassYear, s.Division, s.Subject, s.Period, s.Date, s.Status, s.Notes)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

const sessionColumns = `
	id, class_year, division, subject, period, date, status,
	started_at, ended_at, total_students, present_count, absent_count, notes
`

func scanSession(row *sql.Row) (*database.Session, error) {
	var s database.Session
	var endedAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.ClassYear, &s.Division, &s.Subject, &s.Period, &s.Date, &s.Status,
		&s.StartedAt, &endedAt, &s.TotalStudents, &s.PresentCount, &s.AbsentCount, &s.Notes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return &s, nil
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*database.Session, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = $1", id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, database.ErrNotFound)
		}
		return nil, err
	}
	return s, nil
}

// MarkPresent records the identity as present exactly once for the session.
//
// The session row is locked FOR NO KEY UPDATE so the status check holds until
// commit: a concurrent EndSession (FOR UPDATE) queues behind in-flight marks,
// and marks arriving after the flip see the terminal status and are rejected.
// The lock must be at least as strong as the present_count UPDATE below needs;
// a share lock would make two fresh marks on the same session deadlock on the
// upgrade. Marks on one session serialize, which is the intended behavior.
// A unique-index violation on insert means another writer won the race; it is
// reported as "already marked" with that writer's timestamp, never as an error.
func (r *SessionRepository) MarkPresent(ctx context.Context, sessionID, identityID string, confidence float64) (*database.MarkResult, error) {
	tx, err := r.pool.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status database.SessionStatus
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM sessions WHERE id = $1 FOR NO KEY UPDATE", sessionID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	if status != database.SessionActive {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, status, database.ErrSessionNotActive)
	}

	// Advisory pre-check; the partial unique index is the real guarantee.
	var existing database.MarkResult
	err = tx.QueryRowContext(ctx, `
		SELECT marked_at FROM attendance_records
		WHERE session_id = $1 AND identity_id = $2 AND status = 'present'
	`, sessionID, identityID).Scan(&existing.MarkedAt)
	if err == nil {
		existing.AlreadyMarked = true
		if err := tx.QueryRowContext(ctx,
			"SELECT present_count FROM sessions WHERE id = $1", sessionID,
		).Scan(&existing.PresentCount); err != nil {
			return nil, fmt.Errorf("read present count: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit mark: %w", err)
		}
		return &existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check existing record: %w", err)
	}

	var result database.MarkResult
	err = tx.QueryRowContext(ctx, `
		INSERT INTO attendance_records (session_id, identity_id, status, confidence, marked_by_face)
		VALUES ($1, $2, 'present', $3, TRUE)
		RETURNING marked_at
	`, sessionID, identityID, confidence).Scan(&result.MarkedAt)
	if database.IsUniqueViolation(err) {
		// Lost the race to a concurrent writer; report their record.
		tx.Rollback()
		return r.alreadyMarked(ctx, sessionID, identityID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE sessions SET present_count = (
			SELECT COUNT(*) FROM attendance_records
			WHERE session_id = $1 AND status = 'present'
		)
		WHERE id = $1
		RETURNING present_count
	`, sessionID).Scan(&result.PresentCount)
	if err != nil {
		return nil, fmt.Errorf("update present count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mark: %w", err)
	}
	return &result, nil
}

// alreadyMarked reads the winning record after a unique-violation race.
func (r *SessionRepository) alreadyMarked(ctx context.Context, sessionID, identityID string) (*database.MarkResult, error) {
	result := &database.MarkResult{AlreadyMarked: true}
	err := r.pool.QueryRow(ctx, `
		SELECT r.marked_at, s.present_count
		FROM attendance_records r
		JOIN sessions s ON s.id = r.session_id
		WHERE r.session_id = $1 AND r.identity_id = $2 AND r.status = 'present'
	`, sessionID, identityID).Scan(&result.MarkedAt, &result.PresentCount)
	if err != nil {
		return nil, fmt.Errorf("read winning record: %w", err)
	}
	return result, nil
}

// EndSession transitions active → completed, synthesizing absent records and
// computing the final counters in one transaction. The FOR UPDATE lock makes
// in-flight marks and the absent computation mutually exclusive.
func (r *SessionRepository) EndSession(ctx context.Context, sessionID string) (*database.Session, error) {
	tx, err := r.pool.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status database.SessionStatus
	var classYear, division string
	err = tx.QueryRowContext(ctx,
		"SELECT status, class_year, division FROM sessions WHERE id = $1 FOR UPDATE", sessionID,
	).Scan(&status, &classYear, &division)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	if status != database.SessionActive {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, status, database.ErrSessionNotActive)
	}

	// Absent records for every trained, active identity in scope without a
	// present record.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_records (session_id, identity_id, status, confidence, marked_by_face)
		SELECT $1, i.id, 'absent', 0, FALSE
		FROM identities i
		WHERE i.class_year = $2 AND i.division = $3
		  AND i.is_trained = TRUE AND i.is_active = TRUE
		  AND NOT EXISTS (
			SELECT 1 FROM attendance_records r
			WHERE r.session_id = $1 AND r.identity_id = i.id AND r.status = 'present'
		  )
	`, sessionID, classYear, division); err != nil {
		return nil, fmt.Errorf("insert absent records: %w", err)
	}

	// Final counters come from the record set, not from counters accumulated
	// during the session.
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET
			status = 'completed',
			ended_at = NOW(),
			present_count = (SELECT COUNT(*) FROM attendance_records WHERE session_id = $1 AND status = 'present'),
			absent_count  = (SELECT COUNT(*) FROM attendance_records WHERE session_id = $1 AND status = 'absent'),
			total_students = (SELECT COUNT(*) FROM attendance_records WHERE session_id = $1)
		WHERE id = $1
	`, sessionID); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit end: %w", err)
	}

	return r.GetSession(ctx, sessionID)
}

// CancelSession transitions active → cancelled. No absent synthesis.
func (r *SessionRepository) CancelSession(ctx context.Context, sessionID string) (*database.Session, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE sessions SET status = 'cancelled', ended_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("cancel session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish missing from terminal.
		s, err := r.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, s.Status, database.ErrSessionNotActive)
	}
	return r.GetSession(ctx, sessionID)
}

// SessionRecords returns all attendance records of a session.
func (r *SessionRepository) SessionRecords(ctx context.Context, sessionID string) ([]database.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, identity_id, status, confidence, marked_by_face, marked_at
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY marked_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		var rec database.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.IdentityID, &rec.Status,
			&rec.Confidence, &rec.MarkedByFace, &rec.MarkedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	return records, nil
}
