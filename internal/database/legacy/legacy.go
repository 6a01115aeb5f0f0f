// Package legacy reads student rosters from an existing MySQL/MariaDB school
// database so identities can be imported without manual entry. Read-only.
package legacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/roll-call/internal/database"
)

// Pool manages a MySQL connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MySQL connection pool.
func NewPool(dsn string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("legacy database DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping legacy database: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing legacy database: %w", err)
		}
	}
	return nil
}

// Students reads the legacy student roster. Rows with duplicate normalized
// names within one class/division keep their distinct student IDs; the
// normalized name is only used for display-order stability and dedupe
// diagnostics by the importer.
func (p *Pool) Students(ctx context.Context) ([]database.Identity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT student_id, name, roll_number, class_year, division, is_active
		FROM students
		ORDER BY class_year, division, roll_number
	`)
	if err != nil {
		return nil, fmt.Errorf("query legacy students: %w", err)
	}
	defer rows.Close()

	var students []database.Identity
	for rows.Next() {
		var ident database.Identity
		var rollNumber sql.NullString
		if err := rows.Scan(&ident.ID, &ident.Name, &rollNumber, &ident.ClassYear, &ident.Division, &ident.IsActive); err != nil {
			return nil, fmt.Errorf("scan legacy student: %w", err)
		}
		ident.RollNumber = rollNumber.String
		students = append(students, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating legacy students: %w", err)
	}

	return students, nil
}
