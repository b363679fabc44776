package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one recording run: a CSV file on disk plus its lifecycle
// metadata. StoppedAt is nil while the session is still open.
type Session struct {
	ID          uuid.UUID  `json:"id"`
	FilePath    string     `json:"file_path"`
	StartedAt   time.Time  `json:"started_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	SampleCount int64      `json:"sample_count"`
}

// StartSession inserts an open session row.
func (s *Store) StartSession(id uuid.UUID, filePath string, startedAt time.Time) error {
	_, err := s.Exec(
		`INSERT INTO sessions (id, file_path, started_at_ms) VALUES (?, ?, ?)`,
		id.String(), filePath, startedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}
	return nil
}

// FinishSession closes the session row with its stop time and final
// sample count.
func (s *Store) FinishSession(id uuid.UUID, stoppedAt time.Time, sampleCount int64) error {
	res, err := s.Exec(
		`UPDATE sessions SET stopped_at_ms = ?, sample_count = ? WHERE id = ?`,
		stoppedAt.UnixMilli(), sampleCount, id.String(),
	)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finish session %s: no such session", id)
	}
	return nil
}

// Sessions returns up to limit sessions, newest first.
func (s *Store) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Query(
		`SELECT id, file_path, started_at_ms, stopped_at_ms, sample_count
		 FROM sessions ORDER BY started_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			idStr     string
			filePath  string
			startedMS int64
			stoppedMS sql.NullInt64
			count     int64
		)
		if err := rows.Scan(&idStr, &filePath, &startedMS, &stoppedMS, &count); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("session id %q: %w", idStr, err)
		}
		sess := Session{
			ID:          id,
			FilePath:    filePath,
			StartedAt:   time.UnixMilli(startedMS).UTC(),
			SampleCount: count,
		}
		if stoppedMS.Valid {
			t := time.UnixMilli(stoppedMS.Int64).UTC()
			sess.StoppedAt = &t
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
