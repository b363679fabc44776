package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BITBCI/EmoSense/internal/uploader"
)

// Result is one finished classification attempt. ErrorCode is empty on
// success.
type Result struct {
	TaskID      uuid.UUID `json:"task_id"`
	State       string    `json:"state"`
	Label       string    `json:"label"`
	Confidence  float64   `json:"confidence"`
	ErrorCode   string    `json:"error_code"`
	SampleCount int       `json:"sample_count"`
	LatencyMS   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecordOutcome persists a terminal upload outcome. Non-terminal states
// are ignored.
func (s *Store) RecordOutcome(o uploader.Outcome) error {
	if o.State != uploader.StateSucceeded && o.State != uploader.StateFailed {
		return nil
	}
	errorCode := ""
	if o.Err != nil {
		errorCode = string(o.Err.Kind)
	}
	_, err := s.Exec(
		`INSERT INTO results (task_id, state, label, confidence, error_code, sample_count, latency_ms, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.TaskID.String(), o.State.String(), o.Label, o.Confidence,
		errorCode, o.SampleCount, o.Latency.Milliseconds(), o.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert result %s: %w", o.TaskID, err)
	}
	return nil
}

// Results returns up to limit results, newest first.
func (s *Store) Results(limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Query(
		`SELECT task_id, state, label, confidence, error_code, sample_count, latency_ms, created_at_ms
		 FROM results ORDER BY created_at_ms DESC, task_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			idStr     string
			r         Result
			createdMS int64
		)
		if err := rows.Scan(&idStr, &r.State, &r.Label, &r.Confidence,
			&r.ErrorCode, &r.SampleCount, &r.LatencyMS, &createdMS); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("task id %q: %w", idStr, err)
		}
		r.TaskID = id
		r.CreatedAt = time.UnixMilli(createdMS).UTC()
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
