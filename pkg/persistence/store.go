package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned for lookups of unknown request IDs.
var ErrNotFound = errors.New("persistence: not found")

// RequestRecord is one request's row in the history table.
type RequestRecord struct {
	ID               string
	Strategy         string
	Query            string
	Status           string
	Reason           string
	Result           string
	Iterations       int
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
	FinishedAt       *time.Time
}

// Store wraps the database with the operations the runtime needs.
type Store struct {
	db *sql.DB
}

// NewStore builds a store over an initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRequest records a newly admitted request.
func (s *Store) CreateRequest(id, strategy, query string) error {
	_, err := s.db.Exec(
		"INSERT INTO requests (id, strategy, query) VALUES (?, ?, ?)",
		id, strategy, query)
	if err != nil {
		return fmt.Errorf("insert request %s: %w", id, err)
	}
	return nil
}

// FinishRequest records a request's terminal outcome and drops its
// checkpoint, which is no longer resumable.
func (s *Store) FinishRequest(rec *RequestRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin finish %s: %w", rec.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
UPDATE requests SET status = ?, reason = ?, result = ?, iterations = ?,
	prompt_tokens = ?, completion_tokens = ?, finished_at = CURRENT_TIMESTAMP
WHERE id = ?`,
		rec.Status, rec.Reason, rec.Result, rec.Iterations,
		rec.PromptTokens, rec.CompletionTokens, rec.ID)
	if err != nil {
		return fmt.Errorf("finish request %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish request %s: %w", rec.ID, ErrNotFound)
	}
	if _, err := tx.Exec("DELETE FROM checkpoints WHERE request_id = ?", rec.ID); err != nil {
		return fmt.Errorf("drop checkpoint %s: %w", rec.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish %s: %w", rec.ID, err)
	}
	return nil
}

// GetRequest looks up one request by ID.
func (s *Store) GetRequest(id string) (*RequestRecord, error) {
	row := s.db.QueryRow(`
SELECT id, strategy, query, status, reason, result, iterations,
	prompt_tokens, completion_tokens, created_at, finished_at
FROM requests WHERE id = ?`, id)
	return scanRequest(row)
}

// ListRequests returns the most recent requests, newest first.
func (s *Store) ListRequests(limit int) ([]*RequestRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
SELECT id, strategy, query, status, reason, result, iterations,
	prompt_tokens, completion_tokens, created_at, finished_at
FROM requests ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var records []*RequestRecord
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return records, nil
}

// SaveCheckpoint stores the latest checkpoint token for a request, replacing
// any previous one.
func (s *Store) SaveCheckpoint(requestID, token string) error {
	_, err := s.db.Exec(`
INSERT INTO checkpoints (request_id, token, taken_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(request_id) DO UPDATE SET token = excluded.token, taken_at = excluded.taken_at`,
		requestID, token)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", requestID, err)
	}
	return nil
}

// LatestCheckpoint returns the stored checkpoint token for a request.
func (s *Store) LatestCheckpoint(requestID string) (string, error) {
	var token string
	err := s.db.QueryRow(
		"SELECT token FROM checkpoints WHERE request_id = ?", requestID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("checkpoint %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load checkpoint %s: %w", requestID, err)
	}
	return token, nil
}

// ResumableRequests lists running requests that have a checkpoint, oldest
// first, for recovery after a restart.
func (s *Store) ResumableRequests() ([]string, error) {
	rows, err := s.db.Query(`
SELECT r.id FROM requests r JOIN checkpoints c ON c.request_id = r.id
WHERE r.status = 'running' ORDER BY r.created_at`)
	if err != nil {
		return nil, fmt.Errorf("list resumable requests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan resumable request: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list resumable requests: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*RequestRecord, error) {
	var rec RequestRecord
	var finished sql.NullTime
	err := row.Scan(&rec.ID, &rec.Strategy, &rec.Query, &rec.Status, &rec.Reason,
		&rec.Result, &rec.Iterations, &rec.PromptTokens, &rec.CompletionTokens,
		&rec.CreatedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	return &rec, nil
}
