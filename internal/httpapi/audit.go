package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// entry is a single audit record: one HTTP request against the control
// surface, or one denied/approved fleet operation relayed through it.
type entry struct {
	Time       time.Time `json:"time"`
	User       string    `json:"user"`
	Role       string    `json:"role"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// auditLog is a bounded in-memory ring buffer with an optional durable
// backend. Per spec, audit is append-only and never consulted in the hot
// path -- the ring buffer only serves the `status`/admin inspection surface.
type auditLog struct {
	mu      sync.Mutex
	entries []entry
	max     int
	sink    sink
}

// sink persists entries best-effort; failures never affect request flow.
type sink interface {
	Write(e entry) error
}

func newAuditLog(max int, s sink) *auditLog {
	if max <= 0 {
		max = 300
	}
	return &auditLog{max: max, sink: s}
}

func (l *auditLog) add(e entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		_ = l.sink.Write(e)
	}
}

func (l *auditLog) listLimit(limit int) []entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]entry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

// fileSink appends audit entries as JSONL.
type fileSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileSink(path string) (*fileSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileSink{file: f}, nil
}

func (s *fileSink) Write(e entry) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// postgresSink writes audit entries into the olav_audit_log table.
type postgresSink struct {
	db *sql.DB
}

func newPostgresSink(db *sql.DB) sink {
	if db == nil {
		return nil
	}
	return &postgresSink{db: db}
}

func (s *postgresSink) Write(e entry) error {
	if s == nil || s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO olav_audit_log
			(occurred_at, user_name, role_name, thread_id, path, method, status, remote_addr, user_agent)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.Time, e.User, e.Role, e.ThreadID, e.Path, e.Method, e.Status, e.RemoteAddr, e.UserAgent)
	return err
}
