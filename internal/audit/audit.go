// Package audit implements olav's append-only operation audit trail (spec
// §3: "Audit entry. {timestamp, thread_id, device, operation, success,
// duration_ms, bytes, error?}. Append-only; never queried in the hot
// path"). It is distinct from the control surface's HTTP request log
// (internal/httpapi's auditLog): this one records fleet-level operations,
// the thing an incident review actually wants.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/olavhq/olav/internal/olaverr"
)

// Entry is one recorded operation.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Device     string    `json:"device"`
	Operation  string    `json:"operation"`
	Success    bool      `json:"success"`
	DurationMS int64     `json:"duration_ms"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
}

// Sink is the external collaborator the core appends entries to (spec §6:
// "Audit sink -- append-only stream of audit entries; may be a file, a
// database, or an external log").
type Sink interface {
	Write(e Entry) error
}

// Log is an append-only recorder fanning writes out to an optional Sink.
// The sink write runs synchronously under the log's lock, so a slow sink
// delays the caller; a sink error never fails the caller's operation -- per
// spec, audit is observational, not a gate.
type Log struct {
	mu   sync.Mutex
	sink Sink

	onWriteErr func(error)
}

// NewLog builds a Log. sink may be nil, in which case Record is a no-op
// beyond invoking onWriteErr never. onWriteErr, if non-nil, is called
// (outside the lock) whenever the sink returns an error, so the caller can
// log it without the audit trail itself ever becoming a failure point.
func NewLog(sink Sink, onWriteErr func(error)) *Log {
	return &Log{sink: sink, onWriteErr: onWriteErr}
}

// Record appends one entry. Failures are reported via onWriteErr, never
// returned, because a write-audit failure must never cause the operation
// being audited to fail or retry.
func (l *Log) Record(e Entry) {
	if l.sink == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	err := l.sink.Write(e)
	l.mu.Unlock()
	if err != nil && l.onWriteErr != nil {
		l.onWriteErr(err)
	}
}

// FileSink appends entries as newline-delimited JSON.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) path for append. Matches the
// internal/httpapi control-surface audit log's file-sink shape, applied
// here to fleet-operation entries instead of HTTP requests.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, olaverr.Wrap(olaverr.Internal, "open audit log file "+path, err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Write(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(data, '\n'))
	return err
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	return s.file.Close()
}

// PostgresSink writes entries into the olav_audit_entries table.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink builds a PostgresSink. The caller is responsible for
// having migrated the olav_audit_entries table.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Write(e Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO olav_audit_entries
			(occurred_at, thread_id, device, operation, success, duration_ms, bytes, error)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.Timestamp, e.ThreadID, e.Device, e.Operation, e.Success, e.DurationMS, e.Bytes, e.Error)
	return err
}
