package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olavhq/olav/internal/olaverr"
	"github.com/olavhq/olav/internal/pgstore"
)

// ThreadStore persists threads durably. Per spec §4.5, "every message
// append and every state transition is flushed to the thread store before
// acknowledgment" -- Save is always called synchronously by the Manager
// before a transition is considered to have happened.
type ThreadStore interface {
	Create(ctx context.Context, clientID string) (*Thread, error)
	Get(ctx context.Context, threadID string) (*Thread, error)
	Save(ctx context.Context, th *Thread) error
}

// MemoryStore is an in-process ThreadStore, used in tests and for
// single-process deployments without a configured database (spec §6
// DatabaseConfig: "When DSN is empty, olav falls back to its in-memory
// store implementations").
type MemoryStore struct {
	mu      sync.Mutex
	threads map[string]*Thread
	seq     int
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: map[string]*Thread{}}
}

func (s *MemoryStore) Create(ctx context.Context, clientID string) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := time.Now().UTC()
	th := &Thread{
		ID:        "thread-" + itoa(s.seq),
		ClientID:  clientID,
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.threads[th.ID] = th
	return cloneThread(th), nil
}

func (s *MemoryStore) Get(ctx context.Context, threadID string) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[threadID]
	if !ok {
		return nil, olaverr.New(olaverr.NotFound, "thread "+threadID+" not found")
	}
	return cloneThread(th), nil
}

func (s *MemoryStore) Save(ctx context.Context, th *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[th.ID]; !ok {
		return olaverr.New(olaverr.NotFound, "thread "+th.ID+" not found")
	}
	s.threads[th.ID] = cloneThread(th)
	return nil
}

func cloneThread(th *Thread) *Thread {
	cp := *th
	cp.Messages = append([]Message(nil), th.Messages...)
	if th.PendingInterrupt != nil {
		interrupt := *th.PendingInterrupt
		cp.PendingInterrupt = &interrupt
	}
	return &cp
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// PostgresStore persists threads in the olav_threads table, one row per
// thread with the message log and pending interrupt stored as jsonb --
// the thread log is read and written whole on every turn, so there is no
// benefit to a normalized messages table the way there would be for
// something queried piecemeal.
type PostgresStore struct {
	*pgstore.BaseStore
}

// NewPostgresStore builds a PostgresStore against db. The caller is
// responsible for having migrated the olav_threads table.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{BaseStore: pgstore.NewBaseStore(db, "olav_threads")}
}

type threadRow struct {
	ID                  string
	ClientID            string
	State               State
	Messages            []byte
	PendingInterrupt    []byte
	ApprovedFingerprint string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (s *PostgresStore) Create(ctx context.Context, clientID string) (*Thread, error) {
	id, err := newThreadID()
	if err != nil {
		return nil, olaverr.Wrap(olaverr.Internal, "generate thread id", err)
	}
	now := time.Now().UTC()
	th := &Thread{ID: id, ClientID: clientID, State: StateIdle, CreatedAt: now, UpdatedAt: now}

	messages, err := json.Marshal(th.Messages)
	if err != nil {
		return nil, olaverr.Wrap(olaverr.Internal, "marshal messages", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO olav_threads (id, client_id, state, messages, pending_interrupt, approved_fingerprint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, '', $5, $5)
	`, th.ID, th.ClientID, string(th.State), messages, th.CreatedAt)
	if err != nil {
		return nil, olaverr.Wrap(olaverr.Internal, "insert thread", err)
	}
	return th, nil
}

func (s *PostgresStore) Get(ctx context.Context, threadID string) (*Thread, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, client_id, state, messages, pending_interrupt, approved_fingerprint, created_at, updated_at
		FROM olav_threads WHERE id = $1
	`, threadID)
	return scanThread(row)
}

func (s *PostgresStore) Save(ctx context.Context, th *Thread) error {
	messages, err := json.Marshal(th.Messages)
	if err != nil {
		return olaverr.Wrap(olaverr.Internal, "marshal messages", err)
	}
	var pending []byte
	if th.PendingInterrupt != nil {
		pending, err = json.Marshal(th.PendingInterrupt)
		if err != nil {
			return olaverr.Wrap(olaverr.Internal, "marshal pending interrupt", err)
		}
	}
	th.UpdatedAt = time.Now().UTC()
	result, err := s.ExecContext(ctx, `
		UPDATE olav_threads
		SET state = $2, messages = $3, pending_interrupt = $4, approved_fingerprint = $5, updated_at = $6
		WHERE id = $1
	`, th.ID, string(th.State), messages, pending, th.ApprovedFingerprint, th.UpdatedAt)
	if err != nil {
		return olaverr.Wrap(olaverr.Internal, "update thread", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return olaverr.Wrap(olaverr.Internal, "rows affected", err)
	}
	if rows == 0 {
		return olaverr.New(olaverr.NotFound, "thread "+th.ID+" not found")
	}
	return nil
}

func newThreadID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return "thread-" + id.String(), nil
}

func scanThread(row *sql.Row) (*Thread, error) {
	var r threadRow
	var stateStr string
	err := row.Scan(&r.ID, &r.ClientID, &stateStr, &r.Messages, &r.PendingInterrupt, &r.ApprovedFingerprint, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, olaverr.New(olaverr.NotFound, "thread not found")
		}
		return nil, olaverr.Wrap(olaverr.Internal, "scan thread", err)
	}

	th := &Thread{
		ID:                  r.ID,
		ClientID:            r.ClientID,
		State:               State(stateStr),
		ApprovedFingerprint: r.ApprovedFingerprint,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if len(r.Messages) > 0 {
		if err := json.Unmarshal(r.Messages, &th.Messages); err != nil {
			return nil, olaverr.Wrap(olaverr.Internal, "unmarshal messages", err)
		}
	}
	if len(r.PendingInterrupt) > 0 {
		th.PendingInterrupt = &Interrupt{}
		if err := json.Unmarshal(r.PendingInterrupt, th.PendingInterrupt); err != nil {
			return nil, olaverr.Wrap(olaverr.Internal, "unmarshal pending interrupt", err)
		}
	}
	return th, nil
}
