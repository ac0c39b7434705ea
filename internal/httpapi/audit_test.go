package httpapi

import "testing"

func TestAuditLogRingBuffer(t *testing.T) {
	l := newAuditLog(3, nil)
	for i := 0; i < 5; i++ {
		l.add(entry{Method: "GET", Path: "/x", Status: 200})
	}
	got := l.listLimit(10)
	if len(got) != 3 {
		t.Fatalf("expected ring buffer capped at 3, got %d", len(got))
	}
}

func TestAuditLogListLimit(t *testing.T) {
	l := newAuditLog(10, nil)
	for i := 0; i < 5; i++ {
		l.add(entry{Method: "GET", Path: "/x", Status: 200})
	}
	if got := l.listLimit(2); len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got := l.listLimit(0); len(got) != 5 {
		t.Fatalf("expected all 5 entries with limit<=0, got %d", len(got))
	}
}

type fakeSink struct{ writes int }

func (f *fakeSink) Write(e entry) error {
	f.writes++
	return nil
}

func TestAuditLogPersistsToSink(t *testing.T) {
	fs := &fakeSink{}
	l := newAuditLog(10, fs)
	l.add(entry{Method: "POST", Path: "/reload", Status: 200})
	if fs.writes != 1 {
		t.Fatalf("expected sink to receive 1 write, got %d", fs.writes)
	}
}
