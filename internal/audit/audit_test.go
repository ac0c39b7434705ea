package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeSink struct {
	entries []Entry
	failAll bool
}

func (f *fakeSink) Write(e Entry) error {
	if f.failAll {
		return errors.New("sink unavailable")
	}
	f.entries = append(f.entries, e)
	return nil
}

func TestLog_RecordForwardsToSink(t *testing.T) {
	sink := &fakeSink{}
	log := NewLog(sink, nil)
	log.Record(Entry{Device: "sw1", Operation: "show version", Success: true})
	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(sink.entries))
	}
	if sink.entries[0].Timestamp.IsZero() {
		t.Fatal("expected a timestamp to be stamped on record")
	}
}

func TestLog_NilSinkIsNoop(t *testing.T) {
	log := NewLog(nil, func(error) { t.Fatal("onWriteErr should never be called with a nil sink") })
	log.Record(Entry{Device: "sw1", Operation: "show version"})
}

func TestLog_SinkFailureReportedNotReturned(t *testing.T) {
	sink := &fakeSink{failAll: true}
	var reported error
	log := NewLog(sink, func(err error) { reported = err })
	log.Record(Entry{Device: "sw1", Operation: "show version"})
	if reported == nil {
		t.Fatal("expected the sink failure to be reported via onWriteErr")
	}
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("new file sink: %v", err)
	}
	defer sink.Close()

	if err := sink.Write(Entry{Device: "sw1", Operation: "show version", Success: true}); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if err := sink.Write(Entry{Device: "sw2", Operation: "show interfaces", Success: false, Error: "timeout"}); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}
