package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeLogger struct {
	mu       sync.Mutex
	failures int
	calls    int
	written  []string
	block    chan struct{}
}

func (f *fakeLogger) LogVerdict(ctx context.Context, rec *VerdictRecord) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	f.written = append(f.written, rec.ID)
	return nil
}

func (f *fakeLogger) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]string(nil), f.written...)
}

func TestAuditWriter_WritesAndFlushes(t *testing.T) {
	db := &fakeLogger{}
	w := NewAuditWriter(db, 10)
	w.Start()

	for _, id := range []string{"a", "b", "c"} {
		w.Log(&VerdictRecord{ID: id})
	}
	w.Flush(5 * time.Second)

	_, written := db.snapshot()
	if len(written) != 3 {
		t.Fatalf("written = %v, want 3 records", written)
	}
	for i, id := range []string{"a", "b", "c"} {
		if written[i] != id {
			t.Errorf("written[%d] = %s, want %s", i, written[i], id)
		}
	}
}

func TestAuditWriter_Retries(t *testing.T) {
	db := &fakeLogger{failures: 2}
	w := NewAuditWriter(db, 10)
	w.backoff = time.Millisecond
	w.Start()

	w.Log(&VerdictRecord{ID: "retry-me"})
	w.Flush(5 * time.Second)

	calls, written := db.snapshot()
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (two failures then success)", calls)
	}
	if len(written) != 1 {
		t.Errorf("written = %v, want the record after retries", written)
	}
}

func TestAuditWriter_GivesUp(t *testing.T) {
	db := &fakeLogger{failures: 100}
	w := NewAuditWriter(db, 10)
	w.backoff = time.Millisecond
	w.Start()

	w.Log(&VerdictRecord{ID: "doomed"})
	w.Flush(5 * time.Second)

	calls, written := db.snapshot()
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (initial attempt plus three retries)", calls)
	}
	if len(written) != 0 {
		t.Errorf("written = %v, want none", written)
	}
}

func TestAuditWriter_DropsWhenFull(t *testing.T) {
	db := &fakeLogger{block: make(chan struct{})}
	w := NewAuditWriter(db, 1)

	var dropped atomic.Int32
	w.OnDrop = func(*VerdictRecord) { dropped.Add(1) }

	// Not started: the buffer holds one record and the rest are dropped.
	w.Log(&VerdictRecord{ID: "kept"})
	w.Log(&VerdictRecord{ID: "dropped-1"})
	w.Log(&VerdictRecord{ID: "dropped-2"})

	if got := dropped.Load(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}

	close(db.block)
	w.Start()
	w.Flush(5 * time.Second)

	if _, written := db.snapshot(); len(written) != 1 || written[0] != "kept" {
		t.Errorf("written = %v, want [kept]", written)
	}
}
