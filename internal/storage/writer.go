package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// VerdictLogger persists one verdict record. *DB implements it.
type VerdictLogger interface {
	LogVerdict(ctx context.Context, rec *VerdictRecord) error
}

// AuditWriter persists verdicts off the request path. Records are queued on
// a buffered channel; when the buffer is full the record is dropped and
// OnDrop, if set, is called.
type AuditWriter struct {
	db      VerdictLogger
	ch      chan *VerdictRecord
	wg      sync.WaitGroup
	done    chan struct{}
	backoff time.Duration

	OnDrop func(*VerdictRecord)
}

func NewAuditWriter(db VerdictLogger, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		db:      db,
		ch:      make(chan *VerdictRecord, bufferSize),
		done:    make(chan struct{}),
		backoff: 100 * time.Millisecond,
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log enqueues rec without blocking.
func (w *AuditWriter) Log(rec *VerdictRecord) {
	select {
	case w.ch <- rec:
	default:
		log.Warn().Str("verdict_id", rec.ID).Msg("audit buffer full, dropping verdict record")
		if w.OnDrop != nil {
			w.OnDrop(rec)
		}
	}
}

// Flush stops the writer and waits up to timeout for queued records.
func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case rec := <-w.ch:
			w.writeWithRetry(rec)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case rec := <-w.ch:
					w.writeWithRetry(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(rec *VerdictRecord) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.LogVerdict(ctx, rec)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * w.backoff
			log.Warn().
				Err(err).
				Str("verdict_id", rec.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("verdict_id", rec.ID).
				Msg("audit write failed permanently after retries")
		}
	}
}
