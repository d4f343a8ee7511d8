// Package clicks records redirect clicks off the request path: a RabbitMQ
// publisher on the API side, a consumer and Recorder on the worker side.
package clicks

import (
	"context"
	"errors"
	"time"

	"github.com/MagnunAVF/smllr/internal"
	applog "github.com/MagnunAVF/smllr/internal/logger"
)

// TaskState is the terminal state of one recording task.
type TaskState int

const (
	Completed TaskState = iota
	Skipped
	Failed
)

func (s TaskState) String() string {
	switch s {
	case Completed:
		return "completed"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type Store interface {
	FindByCode(ctx context.Context, code string) (*internal.ShortURL, error)
	FindFingerprintByID(ctx context.Context, id uint64) (*internal.Fingerprint, error)
	RecordClick(ctx context.Context, code string, fingerprintID uint64) error
}

type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record validates the task and persists the click. It never retries and
// never panics on missing data: missing code or fingerprint is Skipped with
// nothing written.
func (r *Recorder) Record(ctx context.Context, task internal.ClickTask) TaskState {
	log := applog.FromContext(ctx).With(
		"short_code", task.Code,
		"fingerprint_id", task.FingerprintID,
		"request_id", task.RequestID,
	)
	start := time.Now()

	if _, err := r.store.FindByCode(ctx, task.Code); err != nil {
		if errors.Is(err, internal.ErrNotFound) {
			log.Error("ShortURL not found, dropping click")
			return Skipped
		}
		log.Error("Failed to load ShortURL", "err", err)
		return Failed
	}

	if _, err := r.store.FindFingerprintByID(ctx, task.FingerprintID); err != nil {
		if errors.Is(err, internal.ErrNotFound) {
			log.Error("Fingerprint not found, dropping click")
			return Skipped
		}
		log.Error("Failed to load fingerprint", "err", err)
		return Failed
	}

	if err := r.store.RecordClick(ctx, task.Code, task.FingerprintID); err != nil {
		// deleted between validation and write
		if errors.Is(err, internal.ErrNotFound) {
			log.Warn("ShortURL vanished before click was recorded")
			return Skipped
		}
		log.Error("Failed to record click", "err", err)
		return Failed
	}

	log.Debug("Click recorded", "elapsed_ms", float64(time.Since(start).Microseconds())/1000.0)
	return Completed
}
