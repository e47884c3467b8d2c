package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/archivelab/linkmeta/internal/linkmeta"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageBatchStart  Stage = "BATCH_START"
	StageURLDone     Stage = "URL_DONE"
	StageURLRequeued Stage = "URL_REQUEUED"
	StageCacheHit    Stage = "CACHE_HIT"
)

// Event captures a single milestone of a processing run.
type Event struct {
	// RunID uniquely identifies a pipeline run.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or per-URL milestone occurred.
	Stage Stage
	// Domain scopes URL events to their normalized host label.
	Domain string
	// URL is the distinct URL the event concerns, when applicable.
	URL string
	// Status carries the terminal outcome for URL_DONE events.
	Status linkmeta.Status
	// Bytes is the response body size for fetched URLs.
	Bytes int64
	// Dur captures fetch latency or, for RUN_DONE, total run wall time.
	Dur time.Duration
	// Completed is the cumulative count of finished distinct URLs.
	Completed int64
	// Total is the number of distinct URLs selected for this run.
	Total int64
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageBatchStart:
	case StageURLDone:
		if e.URL == "" {
			return errors.New("url done requires url")
		}
		if e.Status == "" {
			return errors.New("url done requires status")
		}
	case StageURLRequeued, StageCacheHit:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
