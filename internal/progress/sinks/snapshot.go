package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/archivelab/linkmeta/internal/progress"
)

// RunSnapshot is a point-in-time view of the current run, served by the
// status API.
type RunSnapshot struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Done      bool             `json:"done"`
	Total     int64            `json:"total"`
	Completed int64            `json:"completed"`
	ByStatus  map[string]int64 `json:"by_status"`
	CacheHits int64            `json:"cache_hits"`
	Requeues  int64            `json:"requeues"`
}

// SnapshotSink folds the event stream into an in-memory RunSnapshot.
type SnapshotSink struct {
	mu   sync.RWMutex
	snap RunSnapshot
}

// NewSnapshotSink returns an empty snapshot sink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{snap: RunSnapshot{ByStatus: map[string]int64{}}}
}

// Consume folds the batch into the snapshot.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.snap = RunSnapshot{
				RunID:     evt.RunID.String(),
				StartedAt: evt.TS,
				Total:     evt.Total,
				ByStatus:  map[string]int64{},
			}
		case progress.StageURLDone:
			s.snap.ByStatus[string(evt.Status)]++
			if evt.Completed > s.snap.Completed {
				s.snap.Completed = evt.Completed
			}
		case progress.StageCacheHit:
			s.snap.CacheHits++
			if evt.Completed > s.snap.Completed {
				s.snap.Completed = evt.Completed
			}
		case progress.StageURLRequeued:
			s.snap.Requeues++
		case progress.StageRunDone, progress.StageRunError:
			s.snap.Done = true
		}
	}
	return nil
}

// Snapshot returns a copy of the current view.
func (s *SnapshotSink) Snapshot() RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := s.snap
	copied.ByStatus = make(map[string]int64, len(s.snap.ByStatus))
	for k, v := range s.snap.ByStatus {
		copied.ByStatus[k] = v
	}
	return copied
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
