package sinks

import (
	"context"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/archivelab/linkmeta/internal/progress"
)

// BarSink renders a terminal progress bar for interactive runs. The bar is
// created lazily on the first RUN_START event, which carries the total count
// of distinct URLs selected for the run.
type BarSink struct {
	mu  sync.Mutex
	bar *pb.ProgressBar
}

// NewBarSink returns a sink with no bar yet; rendering starts on RUN_START.
func NewBarSink() *BarSink {
	return &BarSink{}
}

// Consume advances the bar using the cumulative completed count on events.
func (s *BarSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if s.bar == nil && evt.Total > 0 {
				s.bar = pb.New64(evt.Total).Start()
			}
		case progress.StageURLDone, progress.StageCacheHit:
			if s.bar != nil && evt.Completed > 0 {
				s.bar.SetCurrent(evt.Completed)
			}
		case progress.StageRunDone, progress.StageRunError:
			if s.bar != nil {
				s.bar.Finish()
				s.bar = nil
			}
		}
	}
	return nil
}

// Close finishes a bar that is still rendering.
func (s *BarSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil {
		s.bar.Finish()
		s.bar = nil
	}
	return nil
}
