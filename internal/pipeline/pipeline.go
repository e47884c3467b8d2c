// Package pipeline orchestrates the fetch-analyze-cache run: it deduplicates
// the extracted URLs, reconciles them against the cache and the processing
// log, and drives concurrent per-batch workers under the domain rate limiter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/archivelab/linkmeta/internal/content"
	"github.com/archivelab/linkmeta/internal/linkmeta"
	"github.com/archivelab/linkmeta/internal/progress"
	"github.com/archivelab/linkmeta/internal/urlnorm"
)

// Config tunes run behavior. Zero values fall back to defaults.
type Config struct {
	// Workers is the number of concurrent fetch workers per batch.
	Workers int
	// BatchSize is the number of distinct URLs handled per sequential batch.
	BatchSize int
	// SuccessTTL is how long successful and skipped results stay cached.
	SuccessTTL time.Duration
	// FailureTTL is how long a failed log record suppresses a retry.
	FailureTTL time.Duration
	// MaxRequeues bounds how many times a cooled-down URL moves to the back
	// of its batch before the worker waits out the cooldown instead.
	MaxRequeues int
	// RequeueDelay is the pause before a deferred URL re-enters the queue.
	RequeueDelay time.Duration
	// Force bypasses the cache and processing log, re-fetching everything.
	Force bool
}

const (
	defaultWorkers      = 12
	defaultBatchSize    = 100
	defaultSuccessTTL   = 720 * time.Hour
	defaultFailureTTL   = 24 * time.Hour
	defaultMaxRequeues  = 3
	defaultRequeueDelay = 100 * time.Millisecond
)

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.SuccessTTL <= 0 {
		c.SuccessTTL = defaultSuccessTTL
	}
	if c.FailureTTL <= 0 {
		c.FailureTTL = defaultFailureTTL
	}
	if c.MaxRequeues <= 0 {
		c.MaxRequeues = defaultMaxRequeues
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = defaultRequeueDelay
	}
}

// Deps bundles the collaborators a Pipeline drives.
type Deps struct {
	Resolver linkmeta.Resolver
	Fetcher  linkmeta.Fetcher
	Cache    linkmeta.ContentCache
	Log      linkmeta.ProcessingLog
	Limiter  linkmeta.Limiter
	Hasher   linkmeta.Hasher
	Clock    linkmeta.Clock
	Emitter  progress.Emitter
	Logger   *zap.Logger
}

func (d *Deps) validate() error {
	switch {
	case d.Fetcher == nil:
		return errors.New("pipeline: fetcher is required")
	case d.Cache == nil:
		return errors.New("pipeline: cache is required")
	case d.Log == nil:
		return errors.New("pipeline: processing log is required")
	case d.Limiter == nil:
		return errors.New("pipeline: limiter is required")
	case d.Hasher == nil:
		return errors.New("pipeline: hasher is required")
	case d.Clock == nil:
		return errors.New("pipeline: clock is required")
	}
	if d.Emitter == nil {
		d.Emitter = progress.NopEmitter{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return nil
}

// Record pairs one input occurrence with the analysis of its URL. Duplicate
// input URLs share a single fetch but each occurrence gets its own Record.
type Record struct {
	SourceID string `json:"source_id"`
	linkmeta.AnalysisResult
}

// Pipeline executes runs. Safe for a single Run at a time.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New validates dependencies and returns a ready Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// task carries one distinct URL through a run.
type task struct {
	url         string // first-seen raw form
	key         string // cache key
	host        string
	domain      string
	occurrences []int // indices into the input slice
	requeues    int
	result      linkmeta.AnalysisResult
	done        bool
}

// Run analyzes every distinct URL among sources and returns one Record per
// input occurrence, in input order. A canceled context returns the partial
// records accumulated so far along with the context error.
func (p *Pipeline) Run(ctx context.Context, sources []linkmeta.Source) ([]Record, error) {
	start := p.deps.Clock.Now()
	runID := uuid.New()

	tasks := p.dedup(sources)
	p.deps.Logger.Info("run starting",
		zap.String("run_id", runID.String()),
		zap.Int("occurrences", len(sources)),
		zap.Int("distinct_urls", len(tasks)),
	)

	p.emit(progress.Event{
		RunID: runID,
		TS:    start.UTC(),
		Stage: progress.StageRunStart,
		Total: int64(len(tasks)),
	})

	var completed atomic.Int64
	pending := p.reconcile(ctx, runID, tasks, &completed)

	runErr := p.runBatches(ctx, runID, pending, &completed)

	stage := progress.StageRunDone
	if runErr != nil {
		stage = progress.StageRunError
	}
	p.emit(progress.Event{
		RunID:     runID,
		TS:        p.deps.Clock.Now().UTC(),
		Stage:     stage,
		Dur:       p.deps.Clock.Now().Sub(start),
		Completed: completed.Load(),
		Total:     int64(len(tasks)),
	})
	p.deps.Logger.Info("run finished",
		zap.String("run_id", runID.String()),
		zap.Int64("completed", completed.Load()),
		zap.Duration("elapsed", p.deps.Clock.Now().Sub(start)),
		zap.Error(runErr),
	)

	return fanOut(sources, tasks), runErr
}

// dedup groups occurrences by normalized cache key. Unparseable URLs get an
// immediate failed result and never reach the fetch stage.
func (p *Pipeline) dedup(sources []linkmeta.Source) []*task {
	var tasks []*task
	byKey := make(map[string]*task)
	for i, src := range sources {
		key, err := urlnorm.Key(src.URL)
		if err != nil {
			key = "invalid:" + src.URL
		}
		if t, ok := byKey[key]; ok {
			t.occurrences = append(t.occurrences, i)
			continue
		}
		t := &task{
			url:         src.URL,
			key:         key,
			occurrences: []int{i},
		}
		if err != nil {
			t.result = linkmeta.AnalysisResult{
				URL:       src.URL,
				Status:    linkmeta.StatusFailed,
				Error:     fmt.Sprintf("invalid url: %v", err),
				FetchedAt: p.deps.Clock.Now().UTC(),
			}
			t.done = true
			p.appendLog(t.result)
		} else {
			parsed, _ := url.Parse(src.URL)
			t.host = parsed.Host
			t.domain = urlnorm.Domain(parsed.Host)
		}
		byKey[key] = t
		tasks = append(tasks, t)
	}
	return tasks
}

// reconcile settles tasks answerable from the cache or the processing log and
// returns the rest for fetching.
func (p *Pipeline) reconcile(ctx context.Context, runID uuid.UUID, tasks []*task, completed *atomic.Int64) []*task {
	history := map[string]linkmeta.LogRecord{}
	if !p.cfg.Force {
		replayed, err := p.deps.Log.Replay()
		if err != nil {
			p.deps.Logger.Warn("processing log replay failed; treating history as empty", zap.Error(err))
		} else {
			history = normalizeHistory(replayed)
		}
	}

	var pending []*task
	now := p.deps.Clock.Now()
	for _, t := range tasks {
		if t.done {
			completed.Add(1)
			continue
		}
		if p.cfg.Force {
			pending = append(pending, t)
			continue
		}
		if entry, ok := p.deps.Cache.Get(ctx, t.key); ok {
			t.result = entry.Result
			t.done = true
			p.emit(progress.Event{
				RunID:     runID,
				TS:        now.UTC(),
				Stage:     progress.StageCacheHit,
				Domain:    t.domain,
				URL:       t.url,
				Completed: completed.Add(1),
			})
			continue
		}
		if rec, ok := history[t.key]; ok && rec.Status == linkmeta.StatusFailed && now.Sub(rec.Timestamp) < p.cfg.FailureTTL {
			t.result = linkmeta.AnalysisResult{
				URL:       t.url,
				Status:    linkmeta.StatusFailed,
				Error:     "previously failed: " + rec.Error,
				FetchedAt: rec.Timestamp,
			}
			t.done = true
			completed.Add(1)
			continue
		}
		pending = append(pending, t)
	}
	return pending
}

// normalizeHistory re-keys replayed records by cache key so spelling
// variants of one URL (query order, fragment) share a single history entry.
// The newest record per key wins.
func normalizeHistory(records map[string]linkmeta.LogRecord) map[string]linkmeta.LogRecord {
	out := make(map[string]linkmeta.LogRecord, len(records))
	for rawURL, rec := range records {
		key, err := urlnorm.Key(rawURL)
		if err != nil {
			key = "invalid:" + rawURL
		}
		if prev, ok := out[key]; ok && prev.Timestamp.After(rec.Timestamp) {
			continue
		}
		out[key] = rec
	}
	return out
}

// runBatches processes pending tasks in sequential fixed-size batches.
func (p *Pipeline) runBatches(ctx context.Context, runID uuid.UUID, pending []*task, completed *atomic.Int64) error {
	for off := 0; off < len(pending); off += p.cfg.BatchSize {
		end := off + p.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[off:end]
		p.emit(progress.Event{
			RunID:     runID,
			TS:        p.deps.Clock.Now().UTC(),
			Stage:     progress.StageBatchStart,
			Completed: completed.Load(),
		})
		p.runBatch(ctx, runID, batch, completed)
		if err := ctx.Err(); err != nil {
			p.markNotAttempted(pending[end:])
			return err
		}
	}
	return ctx.Err()
}

// runBatch drains one batch through the worker pool. Rate-limited tasks are
// requeued at the back; a task that exhausts its requeues waits out the
// cooldown instead of being dropped.
func (p *Pipeline) runBatch(ctx context.Context, runID uuid.UUID, batch []*task, completed *atomic.Int64) {
	// Each task enters the queue at most MaxRequeues+1 times, so sends below
	// never block.
	queue := make(chan *task, len(batch)*(p.cfg.MaxRequeues+1))
	var outstanding sync.WaitGroup
	outstanding.Add(len(batch))
	for _, t := range batch {
		queue <- t
	}

	workers := p.cfg.Workers
	if workers > len(batch) {
		workers = len(batch)
	}
	var pool sync.WaitGroup
	for i := 0; i < workers; i++ {
		pool.Add(1)
		go func() {
			defer pool.Done()
			for t := range queue {
				if ctx.Err() != nil {
					p.settleCancelled(t)
					outstanding.Done()
					continue
				}
				if p.deferTask(ctx, runID, t, queue) {
					continue
				}
				p.settle(ctx, runID, t, completed)
				outstanding.Done()
			}
		}()
	}

	outstanding.Wait()
	close(queue)
	pool.Wait()
}

// deferTask requeues t when its domain is cooling down and a requeue budget
// remains. It reports true when the task went back into the queue.
func (p *Pipeline) deferTask(ctx context.Context, runID uuid.UUID, t *task, queue chan<- *task) bool {
	allowed, remaining := p.deps.Limiter.Check(t.domain)
	if allowed {
		return false
	}
	if t.requeues >= p.cfg.MaxRequeues {
		// Out of deferrals; hold the worker until the window passes so the
		// URL is delayed rather than lost.
		p.deps.Logger.Debug("waiting out domain cooldown",
			zap.String("domain", t.domain),
			zap.Duration("remaining", remaining),
		)
		sleep(ctx, remaining)
		return false
	}
	t.requeues++
	p.emit(progress.Event{
		RunID:  runID,
		TS:     p.deps.Clock.Now().UTC(),
		Stage:  progress.StageURLRequeued,
		Domain: t.domain,
		URL:    t.url,
		Note:   fmt.Sprintf("cooldown %s", remaining.Round(time.Millisecond)),
	})
	sleep(ctx, p.cfg.RequeueDelay)
	queue <- t
	return true
}

// settle runs the full analysis for t and records the terminal outcome in the
// cache, the log, and the progress stream.
func (p *Pipeline) settle(ctx context.Context, runID uuid.UUID, t *task, completed *atomic.Int64) {
	result, bytes, dur := p.analyze(ctx, t)
	t.result = result
	t.done = true

	if result.Status == linkmeta.StatusSuccess || result.Status == linkmeta.StatusSkipped {
		if err := p.deps.Cache.Put(ctx, t.key, result, p.cfg.SuccessTTL); err != nil {
			p.deps.Logger.Warn("cache write failed", zap.String("url", t.url), zap.Error(err))
		}
	}
	p.appendLog(result)

	p.emit(progress.Event{
		RunID:     runID,
		TS:        p.deps.Clock.Now().UTC(),
		Stage:     progress.StageURLDone,
		Domain:    t.domain,
		URL:       t.url,
		Status:    result.Status,
		Bytes:     bytes,
		Dur:       dur,
		Completed: completed.Add(1),
		Note:      result.Error,
	})
}

func (p *Pipeline) settleCancelled(t *task) {
	t.result = linkmeta.AnalysisResult{
		URL:       t.url,
		Status:    linkmeta.StatusNotAttempted,
		Error:     "run canceled",
		FetchedAt: p.deps.Clock.Now().UTC(),
	}
	t.done = true
}

func (p *Pipeline) markNotAttempted(tasks []*task) {
	for _, t := range tasks {
		if !t.done {
			p.settleCancelled(t)
		}
	}
}

// analyze resolves, fetches, and extracts one URL. It returns the result plus
// the body size and fetch duration for metrics.
func (p *Pipeline) analyze(ctx context.Context, t *task) (linkmeta.AnalysisResult, int64, time.Duration) {
	result := linkmeta.AnalysisResult{
		URL:       t.url,
		FetchedAt: p.deps.Clock.Now().UTC(),
	}

	target := t.url
	if p.deps.Resolver != nil && urlnorm.IsShortener(t.host) {
		resolved, err := p.deps.Resolver.Resolve(ctx, t.url)
		if err != nil {
			result.Status = linkmeta.StatusFailed
			result.Error = fmt.Sprintf("resolve: %v", err)
			return result, 0, 0
		}
		if resolved != t.url {
			result.ResolvedURL = resolved
			target = resolved
			t.domain = urlnorm.DomainOf(resolved)
		}
	}

	if err := p.deps.Limiter.Wait(ctx, t.domain); err != nil {
		result.Status = linkmeta.StatusFailed
		result.Error = fmt.Sprintf("rate wait: %v", err)
		return result, 0, 0
	}

	resp, err := p.deps.Fetcher.Fetch(ctx, target)
	if err != nil {
		return p.classifyFetchError(t, result, resp, err), int64(len(resp.Body)), resp.Duration
	}

	result.ContentType = resp.ContentType
	if hash, hashErr := p.deps.Hasher.Hash(resp.Body); hashErr == nil {
		result.ContentHash = hash
	} else {
		p.deps.Logger.Warn("content hash failed", zap.String("url", t.url), zap.Error(hashErr))
	}
	if isHTML(resp.ContentType) {
		page, extractErr := content.Extract(target, resp.Body)
		if extractErr != nil {
			p.deps.Logger.Debug("content extraction failed", zap.String("url", t.url), zap.Error(extractErr))
		} else {
			result.Title = page.Title
			result.Description = page.Description
			result.TextContent = page.TextContent
			result.LinkCount = len(page.Links)
			result.ImageCount = len(page.Images)
		}
	}
	result.Status = linkmeta.StatusSuccess
	return result, int64(len(resp.Body)), resp.Duration
}

func (p *Pipeline) classifyFetchError(t *task, result linkmeta.AnalysisResult, resp linkmeta.FetchResponse, err error) linkmeta.AnalysisResult {
	var statusErr *linkmeta.StatusError
	switch {
	case errors.Is(err, linkmeta.ErrSkippedContentType):
		result.Status = linkmeta.StatusSkipped
		result.ContentType = resp.ContentType
		result.Error = fmt.Sprintf("skipped content type %s", resp.ContentType)
	case errors.Is(err, linkmeta.ErrTooLarge):
		result.Status = linkmeta.StatusFailed
		result.ContentType = resp.ContentType
		result.Error = "content exceeds size limit"
	case errors.As(err, &statusErr):
		p.deps.Limiter.Penalize(t.domain, statusErr.Code)
		result.Status = linkmeta.StatusFailed
		result.Error = err.Error()
	default:
		result.Status = linkmeta.StatusFailed
		result.Error = err.Error()
	}
	return result
}

// fanOut expands per-task results back to one Record per input occurrence.
func fanOut(sources []linkmeta.Source, tasks []*task) []Record {
	records := make([]Record, len(sources))
	for _, t := range tasks {
		for _, i := range t.occurrences {
			rec := Record{SourceID: sources[i].SourceID, AnalysisResult: t.result}
			rec.AnalysisResult.URL = sources[i].URL
			records[i] = rec
		}
	}
	return records
}

func (p *Pipeline) appendLog(result linkmeta.AnalysisResult) {
	record := linkmeta.LogRecord{
		URL:       result.URL,
		Timestamp: result.FetchedAt,
		Status:    result.Status,
		Error:     result.Error,
	}
	if err := p.deps.Log.Append(record); err != nil {
		p.deps.Logger.Warn("processing log append failed", zap.String("url", result.URL), zap.Error(err))
	}
}

func (p *Pipeline) emit(evt progress.Event) {
	p.deps.Emitter.Emit(evt)
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml")
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
