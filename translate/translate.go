// Package translate implements batched, resumable AI translation of
// document leaves: fixed-size batches in document order, shielded texts,
// per-batch retry with exponential backoff, per-leaf fallback when the
// model corrupts a placeholder, and a progress checkpoint after every
// batch so an interruption loses at most the in-flight work.
package translate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/treeglot/treeglot/flatten"
	"github.com/treeglot/treeglot/progress"
	"github.com/treeglot/treeglot/shield"
	"github.com/treeglot/treeglot/telemetry"
)

// errShape marks a response whose length does not match the batch. Order
// can no longer be trusted, so partial alignment is never attempted.
var errShape = errors.New("response length does not match batch length")

// Options controls the dispatcher.
type Options struct {
	// Backend performs the actual translation calls.
	Backend Backend
	// Language is the target language code (e.g. "fr").
	Language string
	// LanguageName is the human-readable name sent to the backend
	// (e.g. "French"). Falls back to Language when empty.
	LanguageName string
	// BatchSize is how many leaves to translate per call. Default: 50.
	BatchSize int
	// MaxRetries is the retry budget per batch. Default: 3.
	MaxRetries int
	// MaxConcurrent is the number of in-flight backend calls. Default: 3.
	MaxConcurrent int
	// RequestDelay is the delay between launching batches.
	RequestDelay time.Duration
	// CheckpointEvery checkpoints the progress store every N resolved
	// batches. Default: 1 (after every batch).
	CheckpointEvery int
	// OnLog emits log messages during translation.
	OnLog func(format string, args ...any)
	// OnError emits error messages during translation.
	OnError func(format string, args ...any)
	// OnProgress is called after each batch with cumulative leaf counts.
	OnProgress func(done, total int)
	// Sink receives per-batch telemetry.
	Sink telemetry.Sink
	// Verbose enables detailed logging.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveBatchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return 50
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 3
}

func (o *Options) effectiveMaxConcurrent() int {
	if o.MaxConcurrent > 0 {
		return o.MaxConcurrent
	}
	return 3
}

func (o *Options) effectiveCheckpointEvery() int {
	if o.CheckpointEvery > 0 {
		return o.CheckpointEvery
	}
	return 1
}

func (o *Options) effectiveLanguageName() string {
	if o.LanguageName != "" {
		return o.LanguageName
	}
	return o.Language
}

func (o *Options) sink() telemetry.Sink {
	if o.Sink != nil {
		return o.Sink
	}
	return telemetry.NopSink{}
}

// Result summarises one dispatch.
type Result struct {
	// Total is the number of leaves handed to the dispatcher.
	Total int
	// Done is the number of leaves translated successfully.
	Done int
	// Failed is the number of leaves that fell back to their original
	// value (shield mismatch or exhausted batch).
	Failed int
	// BackendTime is cumulative time spent waiting on the backend,
	// retries included.
	BackendTime time.Duration
	// LocalTime is cumulative time spent on local work: shielding,
	// unshielding, checkpointing.
	LocalTime time.Duration
}

// Dispatch translates every pending leaf in the store. Batch and leaf
// failures are recovered locally — the leaf keeps its original value and
// is marked failed — so one bad batch never aborts the run. Only context
// cancellation and checkpoint persistence failures end the dispatch
// early, and both still leave a consistent checkpoint behind: leaves of
// an in-flight batch are never recorded, so no checkpoint ever holds a
// partially applied batch.
func Dispatch(ctx context.Context, store *progress.Store, opts Options) (Result, error) {
	pending := store.Pending()
	if len(pending) == 0 {
		return Result{}, nil
	}

	batches := splitLeaves(pending, opts.effectiveBatchSize())
	track := &tracker{
		store: store,
		opts:  &opts,
		every: opts.effectiveCheckpointEvery(),
		total: len(pending),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.effectiveMaxConcurrent())

launch:
	for i, batch := range batches {
		if gctx.Err() != nil {
			break
		}
		if i > 0 && opts.RequestDelay > 0 {
			select {
			case <-gctx.Done():
				break launch
			case <-time.After(opts.RequestDelay):
			}
		}

		i, batch := i, batch
		g.Go(func() error {
			return dispatchBatch(gctx, i, len(batches), batch, track, opts)
		})
	}

	err := g.Wait()

	// Persist whatever resolved, even after an interruption.
	if cerr := checkpointWithRetry(store); cerr != nil && err == nil {
		err = cerr
	}

	return track.result(), err
}

// dispatchBatch shields, submits, verifies and records one batch.
func dispatchBatch(ctx context.Context, idx, batches int, batch []flatten.Leaf, track *tracker, opts Options) error {
	// A batch queued on the concurrency limit may only get its slot after
	// a cancellation. Its leaves stay pending and never reach the backend.
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()

	shielded := make([]string, len(batch))
	maps := make([]*shield.Map, len(batch))
	for i, leaf := range batch {
		shielded[i], maps[i] = shield.Shield(leaf.Node.Value)
	}

	if opts.Verbose {
		opts.log("Batch %d/%d (%d leaves)", idx+1, batches, len(batch))
	}

	texts, backendTime, err := callWithRetry(ctx, shielded, opts)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted mid-call: the batch's leaves stay pending and
			// the next run re-sends them.
			return ctx.Err()
		}
		opts.logError("Batch %d/%d failed, keeping original values: %v", idx+1, batches, err)
		for _, leaf := range batch {
			track.store.Record(leaf.Path, "", progress.StatusFailed)
		}
		return track.batchResolved(ctx, telemetry.BatchStat{
			Index:       idx,
			Batches:     batches,
			Leaves:      len(batch),
			BackendTime: backendTime,
			LocalTime:   time.Since(start) - backendTime,
			Failed:      true,
		}, 0, len(batch), opts)
	}

	done, failed := 0, 0
	for i, leaf := range batch {
		restored, uerr := shield.Unshield(texts[i], maps[i])
		if uerr != nil {
			opts.logError("Leaf %s: %v — keeping original value", leaf.Path, uerr)
			track.store.Record(leaf.Path, "", progress.StatusFailed)
			failed++
			continue
		}
		track.store.Record(leaf.Path, restored, progress.StatusDone)
		done++
	}

	return track.batchResolved(ctx, telemetry.BatchStat{
		Index:       idx,
		Batches:     batches,
		Leaves:      len(batch),
		BackendTime: backendTime,
		LocalTime:   time.Since(start) - backendTime,
	}, done, failed, opts)
}

// retrySchedule builds the per-batch backoff schedule: exponential from
// one second, capped at 30 seconds. The attempt count is the budget, not
// elapsed time, so the schedule carries no deadline. Each batch gets its
// own schedule; no retry state leaks between batches.
func retrySchedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// callWithRetry performs one batch call with up to MaxRetries retries.
// A response of the wrong length counts as a failed attempt — partial
// alignment is never trusted. A rate-limited attempt waits at least as
// long as the server asked.
func callWithRetry(ctx context.Context, texts []string, opts Options) ([]string, time.Duration, error) {
	sched := retrySchedule()
	maxRetries := opts.effectiveMaxRetries()

	var backendTime time.Duration
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := sched.NextBackOff()
			var rle *RateLimitError
			if errors.As(lastErr, &rle) && rle.RetryAfter > delay {
				delay = rle.RetryAfter
			}
			if opts.Verbose {
				opts.log("Retrying in %v (attempt %d/%d): %v", delay, attempt, maxRetries, lastErr)
			}
			select {
			case <-ctx.Done():
				return nil, backendTime, ctx.Err()
			case <-time.After(delay):
			}
		}

		callStart := time.Now()
		out, err := opts.Backend.Translate(ctx, texts, opts.effectiveLanguageName())
		backendTime += time.Since(callStart)

		if err == nil && len(out) != len(texts) {
			err = fmt.Errorf("%w: sent %d, got %d", errShape, len(texts), len(out))
		}
		if err == nil {
			return out, backendTime, nil
		}
		if ctx.Err() != nil {
			return nil, backendTime, ctx.Err()
		}
		lastErr = err
	}

	return nil, backendTime, fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

// checkpointWithRetry retries the checkpoint write a few times before
// declaring it fatal. The run must not continue past unconfirmed
// durability.
func checkpointWithRetry(store *progress.Store) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i) * 200 * time.Millisecond)
		}
		if err = store.Checkpoint(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("checkpoint failed after %d attempts: %w", attempts, err)
}

// tracker serializes cross-batch accounting and the checkpoint cadence.
// Batches may resolve in any order; durability and tallies linearize here.
type tracker struct {
	store *progress.Store
	opts  *Options
	every int
	total int

	mu          sync.Mutex
	resolved    int
	done        int
	failed      int
	backendTime time.Duration
	localTime   time.Duration
}

func (t *tracker) batchResolved(ctx context.Context, stat telemetry.BatchStat, done, failed int, opts Options) error {
	t.mu.Lock()
	t.resolved++
	t.done += done
	t.failed += failed
	t.backendTime += stat.BackendTime
	t.localTime += stat.LocalTime
	checkpoint := t.resolved%t.every == 0
	progressed := t.done + t.failed
	t.mu.Unlock()

	if checkpoint {
		if err := checkpointWithRetry(t.store); err != nil {
			return err
		}
	}

	opts.sink().BatchDone(stat)
	if opts.OnProgress != nil {
		opts.OnProgress(progressed, t.total)
	}
	return nil
}

func (t *tracker) result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Result{
		Total:       t.total,
		Done:        t.done,
		Failed:      t.failed,
		BackendTime: t.backendTime,
		LocalTime:   t.localTime,
	}
}

// splitLeaves divides leaves into batches of the given size, preserving
// document order within and across batches.
func splitLeaves(leaves []flatten.Leaf, batchSize int) [][]flatten.Leaf {
	if batchSize <= 0 || batchSize >= len(leaves) {
		return [][]flatten.Leaf{leaves}
	}
	var batches [][]flatten.Leaf
	for i := 0; i < len(leaves); i += batchSize {
		end := i + batchSize
		if end > len(leaves) {
			end = len(leaves)
		}
		batches = append(batches, leaves[i:end])
	}
	return batches
}
