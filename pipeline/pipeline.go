// Package pipeline drives one translation run end to end: parse the
// document, flatten it to leaves, partition translatable from
// pass-through, resume prior progress, dispatch batches, and rebuild the
// output tree. Callers construct one run per (document, target language)
// pair with an explicit Config; there is no ambient state.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/treeglot/treeglot/docnode"
	"github.com/treeglot/treeglot/flatten"
	"github.com/treeglot/treeglot/progress"
	"github.com/treeglot/treeglot/telemetry"
	"github.com/treeglot/treeglot/translate"
)

// Config is the injected configuration for one run. Zero values fall back
// to the dispatcher defaults.
type Config struct {
	// BatchSize bounds how many leaves go into one backend call.
	BatchSize int
	// MaxRetries is the per-batch retry budget.
	MaxRetries int
	// MaxConcurrent bounds in-flight backend calls.
	MaxConcurrent int
	// CheckpointEvery checkpoints every N resolved batches (default 1).
	CheckpointEvery int
	// RequestDelay spaces out batch launches.
	RequestDelay time.Duration
	// Fresh discards any prior progress for this output.
	Fresh bool
	// KeepFailed keeps previously failed leaves failed on resume instead
	// of retrying them.
	KeepFailed bool
	// OnLog / OnError / OnProgress mirror the dispatcher callbacks.
	OnLog      func(format string, args ...any)
	OnError    func(format string, args ...any)
	OnProgress func(done, total int)
	// Sink receives per-batch telemetry.
	Sink telemetry.Sink
	// Verbose enables detailed logging.
	Verbose bool
}

// Summary reports what one run did.
type Summary struct {
	// TotalLeaves is every scalar in the document.
	TotalLeaves int
	// Translatable is how many leaves were translation candidates.
	Translatable int
	// Done is how many candidates ended up translated (incl. resumed).
	Done int
	// Failed is how many candidates fell back to their original value.
	Failed int
	// Skipped is how many candidates were restored from a prior run and
	// never re-sent.
	Skipped int
	// BackendTime / LocalTime partition the run's working time.
	BackendTime time.Duration
	LocalTime   time.Duration
	// Elapsed is wall-clock time for the whole run.
	Elapsed time.Duration
}

// Run translates one document into the target language and returns the
// rebuilt tree: translatable leaves replaced, everything else untouched.
// The output document and progress side file land at outPath via the
// progress store's checkpoints.
//
// A document that cannot be parsed and a checkpoint that cannot be
// persisted are fatal; every other failure degrades to per-leaf fallback
// and shows up in the summary counts.
func Run(ctx context.Context, source []byte, outPath, language, languageName string, backend translate.Backend, cfg Config) (*docnode.Node, Summary, error) {
	start := time.Now()
	var sum Summary

	doc, err := docnode.Parse(source)
	if err != nil {
		return nil, sum, err
	}

	leaves := flatten.Flatten(doc)
	sum.TotalLeaves = len(leaves)
	for _, leaf := range leaves {
		if leaf.Translatable {
			sum.Translatable++
		}
	}

	store := progress.New(outPath, language, progress.SourceChecksum(source), leaves)
	if !cfg.Fresh {
		restored, err := store.Resume(cfg.KeepFailed)
		if err != nil {
			return nil, sum, err
		}
		if restored > 0 && cfg.OnLog != nil {
			cfg.OnLog("Resumed prior run: %d leaves restored", restored)
		}
	}
	sum.Skipped, _, _ = store.Counts()

	res, dispatchErr := translate.Dispatch(ctx, store, translate.Options{
		Backend:         backend,
		Language:        language,
		LanguageName:    languageName,
		BatchSize:       cfg.BatchSize,
		MaxRetries:      cfg.MaxRetries,
		MaxConcurrent:   cfg.MaxConcurrent,
		RequestDelay:    cfg.RequestDelay,
		CheckpointEvery: cfg.CheckpointEvery,
		OnLog:           cfg.OnLog,
		OnError:         cfg.OnError,
		OnProgress:      cfg.OnProgress,
		Sink:            cfg.Sink,
		Verbose:         cfg.Verbose,
	})

	sum.BackendTime = res.BackendTime
	sum.LocalTime = res.LocalTime

	// A run with nothing to dispatch never checkpointed: write the output
	// document anyway so every run produces its file.
	if res.Total == 0 {
		if err := store.Checkpoint(); err != nil {
			return nil, sum, fmt.Errorf("writing output: %w", err)
		}
	}

	var pending int
	sum.Done, sum.Failed, pending = store.Counts()

	// A complete run leaves no side file behind; failures keep it so a
	// rerun can retry them.
	if dispatchErr == nil && pending == 0 && sum.Failed == 0 {
		if err := store.Clear(); err != nil && cfg.OnError != nil {
			cfg.OnError("Could not remove progress file: %v", err)
		}
	}

	out, err := store.Document()
	if err != nil {
		return nil, sum, fmt.Errorf("rebuilding output document: %w", err)
	}

	sum.Elapsed = time.Since(start)
	return out, sum, dispatchErr
}
