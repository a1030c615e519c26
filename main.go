// treeglot — AI translation of structured configuration files that keeps
// every placeholder, color code and non-text value byte-for-byte intact.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/treeglot/treeglot/docnode"
	"github.com/treeglot/treeglot/pipeline"
	"github.com/treeglot/treeglot/settings"
	"github.com/treeglot/treeglot/smallcaps"
	"github.com/treeglot/treeglot/telemetry"
	"github.com/treeglot/treeglot/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "treeglot",
		Short: "AI translation for structured config files with placeholder protection",
		Long: `treeglot — AI translation for structured configuration files.

Translates the human-readable strings of a YAML config tree while keeping
every placeholder ({var}, %var%, &a color codes, <#RRGGBB>, <tags>, literal
\n), every structural key and every non-string value exactly as it was.
Progress is checkpointed after every batch, so an interrupted run resumes
without re-sending translated content.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newTranslateCmd())
	root.AddCommand(newSmallcapsCmd())
	root.AddCommand(newReverseCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("treeglot %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// ---------------------------------------------------------------------------
// translate command
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		lang       string
		langName   string
		providerID string
		model      string
		apiKey     string
		baseURL    string
		proxy      string
		output     string
		batchSize  int
		retries    int
		workers    int
		delay      time.Duration
		timeout    time.Duration
		fresh      bool
		keepFailed bool
		noBackup   bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "translate <file>",
		Short: "Translate a YAML config file into a target language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings.Load()
			if err != nil {
				logWarning("%v — using defaults", err)
				cfg = settings.Defaults()
			}

			prov, err := resolveProvider(cfg, providerID, model, apiKey, baseURL, proxy, timeout)
			if err != nil {
				return err
			}

			return runTranslate(cmd.Context(), args[0], translateParams{
				settings:   cfg,
				provider:   prov,
				lang:       lang,
				langName:   langName,
				output:     output,
				batchSize:  batchSize,
				retries:    retries,
				workers:    workers,
				delay:      delay,
				fresh:      fresh,
				keepFailed: keepFailed,
				noBackup:   noBackup,
				verbose:    verbose,
			})
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "", "target language code (e.g. fr, de, ru)")
	cmd.Flags().StringVar(&langName, "lang-name", "", "human-readable language name sent to the model")
	cmd.Flags().StringVar(&providerID, "provider", "", "AI provider: openai, groq, ollama, custom")
	cmd.Flags().StringVar(&model, "model", "", "model identifier")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (overrides TREEGLOT_API_KEY and config)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL (custom provider)")
	cmd.Flags().StringVar(&proxy, "proxy", "", "HTTP/HTTPS proxy URL")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "leaves per API call")
	cmd.Flags().IntVar(&retries, "retries", 0, "retry budget per batch")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent in-flight API calls")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay between batch launches")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-request timeout")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore prior progress and start over")
	cmd.Flags().BoolVar(&keepFailed, "keep-failed", false, "do not retry leaves that failed in a prior run")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the source backup")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "detailed logging")
	_ = cmd.MarkFlagRequired("lang")

	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{translate.ProviderOpenAI, translate.ProviderGroq, translate.ProviderOllama, translate.ProviderCustom}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// resolveProvider combines preset, config file and flags into a Provider.
func resolveProvider(cfg settings.Settings, id, model, apiKey, baseURL, proxy string, timeout time.Duration) (translate.Provider, error) {
	if id == "" {
		id = cfg.API.Provider
	}
	prov, ok := translate.DefaultProviders()[id]
	if !ok {
		return prov, fmt.Errorf("unknown provider %q (openai, groq, ollama, custom)", id)
	}

	if cfg.API.Model != "" {
		prov.Model = cfg.API.Model
	}
	if model != "" {
		prov.Model = model
	}
	if cfg.API.BaseURL != "" {
		prov.BaseURL = cfg.API.BaseURL
	}
	if baseURL != "" {
		prov.BaseURL = baseURL
	}
	prov.Proxy = proxy
	prov.APIKey = cfg.ResolveAPIKey(apiKey)
	if timeout > 0 {
		prov.Timeout = timeout
	} else if cfg.API.Timeout > 0 {
		prov.Timeout = time.Duration(cfg.API.Timeout) * time.Second
	}

	switch prov.ID {
	case translate.ProviderOllama:
		// Local service, no key needed.
	case translate.ProviderCustom:
		if prov.BaseURL == "" {
			return prov, fmt.Errorf("provider 'custom' requires --base-url")
		}
	default:
		if prov.APIKey == "" {
			return prov, fmt.Errorf("provider %q requires an API key: pass --api-key or set TREEGLOT_API_KEY", prov.ID)
		}
	}
	return prov, nil
}

type translateParams struct {
	settings   settings.Settings
	provider   translate.Provider
	lang       string
	langName   string
	output     string
	batchSize  int
	retries    int
	workers    int
	delay      time.Duration
	fresh      bool
	keepFailed bool
	noBackup   bool
	verbose    bool
}

func runTranslate(ctx context.Context, file string, p translateParams) error {
	source, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	if p.settings.Files.AutoBackup && !p.noBackup {
		backup := file + ".backup"
		if err := os.WriteFile(backup, source, 0644); err != nil {
			logWarning("Backup failed: %v", err)
		} else if p.verbose {
			logInfo("Backup created: %s", backup)
		}
	}

	outPath := p.output
	if outPath == "" {
		outPath = filepath.Join(filepath.Dir(file), p.settings.Files.OutputPrefix+filepath.Base(file))
	}

	batchSize := p.batchSize
	if batchSize == 0 {
		batchSize = p.settings.API.BatchSize
	}
	retries := p.retries
	if retries == 0 {
		retries = p.settings.API.MaxRetries
	}
	workers := p.workers
	if workers == 0 {
		workers = p.settings.API.Workers
	}
	delay := p.delay
	if delay == 0 && p.settings.API.DelayMs > 0 {
		delay = time.Duration(p.settings.API.DelayMs) * time.Millisecond
	}

	var sink telemetry.Sink = telemetry.NopSink{}
	if p.settings.UI.ShowProgress {
		sink = telemetry.FuncSink(func(s telemetry.BatchStat) {
			status := "ok"
			if s.Failed {
				status = "FAILED"
			}
			logInfo("Batch %d/%d: %d leaves, api %s, local %s [%s]",
				s.Index+1, s.Batches, s.Leaves,
				telemetry.FormatDuration(s.BackendTime),
				telemetry.FormatDuration(s.LocalTime), status)
		})
	}

	logInfo("Translating %s to %s (model %s)", file, p.lang, p.provider.Model)

	_, sum, err := pipeline.Run(ctx, source, outPath, p.lang, p.langName, translate.NewClient(p.provider), pipeline.Config{
		BatchSize:       batchSize,
		MaxRetries:      retries,
		MaxConcurrent:   workers,
		CheckpointEvery: p.settings.Files.CheckpointEvery,
		RequestDelay:    delay,
		Fresh:           p.fresh,
		KeepFailed:      p.keepFailed,
		OnLog:           logInfo,
		OnError:         logWarning,
		Sink:            sink,
		Verbose:         p.verbose || p.settings.UI.DetailedLogging,
	})

	interrupted := errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		return err
	}

	if p.settings.History.AutoSave {
		status := "completed"
		if interrupted {
			status = "interrupted"
		}
		herr := telemetry.SaveHistory(settings.HistoryPath(), telemetry.HistoryEntry{
			File:       file,
			Language:   p.lang,
			Translated: sum.Done,
			Failed:     sum.Failed,
			Total:      sum.Translatable,
			Duration:   telemetry.FormatDuration(sum.Elapsed),
			Status:     status,
		}, p.settings.History.MaxEntries)
		if herr != nil {
			logWarning("Could not save history: %v", herr)
		}
	}

	if interrupted {
		logWarning("Interrupted — progress saved, rerun to resume (%d/%d done)", sum.Done, sum.Translatable)
		return nil
	}

	if sum.Skipped > 0 {
		logInfo("Skipped %d leaves already translated in a prior run", sum.Skipped)
	}
	if sum.Failed > 0 {
		logWarning("%d leaves kept their original values after failures", sum.Failed)
	}
	logSuccess("Translated %d/%d leaves in %s (api %s, local %s) → %s",
		sum.Done, sum.Translatable,
		telemetry.FormatDuration(sum.Elapsed),
		telemetry.FormatDuration(sum.BackendTime),
		telemetry.FormatDuration(sum.LocalTime),
		outPath)
	return nil
}

// ---------------------------------------------------------------------------
// smallcaps / reverse commands
// ---------------------------------------------------------------------------

func newSmallcapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "smallcaps <file>",
		Short: "Convert a YAML file's text values to Unicode small caps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransliterate(args[0], "smallcaps_", smallcaps.ConvertNode)
		},
	}
}

func newReverseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reverse <file>",
		Short: "Convert small-caps text values back to regular letters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransliterate(args[0], "reversed_", smallcaps.RevertNode)
		},
	}
}

func runTransliterate(file, prefix string, convert func(*docnode.Node) smallcaps.Stats) error {
	doc, err := docnode.ParseFile(file)
	if err != nil {
		return err
	}
	stats := convert(doc)

	out := filepath.Join(filepath.Dir(file), prefix+filepath.Base(file))
	if err := docnode.WriteFile(doc, out); err != nil {
		return err
	}
	logSuccess("Converted %d/%d text values → %s", stats.Converted, stats.Total, out)
	return nil
}

// ---------------------------------------------------------------------------
// history command
// ---------------------------------------------------------------------------

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show past translation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := telemetry.LoadHistory(settings.HistoryPath())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No history yet.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%-25s %-10s %-40s %4d/%-4d %8s %s\n",
					e.Timestamp, e.Language, e.File, e.Translated, e.Total, e.Duration, e.Status)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Entry point
// ---------------------------------------------------------------------------

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}
