package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	tirextracker "github.com/tira-io/tirex-tracker"
	"github.com/tira-io/tirex-tracker/internal/api"
	"github.com/tira-io/tirex-tracker/internal/catalog"
	"github.com/tira-io/tirex-tracker/internal/config"
	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
	"github.com/tira-io/tirex-tracker/internal/session"
	"github.com/tira-io/tirex-tracker/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var (
		code int
		err  error
	)
	switch cmd {
	case "providers":
		err = cmdProviders(args)
	case "measures":
		err = cmdMeasures(args)
	case "info":
		err = cmdInfo(args)
	case "run":
		code, err = cmdRun(args)
	case "serve":
		err = cmdServe(args)
	case "history":
		err = cmdHistory(args)
	case "version":
		fmt.Printf("tirex-tracker %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "tirex-tracker %s: %v\n", cmd, err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func printUsage() {
	exe := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, `tirex-tracker: resource and runtime tracking (%s)

Usage:
  %s <command> [flags]

Commands:
  providers      List measure providers and their availability
  measures       List every measure with its type and provider
  info           Print instant measures of this host
  run            Track a command: run [flags] -- cmd args...
  serve          Serve the HTTP API
  history        List recorded runs
  version        Print version

Common flags:
  -c, --config PATH      Config file path (default: tirex-tracker.yaml)
  -m, --measure NAME     Measure to track (repeatable, default: all)
      --poll-interval N  Sampling interval in milliseconds (default: 100)
      --db PATH          Run history database (default: tirex-tracker.db)
      --listen ADDR      HTTP listen address (default: 127.0.0.1:9924)
      --log-level L      trace, debug, info, warn, error or critical
      --log-format F     console or json

Examples:
  %s info -m OS_NAME -m CPU_MODEL_NAME
  %s run --export run.ir_metadata --title bm25 -- python index.py
  %s serve --listen 0.0.0.0:9924
`, version, exe, exe, exe, exe)
}

// setup parses flags and configuration, installs the zap log sink and builds
// the tracker. The returned function flushes the logger.
func setup(fs *pflag.FlagSet, args []string, opts ...session.Option) (*config.Config, *tirextracker.Tracker, func(), error) {
	cfg, err := config.Load(fs, args)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, nil, nil, err
	}
	logging.SetSink(logging.NewZapSink(logger.With(zap.String("version", version))))
	flush := func() {
		logging.SetSink(nil)
		logger.Sync()
	}

	cat, err := catalog.Default()
	if err != nil {
		flush()
		return nil, nil, nil, err
	}
	return cfg, tirextracker.New(cat, opts...), flush, nil
}

func selectedMeasures(tracker *tirextracker.Tracker, cfg *config.Config) ([]model.Measure, error) {
	if len(cfg.Measures) == 0 {
		return tracker.ListMeasures(), nil
	}
	return tracker.Catalog().ParseMeasures(cfg.Measures)
}

// ---------------------------------------------------------------------------
// providers / measures / info
// ---------------------------------------------------------------------------

func cmdProviders(args []string) error {
	_, tracker, flush, err := setup(pflag.NewFlagSet("providers", pflag.ContinueOnError), args)
	if err != nil {
		return err
	}
	defer flush()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVERSION\tAVAILABLE\tDESCRIPTION")
	for _, p := range tracker.ListProviders() {
		avail := "yes"
		if !p.Available {
			avail = "no (" + p.Reason + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Version, avail, p.Description)
	}
	return tw.Flush()
}

func cmdMeasures(args []string) error {
	_, tracker, flush, err := setup(pflag.NewFlagSet("measures", pflag.ContinueOnError), args)
	if err != nil {
		return err
	}
	defer flush()

	infos := tracker.MeasureInfos()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MEASURE\tTYPE\tSHAPE\tPROVIDER\tUNIT\tDESCRIPTION")
	for _, m := range tracker.ListMeasures() {
		info := infos[m]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", m, info.Type, info.Shape, info.Provider, info.Unit, info.Description)
	}
	return tw.Flush()
}

func cmdInfo(args []string) error {
	cfg, tracker, flush, err := setup(pflag.NewFlagSet("info", pflag.ContinueOnError), args)
	if err != nil {
		return err
	}
	defer flush()

	measures, err := selectedMeasures(tracker, cfg)
	if err != nil {
		return err
	}
	results, err := tracker.FetchInfo(context.Background(), measures)
	if err != nil {
		return err
	}
	return printResults(os.Stdout, results)
}

func printResults(w io.Writer, results model.Results) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, m := range results.Measures() {
		e := results[m]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m, e.Type, e.Value)
	}
	return tw.Flush()
}

// ---------------------------------------------------------------------------
// run: track one child command
// ---------------------------------------------------------------------------

func cmdRun(args []string) (int, error) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	exportPath := fs.String("export", "", "write results to this ir_metadata file")
	format := fs.String("format", "guess", "export format (guess or ir_metadata)")
	title := fs.String("title", "", "run title recorded with the results")
	description := fs.String("description", "", "run description recorded with the results")
	noHistory := fs.Bool("no-history", false, "do not record the run in the history database")

	cfg, tracker, flush, err := setup(fs, args)
	if err != nil {
		return 2, err
	}
	defer flush()

	argv := fs.Args()
	if len(argv) == 0 {
		return 2, fmt.Errorf("%w: no command given (use run [flags] -- cmd args...)", model.ErrInvalidArgument)
	}
	exportFormat, err := tirextracker.ParseFormat(*format)
	if err != nil {
		return 2, err
	}
	measures, err := selectedMeasures(tracker, cfg)
	if err != nil {
		return 2, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startedAt := time.Now()
	exitCode := 0
	results, err := tracker.Track(ctx, measures, cfg.PollInterval(), func() error {
		child := exec.CommandContext(ctx, argv[0], argv[1:]...)
		child.Stdin, child.Stdout, child.Stderr = os.Stdin, os.Stdout, os.Stderr
		runErr := child.Run()
		exitCode = exitCodeOf(runErr)
		return runErr
	})
	stoppedAt := time.Now()
	if results == nil {
		return 1, err
	}
	if err != nil {
		logging.Warnf("run", "%s: %v", argv[0], err)
	}

	fmt.Fprintln(os.Stderr)
	printResults(os.Stderr, results)

	if *exportPath != "" {
		opts := tirextracker.ExportOptions{
			Title:       *title,
			Description: *description,
			Path:        *exportPath,
			Format:      exportFormat,
		}
		if err := tracker.Export(context.Background(), results, measures, startedAt, opts); err != nil {
			fmt.Fprintf(os.Stderr, "export: %v\n", err)
			*exportPath = ""
		}
	}

	if !*noHistory {
		recordRun(cfg.DBPath, model.RunRecord{
			Title:       *title,
			Description: *description,
			Command:     strings.Join(argv, " "),
			ExitCode:    exitCode,
			StartedAt:   startedAt,
			StoppedAt:   stoppedAt,
			ExportPath:  *exportPath,
			Results:     results,
		})
	}
	return exitCode, nil
}

// exitCodeOf maps the error of exec.Cmd.Run to a process exit status.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return 128 + int(syscall.SIGKILL) // killed by a signal
	}
	return 127
}

func recordRun(dbPath string, rec model.RunRecord) {
	db, err := store.New(dbPath)
	if err != nil {
		logging.Warnf("store", "history disabled: %v", err)
		return
	}
	defer db.Close()
	id, err := db.InsertRun(context.Background(), rec)
	if err != nil {
		logging.Warnf("store", "record run: %v", err)
		return
	}
	logging.Infof("store", "recorded run %s", id)
}

// ---------------------------------------------------------------------------
// serve: HTTP API
// ---------------------------------------------------------------------------

func cmdServe(args []string) error {
	hub := api.NewHub()
	cfg, tracker, flush, err := setup(pflag.NewFlagSet("serve", pflag.ContinueOnError), args, session.WithObserver(hub.Publish))
	if err != nil {
		return err
	}
	defer flush()

	db, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	if cfg.Retention() > 0 {
		go runRetentionPurge(ctx, db, cfg.Retention())
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.NewRouter(tracker, db, hub),
	}

	errc := make(chan error, 1)
	go func() {
		logging.Infof("serve", "tirex-tracker %s listening on http://%s", version, cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// Wait for signal or listener failure
	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	logging.Infof("serve", "shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv.Shutdown(shutCtx)
	tracker.Sessions().StopAll(shutCtx)
	logging.Infof("serve", "goodbye")
	return nil
}

func runRetentionPurge(ctx context.Context, db *store.Store, retention time.Duration) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.PurgeBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				logging.Errorf("purge", "error: %v", err)
			} else if n > 0 {
				logging.Infof("purge", "removed %d old runs", n)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// history
// ---------------------------------------------------------------------------

func cmdHistory(args []string) error {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of runs to list")
	show := fs.String("show", "", "print the results of the run with this id")

	cfg, _, flush, err := setup(fs, args)
	if err != nil {
		return err
	}
	defer flush()

	db, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if *show != "" {
		run, err := db.GetRun(ctx, *show)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s  exit %d  %s\n", run.ID, run.StartedAt.Format(time.RFC3339), run.ExitCode, run.Command)
		return printResults(os.Stdout, run.Results)
	}

	runs, err := db.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tEXIT\tTITLE\tCOMMAND")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.StoppedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.ExitCode, r.Title, r.Command)
	}
	return tw.Flush()
}
