package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"kpicompare/internal/config"
	"kpicompare/internal/files"
	"kpicompare/internal/infrastructure"
	"kpicompare/internal/operations"
	"kpicompare/internal/services"
	"kpicompare/internal/validation"
	"kpicompare/pkg/contracts"
	"kpicompare/pkg/contracts/domain"
)

type options struct {
	before      string
	after       string
	archive     string
	beforeStart string
	afterStart  string
	out         string
	configFile  string
	logLevel    string
	version     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("kpicompare", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.before, "before", "", "directory holding the BEFORE node logs")
	fs.StringVar(&opts.after, "after", "", "directory holding the AFTER node logs")
	fs.StringVar(&opts.archive, "zip", "", "zip archive with Before/ and After/ folders (instead of -before/-after)")
	fs.StringVar(&opts.beforeStart, "before-start", "", "first BEFORE datetime to keep, or NO_START (defaults to config)")
	fs.StringVar(&opts.afterStart, "after-start", "", "first AFTER datetime to keep, or NO_START (defaults to config)")
	fs.StringVar(&opts.out, "out", "", "workbook path (defaults to the reports directory)")
	fs.StringVar(&opts.configFile, "config", "", "YAML config file")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (defaults to config)")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.version {
		return opts, nil
	}

	switch {
	case opts.archive != "" && (opts.before != "" || opts.after != ""):
		return opts, errors.New("use either -zip or -before/-after, not both")
	case opts.archive == "" && (opts.before == "" || opts.after == ""):
		return opts, errors.New("both -before and -after are required unless -zip is given")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "kpicompare:", err)
		return 2
	}
	if opts.version {
		fmt.Fprintln(stdout, contracts.GetFullVersionString(config.AppName))
		return 0
	}

	var cfg *config.Config
	if opts.configFile != "" {
		cfg, err = config.LoadFrom(opts.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintln(stderr, "kpicompare: failed to load configuration:", err)
		return 1
	}

	level := cfg.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger := infrastructure.NewLogger(stderr, level)

	if err := compare(ctx, cfg, opts, stdout, logger); err != nil {
		logger.Error("Comparison failed", slog.String("error", err.Error()))
		fmt.Fprintln(stderr, "kpicompare:", err)
		return 1
	}
	return 0
}

func compare(ctx context.Context, cfg *config.Config, opts options, stdout io.Writer, logger *slog.Logger) error {
	paths, err := config.ResolvePaths(cfg.Paths)
	if err != nil {
		return err
	}

	validator := validation.NewFileValidator(logger)
	if opts.archive != "" {
		err = validator.ValidateArchive(opts.archive)
	} else {
		for _, dir := range []string{opts.before, opts.after} {
			if _, err = validator.ValidateSnapshotDirectory(dir, cfg.Pipeline.LogExtension); err != nil {
				break
			}
		}
	}
	if err != nil {
		return err
	}

	fm := files.NewManager(paths.WorkDir, cfg.Pipeline.MaxExtractedBytes, logger)
	svc := services.NewComparisonService(cfg.Pipeline, fm, operations.NewMemoryRunStore(1), nil, nil, logger)
	defer func() { _ = svc.Shutdown(context.Background()) }()

	req := services.CompareRequest{
		BeforeDir:   opts.before,
		AfterDir:    opts.after,
		BeforeStart: opts.beforeStart,
		AfterStart:  opts.afterStart,
		Source:      opts.before + " | " + opts.after,
	}

	if opts.archive != "" {
		workspace, err := fm.CreateWorkspace("cli")
		if err != nil {
			return err
		}
		defer fm.RemoveWorkspace(workspace)

		if err := fm.ExtractZipFile(ctx, opts.archive, workspace); err != nil {
			return err
		}
		if req.BeforeDir, req.AfterDir, err = fm.SnapshotDirs(workspace); err != nil {
			return err
		}
		req.Source = filepath.Base(opts.archive)
	}

	logger.Info("Comparison started",
		slog.String("before", req.BeforeDir),
		slog.String("after", req.AfterDir))

	result, err := svc.Compare(ctx, req)
	if err != nil {
		return err
	}

	out := opts.out
	if out == "" {
		if err := paths.EnsureDirectories(); err != nil {
			return err
		}
		out = paths.GetRunReportPath(result.ID, time.Now())
	} else if err := validator.ValidateOutputDirectory(filepath.Dir(out)); err != nil {
		return err
	}

	if err := svc.SaveWorkbook(ctx, result.ID, out); err != nil {
		return err
	}

	printSummary(stdout, result, out)
	return nil
}

func printSummary(w io.Writer, run *domain.Run, out string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FAMILY\tCOMPARABLE\tDATETIMES\tCOUNTERS\tNODES\tBEFORE ROWS\tAFTER ROWS")
	for _, name := range run.FamilyNames() {
		r := run.Families[name]
		fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%d\t%d\t%d\n",
			name, r.Comparable, len(r.Datetimes), len(r.Counters), len(r.NodeNames), r.Before.Len(), r.After.Len())
	}
	_ = tw.Flush()

	for _, warning := range run.Warnings {
		fmt.Fprintln(w, "warning:", warning)
	}
	fmt.Fprintf(w, "workbook written to %s (%s)\n", out, run.Duration.Round(time.Millisecond))
}
