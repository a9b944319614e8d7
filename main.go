// phpunit-meta derives the metadata of a PHPUnit test suite from its
// annotations and prints it as a TOON plan.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sharom/phpunit/internal/config"
	"github.com/Sharom/phpunit/internal/coverage"
	"github.com/Sharom/phpunit/internal/discover"
	"github.com/Sharom/phpunit/internal/engine"
	"github.com/Sharom/phpunit/internal/environment"
	"github.com/Sharom/phpunit/internal/graph"
	"github.com/Sharom/phpunit/internal/lang"
	"github.com/Sharom/phpunit/internal/metadata"
	"github.com/Sharom/phpunit/internal/model"
	"github.com/Sharom/phpunit/internal/parse"
	"github.com/Sharom/phpunit/internal/selection"
	"github.com/Sharom/phpunit/internal/symtab"
	"github.com/Sharom/phpunit/internal/toon"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

type planOptions struct {
	configPath    string
	coverage      string
	groups        []string
	excludeGroups []string
	filter        string
	listGroups    bool
	verbose       bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts planOptions
	root := &cobra.Command{
		Use:   "phpunit-meta [path]",
		Short: "Derive PHPUnit test metadata from annotations",
		Long: `phpunit-meta scans the PHP sources under path (default: the current
directory), discovers the tests and prints their groups, sizes, dependencies,
unmet requirements, lifecycle hooks and coverage targets in TOON format.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), args, opts, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("phpunit-meta {{.Version}}\n")
	addPlanFlags(root, &opts)

	root.AddCommand(newPlanCmd(stdout, stderr))
	root.AddCommand(newInitCmd(stdout, stderr))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(stdout, "phpunit-meta %s\n", version)
		},
	})
	return root
}

func newPlanCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts planOptions
	cmd := &cobra.Command{
		Use:   "plan [path]",
		Short: "Print the test plan (default command)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), args, opts, stdout, stderr)
		},
	}
	addPlanFlags(cmd, &opts)
	return cmd
}

func addPlanFlags(cmd *cobra.Command, opts *planOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "config file layered over the user and project config")
	f.StringVar(&opts.coverage, "coverage", "", "annotation family to resolve: covers or uses")
	f.StringSliceVar(&opts.groups, "group", nil, "only include tests from these groups")
	f.StringSliceVar(&opts.excludeGroups, "exclude-group", nil, "exclude tests from these groups")
	f.StringVar(&opts.filter, "filter", "", "only include tests whose Class::method matches this pattern")
	f.BoolVar(&opts.listGroups, "list-groups", false, "list the groups of the selected tests and exit")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func runPlan(ctx context.Context, args []string, opts planOptions, stdout, stderr io.Writer) error {
	logger := newLogger(stderr, opts.verbose)

	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}

	cfg, err := config.NewLoader(logger).Load(root, opts.configPath)
	if err != nil {
		return err
	}
	if opts.coverage != "" {
		cfg.Coverage = opts.coverage
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	env, err := loadEnvironment(ctx, cfg, logger)
	if err != nil {
		return err
	}

	files, err := discover.Files(root, cfg.Filter())
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	files = filterBySize(root, files, cfg.MaxFileSize, logger)
	if len(files) == 0 {
		return fmt.Errorf("no parseable files found")
	}

	fileInfos, err := parseFiles(ctx, root, files, logger)
	if err != nil {
		return err
	}
	symbols := symtab.Build(fileInfos)
	logger.Debug("built symbol table", slog.String("table", symbols.String()))

	reg := prometheus.NewRegistry()
	eng := engine.New(symbols, env,
		engine.WithBaseTypes(cfg.BaseTypes),
		engine.WithLogger(logger),
		engine.WithMetrics(metadata.NewMetrics(reg)),
	)

	plan, err := eng.Plan(filepath.Base(root), coverage.Mode(cfg.Coverage))
	if err != nil {
		return err
	}
	logDangling(plan.Tests, logger)
	plan.Tests = graph.Order(plan.Tests)

	plan, err = selection.Select(plan, selection.Criteria{
		Groups:        opts.groups,
		ExcludeGroups: opts.excludeGroups,
		Filter:        opts.filter,
	})
	if err != nil {
		return err
	}
	logger.Debug("annotation cache", slog.Int("entries", eng.Cache().Len()))
	logMetrics(reg, logger)

	if opts.listGroups {
		for _, g := range selection.Groups(plan) {
			_, _ = fmt.Fprintln(stdout, g)
		}
		return nil
	}
	_, _ = fmt.Fprintln(stdout, toon.Encode(plan))
	return nil
}

// loadEnvironment layers the configured environment over the probed one
// when a php binary is configured, and over the defaults otherwise.
func loadEnvironment(ctx context.Context, cfg *config.Config, logger *slog.Logger) (environment.Environment, error) {
	if cfg.Probe == "" {
		return environment.Layer(cfg.Environment), nil
	}
	probed, err := environment.Probe(ctx, cfg.Probe)
	if err != nil {
		return environment.Environment{}, fmt.Errorf("probing environment: %w", err)
	}
	logger.Debug("probed environment",
		slog.String("php", cfg.Probe),
		slog.String("version", probed.RuntimeVersion),
		slog.String("os", probed.OS))
	return environment.Layer(probed, cfg.Environment), nil
}

func filterBySize(root string, files []discover.FileEntry, maxSize int, logger *slog.Logger) []discover.FileEntry {
	var kept []discover.FileEntry
	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, f.Path))
		if err != nil {
			kept = append(kept, f) // keep if can't stat
			continue
		}
		if fi.Size() > int64(maxSize) {
			logger.Warn("skipped large file", slog.String("path", f.Path), slog.Int("max_bytes", maxSize))
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// parseFiles extracts the symbols of every file concurrently. Files that
// cannot be read or parsed are logged and skipped; the result keeps the
// input order.
func parseFiles(ctx context.Context, root string, files []discover.FileEntry, logger *slog.Logger) ([]model.FileInfo, error) {
	results := make([]*model.FileInfo, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			l, ok := lang.Languages[f.Language]
			if !ok {
				return nil
			}
			source, err := os.ReadFile(filepath.Join(root, f.Path))
			if err != nil {
				logger.Warn("failed to read file", slog.String("path", f.Path), slog.String("error", err.Error()))
				return nil
			}

			// Parsers are not safe for concurrent use.
			parser := l.NewParser()
			defer parser.Close()
			fi, err := parse.ExtractSymbols(ctx, parser, source, f.Path)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("failed to parse file", slog.String("path", f.Path), slog.String("error", err.Error()))
				return nil
			}
			results[i] = fi
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parsing files: %w", err)
	}

	var fileInfos []model.FileInfo
	for _, fi := range results {
		if fi != nil {
			fileInfos = append(fileInfos, *fi)
		}
	}
	if len(fileInfos) == 0 {
		return nil, fmt.Errorf("no files could be parsed")
	}
	return fileInfos, nil
}

func logDangling(tests []model.TestUnit, logger *slog.Logger) {
	_, dangling := graph.BuildEdges(tests)
	for _, e := range dangling {
		logger.Warn("test depends on unknown test",
			slog.String("test", e.Test), slog.String("depends", e.DependsOn))
	}
}

// logMetrics writes the gathered cache counters at debug level.
func logMetrics(reg *prometheus.Registry, logger *slog.Logger) {
	families, err := reg.Gather()
	if err != nil {
		logger.Debug("gathering metrics failed", slog.String("error", err.Error()))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			logger.Debug("metric",
				slog.String("name", mf.GetName()),
				slog.String("labels", strings.Join(labels, ",")),
				slog.Float64("value", m.GetCounter().GetValue()))
		}
	}
}
