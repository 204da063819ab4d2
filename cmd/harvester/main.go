package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/planharvest/go-planning-harvest/config"
	"github.com/planharvest/go-planning-harvest/harvest"
	"github.com/planharvest/go-planning-harvest/models"
	"github.com/planharvest/go-planning-harvest/pipeline"
	"github.com/planharvest/go-planning-harvest/portal"
)

var (
	cfgFile      string
	fromDate     string
	outputFile   string
	outputFormat string
	metricsAddr  string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Harvest planning application records from council portals",
	Long: `harvester collects planning application records from the council
portals listed in its configuration. Every portal is harvested
concurrently under its own rate limit; results are merged, de-duplicated,
and written to CSV or JSONL.

An interrupt (Ctrl-C) stops cleanly: pages already in flight finish,
partial output is kept, and the run is reported as incomplete.`,
	SilenceUsage: true,
	RunE:         runHarvest,
}

func init() {
	cobra.OnInitialize(initLogger)

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is ./config/harvester.yaml)")
	rootCmd.Flags().StringVar(&fromDate, "from", "", "harvest applications received since this date (YYYY-MM-DD); defaults to the configured window back from today")
	rootCmd.Flags().StringVar(&outputFile, "output", "", "output file path (overrides config)")
	rootCmd.Flags().StringVar(&outputFormat, "format", "", "output format: csv, json, or dual (overrides config)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address, e.g. :9090 (overrides config)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if outputFile != "" {
		cfg.OutputFile = outputFile
	}
	if outputFormat != "" {
		cfg.OutputFormat = strings.ToLower(outputFormat)
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	since, err := resolveSince(fromDate, cfg.Window)
	if err != nil {
		return err
	}

	metrics := harvest.NewMetrics()

	harvesters := make([]*harvest.Harvester, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		p, err := portal.New(src, cfg.UserAgent)
		if err != nil {
			return err
		}
		h, err := harvest.New(src, p, metrics)
		if err != nil {
			return err
		}
		harvesters = append(harvesters, h)
	}
	orch := harvest.NewOrchestrator(metrics, harvesters...)

	// An interrupt requests a cooperative stop rather than canceling the
	// run context: in-flight pages drain and partial output survives.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received, finishing in-flight pages")
		orch.Stop()
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	writer, err := pipeline.NewWriter(cfg)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	pipe, err := pipeline.NewPipeline(writer, cfg)
	if err != nil {
		return err
	}
	pipe.Start(len(cfg.Sources))
	if cfg.Verbose {
		pipe.StartProgressReporting(10 * time.Second)
	}

	slog.Info("starting harvest",
		slog.Int("sources", len(cfg.Sources)),
		slog.Time("since", since),
		slog.String("output", cfg.OutputFile),
	)

	report, err := orch.RunAll(context.Background(), since)
	if err != nil {
		return fmt.Errorf("harvest run: %w", err)
	}

	if err := pipe.Process(report.Records); err != nil && err != pipeline.ErrPipelineClosed {
		slog.Error("pipeline process error", slog.Any("error", err))
	}
	if err := pipe.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}

	counters := pipe.Stats()
	if counters.Written > 0 {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation: %w", err)
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(report, counters, cfg.OutputFile)

	if report.HasFailures() {
		return fmt.Errorf("%d source(s) failed", len(report.FailedSources))
	}
	if report.Incomplete {
		return fmt.Errorf("harvest interrupted before completion")
	}
	return nil
}

func resolveSince(from string, window time.Duration) (time.Time, error) {
	if from == "" {
		return time.Now().Add(-window), nil
	}
	since, err := time.Parse("2006-01-02", from)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --from date %q: use YYYY-MM-DD", from)
	}
	return since, nil
}

func printSummary(report *models.Report, counters pipeline.Counters, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Harvest complete")
	fmt.Printf("  Sources:       %d ok, %d failed\n", len(report.Sources), len(report.FailedSources))
	fmt.Printf("  Pages:         %d succeeded, %d failed\n", report.Totals.PagesSucceeded, report.Totals.PagesFailed)
	fmt.Printf("  Records:       %d harvested, %d written\n", report.Totals.Records, counters.Written)
	fmt.Printf("  Retries:       %d\n", report.Totals.Retries)
	if len(counters.Dropped) > 0 {
		fmt.Printf("  Dropped:       %v\n", counters.Dropped)
	}
	for _, failure := range report.FailedSources {
		fmt.Printf("  Failed source: %s (%s)\n", failure.Source, failure.Reason)
	}
	if report.Incomplete {
		fmt.Println("  Status:        interrupted, output is partial")
	}
	fmt.Printf("  Duration:      %v\n", report.Duration)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func initLogger() {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
