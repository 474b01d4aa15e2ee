package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/radresearch/caseagent/internal/metrics"
	"github.com/radresearch/caseagent/pkg/bench"
	"github.com/radresearch/caseagent/pkg/skills"
)

var (
	benchCSV        string
	benchLimit      int
	benchModelType  string
	benchWorkers    int
	benchOutputDir  string
	benchResultsCSV string
	benchSchedule   string
	benchSkills     []string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the multiple-choice diagnosis benchmark",
	Long: `Run the multiple-choice diagnosis benchmark: one fresh agent per case,
scored against the ground-truth answers in the cases CSV. Each run writes a
timestamped JSON report, optionally appends per-case CSV rows as cases
finish, and can repeat on a cron schedule.`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringVar(&benchCSV, "csv", "", "benchmark cases CSV (default is the search cases_csv)")
	benchCmd.Flags().IntVarP(&benchLimit, "limit", "n", 5, "number of cases to run (0 runs all)")
	benchCmd.Flags().StringVarP(&benchModelType, "model-type", "m", "", "model profile to benchmark")
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 1, "cases evaluated in parallel")
	benchCmd.Flags().StringVar(&benchOutputDir, "output-dir", "benchmark_results", "directory for JSON reports")
	benchCmd.Flags().StringVar(&benchResultsCSV, "results-csv", "", "CSV file receiving one row per finished case")
	benchCmd.Flags().StringVar(&benchSchedule, "schedule", "", "cron expression for recurring runs")
	benchCmd.Flags().StringArrayVar(&benchSkills, "skill", []string{"med-deepresearch"}, "skill loaded into each benchmark agent (repeatable)")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	profile, err := cfg.GetModelProfile(benchModelType)
	if err != nil {
		return err
	}

	csvPath := benchCSV
	if csvPath == "" {
		csvPath = cfg.Search.CasesCSV
	}

	m := metrics.NewMetrics()
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Listen, m, log.GetZerolog())
	}

	skillLoader := skills.NewLoader(cfg.Dirs.Skills)
	if benchSchedule != "" {
		// Scheduled benchmarks run for days; skill edits between runs
		// should take effect without a restart.
		watcher, err := skills.NewWatcher(skillLoader, log.GetZerolog())
		if err != nil {
			log.Warn().Err(err).Msg("Skills watcher unavailable")
		} else {
			defer watcher.Stop()
		}
	}

	images, closeImages := buildImageSource(cfg, log.GetZerolog())
	defer closeImages()

	runner := &bench.AgentRunner{
		Profile:     profile,
		Skills:      skillLoader,
		SkillNames:  benchSkills,
		Images:      images,
		SessionDir:  cfg.Dirs.Sessions,
		LogDir:      cfg.Dirs.Logs,
		MaxTurns:    cfg.Agent.MaxTurns,
		Temperature: cfg.Agent.Temperature,
		MaxTokens:   cfg.Agent.MaxTokens,
		BashTimeout: time.Duration(cfg.Agent.BashTimeout) * time.Second,
		Metrics:     m,
		Logger:      log.GetZerolog(),
	}

	b, err := bench.New(bench.Options{
		Runner:  runner,
		Workers: benchWorkers,
		Metrics: m,
		Logger:  log.GetZerolog(),
	})
	if err != nil {
		return err
	}

	params := bench.RunParams{
		CSVPath:    csvPath,
		Limit:      benchLimit,
		Model:      profile.ModelID,
		ResultsCSV: benchResultsCSV,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if benchSchedule == "" {
		report, err := b.Run(ctx, params)
		if err != nil {
			return err
		}
		return printBenchReport(cmd, report)
	}

	sched, err := bench.NewScheduler(benchSchedule, func(ctx context.Context) {
		report, err := b.Run(ctx, params)
		if err != nil {
			log.Error().Err(err).Msg("Scheduled benchmark run failed")
			return
		}
		if err := printBenchReport(cmd, report); err != nil {
			log.Error().Err(err).Msg("Failed to write benchmark report")
		}
	}, log.GetZerolog())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Next benchmark run at %s\n", sched.NextRun(time.Now()).Format(time.RFC3339))
	sched.Start(ctx)
	return nil
}

func printBenchReport(cmd *cobra.Command, report *bench.Report) error {
	path, err := report.Write(benchOutputDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Benchmark complete: %d/%d correct (%.1f%%)\n", report.Correct, report.TotalCases, 100*report.Accuracy)
	fmt.Fprintf(out, "Results saved to: %s\n", path)
	return nil
}
