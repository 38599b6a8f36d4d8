package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	resilience "github.com/JohnPlummer/jp-go-guard"
	"github.com/JohnPlummer/jp-go-guard/internal/simulate"
	"github.com/JohnPlummer/jp-go-guard/observe"
)

var (
	dependency  string
	calls       int
	failFirst   int
	concurrency int
	pause       time.Duration
)

var simulateCommand = &cobra.Command{
	Use:     "simulate",
	GroupID: "guard",
	Short:   "Drive a flaky dependency through a named breaker",
	Long: `Runs --calls guarded calls against a dependency whose first --fail-first
invocations fail as unavailable. Each call retries under the configured retry
policy inside the named breaker, exactly as production call sites do.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(headerStyle.Render("guardsim - Simulation"))

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.LogLevel).With("dependency", dependency)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
			defer cancel()
			logger.Debug("Global simulation timeout configured", "timeout_seconds", timeout)
		}

		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = provider.Shutdown(context.Background()) }()

		metrics, err := observe.NewMetrics(provider.Meter("guardsim"))
		if err != nil {
			return fmt.Errorf("metrics initialization failed: %w", err)
		}
		opts := append([]resilience.Option{resilience.WithLogger(logger)}, metrics.Options()...)

		registry, err := cfg.BuildRegistry(opts...)
		if err != nil {
			return fmt.Errorf("registry initialization failed: %w", err)
		}

		logger.Info("Starting simulation",
			"calls", calls,
			"fail_first", failFirst,
			"concurrency", concurrency,
			"max_attempts", cfg.Retry.MaxAttempts)

		report, runErr := simulate.Run(ctx, registry, simulate.Options{
			Dependency:  dependency,
			Calls:       calls,
			FailFirst:   failFirst,
			Concurrency: concurrency,
			Pause:       pause,
			Retry:       cfg.Retry,
		}, opts...)
		if runErr != nil && report.Dependency == "" {
			return runErr
		}

		counters, err := simulate.CollectCounters(context.Background(), reader)
		if err != nil {
			logger.Warn("Metric collection failed", "error", err)
		}

		printReport(report, counters)
		return runErr
	},
}

func printReport(report simulate.Report, counters map[string]int64) {
	fmt.Println(row(labelStyle, "calls", "invocations", "state", "failures"))
	fmt.Println(row(columnStyle, strconv.Itoa(report.Calls), strconv.FormatInt(report.Invocations, 10)) +
		stateStyle(report.Health.Healthy).Render(report.Health.Status) +
		columnStyle.Render(strconv.Itoa(report.Health.ConsecutiveFailures)))
	fmt.Println()

	fmt.Println(row(labelStyle, "outcome", "count"))
	outcomes := make([]string, 0, len(report.Outcomes))
	for o := range report.Outcomes {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Println(row(columnStyle, o, strconv.Itoa(report.Outcomes[o])))
	}

	if len(counters) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(row(labelStyle, "metric", "total"))
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(row(columnStyle, name, strconv.FormatInt(counters[name], 10)))
	}
}

func init() {
	simulateCommand.Flags().StringVar(&dependency, "dependency", resilience.DependencyLLM, "Name of the breaker guarding the calls")
	simulateCommand.Flags().IntVar(&calls, "calls", 10, "Number of guarded calls")
	simulateCommand.Flags().IntVar(&failFirst, "fail-first", 12, "Number of dependency invocations that fail")
	simulateCommand.Flags().IntVar(&concurrency, "concurrency", 1, "Guarded calls in flight")
	simulateCommand.Flags().DurationVar(&pause, "pause", 0, "Pause between call launches")
	rootCommand.AddCommand(simulateCommand)
}
