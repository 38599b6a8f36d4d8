package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	resilience "github.com/JohnPlummer/jp-go-guard"
)

var breakersCommand = &cobra.Command{
	Use:     "breakers",
	GroupID: "guard",
	Short:   "List the configured breakers and retry policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(headerStyle.Render("guardsim - Breakers"))

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		configs := cfg.BreakerConfigs()
		registry, err := cfg.BuildRegistry(resilience.WithLogger(setupLogger(cfg.LogLevel)))
		if err != nil {
			return err
		}

		fmt.Println(row(labelStyle, "breaker", "strategy", "threshold", "recovery", "state"))
		for _, s := range registry.Snapshots() {
			c := configs[s.Name]
			strategy := c.Strategy
			if strategy == "" {
				strategy = resilience.StrategyConsecutive
			}
			threshold := strconv.Itoa(c.FailureThreshold)
			if strategy == resilience.StrategyRatio {
				threshold = strconv.FormatFloat(c.FailureRatio, 'f', 2, 64)
			}
			health := resilience.NewHealthStatus(s)
			fmt.Println(row(columnStyle, s.Name, string(strategy), threshold, c.RecoveryTimeout.String()) +
				stateStyle(health.Healthy).Render(health.Status))
		}

		p := cfg.Retry
		kinds := make([]string, len(p.RetryableKinds))
		for i, k := range p.RetryableKinds {
			kinds[i] = string(k)
		}
		fmt.Println()
		fmt.Println(row(labelStyle, "max attempts", "min wait", "max wait", "jitter"))
		fmt.Println(row(columnStyle, strconv.Itoa(p.MaxAttempts), p.MinWait.String(), p.MaxWait.String(), strconv.FormatBool(p.Jitter)))
		fmt.Println("retryable kinds: " + strings.Join(kinds, ", "))
		return nil
	},
}

func init() {
	rootCommand.AddCommand(breakersCommand)
}
