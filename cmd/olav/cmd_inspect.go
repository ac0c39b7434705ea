package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/olavhq/olav/internal/inspection"
	"github.com/olavhq/olav/internal/metrics"
)

var (
	inspectParams  []string
	inspectDryRun  bool
	inspectPersist bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <skill-id> <selector>",
	Short: "run a skill's Map/Reduce inspection over a device selector and print the rendered report",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		params := map[string]any{}
		for _, kv := range inspectParams {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid --param %q, expected key=value", kv)
			}
			params[k] = v
		}

		ctx := context.Background()
		plan, err := a.orchestrator.Prepare(ctx, inspection.PlanRequest{
			SkillID:    args[0],
			Selector:   args[1],
			Parameters: params,
			DryRun:     inspectDryRun,
		})
		if err != nil {
			return err
		}
		for _, missing := range plan.Missing {
			fmt.Printf("warning: %s not found in inventory\n", missing)
		}
		if inspectDryRun {
			fmt.Printf("dry run: %d device(s) would be inspected\n", plan.EstimatedDeviceCount)
			return nil
		}

		report, err := a.orchestrator.Run(ctx, plan, inspection.RunOptions{Persist: inspectPersist})
		if err != nil {
			return err
		}
		metrics.RecordInspectionRun(string(dominantTier(report.Aggregate.CountsByTier)), report.FinishedAt.Sub(report.StartedAt))
		fmt.Println(report.Markdown)
		return nil
	},
}

// dominantTier picks the worst tier present in a report's per-device counts,
// so a single run gets a single metrics label -- FAIL outranks WARNING,
// which outranks PASS, which outranks SKIPPED.
func dominantTier(counts map[inspection.Tier]int) inspection.Tier {
	for _, t := range []inspection.Tier{inspection.TierFail, inspection.TierWarning, inspection.TierPass, inspection.TierSkipped} {
		if counts[t] > 0 {
			return t
		}
	}
	return inspection.TierSkipped
}

func init() {
	inspectCmd.Flags().StringArrayVar(&inspectParams, "param", nil, "skill parameter as key=value (repeatable)")
	inspectCmd.Flags().BoolVar(&inspectDryRun, "dry-run", false, "only resolve the device set and print its size")
	inspectCmd.Flags().BoolVar(&inspectPersist, "persist", false, "write the report to the knowledge store and auto-embed it")
}
