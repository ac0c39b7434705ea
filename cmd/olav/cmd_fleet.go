package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/olavhq/olav/internal/fleet"
)

var (
	execAPI      bool
	execMethod   string
	execPath     string
	execBody     string
	execParse    bool
	execFallback bool
	execPlatform string
	execTimeout  time.Duration
)

var executeCmd = &cobra.Command{
	Use:   "execute <selector> [command text...]",
	Short: "resolve a device selector and execute a command or API call against every match",
	Args:  cobra.MinimumNArgs(1),
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

		selector := args[0]
		op := fleet.Operation{Kind: fleet.KindCommand, Text: strings.Join(args[1:], " ")}
		if execAPI {
			op = fleet.Operation{Kind: fleet.KindAPI, Method: execMethod, Path: execPath, Body: execBody}
		}

		ctx := context.Background()
		resolved, err := a.engine.Resolve(ctx, selector)
		if err != nil {
			return err
		}
		for _, missing := range resolved.Missing {
			fmt.Printf("warning: %s not found in inventory\n", missing)
		}

		opts := fleet.ExecuteOptions{Parse: execParse, Fallback: execFallback, PlatformOverride: execPlatform, Timeout: execTimeout}
		for _, device := range resolved.Resolved {
			result, err := a.executeWithApproval(ctx, device, op, opts)
			if err != nil {
				fmt.Printf("%s: error: %v\n", device.Name, err)
				continue
			}
			printExecutionResult(device.Name, result)
		}
		return nil
	},
}

func printExecutionResult(device string, result *fleet.ExecutionResult) {
	if !result.Success {
		fmt.Printf("%s: failed (%s): %s\n", device, result.ErrorKind, result.ErrorMessage)
		return
	}
	if result.Structured {
		fmt.Printf("%s: %d rows (tokens %d -> %d, saved %d)\n", device, len(result.Parsed), result.TokensRaw, result.TokensParsed, result.TokensSaved)
		for _, row := range result.Parsed {
			fmt.Printf("  %v\n", row)
		}
		return
	}
	fmt.Printf("%s:\n%s\n", device, result.Raw)
}

var devicesFilter string

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "list inventory devices, optionally filtered by the same selector grammar as execute",
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

		devices, err := a.engine.ListDevices(context.Background(), devicesFilter)
		if err != nil {
			return err
		}
		for _, d := range devices {
			fmt.Printf("%-20s %-16s %-12s groups=%s\n", d.Name, d.Address, d.Platform, strings.Join(d.Groups, ","))
		}
		return nil
	},
}

func init() {
	executeCmd.Flags().BoolVar(&execAPI, "api", false, "issue an API call instead of a CLI command")
	executeCmd.Flags().StringVar(&execMethod, "method", "GET", "HTTP method, with --api")
	executeCmd.Flags().StringVar(&execPath, "path", "", "URL path, with --api")
	executeCmd.Flags().StringVar(&execBody, "body", "", "request body, with --api")
	executeCmd.Flags().BoolVar(&execParse, "parse", false, "parse raw output with the configured template parser")
	executeCmd.Flags().BoolVar(&execFallback, "fallback", false, "on parse failure, return raw output unstructured instead of failing, with --parse")
	executeCmd.Flags().StringVar(&execPlatform, "platform", "", "override the device's inventory platform for capability matching")
	executeCmd.Flags().DurationVar(&execTimeout, "timeout", 0, "per-device timeout (0 uses the engine default)")

	devicesCmd.Flags().StringVar(&devicesFilter, "filter", "", "selector expression (name(s), \"all\", or group:/site:/role:/platform:<tag>)")
}
