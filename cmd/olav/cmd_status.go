package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olavhq/olav/internal/capability"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "re-read capability files and skill documents from the agent directory",
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

		stats, err := a.registry.Reload()
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("%-10s %-16s %d capabilities\n", s.Kind, s.Platform, s.Count)
		}
		if err := a.catalog.ReloadSkills(); err != nil {
			return err
		}
		if errs := a.catalog.Errors(); len(errs) > 0 {
			for path, err := range errs {
				fmt.Printf("skill error: %s: %v\n", path, err)
			}
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print component descriptors and process health as JSON",
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

		sp := newStatusProvider(a)
		out := struct {
			Descriptors any `json:"descriptors"`
			Health      any `json:"health"`
		}{Descriptors: sp.Descriptors(), Health: sp.Health()}

		encoded, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	},
}

var (
	capSearchKind     string
	capSearchPlatform string
	capSearchLimit    int
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities <query>",
	Short: "search the capability registry (spec §4.1 search_capabilities)",
	Args:  cobra.ExactArgs(1),
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

		kind := capability.Kind(capSearchKind)
		results := a.registry.Search(args[0], kind, capSearchPlatform, capSearchLimit)
		for _, c := range results {
			write := ""
			if c.IsWrite {
				write = " (write)"
			}
			fmt.Printf("%-8s %-16s %-40s%s -- %s\n", c.Kind, c.Platform, c.Pattern, write, c.Description)
		}
		return nil
	},
}

func init() {
	capabilitiesCmd.Flags().StringVar(&capSearchKind, "kind", "", "filter by kind (command|api)")
	capabilitiesCmd.Flags().StringVar(&capSearchPlatform, "platform", "", "filter by platform")
	capabilitiesCmd.Flags().IntVar(&capSearchLimit, "limit", 20, "maximum results")
}
