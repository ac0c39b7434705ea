package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olavhq/olav/internal/knowledge"
)

var (
	searchCategory string
	searchPlatform string
	searchTags     []string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "hybrid lexical/vector search over the knowledge store (spec §4.4.3 search_knowledge)",
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

		hits, err := a.index.Search(args[0], knowledge.SearchFilters{
			Category: knowledge.DocumentType(searchCategory),
			Platform: searchPlatform,
			Tags:     searchTags,
		})
		if err != nil {
			return err
		}
		for _, h := range hits {
			fmt.Printf("%.3f  %-40s %s\n", h.Score, h.Path, h.Snippet)
		}
		return nil
	},
}

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "read, write, and maintain documents in the knowledge store",
}

var knowledgeReadCmd = &cobra.Command{
	Use:   "read <path>",
	Short: "read one document (spec §4.4.2 read)",
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

		doc, err := a.store.Read(args[0])
		if err != nil {
			return err
		}
		fmt.Println(doc.Body)
		return nil
	},
}

var knowledgeWriteCmd = &cobra.Command{
	Use:   "write <path> <content>",
	Short: "write one document, operator-authorized (spec §4.4.2 write; §4.4.1 administrative origin)",
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

		return a.store.Write(args[0], args[1], knowledge.OriginAdministrative, true)
	},
}

var (
	solutionTitle string
	solutionTags  []string
)

var knowledgeSaveSolutionCmd = &cobra.Command{
	Use:   "save-solution <problem> <process> <root-cause> <fix>",
	Short: "save an episodic-memory solution document (spec §4.4.2 save_solution)",
	Args:  cobra.ExactArgs(4),
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

		sol, err := a.store.SaveSolution(knowledge.Solution{
			Title:     solutionTitle,
			Problem:   args[0],
			Process:   args[1],
			RootCause: args[2],
			Fix:       args[3],
			Tags:      solutionTags,
		}, knowledge.OriginAdministrative, true)
		if err != nil {
			return err
		}
		fmt.Println(sol.Path)
		return nil
	},
}

var (
	aliasType     string
	aliasPlatform string
	aliasNotes    string
)

var knowledgeAliasCmd = &cobra.Command{
	Use:   "alias <alias> <value>",
	Short: "add or replace a row in the aliases table (spec §4.4.2 update_alias)",
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

		return a.store.UpdateAlias(knowledge.Alias{
			Alias:    args[0],
			Value:    args[1],
			Type:     knowledge.AliasType(aliasType),
			Platform: aliasPlatform,
			Notes:    aliasNotes,
		}, knowledge.OriginAdministrative, true)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "filter by document type (skill|solution|alias|note)")
	searchCmd.Flags().StringVar(&searchPlatform, "platform", "", "filter by platform")
	searchCmd.Flags().StringSliceVar(&searchTags, "tags", nil, "filter by tags")

	knowledgeSaveSolutionCmd.Flags().StringVar(&solutionTitle, "title", "", "solution title, slugified for the file name")
	knowledgeSaveSolutionCmd.Flags().StringSliceVar(&solutionTags, "tags", nil, "solution tags")
	knowledgeSaveSolutionCmd.MarkFlagRequired("title")

	knowledgeAliasCmd.Flags().StringVar(&aliasType, "type", string(knowledge.AliasOther), "alias type (device|group|other)")
	knowledgeAliasCmd.Flags().StringVar(&aliasPlatform, "platform", "", "platform this alias applies to")
	knowledgeAliasCmd.Flags().StringVar(&aliasNotes, "notes", "", "free-form notes")

	knowledgeCmd.AddCommand(knowledgeReadCmd, knowledgeWriteCmd, knowledgeSaveSolutionCmd, knowledgeAliasCmd)
}
