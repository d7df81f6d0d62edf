package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the document catalog",
}

var catalogStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Catalog.Stats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("documents:     %d\n", stats.Documents)
		fmt.Printf("extracted:     %d\n", stats.Extracted)
		fmt.Printf("unextractable: %d\n", stats.Unextractable)
		fmt.Printf("pages:         %d\n", stats.Pages)
		fmt.Printf("llm cache:     %d\n", stats.LLMCache)
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogStatusCmd)
	rootCmd.AddCommand(catalogCmd)
}
