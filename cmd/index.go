package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect or rebuild the retrieval index",
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show partition sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		years := env.Index.Years()
		if len(years) == 0 {
			fmt.Println("index is empty")
			return nil
		}
		for _, year := range years {
			label := fmt.Sprintf("%d", year)
			if year == 0 {
				label = "unknown"
			}
			fmt.Printf("%-8s %d chunks\n", label, env.Index.Size(year))
		}
		fmt.Printf("total    %d chunks\n", env.Index.TotalSize())
		return nil
	},
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-chunk every cataloged document and rewrite the partitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Drop the loaded partitions first so the rebuilt index reflects
		// only the current catalog.
		if err := env.Index.Reset(ctx); err != nil {
			return err
		}

		docs, err := env.Catalog.Documents(ctx)
		if err != nil {
			return err
		}

		indexed := 0
		for _, doc := range docs {
			chunks, err := env.Chunks.EnsureChunks(ctx, doc.ContentHash)
			if err != nil {
				zap.L().Warn("index rebuild: document skipped",
					zap.String("content_hash", doc.ContentHash),
					zap.Error(err),
				)
				continue
			}
			indexed += env.Index.Add(chunks)
		}

		if err := env.Index.Save(ctx); err != nil {
			return err
		}
		fmt.Printf("indexed %d chunks from %d documents\n", indexed, len(docs))
		return nil
	},
}

func init() {
	indexCmd.AddCommand(indexStatusCmd, indexRebuildCmd)
	rootCmd.AddCommand(indexCmd)
}
