package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmplab/dmpgen/internal/app"
	"github.com/dmplab/dmpgen/internal/corpus"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the vector index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the vector index from the chunk corpus",
	Long: `Build embeds every chunk in the configured chunks directory and persists
the index artifacts. An existing valid index is reused unless --force is
given; a corrupt index is reported, never silently rebuilt.`,
	RunE: runIndexBuild,
}

func init() {
	indexBuildCmd.Flags().BoolVar(&indexForce, "force", false, "re-embed even when a valid index exists")
	indexCmd.AddCommand(indexBuildCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}

	a, err := app.Setup(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	store := corpus.NewStore(cfg.ChunksDir)
	handle, err := a.Index.LoadOrBuild(cmd.Context(), store.Load, indexForce)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Index ready: %d chunk(s), %d dimensions, model %s\n  Directory: %s\n",
		handle.Len(), handle.Dimension(), handle.EmbedderModel(), cfg.IndexDir)
	return nil
}
