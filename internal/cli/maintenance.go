package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade the on-disk layout of a course",
	Long: `Move a course folder named by id to its title folder and import the legacy
JSON layout into the index database. Running it again is a no-op.`,
	RunE: runMigrate,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector index of a course",
	Long: `Drop and re-embed every chunk of a course, e.g. after switching the
embedding model.`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(migrateCmd, reindexCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := kb.UpgradeLayout(cmd.Context(), courseID)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if asJSON {
		return printJSON(report)
	}

	fmt.Printf("Course folder: %s\n", report.Folder)
	if report.RenamedFrom != "" {
		fmt.Printf("  Renamed from:       %s\n", report.RenamedFrom)
	}
	fmt.Printf("  Layout version:     %d -> %d\n", report.OldVersion, report.NewVersion)
	if report.ImportedDocuments > 0 || report.ImportedChunks > 0 {
		fmt.Printf("  Imported documents: %d\n", report.ImportedDocuments)
		fmt.Printf("  Imported chunks:    %d\n", report.ImportedChunks)
	}
	if !report.Changed() {
		fmt.Println("Nothing to migrate.")
	}
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()

	var started bool
	bar := newProgressBar(-1, "Embedding")
	err = kb.Reindex(cmd.Context(), courseID, func(done, total int) {
		if !started {
			bar.ChangeMax(total)
			started = true
		}
		bar.Set(done)
	})
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	bar.Finish()
	fmt.Println("Reindex complete.")
	return nil
}
