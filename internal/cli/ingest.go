package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"coursekb/internal/adapter/fs"
	"coursekb/internal/domain"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Add every matching file under a directory",
	Long: `Walk a directory and add the files matching ingest.includes (minus
ingest.excludes) to a course. Files are named by their path relative to the
directory, so re-running an ingest replaces the earlier copies.

Examples:
  coursekb ingest -c algo101 ./materials`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().Bool("llm", false, "force LLM-assisted chunking on or off")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	cfg := GetConfig()
	walker := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)

	fmt.Printf("Scanning %s...\n", path)
	files, err := walker.Walk(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("No matching files.")
		return nil
	}

	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()

	bar := newProgressBar(len(files), "Extracting")
	uploads := make([]domain.UploadPayload, 0, len(files))
	var skipped []string
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", f.RelPath, err))
			bar.Add(1)
			continue
		}
		uploads = append(uploads, kb.ExtractUpload(cmd.Context(), f.RelPath, data))
		bar.Add(1)
	}

	fmt.Println("Chunking and embedding...")
	stored, err := kb.StoreUploads(cmd.Context(), courseID, uploads, llmOverride(cmd))
	if err != nil {
		return fmt.Errorf("ingest failed after %d documents: %w", len(stored), err)
	}

	fmt.Printf("\nIngest complete:\n")
	fmt.Printf("  Files found:     %d\n", len(files))
	fmt.Printf("  Documents saved: %d\n", len(stored))
	if len(skipped) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, s := range skipped {
			fmt.Printf("  - %s\n", s)
		}
	}
	return nil
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("[cyan]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}
