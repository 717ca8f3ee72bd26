package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"coursekb/config"
	"coursekb/internal/platform/logger"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	courseID string
	asJSON   bool
	log      *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "coursekb",
	Short: "Course knowledge base - chunk course material and search it",
	Long: `coursekb ingests course documents (Markdown, text, PDF, DOCX, web pages),
splits them into titled chunks, and answers hybrid vector + BM25 queries per course.

Example usage:
  coursekb add -c algo101 notes/week1.md slides/week2.pdf
  coursekb ingest -c algo101 ./materials
  coursekb search -c algo101 -q "quicksort pivot"
  coursekb points -c algo101 --limit 10`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		// a missing .env is fine
		_ = godotenv.Load()

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		log, err = logger.New(cfg.Logging.Mode, cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./coursekb.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
	rootCmd.PersistentFlags().StringVarP(&courseID, "course", "c", "", "course id")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "output as JSON")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
