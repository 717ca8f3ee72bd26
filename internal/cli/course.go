package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"coursekb/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default coursekb.yaml",
	Long: `Write the default configuration to coursekb.yaml in the root directory.
An existing file is kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var titleCmd = &cobra.Command{
	Use:   "title <title>",
	Short: "Set the title of a course",
	Long: `Store a course title in the course database and move the course folder
to match it. Requires courses.database in the configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: runTitle,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd, titleCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := writeDefaultConfig(GetRootDir(), initForce)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func writeDefaultConfig(root string, force bool) (string, error) {
	path := filepath.Join(root, "coursekb.yaml")
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

func runTitle(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()

	folder, err := kb.RenameCourse(cmd.Context(), courseID, args[0])
	if err != nil {
		return fmt.Errorf("rename failed: %w", err)
	}
	if asJSON {
		return printJSON(map[string]string{"course_id": courseID, "folder": folder})
	}
	fmt.Printf("Course %s now lives in %s\n", courseID, folder)
	return nil
}
