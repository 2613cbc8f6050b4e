package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d0labs/aof/internal/config"
	"github.com/d0labs/aof/internal/taskstore"
	"github.com/d0labs/aof/internal/tools"
)

func newLintCommand() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Report task frontmatter/directory drift for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(config.WithConfigPath(viper.ConfigFileUsed()))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			dir := projectDir
			if dir == "" {
				dir = filepath.Join(cfg.VaultRoot, "Projects", cfg.SingleProjectID)
			}
			return runLint(dir, filepath.Base(dir))
		},
	}
	cmd.Flags().StringVar(&projectDir, "project-dir", "", "path to the project directory (defaults to <vaultRoot>/Projects/<singleProjectId>)")
	return cmd
}

func runLint(dir, projectID string) error {
	store := taskstore.New(dir, projectID)
	violations, err := store.Lint()
	if err != nil {
		return fmt.Errorf("lint %s: %w", dir, err)
	}

	violationLines := make([]string, 0, len(violations))
	for _, v := range violations {
		violationLines = append(violationLines, fmt.Sprintf("%s\t%s\t%s", v.TaskID, v.Kind, v.Detail))
	}
	lines, exitCode := tools.RenderLines(fmt.Sprintf("%s: no violations found", dir), violationLines)
	for _, line := range lines {
		fmt.Println(line)
	}
	if exitCode != 0 {
		return fmt.Errorf("%d violation(s) found", len(violations))
	}
	return nil
}
