package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"overseer/internal/controller"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the project's orchestration session",
}

var sessionInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new session for the project",
	Long: `Create a new session with a task description. Features can be seeded
with repeated --feature flags of the form id=description; dependencies
are added afterwards with "feature deps".`,
	RunE: runSessionInit,
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the full session document",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.SessionStatus())
	},
}

var sessionPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Kill all workers and park the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.SessionPause())
	},
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused session and list ready features",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.SessionResume())
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Destroy the session and all worker state",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.SessionReset(confirm))
	},
}

var sessionStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise feature counts, attempts, and duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.SessionStats())
	},
}

var sessionProgressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show the session progress log",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProgressLog(limit))
	},
}

func init() {
	sessionInitCmd.Flags().StringP("task", "t", "", "overall task description (required)")
	sessionInitCmd.Flags().StringArray("feature", nil, "seed feature as id=description (repeatable)")
	_ = sessionInitCmd.MarkFlagRequired("task")

	sessionResetCmd.Flags().Bool("confirm", false, "required; reset is destructive")
	sessionProgressCmd.Flags().Int("limit", 0, "show only the last N lines (0 = all)")

	sessionCmd.AddCommand(sessionInitCmd, sessionStatusCmd, sessionPauseCmd,
		sessionResumeCmd, sessionResetCmd, sessionStatsCmd, sessionProgressCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionInit(cmd *cobra.Command, args []string) error {
	task, _ := cmd.Flags().GetString("task")
	rawFeatures, _ := cmd.Flags().GetStringArray("feature")

	var specs []controller.FeatureSpec
	for _, raw := range rawFeatures {
		id, desc, ok := strings.Cut(raw, "=")
		if !ok || id == "" || desc == "" {
			return fmt.Errorf("invalid --feature %q: want id=description", raw)
		}
		specs = append(specs, controller.FeatureSpec{ID: id, Description: desc})
	}

	c, _, err := newController()
	if err != nil {
		return err
	}
	dir, err := projectDir()
	if err != nil {
		return err
	}
	return emit(c.SessionInit(dir, task, specs))
}
