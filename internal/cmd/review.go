package cmd

import (
	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "End-of-session review by dedicated reviewer workers",
}

var reviewConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set the review phase's behavior for this session",
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, _ := cmd.Flags().GetBool("enabled")
		types, _ := cmd.Flags().GetString("types")
		auto, _ := cmd.Flags().GetBool("auto-implement")

		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ReviewConfigure(enabled, splitList(types), auto))
	},
}

var reviewRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start reviewer workers once all features are settled",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ReviewRun())
	},
}

var reviewCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Poll the reviewer workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ReviewCheck())
	},
}

var reviewResultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Aggregate the finished reviews and close the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ReviewResults())
	},
}

var reviewImplementCmd = &cobra.Command{
	Use:   "implement",
	Short: "Turn actionable review findings into new features",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ReviewImplementSuggestions())
	},
}

func init() {
	reviewConfigureCmd.Flags().Bool("enabled", true, "run the review phase when the session finishes")
	reviewConfigureCmd.Flags().String("types", "", "comma-separated review types (code, architecture)")
	reviewConfigureCmd.Flags().Bool("auto-implement", false, "convert actionable findings into features automatically")

	reviewCmd.AddCommand(reviewConfigureCmd, reviewRunCmd, reviewCheckCmd,
		reviewResultsCmd, reviewImplementCmd)
	rootCmd.AddCommand(reviewCmd)
}
