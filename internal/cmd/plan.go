package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Competitive planning for a feature",
}

var planStartCmd = &cobra.Command{
	Use:   "start <feature>",
	Short: "Spawn two planner workers with opposing briefs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		promptFile, _ := cmd.Flags().GetString("prompt-file")

		customPrompt := ""
		if promptFile != "" {
			data, err := os.ReadFile(promptFile)
			if err != nil {
				return err
			}
			customPrompt = string(data)
		}

		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.PlanningCompetitiveStart(args[0], customPrompt))
	},
}

var planEvaluateCmd = &cobra.Command{
	Use:   "evaluate <feature>",
	Short: "Score the finished plans and pick a winner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.PlanningEvaluate(args[0]))
	},
}

var voteCmd = &cobra.Command{
	Use:   "vote",
	Short: "Independent voting rounds on a feature's approach",
}

var voteStartCmd = &cobra.Command{
	Use:   "start <feature>",
	Short: "Spawn independent voter workers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")

		c, cfg, err := newController()
		if err != nil {
			return err
		}
		if count == 0 {
			count = cfg.Voting.DefaultVoters
		}
		return emit(c.VotingStart(args[0], count))
	},
}

var voteEvaluateCmd = &cobra.Command{
	Use:   "evaluate <feature>",
	Short: "Tally the ballots and settle the round",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.VotingEvaluate(args[0]))
	},
}

func init() {
	planStartCmd.Flags().String("prompt-file", "", "file holding a custom planning brief")
	voteStartCmd.Flags().Int("count", 0, "number of voters (default from config)")

	planCmd.AddCommand(planStartCmd, planEvaluateCmd)
	voteCmd.AddCommand(voteStartCmd, voteEvaluateCmd)
	rootCmd.AddCommand(planCmd, voteCmd)
}
