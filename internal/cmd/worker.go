package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start and supervise agent workers",
}

var workerStartCmd = &cobra.Command{
	Use:   "start <feature>",
	Short: "Spawn an implementor worker for a pending feature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
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
		return emit(c.WorkerStart(args[0], customPrompt, model))
	},
}

var workerStartBatchCmd = &cobra.Command{
	Use:   "start-batch <feature> [feature...]",
	Short: "Start workers for several features concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.WorkersStartParallel(args, nil))
	},
}

var workerCheckCmd = &cobra.Command{
	Use:   "check <feature>",
	Short: "Inspect a feature's worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, _ := cmd.Flags().GetInt("lines")
		heartbeat, _ := cmd.Flags().GetBool("heartbeat")
		sinceLine, _ := cmd.Flags().GetInt("since-line")

		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.WorkerCheck(args[0], lines, heartbeat, sinceLine))
	},
}

var workerCheckAllCmd = &cobra.Command{
	Use:   "check-all",
	Short: "Report the status of every recorded worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.WorkersCheckAll())
	},
}

var workerSendCmd = &cobra.Command{
	Use:   "send <feature> <message...>",
	Short: "Type an instruction into a feature's live worker",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.WorkerSendMessage(args[0], strings.Join(args[1:], " ")))
	},
}

var workerValidateCmd = &cobra.Command{
	Use:   "validate <feature> [feature...]",
	Short: "Run protocol validation without starting anything",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.WorkersValidate(args))
	},
}

var workerSelectCmd = &cobra.Command{
	Use:   "select",
	Short: "Pick the top ready features by scheduling priority",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.SelectBatch(count))
	},
}

var workerScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one completion-monitor pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ScanCompletions())
	},
}

func init() {
	workerStartCmd.Flags().String("model", "", "model hint for the agent")
	workerStartCmd.Flags().String("prompt-file", "", "file holding a custom prompt")
	workerCheckCmd.Flags().Int("lines", 50, "output lines to capture")
	workerCheckCmd.Flags().Bool("heartbeat", false, "return the bounded heartbeat instead of raw output")
	workerCheckCmd.Flags().Int("since-line", 0, "skip output lines already seen in the capture window")
	workerSelectCmd.Flags().Int("count", 3, "how many features to select")

	workerCmd.AddCommand(workerStartCmd, workerStartBatchCmd, workerCheckCmd,
		workerCheckAllCmd, workerSendCmd, workerValidateCmd, workerSelectCmd,
		workerScanCmd)
	rootCmd.AddCommand(workerCmd)
}
