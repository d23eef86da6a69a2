package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"overseer/internal/controller"
	"overseer/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [command...]",
	Short: "Run an allow-listed verification command in the project",
	Long: `Run a verification command (test suite, linter) in the project
directory. The argv comes from the command line, or from
verification.command in the config when none is given. With --feature
the result is also recorded on that feature as its validationResult.`,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	featureID, _ := cmd.Flags().GetString("feature")
	timeoutMin, _ := cmd.Flags().GetInt("timeout")

	c, cfg, err := newController()
	if err != nil {
		return err
	}

	argv := args
	if len(argv) == 0 {
		argv = cfg.Verification.Command
	}

	timeout := cfg.Verification.VerificationTimeout()
	if timeoutMin > 0 {
		timeout = time.Duration(timeoutMin) * time.Minute
	}

	dir, err := projectDir()
	if err != nil {
		return err
	}

	res, err := verify.RunWithTimeout(context.Background(), dir, argv, timeout)
	if err != nil && res == nil {
		return err
	}

	if featureID != "" {
		raw, err := json.Marshal(res)
		if err != nil {
			return err
		}
		if ann := c.FeatureAnnotate(featureID, "validationResult", raw); !ann.OK {
			return emit(ann)
		}
	}

	out := &controller.Result{OK: res.Passed, Payload: res}
	if !res.Passed {
		out.Error = "verification failed"
		out.Code = controller.CodeError
	}
	return emit(out)
}

func init() {
	verifyCmd.Flags().String("feature", "", "record the result on this feature")
	verifyCmd.Flags().Int("timeout", 0, "timeout in minutes (default from config)")
	rootCmd.AddCommand(verifyCmd)
}
