package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"overseer/internal/controller"
	"overseer/internal/state"
)

var featureCmd = &cobra.Command{
	Use:   "feature",
	Short: "Manage features within the session",
}

var featureAddCmd = &cobra.Command{
	Use:   "add <id> <description...>",
	Short: "Add a pending feature",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		depends, _ := cmd.Flags().GetString("depends")
		complexity, _ := cmd.Flags().GetInt("complexity")

		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.FeatureAdd(controller.FeatureSpec{
			ID:          args[0],
			Description: strings.Join(args[1:], " "),
			DependsOn:   splitList(depends),
			Complexity:  complexity,
		}))
	},
}

var featureDepsCmd = &cobra.Command{
	Use:   "deps <id>",
	Short: "Replace a feature's dependency list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, _ := cmd.Flags().GetString("set")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.FeatureSetDependencies(args[0], splitList(set)))
	},
}

var featureRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Return a failed feature to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reset, _ := cmd.Flags().GetBool("reset-attempts")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.FeatureRetry(args[0], reset))
	},
}

var featureCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Settle an in-progress feature as success or failure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failure, _ := cmd.Flags().GetBool("failure")
		notes, _ := cmd.Flags().GetString("notes")
		maxRetries, _ := cmd.Flags().GetInt("max-retries")

		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.FeatureMarkComplete(args[0], !failure, notes, maxRetries))
	},
}

var featureSetContextCmd = &cobra.Command{
	Use:   "set-context <id>",
	Short: "Replace a feature's enrichment context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, _ := cmd.Flags().GetString("docs")
		files, _ := cmd.Flags().GetString("files")
		notes, _ := cmd.Flags().GetString("notes")

		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.FeatureSetContext(args[0], &state.FeatureContext{
			Documentation: splitList(docs),
			Files:         splitList(files),
			Notes:         notes,
		}))
	},
}

var featureEnrichCmd = &cobra.Command{
	Use:   "enrich <id>",
	Short: "Merge documentation, files, and notes into a feature's context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, _ := cmd.Flags().GetString("docs")
		files, _ := cmd.Flags().GetString("files")
		notes, _ := cmd.Flags().GetString("notes")

		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.FeatureEnrich(args[0], splitList(docs), splitList(files), notes))
	},
}

var featureRouteCmd = &cobra.Command{
	Use:   "route <id>",
	Short: "Attach an advisory model-routing hint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		reason, _ := cmd.Flags().GetString("reason")

		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.FeatureRoute(args[0], model, reason))
	},
}

var featureGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show the dependency graph with readiness and conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.FeatureGraph())
	},
}

var featureAnnotateCmd = &cobra.Command{
	Use:   "annotate <id> <field> <json>",
	Short: "Store a raw advisory annotation on a feature",
	Long: `Store raw JSON under one of the advisory fields: validation,
validationResult, or gitVerification. The engine does not interpret it.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.FeatureAnnotate(args[0], args[1], json.RawMessage(args[2])))
	},
}

func init() {
	featureAddCmd.Flags().String("depends", "", "comma-separated dependency ids")
	featureAddCmd.Flags().Int("complexity", 0, "complexity estimate 1-10 (0 = unknown)")
	featureDepsCmd.Flags().String("set", "", "comma-separated dependency ids")
	featureRetryCmd.Flags().Bool("reset-attempts", false, "also zero the attempt counter")
	featureCompleteCmd.Flags().Bool("failure", false, "mark as failed instead of completed")
	featureCompleteCmd.Flags().String("notes", "", "failure notes recorded on the feature")
	featureCompleteCmd.Flags().Int("max-retries", 0, "override the configured retry cap")
	featureSetContextCmd.Flags().String("docs", "", "comma-separated documentation references")
	featureSetContextCmd.Flags().String("files", "", "comma-separated relevant file paths")
	featureSetContextCmd.Flags().String("notes", "", "free-form notes")
	featureEnrichCmd.Flags().String("docs", "", "comma-separated documentation references")
	featureEnrichCmd.Flags().String("files", "", "comma-separated relevant file paths")
	featureEnrichCmd.Flags().String("notes", "", "free-form notes appended to the context")
	featureRouteCmd.Flags().String("model", "", "model hint for the next worker start")
	featureRouteCmd.Flags().String("reason", "", "why this model was chosen")

	featureCmd.AddCommand(featureAddCmd, featureDepsCmd, featureRetryCmd,
		featureCompleteCmd, featureSetContextCmd, featureEnrichCmd,
		featureRouteCmd, featureGraphCmd, featureAnnotateCmd)
	rootCmd.AddCommand(featureCmd)
}
