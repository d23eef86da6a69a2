package cmd

import (
	"github.com/spf13/cobra"

	"overseer/internal/proposal"
)

var proposalCmd = &cobra.Command{
	Use:   "proposal",
	Short: "Submit and judge protocol change proposals",
}

var proposalSubmitCmd = &cobra.Command{
	Use:   "submit <protocol.json>",
	Short: "Propose a new protocol for review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		description, _ := cmd.Flags().GetString("description")
		rationale, _ := cmd.Flags().GetString("rationale")
		priority, _ := cmd.Flags().GetInt("priority")
		by, _ := cmd.Flags().GetString("by")

		p, err := readProtocolFile(args[0])
		if err != nil {
			return err
		}
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProposalSubmit(proposal.SubmitRequest{
			Protocol:    p,
			Source:      proposal.Source(source),
			Description: description,
			Rationale:   rationale,
			Priority:    priority,
			SubmittedBy: by,
		}))
	},
}

var proposalReviewCmd = &cobra.Command{
	Use:   "review <id>",
	Short: "Move a pending proposal into review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reviewer, _ := cmd.Flags().GetString("by")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProposalReview(args[0], reviewer))
	},
}

var proposalApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a proposal and register its protocol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("by")
		modFile, _ := cmd.Flags().GetString("modifications")

		c, _, err := newController()
		if err != nil {
			return err
		}
		if modFile != "" {
			p, err := readProtocolFile(modFile)
			if err != nil {
				return err
			}
			return emit(c.ProposalApprove(args[0], actor, p))
		}
		return emit(c.ProposalApprove(args[0], actor, nil))
	},
}

var proposalRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a proposal with a reason",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("by")
		reason, _ := cmd.Flags().GetString("reason")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProposalReject(args[0], actor, reason))
	},
}

var proposalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProposalList(proposal.Status(status)))
	},
}

var proposalConstraintsCmd = &cobra.Command{
	Use:   "constraints",
	Short: "Show the immutable base constraints proposals are judged against",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.BaseConstraintsGet())
	},
}

func init() {
	proposalSubmitCmd.Flags().String("source", string(proposal.SourceUser), "who originated the proposal (llm, user, system)")
	proposalSubmitCmd.Flags().String("description", "", "short description of the change")
	proposalSubmitCmd.Flags().String("rationale", "", "why the protocol is needed")
	proposalSubmitCmd.Flags().Int("priority", 50, "urgency 0-100")
	proposalSubmitCmd.Flags().String("by", "", "submitter identity")
	proposalReviewCmd.Flags().String("by", "user", "reviewer identity")
	proposalApproveCmd.Flags().String("by", "user", "approver identity")
	proposalApproveCmd.Flags().String("modifications", "", "JSON file with an amended protocol to register instead")
	proposalRejectCmd.Flags().String("by", "user", "rejecter identity")
	proposalRejectCmd.Flags().String("reason", "", "why the proposal was rejected")
	proposalListCmd.Flags().String("status", "", "filter by status (pending, reviewing, approved, rejected)")

	proposalCmd.AddCommand(proposalSubmitCmd, proposalReviewCmd,
		proposalApproveCmd, proposalRejectCmd, proposalListCmd,
		proposalConstraintsCmd)
	rootCmd.AddCommand(proposalCmd)
}
