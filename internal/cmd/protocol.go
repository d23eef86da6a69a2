package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"overseer/internal/protocol"
)

var protocolCmd = &cobra.Command{
	Use:   "protocol",
	Short: "Govern worker behavior with enforced protocols",
}

// readProtocolFile loads a protocol definition from a JSON file.
func readProtocolFile(path string) (*protocol.Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p protocol.Protocol
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

var protocolRegisterCmd = &cobra.Command{
	Use:   "register <file.json>",
	Short: "Register a protocol from a JSON definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		p, err := readProtocolFile(args[0])
		if err != nil {
			return err
		}
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolRegister(p, actor))
	},
}

var protocolUpdateCmd = &cobra.Command{
	Use:   "update <file.json>",
	Short: "Replace an existing protocol's definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		p, err := readProtocolFile(args[0])
		if err != nil {
			return err
		}
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolUpdate(p, actor))
	},
}

var protocolActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Activate a protocol and everything it requires",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolActivate(args[0], actor))
	},
}

var protocolDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Deactivate a protocol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolDeactivate(args[0], actor))
	},
}

var protocolDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a protocol from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolDelete(args[0], actor))
	},
}

var protocolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered protocol",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolList())
	},
}

var protocolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarise active protocols and open violations",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolStatus())
	},
}

var protocolValidateCmd = &cobra.Command{
	Use:   "validate <feature>",
	Short: "Check a feature against the active protocols",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolValidateFeature(args[0]))
	},
}

var protocolViolationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "List recorded violations",
	RunE: func(cmd *cobra.Command, args []string) error {
		unresolved, _ := cmd.Flags().GetBool("unresolved")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ViolationGet(unresolved))
	},
}

var protocolResolveCmd = &cobra.Command{
	Use:   "resolve <violation-id>",
	Short: "Mark a violation resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolution, _ := cmd.Flags().GetString("resolution")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ViolationResolve(args[0], resolution))
	},
}

var protocolAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the governance audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.AuditGet(limit))
	},
}

var protocolExportCmd = &cobra.Command{
	Use:   "export <id> [id...]",
	Short: "Write the named protocols to a shareable bundle",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolsExport(args))
	},
}

var protocolImportCmd = &cobra.Command{
	Use:   "import <bundle.json>",
	Short: "Register every protocol in a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolsImport(args[0]))
	},
}

var protocolDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List the bundles available for import",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolsDiscover())
	},
}

var protocolSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Broadcast active protocols to peer instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newController()
		if err != nil {
			return err
		}
		return emit(c.ProtocolsSync())
	},
}

func init() {
	for _, sub := range []*cobra.Command{protocolRegisterCmd, protocolUpdateCmd,
		protocolActivateCmd, protocolDeactivateCmd, protocolDeleteCmd} {
		sub.Flags().String("actor", "user", "who is making the change, for the audit trail")
	}
	protocolViolationsCmd.Flags().Bool("unresolved", false, "only show unresolved violations")
	protocolResolveCmd.Flags().String("resolution", "", "how the violation was addressed")
	protocolAuditCmd.Flags().Int("limit", 0, "show only the last N entries (0 = all)")

	protocolCmd.AddCommand(protocolRegisterCmd, protocolUpdateCmd,
		protocolActivateCmd, protocolDeactivateCmd, protocolDeleteCmd,
		protocolListCmd, protocolStatusCmd, protocolValidateCmd,
		protocolViolationsCmd, protocolResolveCmd, protocolAuditCmd,
		protocolExportCmd, protocolImportCmd, protocolDiscoverCmd,
		protocolSyncCmd)
	rootCmd.AddCommand(protocolCmd)
}
