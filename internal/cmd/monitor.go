package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the completion monitor in the foreground",
	Long: `Run the background completion monitor (and the sync manager, when
enabled) until interrupted. Worker completions and crashes are recorded
on the session document as they happen.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newController()
		if err != nil {
			return err
		}

		c.StartMonitor()
		defer c.StopMonitor()

		if cfg.Sync.Enabled {
			if err := c.StartSync(); err != nil {
				return err
			}
			defer c.StopSync()
		}

		fmt.Fprintln(os.Stderr, "monitoring; press Ctrl-C to stop")

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		<-sigs
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
