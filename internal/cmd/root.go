// Package cmd is the cobra command tree over the orchestration controller.
// Every command prints the controller's Result as JSON and exits with the
// result's code, so callers can script against the output.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"overseer/internal/config"
	"overseer/internal/controller"
	"overseer/internal/distsync"
	"overseer/internal/logging"
	"overseer/internal/scheduler"
	"overseer/internal/state"
	"overseer/internal/term"
	"overseer/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "Session-based orchestration engine for agent workers",
	Long: `Overseer coordinates long-running coding work by decomposing it into
features, dispatching terminal-based agent workers, and tracking their
progress through a single on-disk session document per project.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a non-zero exit code out of a command without
// re-printing the error; the JSON result already went to stdout.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if ee, ok := err.(*exitError); ok {
			return ee.code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return controller.CodeError
	}
	return controller.CodeOK
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("project", "p", ".", "project directory the session lives in")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/overseer/config.yaml)")
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("OVERSEER")
	// Replace dots with underscores for nested keys in env vars
	// e.g., OVERSEER_WORKER_MAX_RETRIES for worker.max_retries
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()

	// A project-local .overseer.yaml overrides the user config.
	if project := viper.GetString("project"); project != "" {
		local := filepath.Join(project, config.ProjectConfigName)
		if _, err := os.Stat(local); err == nil {
			viper.SetConfigFile(local)
			_ = viper.MergeInConfig()
		}
	}
}

// projectDir resolves the --project flag to an absolute path.
func projectDir() (string, error) {
	dir := viper.GetString("project")
	if dir == "" {
		dir = "."
	}
	return filepath.Abs(dir)
}

// newController wires a controller for the configured project directory.
func newController() (*controller.Controller, *config.Config, error) {
	dir, err := projectDir()
	if err != nil {
		return nil, nil, err
	}
	cfg := config.Get()

	logger, err := logging.NewLoggerWithRotation(
		filepath.Join(dir, state.DirName), cfg.Logging.Level, rotationConfig(cfg))
	if err != nil {
		logger = logging.NopLogger()
	}

	workerCfg := worker.Config{
		AgentCommand:       cfg.Agent.Command,
		AgentArgs:          cfg.Agent.Args,
		MonitorPeriod:      cfg.Worker.MonitorPeriod(),
		HeartbeatTailLines: cfg.Worker.HeartbeatTailLines,
	}

	var syncCfg *distsync.Config
	if cfg.Sync.Enabled {
		syncCfg = &distsync.Config{
			HeartbeatInterval: cfg.Sync.HeartbeatInterval(),
			MessageRetention:  cfg.Sync.MessageRetention(),
			InstanceTimeout:   cfg.Sync.InstanceTimeout(),
			MaxRetries:        cfg.Sync.MaxRetries,
			RetryDelay:        cfg.Sync.RetryDelay(),
		}
	}

	opts := controller.Options{
		MaxRetries:    cfg.Worker.MaxRetries,
		Strategy:      scheduler.Strategy(cfg.Scheduler.Strategy),
		MonitorPeriod: cfg.Worker.MonitorPeriod(),
	}

	c, err := controller.New(dir, term.NewTmuxAdapter(), workerCfg, syncCfg, opts, logger)
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

// rotationConfig maps the logging config onto the rotation writer's knobs.
func rotationConfig(cfg *config.Config) logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	}
}

// emit prints the result as JSON and converts failures into exit codes.
func emit(res *controller.Result) error {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !res.OK {
		return &exitError{code: res.Code, msg: res.Error}
	}
	return nil
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
