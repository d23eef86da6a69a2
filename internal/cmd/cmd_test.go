package cmd

import (
	"reflect"
	"testing"

	"github.com/spf13/cobra"

	"overseer/internal/config"
)

func TestRootCommandTree(t *testing.T) {
	if rootCmd.Use != "overseer" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "overseer")
	}

	expected := []string{"session", "feature", "worker", "plan", "vote",
		"protocol", "proposal", "review", "verify", "monitor"}
	have := make(map[string]bool)
	for _, sub := range rootCmd.Commands() {
		have[sub.Name()] = true
	}
	for _, name := range expected {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestSessionInitRequiresTask(t *testing.T) {
	flag := sessionInitCmd.Flags().Lookup("task")
	if flag == nil {
		t.Fatal("session init has no --task flag")
	}
	if flag.Annotations[cobra.BashCompOneRequiredFlag] == nil {
		t.Error("--task should be marked required")
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b ", []string{"a", "b"}},
		{"a,,b", []string{"a", "b"}},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRotationConfigFromLogging(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.MaxSizeMB = 25
	cfg.Logging.MaxBackups = 7
	cfg.Logging.Compress = true

	rot := rotationConfig(cfg)
	if rot.MaxSizeMB != 25 {
		t.Errorf("MaxSizeMB = %d, want 25", rot.MaxSizeMB)
	}
	if rot.MaxBackups != 7 {
		t.Errorf("MaxBackups = %d, want 7", rot.MaxBackups)
	}
	if !rot.Compress {
		t.Error("Compress should carry through")
	}
}

func TestExitErrorPropagation(t *testing.T) {
	err := &exitError{code: 4, msg: "session conflict"}
	if err.Error() != "session conflict" {
		t.Errorf("Error() = %q", err.Error())
	}
}
