package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirName is the engine's directory under the project root.
const DirName = ".overseer"

// Layout computes every engine-owned path under a project directory.
// All on-disk artifacts live under <projectDir>/.overseer/.
type Layout struct {
	projectDir string
}

// NewLayout returns the path layout for a validated project directory.
func NewLayout(projectDir string) Layout {
	return Layout{projectDir: projectDir}
}

// ProjectDir returns the project root.
func (l Layout) ProjectDir() string { return l.projectDir }

// Root returns the engine directory under the project root.
func (l Layout) Root() string { return filepath.Join(l.projectDir, DirName) }

// StatePath returns the path of the session state document.
func (l Layout) StatePath() string { return filepath.Join(l.Root(), "state.json") }

// ProgressPath returns the path of the human-readable progress mirror.
func (l Layout) ProgressPath() string { return filepath.Join(l.Root(), "progress.txt") }

// InitScriptPath returns the path of the generated bootstrap script.
func (l Layout) InitScriptPath() string { return filepath.Join(l.Root(), "init.sh") }

// WorkersDir returns the directory holding per-worker side files.
func (l Layout) WorkersDir() string { return filepath.Join(l.Root(), "workers") }

// WorkerLogPath returns the tail-of-session capture file for a feature.
func (l Layout) WorkerLogPath(featureID string) string {
	return filepath.Join(l.WorkersDir(), featureID+".log")
}

// WorkerDonePath returns the completion-signal file for a feature.
func (l Layout) WorkerDonePath(featureID string) string {
	return filepath.Join(l.WorkersDir(), featureID+".done")
}

// WorkerPlanPath returns the planner-output file for a feature.
func (l Layout) WorkerPlanPath(featureID string) string {
	return filepath.Join(l.WorkersDir(), featureID+".plan.json")
}

// WorkerPromptPath returns the on-disk prompt file for a feature. Prompts
// are written to disk and read by the spawned argv to avoid shell-escaping
// issues.
func (l Layout) WorkerPromptPath(featureID string) string {
	return filepath.Join(l.WorkersDir(), featureID+".prompt.txt")
}

// ProtocolsDir returns the protocol governance directory.
func (l Layout) ProtocolsDir() string { return filepath.Join(l.Root(), "protocols") }

// RegistryPath returns the protocol registry document path.
func (l Layout) RegistryPath() string { return filepath.Join(l.ProtocolsDir(), "registry.json") }

// DistributionDir returns the cross-instance distribution directory.
func (l Layout) DistributionDir() string {
	return filepath.Join(l.ProtocolsDir(), "distribution")
}

// PeersPath returns the known-peers document path.
func (l Layout) PeersPath() string { return filepath.Join(l.DistributionDir(), "peers.json") }

// ExportsDir returns the directory for exported protocol bundles.
func (l Layout) ExportsDir() string { return filepath.Join(l.DistributionDir(), "exports") }

// ExportPath returns the path of one exported bundle.
func (l Layout) ExportPath(bundleID string) string {
	return filepath.Join(l.ExportsDir(), bundleID+".json")
}

// ProposalsDir returns the directory holding proposal documents.
func (l Layout) ProposalsDir() string { return filepath.Join(l.Root(), "proposals") }

// ProposalPath returns the path of one proposal document.
func (l Layout) ProposalPath(proposalID string) string {
	return filepath.Join(l.ProposalsDir(), proposalID+".json")
}

// SyncDir returns the cross-instance sync directory.
func (l Layout) SyncDir() string { return filepath.Join(l.Root(), "sync") }

// InstancesDir returns the directory of live-instance files.
func (l Layout) InstancesDir() string { return filepath.Join(l.SyncDir(), "instances") }

// InstancePath returns the live-instance file for an instance id.
func (l Layout) InstancePath(instanceID string) string {
	return filepath.Join(l.InstancesDir(), instanceID+".json")
}

// MessagesDir returns the sync message transport directory.
func (l Layout) MessagesDir() string { return filepath.Join(l.SyncDir(), "messages") }

// EnsureRoot creates the engine directory and its standard subdirectories.
func (l Layout) EnsureRoot() error {
	dirs := []string{
		l.Root(),
		l.WorkersDir(),
		l.ProtocolsDir(),
		l.ProposalsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ValidateProjectDir checks that a project directory path is absolute and
// refers to an existing directory.
func ValidateProjectDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("project directory cannot be empty")
	}
	if !filepath.IsAbs(dir) {
		return fmt.Errorf("project directory must be absolute: %s", dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("project directory does not exist: %s", dir)
		}
		return fmt.Errorf("failed to stat project directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project path is not a directory: %s", dir)
	}
	return nil
}

// ResolveInside resolves p relative to projectDir and rejects any path that
// escapes the project root, including escapes through symlinks. The returned
// path is absolute. The target itself need not exist; the deepest existing
// ancestor is resolved for the symlink check.
func ResolveInside(projectDir, p string) (string, error) {
	root, err := filepath.EvalSymlinks(projectDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project directory: %w", err)
	}

	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolveExistingPrefix(candidate)
	if err != nil {
		return "", err
	}

	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes project directory: %s", p)
	}
	return candidate, nil
}

// resolveExistingPrefix resolves symlinks in the deepest existing ancestor
// of path, then rejoins the non-existing remainder.
func resolveExistingPrefix(path string) (string, error) {
	existing := path
	var remainder []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to stat %s: %w", existing, err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		remainder = append([]string{filepath.Base(existing)}, remainder...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", existing, err)
	}
	if len(remainder) > 0 {
		resolved = filepath.Join(append([]string{resolved}, remainder...)...)
	}
	return resolved, nil
}
