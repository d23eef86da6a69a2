package distsync

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"overseer/internal/errors"
	"overseer/internal/logging"
	"overseer/internal/util"
)

// messageTimeLayout is the filename-safe timestamp prefix of message files.
// Lexicographic order of filenames equals chronological order.
const messageTimeLayout = "2006-01-02T15:04:05.000Z"

// Transport moves sync messages and instance records through the shared
// sync directory. All writes are atomic so concurrent scanners never see a
// half-written file.
type Transport struct {
	messagesDir  string
	instancesDir string
	logger       *logging.Logger
}

// NewTransport returns a Transport over the two sync subdirectories.
func NewTransport(messagesDir, instancesDir string, logger *logging.Logger) *Transport {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Transport{messagesDir: messagesDir, instancesDir: instancesDir, logger: logger}
}

// WriteMessage persists one envelope as <ISO-ts>_<messageId>.json.
func (t *Transport) WriteMessage(env *Envelope) error {
	if err := os.MkdirAll(t.messagesDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create messages directory")
	}
	name := time.Now().UTC().Format(messageTimeLayout) + "_" + env.MessageID + ".json"
	return util.WriteJSONFile(filepath.Join(t.messagesDir, name), env, 0600)
}

// ReadMessages returns all message envelopes in chronological order along
// with their file paths. Unparseable files are skipped with a warning.
func (t *Transport) ReadMessages() ([]*Envelope, []string, error) {
	entries, err := os.ReadDir(t.messagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, errors.Wrap(err, "failed to read messages directory")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var envs []*Envelope
	var paths []string
	for _, name := range names {
		path := filepath.Join(t.messagesDir, name)
		var env Envelope
		if err := util.ReadJSONFile(path, &env); err != nil {
			t.logger.Warn("skipping unreadable sync message", "file", name, "error", err.Error())
			continue
		}
		envs = append(envs, &env)
		paths = append(paths, path)
	}
	return envs, paths, nil
}

// SweepMessages deletes message files older than retention, judged by the
// timestamp prefix in the filename. Returns how many were removed.
func (t *Transport) SweepMessages(retention time.Duration) int {
	entries, err := os.ReadDir(t.messagesDir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().UTC().Add(-retention)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		idx := strings.Index(name, "_")
		if entry.IsDir() || idx < 0 || !strings.HasSuffix(name, ".json") {
			continue
		}
		ts, err := time.Parse(messageTimeLayout, name[:idx])
		if err != nil || !ts.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(t.messagesDir, name)); err == nil {
			removed++
		}
	}
	return removed
}

// WriteInstance persists this instance's liveness record.
func (t *Transport) WriteInstance(info *InstanceInfo) error {
	if err := os.MkdirAll(t.instancesDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create instances directory")
	}
	path := filepath.Join(t.instancesDir, info.InstanceID+".json")
	return util.WriteJSONFile(path, info, 0600)
}

// RemoveInstance deletes an instance record. Missing files are not errors.
func (t *Transport) RemoveInstance(instanceID string) error {
	err := os.Remove(filepath.Join(t.instancesDir, instanceID+".json"))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove instance file")
	}
	return nil
}

// ListInstances reads every instance record in the sync directory.
func (t *Transport) ListInstances() ([]*InstanceInfo, error) {
	entries, err := os.ReadDir(t.instancesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read instances directory")
	}

	var out []*InstanceInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var info InstanceInfo
		path := filepath.Join(t.instancesDir, entry.Name())
		if err := util.ReadJSONFile(path, &info); err != nil {
			t.logger.Warn("skipping unreadable instance file", "file", entry.Name(), "error", err.Error())
			continue
		}
		out = append(out, &info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}

// SweepInstances deletes instance records whose last heartbeat is older
// than timeout, returning the ids removed.
func (t *Transport) SweepInstances(timeout time.Duration) []string {
	infos, err := t.ListInstances()
	if err != nil {
		return nil
	}

	cutoff := time.Now().UTC().Add(-timeout)
	var dead []string
	for _, info := range infos {
		hb, err := time.Parse(time.RFC3339, info.LastHeartbeat)
		if err != nil || hb.Before(cutoff) {
			if t.RemoveInstance(info.InstanceID) == nil {
				dead = append(dead, info.InstanceID)
			}
		}
	}
	return dead
}

// Watch invokes notify whenever a message file appears, until stop is
// closed. Events are debounced so a burst of writes triggers one scan.
func (t *Transport) Watch(stop <-chan struct{}, notify func()) error {
	if err := os.MkdirAll(t.messagesDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create messages directory")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create sync watcher")
	}
	if err := watcher.Add(t.messagesDir); err != nil {
		watcher.Close()
		return errors.Wrap(err, "failed to watch messages directory")
	}

	go func() {
		defer watcher.Close()

		debounce := time.NewTimer(time.Hour)
		if !debounce.Stop() {
			<-debounce.C
		}
		defer debounce.Stop()

		for {
			select {
			case <-stop:
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				debounce.Reset(50 * time.Millisecond)

			case <-debounce.C:
				notify()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.Warn("sync watcher error", "error", err.Error())
			}
		}
	}()
	return nil
}
