package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/internal/errors"
	"overseer/internal/logging"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(filepath.Join(t.TempDir(), "registry.json"), logging.NopLogger())
	require.NoError(t, err)
	return r
}

func testProtocol(id string) *Protocol {
	return &Protocol{
		ID:      id,
		Version: "1.0.0",
		Name:    "protocol " + id,
		Constraints: []Constraint{{
			ID: "c-1", Type: ConstraintToolRestriction,
			Severity: SeverityError, Message: "no danger", Enabled: true,
			ToolRestriction: &ToolRestrictionRule{DeniedTools: []string{"danger"}},
		}},
		Enforcement: EnforcementConfig{
			Mode: ModeStrict, OnViolation: ActionBlock, PreExecutionValidation: true,
		},
		Priority: 100,
		Enabled:  true,
	}
}

func TestRegistryRegister(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.Register(testProtocol("p1"), "tester"))

	t.Run("duplicate rejected", func(t *testing.T) {
		err := r.Register(testProtocol("p1"), "tester")
		assert.Error(t, err)
	})

	t.Run("invalid version rejected", func(t *testing.T) {
		p := testProtocol("p2")
		p.Version = "not-semver"
		assert.True(t, errors.Is(r.Register(p, ""), errors.ErrInvalidVersion))
	})

	t.Run("unknown reference rejected", func(t *testing.T) {
		p := testProtocol("p3")
		p.Requires = []string{"ghost"}
		assert.True(t, errors.Is(r.Register(p, ""), errors.ErrProtocolNotFound))
	})

	t.Run("conflict with active rejected", func(t *testing.T) {
		require.NoError(t, r.Activate("p1", ""))
		p := testProtocol("p4")
		p.Conflicts = []string{"p1"}
		assert.True(t, errors.Is(r.Register(p, ""), errors.ErrProtocolConflict))
	})
}

func TestRegistryActivation(t *testing.T) {
	r := newTestRegistry(t)
	base := testProtocol("base")
	child := testProtocol("child")
	child.Requires = []string{"base"}
	require.NoError(t, r.Register(base, ""))
	require.NoError(t, r.Register(child, ""))

	t.Run("requires must be active first", func(t *testing.T) {
		err := r.Activate("child", "")
		assert.True(t, errors.Is(err, errors.ErrProtocolRequired))
	})

	require.NoError(t, r.Activate("base", ""))
	require.NoError(t, r.Activate("child", ""))

	t.Run("double activation rejected", func(t *testing.T) {
		assert.Error(t, r.Activate("base", ""))
	})

	t.Run("deactivation denied while required", func(t *testing.T) {
		err := r.Deactivate("base", "")
		assert.True(t, errors.Is(err, errors.ErrProtocolRequired))
	})

	t.Run("deactivate dependent then dependency", func(t *testing.T) {
		require.NoError(t, r.Deactivate("child", ""))
		require.NoError(t, r.Deactivate("base", ""))
		assert.Empty(t, r.ActiveIDs())
	})

	t.Run("conflicting protocols never both active", func(t *testing.T) {
		a := testProtocol("alpha")
		b := testProtocol("beta")
		b.Conflicts = []string{"alpha"}
		require.NoError(t, r.Register(a, ""))
		require.NoError(t, r.Register(b, ""))
		require.NoError(t, r.Activate("alpha", ""))
		err := r.Activate("beta", "")
		assert.True(t, errors.Is(err, errors.ErrProtocolConflict))
	})

	t.Run("disabled protocol cannot be activated", func(t *testing.T) {
		d := testProtocol("disabled")
		d.Enabled = false
		require.NoError(t, r.Register(d, ""))
		assert.Error(t, r.Activate("disabled", ""))
	})
}

func TestRegistryDelete(t *testing.T) {
	r := newTestRegistry(t)
	base := testProtocol("base")
	ext := testProtocol("ext")
	ext.Extends = []string{"base"}
	require.NoError(t, r.Register(base, ""))
	require.NoError(t, r.Register(ext, ""))

	t.Run("denied while referenced", func(t *testing.T) {
		err := r.Delete("base", "")
		assert.True(t, errors.Is(err, errors.ErrProtocolReferenced))
	})

	t.Run("delete in dependency order", func(t *testing.T) {
		require.NoError(t, r.Delete("ext", ""))
		require.NoError(t, r.Delete("base", ""))
		_, err := r.Get("base")
		assert.Error(t, err)
	})
}

func TestRegistryAuditCompleteness(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.Register(testProtocol("p1"), "tester"))
	require.NoError(t, r.Activate("p1", "tester"))
	require.NoError(t, r.Deactivate("p1", "tester"))

	p := testProtocol("p1")
	p.Version = "1.0.1"
	require.NoError(t, r.Update(p, "tester"))

	require.NoError(t, r.RecordViolation(&Violation{
		ProtocolID: "p1", ConstraintID: "c-1", Severity: SeverityError, Message: "m",
	}))
	violations := r.Violations(true)
	require.Len(t, violations, 1)
	require.NoError(t, r.ResolveViolation(violations[0].ID, "fixed"))

	require.NoError(t, r.Delete("p1", "tester"))

	// Exactly one audit entry per successful mutation, in program order.
	entries := r.AuditLog(0)
	require.Len(t, entries, 7)
	wantActions := []AuditAction{
		AuditRegister, AuditActivate, AuditDeactivate, AuditUpdate,
		AuditViolation, AuditResolveViolation, AuditDelete,
	}
	for i, want := range wantActions {
		assert.Equal(t, want, entries[i].Action, "entry %d", i)
		assert.Equal(t, "p1", entries[i].ProtocolID, "entry %d", i)
	}
}

func TestRegistryBoundedGrowth(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(testProtocol("p1"), ""))

	for i := 0; i < maxViolations+10; i++ {
		require.NoError(t, r.RecordViolation(&Violation{
			ProtocolID: "p1", ConstraintID: "c-1",
			Severity: SeverityWarning, Message: fmt.Sprintf("v-%d", i),
		}))
	}

	got := r.Violations(false)
	require.Len(t, got, maxViolations)
	// Oldest entries dropped FIFO: the first survivor is v-10.
	assert.Equal(t, "v-10", got[0].Message)
}

func TestRegistryPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")

	r1, err := NewRegistry(path, logging.NopLogger())
	require.NoError(t, err)
	require.NoError(t, r1.Register(testProtocol("p1"), ""))
	require.NoError(t, r1.Activate("p1", ""))

	// A fresh registry over the same file sees the same state.
	r2, err := NewRegistry(path, logging.NopLogger())
	require.NoError(t, err)
	p, err := r2.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", p.Version)
	assert.True(t, r2.IsActive("p1"))

	t.Run("file mode", func(t *testing.T) {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})
}

func TestRegistryCorruptFileReadsAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{corrupt"), 0600))

	r, err := NewRegistry(path, logging.NopLogger())
	require.NoError(t, err)
	assert.Empty(t, r.List())
	assert.Empty(t, r.ActiveIDs())

	// The registry is usable after corruption.
	assert.NoError(t, r.Register(testProtocol("p1"), ""))
}
