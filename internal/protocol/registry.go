package protocol

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"overseer/internal/errors"
	"overseer/internal/logging"
	"overseer/internal/state"
	"overseer/internal/util"
)

const (
	// maxViolations caps the stored violation history.
	maxViolations = 1000
	// maxAuditEntries caps the stored audit log.
	maxAuditEntries = 5000
)

// registryDoc is the on-disk shape of the registry file.
type registryDoc struct {
	Protocols       map[string]*Protocol `json:"protocols"`
	ActiveProtocols []string             `json:"activeProtocols"`
	Violations      []*Violation         `json:"violations"`
	AuditLog        []*AuditEntry        `json:"auditLog"`
	LastUpdated     string               `json:"lastUpdated"`
}

func newRegistryDoc() *registryDoc {
	return &registryDoc{
		Protocols:       make(map[string]*Protocol),
		ActiveProtocols: make([]string, 0),
		Violations:      make([]*Violation, 0),
		AuditLog:        make([]*AuditEntry, 0),
	}
}

// Registry owns protocols, violations and audit entries. Every mutation is
// audited and persisted atomically. A corrupt registry file reads as an
// empty registry, logged once.
type Registry struct {
	path   string
	logger *logging.Logger

	mu  sync.Mutex
	doc *registryDoc
}

// NewRegistry loads (or initialises) the registry stored at path.
func NewRegistry(path string, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	r := &Registry{
		path:   path,
		logger: logger,
		doc:    newRegistryDoc(),
	}

	var doc registryDoc
	err := util.ReadJSONFile(path, &doc)
	switch {
	case err == nil:
		if doc.Protocols == nil {
			doc.Protocols = make(map[string]*Protocol)
		}
		r.doc = &doc
	case os.IsNotExist(err):
		// First run: empty registry.
	default:
		logger.Warn("registry file unreadable, starting with empty registry",
			"path", path, "error", err.Error())
	}

	return r, nil
}

// persist writes the registry document, truncating bounded arrays first.
// The caller must hold the mutex.
func (r *Registry) persist() error {
	if n := len(r.doc.Violations); n > maxViolations {
		r.doc.Violations = r.doc.Violations[n-maxViolations:]
	}
	if n := len(r.doc.AuditLog); n > maxAuditEntries {
		r.doc.AuditLog = r.doc.AuditLog[n-maxAuditEntries:]
	}
	r.doc.LastUpdated = state.Timestamp()
	return util.WriteJSONFile(r.path, r.doc, 0600)
}

// audit appends an audit entry. The caller must hold the mutex and follow
// with persist.
func (r *Registry) audit(action AuditAction, protocolID, details, actor string) {
	r.doc.AuditLog = append(r.doc.AuditLog, &AuditEntry{
		ID:         uuid.NewString(),
		Timestamp:  state.Timestamp(),
		Action:     action,
		ProtocolID: protocolID,
		Details:    details,
		Actor:      actor,
	})
}

// ValidateDefinition checks structural validity of a protocol definition
// without touching the registry.
func ValidateDefinition(p *Protocol) error { return validateProtocol(p) }

// validateProtocol checks structural validity of a protocol definition.
func validateProtocol(p *Protocol) error {
	if err := state.ValidateID(p.ID); err != nil {
		return errors.NewProtocolError("invalid protocol id", err).WithProtocolID(p.ID)
	}
	if err := ValidateVersion(p.Version); err != nil {
		return errors.NewProtocolError("invalid protocol version", err).WithProtocolID(p.ID)
	}
	if p.Name == "" {
		return errors.NewProtocolError("protocol name is required", errors.ErrInvalidInput).
			WithProtocolID(p.ID)
	}
	if p.Priority < 0 || p.Priority > 1000 {
		return errors.NewProtocolError(
			fmt.Sprintf("priority %d outside [0,1000]", p.Priority), errors.ErrInvalidInput).
			WithProtocolID(p.ID)
	}
	seen := make(map[string]bool)
	for i := range p.Constraints {
		c := &p.Constraints[i]
		if c.ID == "" {
			return errors.NewProtocolError("constraint id is required", errors.ErrInvalidInput).
				WithProtocolID(p.ID)
		}
		if seen[c.ID] {
			return errors.NewProtocolError(
				fmt.Sprintf("duplicate constraint id %q", c.ID), errors.ErrInvalidInput).
				WithProtocolID(p.ID)
		}
		seen[c.ID] = true
		switch c.Type {
		case ConstraintToolRestriction, ConstraintFileAccess, ConstraintOutputFormat,
			ConstraintBehavioral, ConstraintTemporal, ConstraintResource, ConstraintSideEffect:
		default:
			return errors.NewProtocolError(
				fmt.Sprintf("unknown constraint type %q", c.Type), errors.ErrInvalidInput).
				WithProtocolID(p.ID).WithConstraintID(c.ID)
		}
		switch c.Severity {
		case SeverityError, SeverityWarning, SeverityInfo:
		default:
			return errors.NewProtocolError(
				fmt.Sprintf("unknown severity %q", c.Severity), errors.ErrInvalidInput).
				WithProtocolID(p.ID).WithConstraintID(c.ID)
		}
	}
	return nil
}

// Register adds a new protocol. The protocol's extends/requires references
// must already be registered, and the protocol must not conflict with any
// currently active protocol.
func (r *Registry) Register(p *Protocol, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := validateProtocol(p); err != nil {
		return err
	}
	if _, exists := r.doc.Protocols[p.ID]; exists {
		return errors.NewAlreadyExistsError("protocol", p.ID)
	}

	for _, ref := range append(append([]string{}, p.Extends...), p.Requires...) {
		if _, ok := r.doc.Protocols[ref]; !ok {
			return errors.NewProtocolError(
				fmt.Sprintf("referenced protocol %q is not registered", ref),
				errors.ErrProtocolNotFound).WithProtocolID(p.ID)
		}
	}

	for _, activeID := range r.doc.ActiveProtocols {
		if active := r.doc.Protocols[activeID]; active != nil && p.ConflictsWith(active) {
			return errors.NewProtocolError(
				fmt.Sprintf("conflicts with active protocol %q", activeID),
				errors.ErrProtocolConflict).WithProtocolID(p.ID)
		}
	}

	if p.CreatedAt == "" {
		p.CreatedAt = state.Timestamp()
	}
	r.doc.Protocols[p.ID] = p
	r.audit(AuditRegister, p.ID, fmt.Sprintf("registered %s v%s", p.Name, p.Version), actor)
	return r.persist()
}

// Update replaces an existing protocol definition.
func (r *Registry) Update(p *Protocol, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.doc.Protocols[p.ID]
	if !ok {
		return errors.NewNotFoundError("protocol", p.ID).WithCause(errors.ErrProtocolNotFound)
	}
	if err := validateProtocol(p); err != nil {
		return err
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = state.Timestamp()
	r.doc.Protocols[p.ID] = p
	r.audit(AuditUpdate, p.ID, fmt.Sprintf("updated to v%s", p.Version), actor)
	return r.persist()
}

// Activate adds a protocol to the active set. The protocol must not
// conflict with any active protocol and all of its required protocols
// must already be active.
func (r *Registry) Activate(id, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.doc.Protocols[id]
	if !ok {
		return errors.NewNotFoundError("protocol", id).WithCause(errors.ErrProtocolNotFound)
	}
	if r.isActive(id) {
		return errors.NewAlreadyExistsError("active protocol", id)
	}
	if !p.Enabled {
		return errors.NewProtocolError("cannot activate a disabled protocol",
			errors.ErrInvalidInput).WithProtocolID(id)
	}

	for _, activeID := range r.doc.ActiveProtocols {
		if active := r.doc.Protocols[activeID]; active != nil && p.ConflictsWith(active) {
			return errors.NewProtocolError(
				fmt.Sprintf("conflicts with active protocol %q", activeID),
				errors.ErrProtocolConflict).WithProtocolID(id)
		}
	}

	for _, req := range p.Requires {
		if !r.isActive(req) {
			return errors.NewProtocolError(
				fmt.Sprintf("required protocol %q is not active", req),
				errors.ErrProtocolRequired).WithProtocolID(id)
		}
	}

	r.doc.ActiveProtocols = append(r.doc.ActiveProtocols, id)
	r.audit(AuditActivate, id, "activated", actor)
	return r.persist()
}

// Deactivate removes a protocol from the active set. Denied while another
// active protocol requires it.
func (r *Registry) Deactivate(id, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.doc.Protocols[id]; !ok {
		return errors.NewNotFoundError("protocol", id).WithCause(errors.ErrProtocolNotFound)
	}
	if !r.isActive(id) {
		return errors.NewProtocolError("protocol is not active", errors.ErrInvalidInput).
			WithProtocolID(id)
	}

	for _, activeID := range r.doc.ActiveProtocols {
		if activeID == id {
			continue
		}
		if active := r.doc.Protocols[activeID]; active != nil {
			for _, req := range active.Requires {
				if req == id {
					return errors.NewProtocolError(
						fmt.Sprintf("active protocol %q requires it", activeID),
						errors.ErrProtocolRequired).WithProtocolID(id)
				}
			}
		}
	}

	filtered := r.doc.ActiveProtocols[:0]
	for _, activeID := range r.doc.ActiveProtocols {
		if activeID != id {
			filtered = append(filtered, activeID)
		}
	}
	r.doc.ActiveProtocols = filtered
	r.audit(AuditDeactivate, id, "deactivated", actor)
	return r.persist()
}

// Delete removes a protocol entirely. Denied while any other protocol
// extends or requires it.
func (r *Registry) Delete(id, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.doc.Protocols[id]; !ok {
		return errors.NewNotFoundError("protocol", id).WithCause(errors.ErrProtocolNotFound)
	}

	for otherID, other := range r.doc.Protocols {
		if otherID == id {
			continue
		}
		for _, ref := range append(append([]string{}, other.Extends...), other.Requires...) {
			if ref == id {
				return errors.NewProtocolError(
					fmt.Sprintf("protocol %q references it", otherID),
					errors.ErrProtocolReferenced).WithProtocolID(id)
			}
		}
	}

	delete(r.doc.Protocols, id)
	filtered := r.doc.ActiveProtocols[:0]
	for _, activeID := range r.doc.ActiveProtocols {
		if activeID != id {
			filtered = append(filtered, activeID)
		}
	}
	r.doc.ActiveProtocols = filtered
	r.audit(AuditDelete, id, "deleted", actor)
	return r.persist()
}

// Get returns a protocol by id.
func (r *Registry) Get(id string) (*Protocol, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.doc.Protocols[id]
	if !ok {
		return nil, errors.NewNotFoundError("protocol", id).WithCause(errors.ErrProtocolNotFound)
	}
	return p, nil
}

// List returns all registered protocols sorted by id.
func (r *Registry) List() []*Protocol {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Protocol, 0, len(r.doc.Protocols))
	for _, p := range r.doc.Protocols {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveIDs returns the ids of active protocols in activation order.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.doc.ActiveProtocols...)
}

// ActiveProtocols returns the active protocols sorted by descending
// priority. Ties keep activation order.
func (r *Registry) ActiveProtocols() []*Protocol {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Protocol, 0, len(r.doc.ActiveProtocols))
	for _, id := range r.doc.ActiveProtocols {
		if p, ok := r.doc.Protocols[id]; ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// IsActive reports whether a protocol is in the active set.
func (r *Registry) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isActive(id)
}

func (r *Registry) isActive(id string) bool {
	for _, activeID := range r.doc.ActiveProtocols {
		if activeID == id {
			return true
		}
	}
	return false
}

// RecordViolation appends a violation, assigning id and timestamp when
// absent, and audits it. Violation history is capped FIFO.
func (r *Registry) RecordViolation(v *Violation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Timestamp == "" {
		v.Timestamp = state.Timestamp()
	}
	r.doc.Violations = append(r.doc.Violations, v)
	r.audit(AuditViolation, v.ProtocolID,
		fmt.Sprintf("constraint %s: %s", v.ConstraintID, v.Message), "")
	return r.persist()
}

// ResolveViolation marks a violation resolved.
func (r *Registry) ResolveViolation(id, resolution string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range r.doc.Violations {
		if v.ID != id {
			continue
		}
		if v.Resolved {
			return errors.NewValidationError("violation already resolved").WithField("id").WithValue(id)
		}
		v.Resolved = true
		v.ResolvedAt = state.Timestamp()
		v.Resolution = resolution
		r.audit(AuditResolveViolation, v.ProtocolID, resolution, "")
		return r.persist()
	}
	return errors.NewNotFoundError("violation", id)
}

// Violations returns recorded violations, optionally only unresolved ones.
func (r *Registry) Violations(unresolvedOnly bool) []*Violation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Violation, 0, len(r.doc.Violations))
	for _, v := range r.doc.Violations {
		if unresolvedOnly && v.Resolved {
			continue
		}
		out = append(out, v)
	}
	return out
}

// RecordAudit appends an audit entry for a decision made outside the
// registry's own mutations, such as a proposal approval or rejection.
func (r *Registry) RecordAudit(action AuditAction, protocolID, details, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.audit(action, protocolID, details, actor)
	return r.persist()
}

// AuditLog returns the newest limit audit entries (all when limit <= 0).
func (r *Registry) AuditLog(limit int) []*AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.doc.AuditLog
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]*AuditEntry(nil), entries...)
}
