package proposal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"overseer/internal/errors"
	"overseer/internal/logging"
	"overseer/internal/protocol"
	"overseer/internal/state"
	"overseer/internal/util"
)

// proposalTTL is how long a proposal waits for a decision before expiring.
const proposalTTL = 7 * 24 * time.Hour

// defaultPriority applies when a submission does not state one.
const defaultPriority = 50

// Manager owns proposals: one JSON file per proposal under the proposals
// directory. Decisions are audited through the protocol registry.
type Manager struct {
	dir      string
	registry *protocol.Registry
	base     BaseConstraints
	logger   *logging.Logger

	mu sync.Mutex
}

// NewManager returns a Manager persisting under dir.
func NewManager(dir string, registry *protocol.Registry, base BaseConstraints, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{dir: dir, registry: registry, base: base, logger: logger}
}

// BaseConstraints returns the safety document proposals are validated
// against.
func (m *Manager) BaseConstraints() BaseConstraints { return m.base }

// SubmitRequest carries everything needed to submit a proposal.
type SubmitRequest struct {
	Protocol    *protocol.Protocol
	Source      Source
	Description string
	Rationale   string
	Priority    int // 0 means default
	SubmittedBy string
}

// Submit validates and stores a new proposal. Structurally malformed
// protocols are rejected outright; base-constraint findings are recorded on
// the proposal instead.
func (m *Manager) Submit(req SubmitRequest) (*Proposal, error) {
	if req.Protocol == nil {
		return nil, errors.NewValidationError("proposal protocol is required")
	}
	if err := protocol.ValidateDefinition(req.Protocol); err != nil {
		return nil, err
	}
	switch req.Source {
	case SourceLLM, SourceUser, SourceSystem, SourceImport:
	default:
		return nil, errors.NewValidationError("unknown proposal source").
			WithField("source").WithValue(string(req.Source))
	}
	priority := req.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	if priority < 0 || priority > 100 {
		return nil, errors.NewValidationError("proposal priority outside [0,100]").
			WithField("priority").WithValue(fmt.Sprintf("%d", priority))
	}

	now := time.Now().UTC()
	p := &Proposal{
		ID:          uuid.NewString(),
		Protocol:    req.Protocol,
		Source:      req.Source,
		Description: req.Description,
		Rationale:   req.Rationale,
		Priority:    priority,
		SubmittedAt: now.Format(time.RFC3339),
		SubmittedBy: req.SubmittedBy,
		ExpiresAt:   now.Add(proposalTTL).Format(time.RFC3339),
		Status:      StatusPending,
		Validation:  validate(req.Protocol, m.base),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.persist(p); err != nil {
		return nil, err
	}
	m.logger.Info("proposal submitted",
		"proposal", p.ID, "protocol", req.Protocol.ID,
		"valid", p.Validation.IsValid, "risk", string(p.Validation.Risk.RiskLevel))
	return p, nil
}

// Get returns one proposal, sweeping it to expired first when overdue.
func (m *Manager) Get(id string) (*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id)
}

// List returns proposals, optionally filtered by status, sorted by
// submission time then id. Overdue proposals are swept to expired.
func (m *Manager) List(status Status) ([]*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read proposals directory")
	}

	var out []*Proposal
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		p, err := m.load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			m.logger.Warn("skipping unreadable proposal file",
				"file", entry.Name(), "error", err.Error())
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt != out[j].SubmittedAt {
			return out[i].SubmittedAt < out[j].SubmittedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Review moves a pending proposal into the reviewing state.
func (m *Manager) Review(id, reviewer string) (*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, errors.NewValidationError(
			fmt.Sprintf("proposal is %s, only pending proposals can enter review", p.Status)).
			WithField("id").WithValue(id)
	}
	p.Status = StatusReviewing
	p.ReviewedBy = reviewer
	if err := m.persist(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Approve registers the proposal's protocol (or the supplied modified
// version) in the registry and marks the proposal approved. Proposals with
// failing validation cannot be approved.
func (m *Manager) Approve(id, actor string, modifications *protocol.Protocol) (*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending && p.Status != StatusReviewing {
		return nil, errors.NewValidationError(
			fmt.Sprintf("proposal is %s and cannot be approved", p.Status)).
			WithField("id").WithValue(id)
	}

	target := p.Protocol
	if modifications != nil {
		if err := protocol.ValidateDefinition(modifications); err != nil {
			return nil, err
		}
		v := validate(modifications, m.base)
		if !v.IsValid {
			return nil, errors.NewValidationError(
				"modified protocol still fails base-constraint validation")
		}
		target = modifications
		p.Modifications = modifications
	} else if !p.Validation.IsValid {
		return nil, errors.NewValidationError(
			"proposal failed validation and cannot be approved without modifications")
	}

	if err := m.registry.Register(target, actor); err != nil {
		return nil, err
	}

	p.Status = StatusApproved
	p.ReviewedAt = state.Timestamp()
	p.ReviewedBy = actor
	if err := m.persist(p); err != nil {
		return nil, err
	}
	if err := m.registry.RecordAudit(protocol.AuditProposalApprove, target.ID,
		fmt.Sprintf("proposal %s approved", p.ID), actor); err != nil {
		m.logger.Warn("failed to audit proposal approval", "proposal", p.ID, "error", err.Error())
	}
	m.logger.Info("proposal approved", "proposal", p.ID, "protocol", target.ID)
	return p, nil
}

// Reject marks the proposal rejected with the given reason.
func (m *Manager) Reject(id, actor, reason string) (*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending && p.Status != StatusReviewing {
		return nil, errors.NewValidationError(
			fmt.Sprintf("proposal is %s and cannot be rejected", p.Status)).
			WithField("id").WithValue(id)
	}

	p.Status = StatusRejected
	p.ReviewedAt = state.Timestamp()
	p.ReviewedBy = actor
	p.ReviewReason = reason
	if err := m.persist(p); err != nil {
		return nil, err
	}
	if err := m.registry.RecordAudit(protocol.AuditProposalReject, p.Protocol.ID,
		fmt.Sprintf("proposal %s rejected: %s", p.ID, reason), actor); err != nil {
		m.logger.Warn("failed to audit proposal rejection", "proposal", p.ID, "error", err.Error())
	}
	m.logger.Info("proposal rejected", "proposal", p.ID, "reason", reason)
	return p, nil
}

// load reads one proposal file and applies the expiry sweep. The caller must
// hold the mutex.
func (m *Manager) load(id string) (*Proposal, error) {
	var p Proposal
	if err := util.ReadJSONFile(m.path(id), &p); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("proposal", id)
		}
		return nil, errors.Wrap(err, "failed to read proposal")
	}

	if p.Status == StatusPending || p.Status == StatusReviewing {
		if expiry, err := time.Parse(time.RFC3339, p.ExpiresAt); err == nil && time.Now().UTC().After(expiry) {
			p.Status = StatusExpired
			if err := m.persist(&p); err != nil {
				return nil, err
			}
			m.logger.Info("proposal expired", "proposal", p.ID)
		}
	}
	return &p, nil
}

// persist writes one proposal file. The caller must hold the mutex.
func (m *Manager) persist(p *Proposal) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create proposals directory")
	}
	return util.WriteJSONFile(m.path(p.ID), p, 0600)
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+".json")
}
