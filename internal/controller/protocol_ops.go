package controller

import (
	"path/filepath"

	"overseer/internal/proposal"
	"overseer/internal/protocol"
	"overseer/internal/state"
)

// actor identifies controller-originated registry mutations in the audit
// log when the caller supplies no actor of their own.
const defaultActor = "controller"

func actorOr(actor string) string {
	if actor == "" {
		return defaultActor
	}
	return actor
}

// ProtocolRegister registers a protocol and broadcasts it to peers.
func (c *Controller) ProtocolRegister(p *protocol.Protocol, actor string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registry.Register(p, actorOr(actor)); err != nil {
		return fail(codeFor(err), err)
	}
	if c.syncer != nil {
		if err := c.syncer.BroadcastProtocolUpdate(p, ""); err != nil {
			c.logger.Warn("failed to broadcast protocol update", "protocol", p.ID, "error", err.Error())
		}
	}
	return ok(p)
}

// ProtocolUpdate replaces a registered protocol definition.
func (c *Controller) ProtocolUpdate(p *protocol.Protocol, actor string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous, err := c.registry.Get(p.ID)
	if err != nil {
		return fail(codeFor(err), err)
	}
	if err := c.registry.Update(p, actorOr(actor)); err != nil {
		return fail(codeFor(err), err)
	}
	if c.syncer != nil {
		if err := c.syncer.BroadcastProtocolUpdate(p, previous.Version); err != nil {
			c.logger.Warn("failed to broadcast protocol update", "protocol", p.ID, "error", err.Error())
		}
	}
	return ok(p)
}

// ProtocolActivate activates a protocol together with its required chain.
func (c *Controller) ProtocolActivate(id, actor string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	chain, err := c.resolver.ActivationChain(id)
	if err != nil {
		return fail(codeFor(err), err)
	}
	for _, pid := range chain {
		if err := c.registry.Activate(pid, actorOr(actor)); err != nil {
			return fail(codeFor(err), err)
		}
		if c.syncer != nil {
			if err := c.syncer.BroadcastActivationChange(pid, true); err != nil {
				c.logger.Warn("failed to broadcast activation", "protocol", pid, "error", err.Error())
			}
		}
	}
	return ok(map[string]any{"activated": chain})
}

// ProtocolDeactivate deactivates one protocol.
func (c *Controller) ProtocolDeactivate(id, actor string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registry.Deactivate(id, actorOr(actor)); err != nil {
		return fail(codeFor(err), err)
	}
	if c.syncer != nil {
		if err := c.syncer.BroadcastActivationChange(id, false); err != nil {
			c.logger.Warn("failed to broadcast deactivation", "protocol", id, "error", err.Error())
		}
	}
	return ok(map[string]any{"deactivated": id})
}

// ProtocolDelete removes a protocol from the registry.
func (c *Controller) ProtocolDelete(id, actor string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registry.Delete(id, actorOr(actor)); err != nil {
		return fail(codeFor(err), err)
	}
	if c.syncer != nil {
		if err := c.syncer.BroadcastProtocolDelete(id); err != nil {
			c.logger.Warn("failed to broadcast delete", "protocol", id, "error", err.Error())
		}
	}
	return ok(map[string]any{"deleted": id})
}

// ProtocolList returns every registered protocol.
func (c *Controller) ProtocolList() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ok(c.registry.List())
}

// ProtocolStatus summarises the registry: counts, active set, unresolved
// violations.
func (c *Controller) ProtocolStatus() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ok(map[string]any{
		"protocols":            len(c.registry.List()),
		"active":               c.registry.ActiveIDs(),
		"unresolvedViolations": len(c.registry.Violations(true)),
	})
}

// ProtocolValidateFeature runs pre-execution validation for one feature
// and reports the full validation result.
func (c *Controller) ProtocolValidateFeature(featureID string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	f := sess.Feature(featureID)
	if f == nil {
		return failMsg(CodeInvalidArgs, "unknown feature "+featureID)
	}
	return ok(c.enforcer.ValidatePreExecution(evalContextFor(sess, f)))
}

// ViolationGet lists violations, optionally only unresolved ones.
func (c *Controller) ViolationGet(unresolvedOnly bool) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ok(c.registry.Violations(unresolvedOnly))
}

// ViolationResolve marks a violation resolved.
func (c *Controller) ViolationResolve(id, resolution string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registry.ResolveViolation(id, resolution); err != nil {
		return fail(codeFor(err), err)
	}
	return ok(map[string]any{"resolved": id})
}

// AuditGet returns the newest limit audit entries.
func (c *Controller) AuditGet(limit int) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ok(c.registry.AuditLog(limit))
}

// ProposalSubmit files a new protocol proposal.
func (c *Controller) ProposalSubmit(req proposal.SubmitRequest) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.proposals.Submit(req)
	if err != nil {
		return fail(codeFor(err), err)
	}
	return ok(p)
}

// ProposalReview moves a proposal into review.
func (c *Controller) ProposalReview(id, reviewer string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.proposals.Review(id, reviewer)
	if err != nil {
		return fail(codeFor(err), err)
	}
	return ok(p)
}

// ProposalApprove approves a proposal, registering its protocol. The
// registered protocol is broadcast to peers.
func (c *Controller) ProposalApprove(id, actor string, modifications *protocol.Protocol) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.proposals.Approve(id, actorOr(actor), modifications)
	if err != nil {
		return fail(codeFor(err), err)
	}
	if c.syncer != nil {
		target := p.Protocol
		if p.Modifications != nil {
			target = p.Modifications
		}
		if err := c.syncer.BroadcastProtocolUpdate(target, ""); err != nil {
			c.logger.Warn("failed to broadcast approved protocol", "proposal", id, "error", err.Error())
		}
	}
	return ok(p)
}

// ProposalReject rejects a proposal with a reason.
func (c *Controller) ProposalReject(id, actor, reason string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.proposals.Reject(id, actorOr(actor), reason)
	if err != nil {
		return fail(codeFor(err), err)
	}
	return ok(p)
}

// ProposalList lists proposals, optionally filtered by status.
func (c *Controller) ProposalList(status proposal.Status) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	list, err := c.proposals.List(status)
	if err != nil {
		return fail(CodeError, err)
	}
	return ok(list)
}

// BaseConstraintsGet returns the immutable base constraint document.
func (c *Controller) BaseConstraintsGet() *Result {
	return ok(c.proposals.BaseConstraints())
}

// ProtocolsExport writes the named protocols (or all, for empty ids) to a
// bundle file and returns its path.
func (c *Controller) ProtocolsExport(ids []string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	source := ""
	if c.syncer != nil {
		source = c.syncer.InstanceID()
	}
	bundle, err := protocol.ExportBundle(c.registry, ids, source)
	if err != nil {
		return fail(codeFor(err), err)
	}

	path := c.layout.ExportPath(bundle.BundleID)
	if err := protocol.WriteBundle(path, bundle); err != nil {
		return fail(CodeError, err)
	}
	return ok(map[string]any{"bundleId": bundle.BundleID, "path": path, "protocols": len(bundle.Protocols)})
}

// ProtocolsImport reads a bundle file and registers or updates its
// protocols in dependency order. The bundle path must resolve inside the
// project directory.
func (c *Controller) ProtocolsImport(path string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	resolved, err := state.ResolveInside(c.layout.ProjectDir(), path)
	if err != nil {
		return fail(CodeInvalidArgs, err)
	}
	bundle, err := protocol.ReadBundle(resolved)
	if err != nil {
		return fail(CodeInvalidArgs, err)
	}
	report, err := protocol.ImportBundle(c.registry, bundle, defaultActor)
	if err != nil {
		return fail(codeFor(err), err)
	}
	return ok(report)
}

// ProtocolsDiscover lists the bundle files available for import.
func (c *Controller) ProtocolsDiscover() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths, err := protocol.DiscoverBundles(c.layout.ExportsDir())
	if err != nil {
		return fail(CodeError, err)
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return ok(map[string]any{"bundles": names, "dir": c.layout.ExportsDir()})
}

// ProtocolsSync requests a full sync from peers and drains the inbox.
func (c *Controller) ProtocolsSync() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.syncer == nil {
		return failMsg(CodeError, "sync is not enabled for this controller")
	}
	if err := c.syncer.RequestSync(nil); err != nil {
		return fail(CodeError, err)
	}
	handled := c.syncer.ProcessMessages()
	return ok(map[string]any{
		"handled":   handled,
		"instances": c.syncer.Instances(),
	})
}
