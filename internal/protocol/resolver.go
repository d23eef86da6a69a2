package protocol

import (
	"sort"

	"overseer/internal/errors"
)

// Resolver answers dependency questions over a registry's protocols using
// the extends and requires edges. Cycles never error: traversal simply
// stops propagating through a node already on the current path.
type Resolver struct {
	registry *Registry
}

// NewResolver returns a Resolver over the given registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// dependencies returns the direct extends+requires edges of a protocol.
func dependencies(p *Protocol) []string {
	deps := make([]string, 0, len(p.Extends)+len(p.Requires))
	deps = append(deps, p.Extends...)
	deps = append(deps, p.Requires...)
	return deps
}

// ResolveChain returns the transitive dependency closure of id in
// topological order, dependencies first, with id itself last. Unknown
// references are skipped.
func (r *Resolver) ResolveChain(id string) ([]string, error) {
	if _, err := r.registry.Get(id); err != nil {
		return nil, err
	}

	var order []string
	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(string)
	visit = func(cur string) {
		if visited[cur] || visiting[cur] {
			return
		}
		p, err := r.registry.Get(cur)
		if err != nil {
			return
		}
		visiting[cur] = true
		for _, dep := range dependencies(p) {
			visit(dep)
		}
		visiting[cur] = false
		visited[cur] = true
		order = append(order, cur)
	}

	visit(id)
	return order, nil
}

// Dependents returns the ids of protocols that directly extend or require
// id, sorted for determinism.
func (r *Resolver) Dependents(id string) ([]string, error) {
	if _, err := r.registry.Get(id); err != nil {
		return nil, err
	}

	var out []string
	for _, p := range r.registry.List() {
		if p.ID == id {
			continue
		}
		for _, dep := range dependencies(p) {
			if dep == id {
				out = append(out, p.ID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// OrderForRegistration orders a set of protocols so that every protocol
// appears after its in-set dependencies. References outside the set are
// ignored; cycles within the set stop propagating without error. The
// relative order of independent protocols is their input order.
func OrderForRegistration(protocols []*Protocol) []*Protocol {
	byID := make(map[string]*Protocol, len(protocols))
	for _, p := range protocols {
		byID[p.ID] = p
	}

	var order []*Protocol
	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(*Protocol)
	visit = func(p *Protocol) {
		if visited[p.ID] || visiting[p.ID] {
			return
		}
		visiting[p.ID] = true
		for _, dep := range dependencies(p) {
			if depProto, ok := byID[dep]; ok {
				visit(depProto)
			}
		}
		visiting[p.ID] = false
		visited[p.ID] = true
		order = append(order, p)
	}

	for _, p := range protocols {
		visit(p)
	}
	return order
}

// ActivationChain returns the protocols that must be activated, in order,
// for id to become active: the requires-closure filtered to protocols not
// yet active. Extends edges do not force activation.
func (r *Resolver) ActivationChain(id string) ([]string, error) {
	p, err := r.registry.Get(id)
	if err != nil {
		return nil, err
	}

	var order []string
	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(*Protocol) error
	visit = func(cur *Protocol) error {
		if visited[cur.ID] || visiting[cur.ID] {
			return nil
		}
		visiting[cur.ID] = true
		for _, req := range cur.Requires {
			reqProto, err := r.registry.Get(req)
			if err != nil {
				return errors.NewProtocolError(
					"required protocol is not registered", errors.ErrProtocolNotFound).
					WithProtocolID(req)
			}
			if err := visit(reqProto); err != nil {
				return err
			}
		}
		visiting[cur.ID] = false
		visited[cur.ID] = true
		if !r.registry.IsActive(cur.ID) {
			order = append(order, cur.ID)
		}
		return nil
	}

	if err := visit(p); err != nil {
		return nil, err
	}
	return order, nil
}
