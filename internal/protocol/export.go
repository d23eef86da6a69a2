package protocol

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"overseer/internal/errors"
	"overseer/internal/state"
	"overseer/internal/util"
)

// Bundle is a self-contained collection of protocols for cross-instance
// distribution. RegistrationOrder lists the contained protocol ids with
// dependencies before dependents so an importer can register them in one
// pass.
type Bundle struct {
	BundleID          string      `json:"bundleId"`
	CreatedAt         string      `json:"createdAt"`
	SourceInstance    string      `json:"sourceInstance,omitempty"`
	Protocols         []*Protocol `json:"protocols"`
	RegistrationOrder []string    `json:"registrationOrder"`
	ActiveProtocols   []string    `json:"activeProtocols,omitempty"`
}

// ImportReport summarises what an import changed.
type ImportReport struct {
	Registered []string `json:"registered,omitempty"`
	Updated    []string `json:"updated,omitempty"`
	Skipped    []string `json:"skipped,omitempty"`
}

// ExportBundle builds a bundle from the registry. With no ids, every
// registered protocol is included. Requested ids must exist.
func ExportBundle(r *Registry, ids []string, sourceInstance string) (*Bundle, error) {
	var protos []*Protocol
	if len(ids) == 0 {
		protos = r.List()
	} else {
		for _, id := range ids {
			p, err := r.Get(id)
			if err != nil {
				return nil, err
			}
			protos = append(protos, p)
		}
	}

	ordered := OrderForRegistration(protos)
	order := make([]string, len(ordered))
	for i, p := range ordered {
		order[i] = p.ID
	}

	var active []string
	for _, id := range r.ActiveIDs() {
		for _, p := range ordered {
			if p.ID == id {
				active = append(active, id)
				break
			}
		}
	}

	return &Bundle{
		BundleID:          uuid.NewString(),
		CreatedAt:         state.Timestamp(),
		SourceInstance:    sourceInstance,
		Protocols:         ordered,
		RegistrationOrder: order,
		ActiveProtocols:   active,
	}, nil
}

// WriteBundle persists a bundle atomically.
func WriteBundle(path string, b *Bundle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create exports directory")
	}
	return util.WriteJSONFile(path, b, 0600)
}

// ReadBundle loads and structurally validates a bundle file.
func ReadBundle(path string) (*Bundle, error) {
	var b Bundle
	if err := util.ReadJSONFile(path, &b); err != nil {
		return nil, errors.Wrap(err, "failed to read bundle")
	}
	if len(b.Protocols) == 0 {
		return nil, errors.NewValidationError("bundle contains no protocols")
	}
	for _, p := range b.Protocols {
		if err := validateProtocol(p); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

// ImportBundle registers the bundle's protocols in registration order.
// Unknown protocols are registered; known protocols are updated only when
// the bundle carries a strictly newer version, otherwise skipped.
func ImportBundle(r *Registry, b *Bundle, actor string) (*ImportReport, error) {
	byID := make(map[string]*Protocol, len(b.Protocols))
	for _, p := range b.Protocols {
		byID[p.ID] = p
	}

	// Honour the declared order; fall back to computing one if absent.
	order := b.RegistrationOrder
	if len(order) == 0 {
		for _, p := range OrderForRegistration(b.Protocols) {
			order = append(order, p.ID)
		}
	}

	report := &ImportReport{}
	for _, id := range order {
		p, ok := byID[id]
		if !ok {
			continue
		}

		existing, err := r.Get(id)
		if err != nil {
			if regErr := r.Register(p, actor); regErr != nil {
				return report, regErr
			}
			report.Registered = append(report.Registered, id)
			continue
		}

		if CompareVersions(p.Version, existing.Version) > 0 {
			if updErr := r.Update(p, actor); updErr != nil {
				return report, updErr
			}
			report.Updated = append(report.Updated, id)
		} else {
			report.Skipped = append(report.Skipped, id)
		}
	}
	return report, nil
}

// DiscoverBundles lists the bundle files present in an exports directory,
// sorted by name. A missing directory means no bundles.
func DiscoverBundles(exportsDir string) ([]string, error) {
	entries, err := os.ReadDir(exportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read exports directory")
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(exportsDir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
