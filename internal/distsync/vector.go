// Package distsync synchronises protocol registries across orchestrator
// instances sharing a project directory. Instances exchange JSON message
// files over a shared sync directory, track causality with version vectors,
// and resolve concurrent edits deterministically.
package distsync

// Ordering is the causal relation between two version vectors.
type Ordering string

const (
	OrderEqual      Ordering = "equal"
	OrderBefore     Ordering = "before"
	OrderAfter      Ordering = "after"
	OrderConcurrent Ordering = "concurrent"
)

// VersionVector maps instance ids to the highest sequence number observed
// from each instance.
type VersionVector map[string]uint64

// NewVersionVector returns a vector starting at {self: 0}.
func NewVersionVector(self string) VersionVector {
	return VersionVector{self: 0}
}

// Clone returns an independent copy.
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for k, n := range v {
		out[k] = n
	}
	return out
}

// Increment bumps the component for id by one and returns the new value.
func (v VersionVector) Increment(id string) uint64 {
	v[id]++
	return v[id]
}

// Merge folds other into v componentwise, keeping the maximum of each
// component.
func (v VersionVector) Merge(other VersionVector) {
	for k, n := range other {
		if n > v[k] {
			v[k] = n
		}
	}
}

// Compare reports the causal relation of v to other. Missing components
// count as zero.
func (v VersionVector) Compare(other VersionVector) Ordering {
	vLess, vGreater := false, false

	for k, n := range v {
		o := other[k]
		if n < o {
			vLess = true
		} else if n > o {
			vGreater = true
		}
	}
	for k, o := range other {
		if _, ok := v[k]; !ok && o > 0 {
			vLess = true
		}
	}

	switch {
	case vLess && vGreater:
		return OrderConcurrent
	case vLess:
		return OrderBefore
	case vGreater:
		return OrderAfter
	default:
		return OrderEqual
	}
}
