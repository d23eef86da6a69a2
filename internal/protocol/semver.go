package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"overseer/internal/errors"
)

// parseVersion splits a semver string into its three integer components.
// Pre-release or build suffixes are not accepted; protocol versions are
// plain MAJOR.MINOR.PATCH.
func parseVersion(v string) ([3]int, error) {
	var out [3]int
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return out, errors.Wrapf(errors.ErrInvalidVersion, "version %q", v)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || (len(p) > 1 && p[0] == '0') {
			return out, errors.Wrapf(errors.ErrInvalidVersion, "version %q", v)
		}
		out[i] = n
	}
	return out, nil
}

// ValidateVersion checks that v is a well-formed protocol version.
func ValidateVersion(v string) error {
	_, err := parseVersion(v)
	return err
}

// CompareVersions orders two semver strings component-wise: -1 if a < b,
// 0 if equal, +1 if a > b. Malformed versions compare as lexicographic
// strings so the ordering stays total.
func CompareVersions(a, b string) int {
	va, errA := parseVersion(a)
	vb, errB := parseVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	for i := 0; i < 3; i++ {
		switch {
		case va[i] < vb[i]:
			return -1
		case va[i] > vb[i]:
			return 1
		}
	}
	return 0
}

// BumpPatch returns v with its patch component incremented.
func BumpPatch(v string) (string, error) {
	parts, err := parseVersion(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d.%d", parts[0], parts[1], parts[2]+1), nil
}
