package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/internal/errors"
)

func TestValidateVersion(t *testing.T) {
	valid := []string{"0.0.0", "1.0.0", "1.2.3", "10.20.30"}
	for _, v := range valid {
		assert.NoError(t, ValidateVersion(v), v)
	}

	invalid := []string{"", "1", "1.2", "1.2.3.4", "v1.2.3", "1.2.x", "1.02.3", "-1.0.0", "1.0.0-beta"}
	for _, v := range invalid {
		err := ValidateVersion(v)
		require.Error(t, err, v)
		assert.True(t, errors.Is(err, errors.ErrInvalidVersion), v)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.0.1", "1.0.0", 1},
		{"1.2.0", "1.10.0", -1}, // component-wise, not lexicographic
		{"2.0.0", "1.99.99", 1},
		{"0.9.0", "0.10.0", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestBumpPatch(t *testing.T) {
	v, err := BumpPatch("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "1.2.4", v)

	_, err = BumpPatch("nope")
	assert.Error(t, err)
}
