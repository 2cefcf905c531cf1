package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_TopLevel(t *testing.T) {
	path := writeTestConfig(t, `
unknown_section = "value"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section")
}

func TestLoad_UnknownKey_InSection(t *testing.T) {
	path := writeTestConfig(t, "[backup]\nretention_dayz = 4\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.Contains(t, err.Error(), "backup.retention_days")
}

func TestLoad_UnknownSection_Typo(t *testing.T) {
	path := writeTestConfig(t, `
[bakup]
root_dir = "/srv/backup"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "backup"`)
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `
[formats]
completely_unrelated_key = true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownKey_ReportsAll(t *testing.T) {
	path := writeTestConfig(t, `
[google]
domian = "example.com"

[retry]
atempts = 2
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google.domain")
	assert.Contains(t, err.Error(), "retry.attempts")
}

func TestEditDistance(t *testing.T) {
	for _, c := range []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "retry", 5},
		{"retry", "", 5},
		{"keep_dir", "keep_dirs", 1},
		{"exclusiv", "exclusive", 1},
		{"bakcend", "backend", 2},
		{"domain", "domain", 0},
		{"größe", "grosse", 3},
	} {
		assert.Equal(t, c.want, editDistance(c.a, c.b), "%q -> %q", c.a, c.b)
		assert.Equal(t, c.want, editDistance(c.b, c.a), "symmetric %q -> %q", c.b, c.a)
	}
}

func TestSuggest(t *testing.T) {
	known := []string{"keep_dirs", "keep_on_crash", "owner_only"}

	got, ok := suggest("keep_dir", known)
	require.True(t, ok)
	assert.Equal(t, "keep_dirs", got)

	got, ok = suggest("Owner_Only", known)
	require.True(t, ok)
	assert.Equal(t, "owner_only", got)

	_, ok = suggest("parallel_users", known)
	assert.False(t, ok)
}
