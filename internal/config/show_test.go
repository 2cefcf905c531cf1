package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Google.Domain = "example.com"
	cfg.Google.AdminLogin = "admin"
	cfg.Google.KeyFile = "/etc/drivevault/key.json"
	cfg.Backup.RootDir = "/srv/backup"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, &buf))

	output := buf.String()
	for _, section := range []string{"[google]", "[backup]", "[formats]", "[retry]", "[logging]", "[network]"} {
		assert.Contains(t, output, section)
	}

	assert.Contains(t, output, `domain      = "example.com"`)
	assert.Contains(t, output, `root_dir         = "/srv/backup"`)
	assert.Contains(t, output, `backend          = "plain"`)
	assert.Contains(t, output, "parallel_users   = 1")
	assert.NotContains(t, output, "compression")
	assert.NotContains(t, output, "spool_dir")
	assert.NotContains(t, output, "user_agent")
}

func TestRenderEffective_ArchiveShowsCompression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backup.Backend = "archive"
	cfg.Backup.Compression = "bzip2"
	cfg.Backup.SpoolDir = "/var/tmp/dv"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, &buf))

	assert.Contains(t, buf.String(), `compression      = "bzip2"`)
	assert.Contains(t, buf.String(), `spool_dir        = "/var/tmp/dv"`)
}

func TestRenderEffective_Formats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Formats.Preferred = []string{"pdf"}
	cfg.Formats.Exclusive = []string{"pdf", "docx"}

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, &buf))

	assert.Contains(t, buf.String(), `preferred = ["pdf"]`)
	assert.Contains(t, buf.String(), `exclusive = ["pdf", "docx"]`)
}

type failingWriter struct{ writes int }

func (w *failingWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("disk full")
}

func TestRenderEffective_WriteError(t *testing.T) {
	w := &failingWriter{}

	err := RenderEffective(DefaultConfig(), w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, w.writes, "writes after the first error are skipped")
}

func TestJoinQuoted(t *testing.T) {
	assert.Equal(t, "", joinQuoted(nil))
	assert.Equal(t, `"a", "b"`, joinQuoted([]string{"a", "b"}))
}
