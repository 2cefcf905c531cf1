package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivevault/internal/backend"
	"github.com/tonimelisma/drivevault/internal/backup"
	"github.com/tonimelisma/drivevault/internal/catalog"
)

func TestPrincipalsFromFlags(t *testing.T) {
	principals, err := principalsFromFlags(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, principals)

	principals, err = principalsFromFlags([]string{"alice", "bob", "alice"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []backup.Principal{{Login: "alice"}, {Login: "bob"}}, principals)

	principals, err = principalsFromFlags([]string{"alice"}, []string{"d1", "d2"})
	require.NoError(t, err)
	assert.Equal(t, []backup.Principal{{Login: "alice", DocIDs: []string{"d1", "d2"}}}, principals)
}

func TestPrincipalsFromFlags_DocsNeedOneUser(t *testing.T) {
	_, err := principalsFromFlags(nil, []string{"d1"})
	require.ErrorIs(t, err, backup.ErrDocsNeedOneUser)

	_, err = principalsFromFlags([]string{"alice", "bob"}, []string{"d1"})
	require.ErrorIs(t, err, backup.ErrDocsNeedOneUser)
}

func TestBackupCmd_DocsWithoutUserFailsEarly(t *testing.T) {
	dir := t.TempDir()
	path := writeCLIConfig(t, dir+"/root", dir+"/catalog.db", "")

	_, err := runCLI(t, "--config", path, "backup", "--doc", "d1")
	require.ErrorIs(t, err, backup.ErrDocsNeedOneUser)
}

func TestBackupCmd_MissingGoogleSettings(t *testing.T) {
	dir := t.TempDir()
	path := writeCLIConfig(t, dir+"/root", dir+"/catalog.db", "")

	_, err := runCLI(t, "--config", path, "backup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google.domain: required but not set")
}

func sampleReport() *backup.RunReport {
	return &backup.RunReport{
		RunID:   "run-1",
		Session: "2024-06-01T120000Z",
		Status:  catalog.StatusCompleted,
		Principals: []backup.PrincipalStats{
			{Login: "alice", Documents: 3, Skipped: 1, Bytes: 2048},
			{Login: "bob", Documents: 2, Unrecoverable: 1, Bytes: 1024},
		},
		Prune: backend.PruneReport{
			Pruned: []backend.PrunedEntry{{Session: "2024-04-01T120000Z", Login: "alice"}},
		},
		Duration: 1500 * time.Millisecond,
	}
}

func TestPrintBackupReport(t *testing.T) {
	var buf bytes.Buffer

	printBackupReport(&buf, sampleReport())

	out := buf.String()
	assert.Contains(t, out, "LOGIN")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "3.0 KiB")
	assert.Contains(t, out, "pruned alice from 2024-04-01T120000Z")
}

func TestPrintBackupReport_NoneCompleted(t *testing.T) {
	var buf bytes.Buffer

	printBackupReport(&buf, &backup.RunReport{Status: catalog.StatusFailed})
	assert.Equal(t, "No users completed.\n", buf.String())
}

func TestNewBackupOutput(t *testing.T) {
	out := newBackupOutput(sampleReport(), errors.New("boom"))

	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, int64(1500), out.DurationMS)
	require.Len(t, out.Principals, 2)
	assert.Equal(t, principalOutput{Login: "bob", Documents: 2, Unrecoverable: 1, Bytes: 1024}, out.Principals[1])
	assert.Equal(t, []prunedOutput{{Session: "2024-04-01T120000Z", Login: "alice"}}, out.Pruned)
	assert.Equal(t, "boom", out.Error)
}

func TestNewBackupOutput_EmptyPrincipalsIsArray(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeJSON(&buf, newBackupOutput(&backup.RunReport{}, nil)))
	assert.Contains(t, buf.String(), `"principals": []`)
	assert.NotContains(t, buf.String(), "error")
}
