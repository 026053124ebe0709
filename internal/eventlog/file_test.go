package eventlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/tiltcheck/internal/apperr"
)

func TestFileStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := OpenFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestFileStore_ReloadSeesCommittedWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, SaveJSON(ctx, s, TableTrustScores, "u1", entry{N: 150}))
	require.NoError(t, AppendCapped(ctx, s, TableVerificationActions, "u1", entry{N: 1}, MaxVerificationActions))

	reopened, err := OpenFileStore(dir)
	require.NoError(t, err)
	got, err := LoadJSON[entry](ctx, reopened, TableTrustScores, "u1")
	require.NoError(t, err)
	assert.Equal(t, 150, got.N)

	list, err := LoadList[entry](ctx, reopened, TableVerificationActions, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFileStore_OneDocumentPerTable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, SaveJSON(ctx, s, TableScamReports, "rpt_1", entry{N: 3}))

	_, err = os.Stat(filepath.Join(dir, "scam_reports.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "scam_reports.json.tmp"))
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestFileStore_CorruptDocumentFailsOpen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trust_scores.json"), []byte("{not json"), 0o644))

	_, err := OpenFileStore(dir)
	var se *apperr.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "trust_scores", se.Table)
}

func TestFileStore_FailedWriteKeepsPreviousValue(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, SaveJSON(ctx, s, TableTrustScores, "u1", entry{N: 1}))

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	err = SaveJSON(ctx, s, TableTrustScores, "u1", entry{N: 2})
	var se *apperr.StorageError
	require.ErrorAs(t, err, &se)

	got, err := LoadJSON[entry](ctx, s, TableTrustScores, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.N)
}

func TestFileStore_RejectsInvalidJSON(t *testing.T) {
	s, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)
	err = s.Save(context.Background(), TableTrustScores, "u", []byte("nope"))
	var se *apperr.StorageError
	assert.ErrorAs(t, err, &se)
}
