package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerChainsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "runs.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Log(KindReportRun, "alice", "run-1", map[string]string{"reports": "16"}))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Log(KindLoad, "alice", "gold.sales", map[string]string{"rows": "42"}))
	require.NoError(t, l.Close())

	n, err := VerifyFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2019, 2, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, l.Log(KindLoad, "etl", "gold.sales", map[string]string{"rows": "10"}))
	require.NoError(t, l.Log(KindReportRun, "etl", "run-2", nil))
	require.NoError(t, l.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	forged := strings.Replace(string(b), `"rows":"10"`, `"rows":"99"`, 1)

	n, err := Verify(strings.NewReader(forged))
	require.ErrorIs(t, err, ErrBrokenChain)
	assert.Equal(t, 0, n)
}

func TestOpenRejectsCorruptTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"hash\":\"zz\"}\n"), 0o644))
	_, err := Open(path)
	require.ErrorIs(t, err, ErrBrokenChain)
}
