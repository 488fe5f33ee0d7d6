package ledger

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingIsEmpty(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "archivos_procesados.txt"))
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
}

func TestOpenReadsExistingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivos_procesados.txt")
	require.NoError(t, os.WriteFile(path, []byte("D1\n\n  D2  \nD1\n"), 0o644))
	l, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "D2"}, l.Processed())
}

func TestClaimCommitRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "archivos_procesados.txt")
	l, err := Open(path)
	require.NoError(t, err)

	assert.True(t, l.Claim("D1"))
	assert.False(t, l.Claim("D1"), "claimed twice")
	assert.Equal(t, 1, l.InFlight())

	l.Release("D1")
	assert.True(t, l.Claim("D1"), "claim after release")

	require.NoError(t, l.Commit("D1"))
	assert.True(t, l.Contains("D1"))
	assert.False(t, l.Claim("D1"), "claim after commit")
	assert.Equal(t, 0, l.InFlight())

	require.NoError(t, l.Commit("D1"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "D1\n", string(data))
}

func TestCommitSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivos_procesados.txt")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Commit("D1"))
	require.NoError(t, l.Commit("D2"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "D2"}, reopened.Processed())
}

func TestCommitRejectsInvalidID(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "l.txt"))
	require.NoError(t, err)
	assert.Error(t, l.Commit(""))
	assert.Error(t, l.Commit("a\nb"))
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "l.txt"))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Claim("D1") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
