package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFileChecksum(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "20240220.csv")
	b := filepath.Join(dir, "20240221.csv")
	require.NoError(t, os.WriteFile(a, []byte("COUNTY,VUID\nTRAVIS,1\n"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("COUNTY,VUID\nTRAVIS,1\n"), 0644))

	sumA, err := GetFileChecksum(a)
	require.NoError(t, err)
	sumB, err := GetFileChecksum(b)
	require.NoError(t, err)

	assert.Len(t, sumA, 16)
	assert.Equal(t, sumA, sumB, "identical content should hash identically")

	_, err = GetFileChecksum(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestCombineChecksums_OrderIndependent(t *testing.T) {
	first := CombineChecksums([]string{"aa", "bb", "cc"})
	second := CombineChecksums([]string{"cc", "aa", "bb"})
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, CombineChecksums([]string{"aa", "bb"}))
}
