package hash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zkmpc/ceremonyd/testing/assert"
	"github.com/zkmpc/ceremonyd/testing/require"
)

func TestBlake2b_MatchesBytesVariant(t *testing.T) {
	data := []byte("phase2 contribution payload")
	streamed, err := Blake2b(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, Blake2bBytes(data), streamed)
	assert.Equal(t, 128, len(streamed), "Blake2b-512 digests are 64 bytes")
}

func TestBlake2bFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.zkey")
	require.NoError(t, os.WriteFile(path, []byte("zkey bytes"), 0600))
	fromFile, err := Blake2bFile(path)
	require.NoError(t, err)
	assert.Equal(t, Blake2bBytes([]byte("zkey bytes")), fromFile)
}

func TestSha256Hex(t *testing.T) {
	// Well-known digest of the empty string.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sha256Hex(""))
}
