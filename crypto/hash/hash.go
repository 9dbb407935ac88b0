// Package hash provides the digest helpers used for ceremony artifacts:
// Blake2b-512 for zkeys and transcripts, SHA-256 for beacon values.
package hash

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Blake2b streams r through Blake2b-512 and returns the lowercase hex digest.
func Blake2b(r io.Reader) (string, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrap(err, "could not hash stream")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Blake2bFile hashes the file at path with Blake2b-512.
func Blake2bFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- scratch paths are coordinator-owned
	if err != nil {
		return "", errors.Wrapf(err, "could not open %q", path)
	}
	defer func() {
		_ = f.Close()
	}()
	return Blake2b(f)
}

// Blake2bBytes hashes data with Blake2b-512.
func Blake2bBytes(data []byte) string {
	sum := blake2b.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// Sha256Hex returns the lowercase hex SHA-256 digest of s.
func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
