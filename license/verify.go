package license

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/licenseward/licenseward-go/errs"
)

// AlgorithmEd25519 is the only signature algorithm the engine supports.
const AlgorithmEd25519 = "ed25519"

// Verify reports whether signature is a valid Ed25519 signature of canonical
// under publicKey. It is pure and deterministic, and fails closed: malformed
// input of any shape verifies as false, never panics.
func Verify(canonical, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	if len(canonical) == 0 {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), canonical, signature)
}

// ConstantTimeEqual compares two strings without leaking position-of-first-
// difference timing. Inputs of different lengths compare in the same code
// path: both sides are hashed before the comparison.
func ConstantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// checkAlgorithm gates verification on a supported signing primitive. An
// unsupported algorithm is a crypto error, never a verification failure:
// the two must stay distinguishable.
func checkAlgorithm(algorithm string) error {
	if algorithm != AlgorithmEd25519 {
		return errs.Crypto(fmt.Sprintf("unsupported signature algorithm %q", algorithm))
	}
	return nil
}

// decodeKey decodes a base64 public key as stored in the key cache.
func decodeKey(b64 string) ([]byte, bool) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, false
	}
	return key, true
}
