// Package secret reconstructs runtime secrets (signer URL, exchange API
// keys/secrets, the optional per-invoice relayer key) from two shards that
// may arrive from different stores (a parameter store and a secret manager,
// per §6). Reconstruction follows the configured Method; it never touches
// the network itself — retrieving the raw shards is the excluded external
// collaborator's job.
//
// The random seed, the derived xor pad and the shamir coefficients are
// wiped once they have served their purpose; share and output buffers are
// not wiped.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"
)

// xorSeedLen is the size of the random seed shard2 carries for the xor
// method; the actual one-time pad is expanded from it via HKDF rather than
// stored verbatim, so shard2's size no longer grows with the secret.
const xorSeedLen = 32

// Method names the reconstruction scheme used for a given secret.
type Method string

const (
	MethodShamir Method = "shamir"
	MethodXOR    Method = "xor"
	MethodConcat Method = "concat"
)

// ErrInvalidShareFormat is returned when a shard can't be parsed for the
// requested method (e.g. a non-hex xor share, or a shamir share missing its
// x-coordinate byte).
var ErrInvalidShareFormat = errors.New("secret: invalid share format")

// ErrReconstructionFailed is returned when shares parse correctly but don't
// recombine into a valid secret for the requested method (e.g. mismatched
// shamir shares from two different splits).
var ErrReconstructionFailed = errors.New("secret: reconstruction failed")

// clearBytes zeros b in place; runtime.KeepAlive prevents the compiler from
// proving the zeroing dead and eliding it before the buffer goes out of scope.
func clearBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// Reconstruct combines shard1 and shard2 (as produced by Split with the same
// method) back into the original secret.
func Reconstruct(method Method, shard1, shard2 string) (string, error) {
	switch method {
	case MethodConcat:
		return reconstructConcat(shard1, shard2)
	case MethodXOR:
		return reconstructXOR(shard1, shard2)
	case MethodShamir:
		return reconstructShamir(shard1, shard2)
	default:
		return "", fmt.Errorf("secret: unknown method %q", method)
	}
}

// Split produces two shards that Reconstruct(method, ...) can recombine.
// Used by tests to exercise the round-trip law (§8) and by any collaborator
// that needs to provision a new split secret.
func Split(method Method, secretValue string) (shard1, shard2 string, err error) {
	switch method {
	case MethodConcat:
		return splitConcat(secretValue)
	case MethodXOR:
		return splitXOR(secretValue)
	case MethodShamir:
		return splitShamir(secretValue)
	default:
		return "", "", fmt.Errorf("secret: unknown method %q", method)
	}
}

// --- concat: shard1 is the first half, shard2 the second half, joined verbatim ---

func splitConcat(s string) (string, string, error) {
	if len(s) < 2 {
		return "", "", fmt.Errorf("%w: secret too short to split", ErrInvalidShareFormat)
	}
	mid := len(s) / 2
	return s[:mid], s[mid:], nil
}

func reconstructConcat(shard1, shard2 string) (string, error) {
	if shard1 == "" && shard2 == "" {
		return "", ErrReconstructionFailed
	}
	return shard1 + shard2, nil
}

// --- xor: shard2 is a random seed, shard1 is secret XOR an HKDF-expanded
// pad derived from that seed ---

func splitXOR(s string) (string, string, error) {
	seed := make([]byte, xorSeedLen)
	if _, err := readRandom(seed); err != nil {
		return "", "", err
	}
	defer clearBytes(seed)

	pad, err := expandPad(seed, len(s))
	if err != nil {
		return "", "", err
	}
	defer clearBytes(pad)

	masked := make([]byte, len(s))
	secretBytes := []byte(s)
	for i := range secretBytes {
		masked[i] = secretBytes[i] ^ pad[i]
	}
	return hex.EncodeToString(masked), hex.EncodeToString(seed), nil
}

func reconstructXOR(shard1, shard2 string) (string, error) {
	masked, err := hex.DecodeString(shard1)
	if err != nil {
		return "", fmt.Errorf("%w: shard1 not hex: %v", ErrInvalidShareFormat, err)
	}
	seed, err := hex.DecodeString(shard2)
	if err != nil {
		return "", fmt.Errorf("%w: shard2 not hex: %v", ErrInvalidShareFormat, err)
	}
	defer clearBytes(seed)

	pad, err := expandPad(seed, len(masked))
	if err != nil {
		return "", ErrReconstructionFailed
	}
	defer clearBytes(pad)

	out := make([]byte, len(masked))
	for i := range masked {
		out[i] = masked[i] ^ pad[i]
	}
	return string(out), nil
}

// expandPad derives an n-byte one-time pad from seed via HKDF-SHA256, the
// same key-derivation primitive the teacher reaches for when it needs more
// key material than it was handed directly.
func expandPad(seed []byte, n int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte("arcsign/crossrail secret xor pad"))
	pad := make([]byte, n)
	if _, err := io.ReadFull(reader, pad); err != nil {
		return nil, err
	}
	return pad, nil
}

// --- shamir: a minimal 2-of-2 scheme over GF(256), hex-encoded byte-wise
// shares each prefixed with their x-coordinate ---

func splitShamir(s string) (string, string, error) {
	secretBytes := []byte(s)
	coeff := make([]byte, len(secretBytes))
	if _, err := readRandom(coeff); err != nil {
		return "", "", err
	}
	defer clearBytes(coeff)

	share1 := make([]byte, len(secretBytes))
	share2 := make([]byte, len(secretBytes))
	for i, b := range secretBytes {
		// f(x) = secret + coeff*x over GF(256); evaluate at x=1 and x=2.
		share1[i] = gfAdd(b, gfMulScalar(coeff[i], 1))
		share2[i] = gfAdd(b, gfMulScalar(coeff[i], 2))
	}

	shard1 := "01:" + hex.EncodeToString(share1)
	shard2 := "02:" + hex.EncodeToString(share2)
	return shard1, shard2, nil
}

func reconstructShamir(shard1, shard2 string) (string, error) {
	x1, y1, err := parseShamirShare(shard1)
	if err != nil {
		return "", err
	}
	x2, y2, err := parseShamirShare(shard2)
	if err != nil {
		return "", err
	}
	if x1 == x2 || len(y1) != len(y2) {
		return "", ErrReconstructionFailed
	}

	// Lagrange interpolation at x=0 for two points, over GF(256).
	out := make([]byte, len(y1))
	for i := range y1 {
		// secret = y1*(x2/(x2-x1)) + y2*(x1/(x1-x2))
		denom1 := gfSub(x2, x1)
		denom2 := gfSub(x1, x2)
		inv1, err := gfInv(denom1)
		if err != nil {
			return "", ErrReconstructionFailed
		}
		inv2, err := gfInv(denom2)
		if err != nil {
			return "", ErrReconstructionFailed
		}
		term1 := gfMulScalar(gfMulScalar(y1[i], x2), inv1)
		term2 := gfMulScalar(gfMulScalar(y2[i], x1), inv2)
		out[i] = gfAdd(term1, term2)
	}
	return string(out), nil
}

func parseShamirShare(share string) (x byte, y []byte, err error) {
	if len(share) < 3 || share[2] != ':' {
		return 0, nil, fmt.Errorf("%w: missing x-coordinate prefix", ErrInvalidShareFormat)
	}
	xBytes, err := hex.DecodeString(share[:2])
	if err != nil || len(xBytes) != 1 {
		return 0, nil, fmt.Errorf("%w: bad x-coordinate", ErrInvalidShareFormat)
	}
	y, err = hex.DecodeString(share[3:])
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad payload", ErrInvalidShareFormat)
	}
	return xBytes[0], y, nil
}

// GF(256) arithmetic with the AES reduction polynomial, good enough for a
// byte-wise 2-of-2 split/combine.
func gfAdd(a, b byte) byte { return a ^ b }
func gfSub(a, b byte) byte { return a ^ b }

func gfMulScalar(a, b byte) byte {
	var p byte
	for i := 0; i < 8; i++ {
		if b&1 != 0 {
			p ^= a
		}
		hiBitSet := a&0x80 != 0
		a <<= 1
		if hiBitSet {
			a ^= 0x1b
		}
		b >>= 1
	}
	return p
}

func gfInv(a byte) (byte, error) {
	if a == 0 {
		return 0, ErrReconstructionFailed
	}
	// Exhaustive search is fine: GF(256) has 255 nonzero elements and this
	// runs once per secret byte during reconstruction, not in a hot path.
	for candidate := 1; candidate < 256; candidate++ {
		if gfMulScalar(a, byte(candidate)) == 1 {
			return byte(candidate), nil
		}
	}
	return 0, ErrReconstructionFailed
}

// readRandom fills b with cryptographically secure random bytes.
func readRandom(b []byte) (int, error) {
	return rand.Read(b)
}

// ConstantTimeEqual compares two secret strings without leaking timing
// information, used wherever a reconstructed secret is checked against an
// expected value in tests or health checks.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
