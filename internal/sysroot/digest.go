// SPDX-License-Identifier: MPL-2.0

package sysroot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	AlgorithmSHA256 DigestAlgorithm = "sha256"
	AlgorithmBLAKE3 DigestAlgorithm = "blake3"
)

var (
	// ErrDigestMismatch indicates the fetched archive does not match the configured digest.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrInvalidDigest is returned by ParseDigest for malformed digest strings.
	ErrInvalidDigest = errors.New("invalid digest")
)

type (
	// DigestAlgorithm names a supported hash function.
	DigestAlgorithm string

	// Digest is an algorithm-qualified hex hash such as "sha256:ab12...".
	// The zero value means "do not verify".
	Digest struct {
		Algorithm DigestAlgorithm
		Hex       string
	}

	// DigestError provides details about a digest verification failure.
	// It wraps ErrDigestMismatch so callers can use errors.Is for classification.
	DigestError struct {
		Location string
		Expected Digest
		Got      Digest
	}
)

// ParseDigest parses "<algorithm>:<hex>". A bare 64-character hex string is
// taken as sha256. The empty string parses to the zero Digest.
func ParseDigest(s string) (Digest, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Digest{}, nil
	}

	algo, value, found := strings.Cut(s, ":")
	if !found {
		algo, value = string(AlgorithmSHA256), s
	}

	d := Digest{Algorithm: DigestAlgorithm(strings.ToLower(algo)), Hex: strings.ToLower(value)}
	switch d.Algorithm {
	case AlgorithmSHA256, AlgorithmBLAKE3:
	default:
		return Digest{}, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidDigest, algo)
	}
	if len(d.Hex) != 64 {
		return Digest{}, fmt.Errorf("%w: expected 64 hex characters, got %d", ErrInvalidDigest, len(d.Hex))
	}
	if _, err := hex.DecodeString(d.Hex); err != nil {
		return Digest{}, fmt.Errorf("%w: %w", ErrInvalidDigest, err)
	}
	return d, nil
}

// Compute hashes data with algo.
func Compute(algo DigestAlgorithm, data []byte) (Digest, error) {
	switch algo {
	case AlgorithmSHA256:
		sum := sha256.Sum256(data)
		return Digest{Algorithm: algo, Hex: hex.EncodeToString(sum[:])}, nil
	case AlgorithmBLAKE3:
		sum := blake3.Sum256(data)
		return Digest{Algorithm: algo, Hex: hex.EncodeToString(sum[:])}, nil
	default:
		return Digest{}, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidDigest, algo)
	}
}

// IsZero reports whether no digest is configured.
func (d Digest) IsZero() bool { return d.Algorithm == "" && d.Hex == "" }

// String returns the "<algorithm>:<hex>" form.
func (d Digest) String() string {
	if d.IsZero() {
		return ""
	}
	return string(d.Algorithm) + ":" + d.Hex
}

// Verify hashes data and compares it with d.
func (d Digest) Verify(location string, data []byte) error {
	got, err := Compute(d.Algorithm, data)
	if err != nil {
		return err
	}
	if got.Hex != d.Hex {
		return &DigestError{Location: location, Expected: d, Got: got}
	}
	return nil
}

// Error returns a human-readable description of the mismatch.
func (e *DigestError) Error() string {
	return fmt.Sprintf("digest verification failed for %s\nExpected: %s\nGot:      %s", e.Location, e.Expected, e.Got)
}

// Unwrap returns ErrDigestMismatch so callers can use errors.Is.
func (e *DigestError) Unwrap() error { return ErrDigestMismatch }
