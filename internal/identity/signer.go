package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// Signing algorithm identifiers carried in the message security envelope.
const (
	AlgorithmHMACSHA256       = "hmac-sha256"
	AlgorithmPBKDF2HMACSHA256 = "pbkdf2-hmac-sha256"
)

const pbkdf2KeyLen = 32

// Signer computes and checks symmetric signatures over canonical message
// bytes. Two modes interoperate: plain HMAC-SHA256 (the default) and a
// PBKDF2-derived digest fed into the same HMAC.
type Signer struct {
	key        []byte
	usePBKDF2  bool
	iterations int
}

// NewSigner creates a signer from symmetric key material.
func NewSigner(key string, usePBKDF2 bool, iterations int) *Signer {
	if iterations < 100000 {
		iterations = 100000
	}
	return &Signer{
		key:        []byte(key),
		usePBKDF2:  usePBKDF2,
		iterations: iterations,
	}
}

// Algorithm returns the identifier for the configured signing mode.
func (s *Signer) Algorithm() string {
	if s.usePBKDF2 {
		return AlgorithmPBKDF2HMACSHA256
	}
	return AlgorithmHMACSHA256
}

// Sign returns the hex signature of the canonical bytes under the
// configured mode. The function is deterministic.
func (s *Signer) Sign(canonical []byte) string {
	return hex.EncodeToString(s.signWith(s.Algorithm(), canonical))
}

// Verify checks a hex signature against the canonical bytes in constant
// time. The algorithm parameter selects the mode the sender used, so both
// modes stay interoperable.
func (s *Signer) Verify(canonical []byte, signature, algorithm string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	got := s.signWith(algorithm, canonical)
	return hmac.Equal(got, want)
}

func (s *Signer) signWith(algorithm string, canonical []byte) []byte {
	payload := canonical
	if algorithm == AlgorithmPBKDF2HMACSHA256 {
		payload = pbkdf2.Key(canonical, s.key, s.iterations, pbkdf2KeyLen, sha256.New)
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return mac.Sum(nil)
}
