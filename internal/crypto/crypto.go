// Package crypto implements digest computation, signing and verification
// over an event's canonical bytes.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ILLUVRSE/auditchain/internal/auditerr"
)

// HashAlgorithm identifies the configured digest algorithm.
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
)

// SignAlgorithm identifies the configured signature algorithm.
type SignAlgorithm string

const (
	RSASHA256 SignAlgorithm = "RSA-SHA256"
)

// Service computes digests, signs and verifies them using a configured
// keypair. It is safe to share across goroutines once constructed, since the
// keypair is read-only after startup.
type Service struct {
	hashAlg HashAlgorithm
	signAlg SignAlgorithm
	priv    *rsa.PrivateKey
	pub     *rsa.PublicKey
}

// Config holds the raw PEM-encoded keypair and algorithm selection. PrivateKeyPEM
// and PublicKeyPEM are required; Algorithm/HashAlgorithm default when empty.
type Config struct {
	Algorithm      SignAlgorithm
	HashAlgorithm  HashAlgorithm
	PrivateKeyPEM  []byte
	PublicKeyPEM   []byte
}

// NewService constructs a Service from PEM-encoded RSA keys, using
// golang-jwt's PEM parsers (the same library the rest of the ecosystem in
// this pack uses for token/key handling).
func NewService(cfg Config) (*Service, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = RSASHA256
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = SHA256
	}
	if cfg.Algorithm != RSASHA256 {
		return nil, auditerr.New(auditerr.InvalidConfiguration, fmt.Sprintf("crypto: unsupported signing algorithm %q", cfg.Algorithm))
	}
	if cfg.HashAlgorithm != SHA256 {
		return nil, auditerr.New(auditerr.InvalidConfiguration, fmt.Sprintf("crypto: unsupported hash algorithm %q", cfg.HashAlgorithm))
	}
	if len(cfg.PrivateKeyPEM) == 0 || len(cfg.PublicKeyPEM) == 0 {
		return nil, fmt.Errorf("crypto: private_key and public_key are both required")
	}

	priv, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}

	return &Service{
		hashAlg: cfg.HashAlgorithm,
		signAlg: cfg.Algorithm,
		priv:    priv,
		pub:     pub,
	}, nil
}

// Digest computes the configured hash over b and returns it as lowercase hex.
func (s *Service) Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestBytes returns the raw digest bytes (used as the signing input).
func (s *Service) DigestBytes(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// Sign signs b's digest using the configured private key and returns a
// base64-encoded signature.
func (s *Service) Sign(b []byte) (string, error) {
	digest := s.DigestBytes(b)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.priv, crypto.SHA256, digest)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether signatureB64 is a valid signature over b's digest
// under the configured public key. A malformed signature or mismatched
// digest both simply yield false; signature failures are not fatal at this
// layer, only reported by the caller.
func (s *Service) Verify(b []byte, signatureB64 string) bool {
	sigBytes, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	digest := s.DigestBytes(b)
	err = rsa.VerifyPKCS1v15(s.pub, crypto.SHA256, digest, sigBytes)
	return err == nil
}

// ConstantTimeHexEqual compares two hex digests in constant time, used by
// the verifier when comparing recomputed digests against stored ones.
func ConstantTimeHexEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
