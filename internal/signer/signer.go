// Package signer implements owner-key generation, persistence, and the
// sign/verify primitives protected storage entries rely on for ownership
// enforcement. It follows the load-or-generate-and-persist shape this
// codebase already uses for node identity keys.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/duskledger/p2pstore/internal/hashkey"
)

// PublicKey is an owner's public signing key.
type PublicKey []byte

// Valid reports whether pub is a well-formed ed25519 public key: the
// correct length and not the all-zero key. This backs the "owner pubkey
// is well-formed" check in AddProtectedStorageEntry.
func (pub PublicKey) Valid() bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	for _, b := range pub {
		if b != 0 {
			return true
		}
	}
	return false
}

// Equal reports whether two public keys are the same bytes.
func (pub PublicKey) Equal(other PublicKey) bool {
	if len(pub) != len(other) {
		return false
	}
	for i := range pub {
		if pub[i] != other[i] {
			return false
		}
	}
	return true
}

// PrivateKey is an owner's private signing key.
type PrivateKey []byte

// KeyPair is a generated or loaded owner identity.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

const (
	pubKeyFile  = "owner_pub.key"
	privKeyFile = "owner_priv.key"
)

// Generate creates a fresh ed25519 keypair. Owner-key signing uses the
// standard library's ed25519 rather than a third-party signature scheme,
// following this codebase's existing precedent for node-identity keys.
// Ownership verification runs under the main-map lock on every ingress
// message, so it needs to stay a short, dependency-free operation.
func Generate() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("signer: generate keypair: %w", err)
	}
	return KeyPair{Public: PublicKey(pub), Private: PrivateKey(priv)}, nil
}

// LoadOrGenerate loads a keypair from dir, generating and persisting a new
// one if none exists yet.
func LoadOrGenerate(dir string) (KeyPair, error) {
	kp, err := Load(dir)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return KeyPair{}, err
	}
	kp, err = Generate()
	if err != nil {
		return KeyPair{}, err
	}
	if err := Save(dir, kp); err != nil {
		return KeyPair{}, err
	}
	return kp, nil
}

// Load reads a previously saved keypair from dir.
func Load(dir string) (KeyPair, error) {
	pub, err := os.ReadFile(filepath.Join(dir, pubKeyFile))
	if err != nil {
		return KeyPair{}, err
	}
	priv, err := os.ReadFile(filepath.Join(dir, privKeyFile))
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: PublicKey(pub), Private: PrivateKey(priv)}, nil
}

// Save persists kp under dir, creating it if necessary.
func Save(dir string, kp KeyPair) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("signer: create key dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, pubKeyFile), kp.Public, 0o600); err != nil {
		return fmt.Errorf("signer: write public key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, privKeyFile), kp.Private, 0o600); err != nil {
		return fmt.Errorf("signer: write private key: %w", err)
	}
	return nil
}

// Sign signs digest with priv.
func Sign(priv PrivateKey, digest hashkey.Hash) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signer: bad private key size")
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), digest[:]), nil
}

// Verify reports whether sig is a valid signature over digest under pub.
// A malformed public key or signature verifies as false, never an error —
// callers treat signature failure as a plain rejection.
func Verify(pub PublicKey, digest hashkey.Hash, sig []byte) bool {
	if !pub.Valid() {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig)
}
