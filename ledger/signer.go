package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Signer wraps the operator's ed25519 key. The account address is the public
// key itself.
type Signer struct {
	key     ed25519.PrivateKey
	address Address
}

// GenerateSigner creates a fresh keypair, used by tests and one-shot tooling.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	addr, err := NewAddress(pub)
	if err != nil {
		return nil, err
	}
	return &Signer{key: priv, address: addr}, nil
}

// SignerFromHex loads a signer from a hex-encoded 32-byte seed.
func SignerFromHex(raw string) (*Signer, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("decode signer seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	addr, err := NewAddress(key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, address: addr}, nil
}

// Address returns the signer's account address.
func (s *Signer) Address() Address {
	return s.address
}

// Sign produces an ed25519 signature over msg.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.key, msg)
}
