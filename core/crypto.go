package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// Hasher content-addresses blocks, transactions and merkle nodes.
type Hasher interface {
	Hash(data []byte) string
}

// Signer signs and verifies messages. Keys and signatures are opaque text.
type Signer interface {
	Sign(message, privateKey string) (string, error)
	Verify(message, signature, publicKey string) (bool, error)
}

// Crypto is the full cryptography collaborator.
type Crypto interface {
	Hasher
	Signer
}

// KeyPair holds base58 encoded Ed25519 keys.
type KeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"-"`
}

type defaultCrypto struct{}

// DefaultCrypto hashes with SHA-256 and signs with Ed25519.
var DefaultCrypto Crypto = defaultCrypto{}

func (defaultCrypto) Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func (defaultCrypto) Sign(message, privateKey string) (string, error) {
	key, err := base58.Decode(privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: decode private key: %v", ErrCryptoOperation, err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("%w: private key has %d bytes", ErrCryptoOperation, len(key))
	}
	sig := ed25519.Sign(ed25519.PrivateKey(key), []byte(message))
	return base58.Encode(sig), nil
}

func (defaultCrypto) Verify(message, signature, publicKey string) (bool, error) {
	key, err := base58.Decode(publicKey)
	if err != nil {
		return false, fmt.Errorf("%w: decode public key: %v", ErrCryptoOperation, err)
	}
	if len(key) != ed25519.PublicKeySize {
		return false, fmt.Errorf("%w: public key has %d bytes", ErrCryptoOperation, len(key))
	}
	sig, err := base58.Decode(signature)
	if err != nil {
		return false, fmt.Errorf("%w: decode signature: %v", ErrCryptoOperation, err)
	}
	return ed25519.Verify(ed25519.PublicKey(key), []byte(message), sig), nil
}

// GenerateKeyPair creates a fresh Ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: generate key: %v", ErrCryptoOperation, err)
	}
	return KeyPair{
		PublicKey:  base58.Encode(pub),
		PrivateKey: base58.Encode(priv),
	}, nil
}
