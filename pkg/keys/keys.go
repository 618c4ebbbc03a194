// Package keys manages Ed25519 signing keypairs and their verification keys.
package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/system-transparency/siglog-client/pkg/types"
)

// ErrMalformedKey is returned when serialized key material has the wrong
// length or an inconsistent public half.
var ErrMalformedKey = errors.New("malformed key material")

// Generate creates a fresh Ed25519 signing key from crypto/rand
func Generate() (ed25519.PrivateKey, error) {
	_, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("GenerateKey: %v", err)
	}
	return sk, nil
}

// Public derives the verification key of a signing key
func Public(sk ed25519.PrivateKey) *[types.VerificationKeySize]byte {
	var vk [types.VerificationKeySize]byte
	copy(vk[:], sk.Public().(ed25519.PublicKey))
	return &vk
}

// KeyHash derives the key hash that identifies a verification key in leaves,
// cosignatures, and trust policies.
func KeyHash(vk *[types.VerificationKeySize]byte) *[types.HashSize]byte {
	return types.Hash(vk[:])
}

// Marshal serializes a signing key as its raw 64-byte expanded form
func Marshal(sk ed25519.PrivateKey) []byte {
	buf := make([]byte, ed25519.PrivateKeySize)
	copy(buf, sk)
	return buf
}

// Unmarshal deserializes a signing key from either a 32-byte seed or the raw
// 64-byte expanded form.  The expanded form must carry the public half that
// the seed derives to, otherwise ErrMalformedKey.
func Unmarshal(buf []byte) (ed25519.PrivateKey, error) {
	switch len(buf) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(buf), nil
	case ed25519.PrivateKeySize:
		sk := ed25519.NewKeyFromSeed(buf[:ed25519.SeedSize])
		if !bytes.Equal(sk[ed25519.SeedSize:], buf[ed25519.SeedSize:]) {
			return nil, ErrMalformedKey
		}
		return sk, nil
	default:
		return nil, ErrMalformedKey
	}
}
