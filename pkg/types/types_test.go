package types

import (
	"bytes"
	"crypto/ed25519"
	"testing"
)

func newTestSigner(t *testing.T, seed byte) ed25519.PrivateKey {
	t.Helper()
	buf := make([]byte, ed25519.SeedSize)
	for i := range buf {
		buf[i] = seed
	}
	return ed25519.NewKeyFromSeed(buf)
}

func TestEndpointPath(t *testing.T) {
	base, prefix, endpoint := "example.com", "log/v0", EndpointAddLeaf
	if got, want := endpoint.Path(base, prefix), "example.com/log/v0/add-leaf"; got != want {
		t.Errorf("got %q but wanted %q", got, want)
	}
	if got, want := endpoint.Path(base), "example.com/add-leaf"; got != want {
		t.Errorf("got %q but wanted %q", got, want)
	}
}

func TestNewMessage(t *testing.T) {
	for _, table := range []struct {
		description string
		digest      []byte
		wantErr     bool
	}{
		{
			description: "invalid: empty digest",
			digest:      nil,
			wantErr:     true,
		},
		{
			description: "invalid: too short",
			digest:      make([]byte, HashSize-1),
			wantErr:     true,
		},
		{
			description: "invalid: too long",
			digest:      make([]byte, HashSize+1),
			wantErr:     true,
		},
		{
			description: "valid",
			digest:      make([]byte, HashSize),
		},
	} {
		msg, err := NewMessage(0, table.digest)
		if got, want := err != nil, table.wantErr; got != want {
			t.Errorf("got error %v but wanted %v in test %q: %v", got, want, table.description, err)
		}
		if err != nil {
			if err != ErrInvalidDigestLength {
				t.Errorf("got error %v but wanted %v in test %q", err, ErrInvalidDigestLength, table.description)
			}
			continue
		}
		if got, want := msg.Checksum[:], table.digest; !bytes.Equal(got, want) {
			t.Errorf("got checksum %x but wanted %x in test %q", got, want, table.description)
		}
	}
}

func TestMessageSignVerify(t *testing.T) {
	sk := newTestSigner(t, 7)
	var vk [VerificationKeySize]byte
	copy(vk[:], sk.Public().(ed25519.PublicKey))

	msg, err := NewMessage(10, make([]byte, HashSize))
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	leaf, err := msg.Sign(sk)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !leaf.Verify(&vk) {
		t.Errorf("valid leaf did not verify")
	}
	if got, want := leaf.KeyHash, Hash(vk[:]); *got != *want {
		t.Errorf("got key hash %x but wanted %x", got[:], want[:])
	}

	// Ed25519 signing is deterministic
	again, err := msg.Sign(sk)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if *again.Signature != *leaf.Signature {
		t.Errorf("signing the same message twice gave different signatures")
	}

	// a single changed digest bit must change the signature
	digest := make([]byte, HashSize)
	digest[0] ^= 1
	flipped, err := NewMessage(10, digest)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	other, err := flipped.Sign(sk)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if *other.Signature == *leaf.Signature {
		t.Errorf("different digests gave the same signature")
	}

	// verification is a pure check that reports false on mismatch
	wrong := newTestSigner(t, 8)
	var wrongVK [VerificationKeySize]byte
	copy(wrongVK[:], wrong.Public().(ed25519.PublicKey))
	if leaf.Verify(&wrongVK) {
		t.Errorf("leaf verified under the wrong key")
	}
}

func TestTreeHeadSignVerify(t *testing.T) {
	log := newTestSigner(t, 1)
	witness := newTestSigner(t, 2)
	var logVK, witVK [VerificationKeySize]byte
	copy(logVK[:], log.Public().(ed25519.PublicKey))
	copy(witVK[:], witness.Public().(ed25519.PublicKey))

	th := TreeHead{
		Timestamp: 123,
		TreeSize:  4,
		RootHash:  Hash([]byte("root")),
	}
	sth, err := th.Sign(log)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if got, want := len(sth.SigIdent), 1; got != want {
		t.Fatalf("got %d sigidents but wanted %d", got, want)
	}
	if err := sth.TreeHead.Verify(&logVK, sth.SigIdent[0].Signature); err != nil {
		t.Errorf("valid tree head signature did not verify: %v", err)
	}

	cosigned, err := sth.Cosign(witness)
	if err != nil {
		t.Fatalf("Cosign: %v", err)
	}
	if got, want := len(cosigned.SigIdent), 2; got != want {
		t.Fatalf("got %d sigidents but wanted %d", got, want)
	}
	if got, want := cosigned.SigIdent[1].KeyHash, Hash(witVK[:]); *got != *want {
		t.Errorf("got witness key hash %x but wanted %x", got[:], want[:])
	}
	if err := cosigned.TreeHead.Verify(&witVK, cosigned.SigIdent[1].Signature); err != nil {
		t.Errorf("valid cosignature did not verify: %v", err)
	}
	if err := cosigned.TreeHead.Verify(&logVK, cosigned.SigIdent[1].Signature); err == nil {
		t.Errorf("cosignature verified under the log's key")
	}
}
