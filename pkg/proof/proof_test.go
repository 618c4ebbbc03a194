package proof

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"reflect"
	"testing"

	"github.com/google/trillian/merkle/rfc6962"

	"github.com/system-transparency/siglog-client/pkg/policy"
	"github.com/system-transparency/siglog-client/pkg/types"
)

func newTestSigner(t *testing.T, secret byte) (ed25519.PrivateKey, *[types.VerificationKeySize]byte) {
	t.Helper()
	sk := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{secret}, ed25519.SeedSize))
	var vk [types.VerificationKeySize]byte
	copy(vk[:], sk.Public().(ed25519.PublicKey))
	return sk, &vk
}

func newTestLeaf(t *testing.T, signer crypto.Signer, filler byte) *types.Leaf {
	t.Helper()
	msg, err := types.NewMessage(10, bytes.Repeat([]byte{filler}, types.HashSize))
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	leaf, err := msg.Sign(signer)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return leaf
}

// newTestBundle builds a valid bundle for a two-leaf tree where the leaf of
// interest sits at index 0.  The tree head is signed by logSk and cosigned by
// each witness.
func newTestBundle(t *testing.T, submitSk, logSk ed25519.PrivateKey, witnesses []ed25519.PrivateKey) *Bundle {
	t.Helper()
	leaf := newTestLeaf(t, submitSk, 0x33)
	other := newTestLeaf(t, submitSk, 0x44)

	h0 := rfc6962.DefaultHasher.HashLeaf(leaf.Marshal())
	h1 := rfc6962.DefaultHasher.HashLeaf(other.Marshal())
	root := rfc6962.DefaultHasher.HashChildren(h0, h1)

	var rootHash, sibling [types.HashSize]byte
	copy(rootHash[:], root)
	copy(sibling[:], h1)
	th := types.TreeHead{
		Timestamp: 1,
		TreeSize:  2,
		RootHash:  &rootHash,
	}
	sth, err := th.Sign(logSk)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	for _, witness := range witnesses {
		if sth, err = sth.Cosign(witness); err != nil {
			t.Fatalf("Cosign: %v", err)
		}
	}
	return &Bundle{
		Leaf: leaf,
		Inclusion: &types.InclusionProof{
			TreeSize:  2,
			LeafIndex: 0,
			Path:      []*[types.HashSize]byte{&sibling},
		},
		SignedTreeHead: sth,
	}
}

func newTestPolicy(t *testing.T, logVk *[types.VerificationKeySize]byte, witnessVks []*[types.VerificationKeySize]byte, quorum uint64) *policy.Policy {
	t.Helper()
	wp, err := policy.NewWitnessPool(witnessVks)
	if err != nil {
		t.Fatalf("NewWitnessPool: %v", err)
	}
	p, err := policy.New(logVk, "http://localhost", wp, quorum)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestVerify(t *testing.T) {
	submitSk, submitVk := newTestSigner(t, 0x01)
	logSk, logVk := newTestSigner(t, 0x02)
	w1Sk, w1Vk := newTestSigner(t, 0x03)
	w2Sk, w2Vk := newTestSigner(t, 0x04)
	_, w3Vk := newTestSigner(t, 0x05)
	_, otherVk := newTestSigner(t, 0x06)

	witnessVks := []*[types.VerificationKeySize]byte{w1Vk, w2Vk, w3Vk}
	for _, table := range []struct {
		description string
		bundle      func() *Bundle
		vk          *[types.VerificationKeySize]byte
		quorum      uint64
		wantErr     error
	}{
		{
			description: "invalid: wrong submitter key",
			bundle: func() *Bundle {
				return newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w2Sk})
			},
			vk:      otherVk,
			quorum:  2,
			wantErr: ErrKeyMismatch,
		},
		{
			description: "invalid: mutated leaf signature",
			bundle: func() *Bundle {
				b := newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w2Sk})
				b.Leaf.Signature[0] ^= 0x01
				return b
			},
			vk:      submitVk,
			quorum:  2,
			wantErr: ErrBadLeafSignature,
		},
		{
			description: "invalid: mutated checksum",
			bundle: func() *Bundle {
				b := newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w2Sk})
				b.Leaf.Checksum[0] ^= 0x01
				return b
			},
			vk:      submitVk,
			quorum:  2,
			wantErr: ErrBadLeafSignature,
		},
		{
			description: "invalid: mutated root hash",
			bundle: func() *Bundle {
				b := newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w2Sk})
				b.SignedTreeHead.RootHash[0] ^= 0x01
				return b
			},
			vk:      submitVk,
			quorum:  2,
			wantErr: ErrUntrustedLog,
		},
		{
			description: "invalid: tree head signed by another log",
			bundle: func() *Bundle {
				return newTestBundle(t, submitSk, submitSk, []ed25519.PrivateKey{w1Sk, w2Sk})
			},
			vk:      submitVk,
			quorum:  2,
			wantErr: ErrUntrustedLog,
		},
		{
			description: "invalid: mutated log signature",
			bundle: func() *Bundle {
				b := newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w2Sk})
				b.SignedTreeHead.SigIdent[0].Signature[0] ^= 0x01
				return b
			},
			vk:      submitVk,
			quorum:  2,
			wantErr: ErrUntrustedLog,
		},
		{
			description: "invalid: one valid cosignature below quorum of two",
			bundle: func() *Bundle {
				return newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk})
			},
			vk:      submitVk,
			quorum:  2,
			wantErr: ErrInsufficientQuorum,
		},
		{
			description: "invalid: repeated witness only counts once",
			bundle: func() *Bundle {
				return newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w1Sk})
			},
			vk:      submitVk,
			quorum:  2,
			wantErr: ErrInsufficientQuorum,
		},
		{
			description: "invalid: mutated cosignature does not count",
			bundle: func() *Bundle {
				b := newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w2Sk})
				b.SignedTreeHead.SigIdent[2].Signature[0] ^= 0x01
				return b
			},
			vk:      submitVk,
			quorum:  2,
			wantErr: ErrInsufficientQuorum,
		},
		{
			description: "invalid: mutated inclusion path",
			bundle: func() *Bundle {
				b := newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w2Sk})
				b.Inclusion.Path[0][0] ^= 0x01
				return b
			},
			vk:      submitVk,
			quorum:  2,
			wantErr: ErrInclusionMismatch,
		},
		{
			description: "invalid: wrong leaf index",
			bundle: func() *Bundle {
				b := newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w2Sk})
				b.Inclusion.LeafIndex = 1
				return b
			},
			vk:      submitVk,
			quorum:  2,
			wantErr: ErrInclusionMismatch,
		},
		{
			description: "invalid: proof tree size differs from tree head",
			bundle: func() *Bundle {
				b := newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w2Sk})
				b.Inclusion.TreeSize = 3
				return b
			},
			vk:      submitVk,
			quorum:  2,
			wantErr: ErrInclusionMismatch,
		},
		{
			description: "valid: quorum of two out of three",
			bundle: func() *Bundle {
				return newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w2Sk})
			},
			vk:     submitVk,
			quorum: 2,
		},
		{
			description: "valid: no quorum required",
			bundle: func() *Bundle {
				return newTestBundle(t, submitSk, logSk, nil)
			},
			vk:     submitVk,
			quorum: 0,
		},
		{
			description: "valid: cosignature from an untrusted party is ignored",
			bundle: func() *Bundle {
				return newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk, w2Sk, submitSk})
			},
			vk:     submitVk,
			quorum: 2,
		},
	} {
		p := newTestPolicy(t, logVk, witnessVks, table.quorum)
		err := Verify(table.bundle(), table.vk, p)
		if got, want := err, table.wantErr; got != want {
			t.Errorf("got error %v but wanted %v in test %q", got, want, table.description)
		}
	}
}

func TestVerifyConsistency(t *testing.T) {
	submitSk, _ := newTestSigner(t, 0x01)
	leaf := newTestLeaf(t, submitSk, 0x33)
	other := newTestLeaf(t, submitSk, 0x44)

	h0 := rfc6962.DefaultHasher.HashLeaf(leaf.Marshal())
	h1 := rfc6962.DefaultHasher.HashLeaf(other.Marshal())
	root := rfc6962.DefaultHasher.HashChildren(h0, h1)

	var oldRoot, newRoot, sibling [types.HashSize]byte
	copy(oldRoot[:], h0)
	copy(newRoot[:], root)
	copy(sibling[:], h1)
	oldTH := &types.TreeHead{Timestamp: 1, TreeSize: 1, RootHash: &oldRoot}
	newTH := &types.TreeHead{Timestamp: 2, TreeSize: 2, RootHash: &newRoot}
	proof := &types.ConsistencyProof{
		OldSize: 1,
		NewSize: 2,
		Path:    []*[types.HashSize]byte{&sibling},
	}

	if err := VerifyConsistency(proof, oldTH, newTH); err != nil {
		t.Errorf("valid consistency proof rejected: %v", err)
	}

	mutated := *proof
	var badSibling [types.HashSize]byte
	copy(badSibling[:], sibling[:])
	badSibling[0] ^= 0x01
	mutated.Path = []*[types.HashSize]byte{&badSibling}
	if err := VerifyConsistency(&mutated, oldTH, newTH); err == nil {
		t.Errorf("mutated consistency proof accepted")
	}

	mutated = *proof
	mutated.OldSize = 2
	if err := VerifyConsistency(&mutated, oldTH, newTH); err == nil {
		t.Errorf("consistency proof with wrong old size accepted")
	}
}

func TestBundleASCIIRoundTrip(t *testing.T) {
	submitSk, _ := newTestSigner(t, 0x01)
	logSk, _ := newTestSigner(t, 0x02)
	w1Sk, _ := newTestSigner(t, 0x03)

	bundle := newTestBundle(t, submitSk, logSk, []ed25519.PrivateKey{w1Sk})
	buf := bytes.NewBuffer(nil)
	if err := bundle.MarshalASCII(buf); err != nil {
		t.Fatalf("MarshalASCII: %v", err)
	}
	var back Bundle
	if err := back.UnmarshalASCII(buf); err != nil {
		t.Fatalf("UnmarshalASCII: %v", err)
	}
	if got, want := &back, bundle; !reflect.DeepEqual(got, want) {
		t.Errorf("got\n\t%v\nbut wanted\n\t%v", got, want)
	}
}

func TestBundleASCIIRoundTripTrivialProof(t *testing.T) {
	submitSk, _ := newTestSigner(t, 0x01)
	logSk, _ := newTestSigner(t, 0x02)

	leaf := newTestLeaf(t, submitSk, 0x33)
	var rootHash [types.HashSize]byte
	copy(rootHash[:], rfc6962.DefaultHasher.HashLeaf(leaf.Marshal()))
	th := types.TreeHead{
		Timestamp: 1,
		TreeSize:  1,
		RootHash:  &rootHash,
	}
	sth, err := th.Sign(logSk)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	bundle := &Bundle{
		Leaf: leaf,
		Inclusion: &types.InclusionProof{
			TreeSize:  1,
			LeafIndex: 0,
		},
		SignedTreeHead: sth,
	}

	buf := bytes.NewBuffer(nil)
	if err := bundle.MarshalASCII(buf); err != nil {
		t.Fatalf("MarshalASCII: %v", err)
	}
	var back Bundle
	if err := back.UnmarshalASCII(buf); err != nil {
		t.Fatalf("UnmarshalASCII: %v", err)
	}
	if got, want := &back, bundle; !reflect.DeepEqual(got, want) {
		t.Errorf("got\n\t%v\nbut wanted\n\t%v", got, want)
	}
}
