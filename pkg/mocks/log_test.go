package mocks

import (
	"bytes"
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/trillian/merkle"
	"github.com/google/trillian/merkle/rfc6962"

	"github.com/system-transparency/siglog-client/pkg/types"
)

func newTestLeaves(t *testing.T, num uint64) []*types.Leaf {
	t.Helper()
	sk := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x01}, ed25519.SeedSize))
	leaves := make([]*types.Leaf, 0, num)
	for i := uint64(0); i < num; i++ {
		msg, err := types.NewMessage(i, bytes.Repeat([]byte{0x33}, types.HashSize))
		if err != nil {
			t.Fatalf("NewMessage: %v", err)
		}
		leaf, err := msg.Sign(sk)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		leaves = append(leaves, leaf)
	}
	return leaves
}

// TestInclusionPath checks the tree construction against the verifier that
// clients run, for every leaf of every tree size up to 8.
func TestInclusionPath(t *testing.T) {
	leaves := newTestLeaves(t, 8)
	verifier := merkle.NewLogVerifier(rfc6962.DefaultHasher)
	for treeSize := uint64(1); treeSize <= 8; treeSize++ {
		tl := &TestLog{}
		tl.Merge(leaves[:treeSize]...)
		hashes := tl.leafHashes(treeSize)
		root := rootHash(hashes)
		for index := uint64(0); index < treeSize; index++ {
			path := inclusionPath(hashes, index)
			proof := make([][]byte, 0, len(path))
			for _, hash := range path {
				proof = append(proof, hash[:])
			}
			if err := verifier.VerifyInclusionProof(
				int64(index),
				int64(treeSize),
				proof,
				root[:],
				hashes[index][:],
			); err != nil {
				t.Errorf("invalid inclusion path for leaf %d in tree of size %d: %v", index, treeSize, err)
			}
		}
	}
}

// TestConsistencyPath checks consistency proofs between every pair of tree
// sizes up to 8.
func TestConsistencyPath(t *testing.T) {
	leaves := newTestLeaves(t, 8)
	verifier := merkle.NewLogVerifier(rfc6962.DefaultHasher)
	tl := &TestLog{}
	tl.Merge(leaves...)
	for oldSize := uint64(1); oldSize <= 8; oldSize++ {
		for newSize := oldSize + 1; newSize <= 8; newSize++ {
			oldRoot := rootHash(tl.leafHashes(oldSize))
			newRoot := rootHash(tl.leafHashes(newSize))
			path := consistencyPath(tl.leafHashes(newSize), oldSize, true)
			proof := make([][]byte, 0, len(path))
			for _, hash := range path {
				proof = append(proof, hash[:])
			}
			if err := verifier.VerifyConsistencyProof(
				int64(oldSize),
				int64(newSize),
				oldRoot[:],
				newRoot[:],
				proof,
			); err != nil {
				t.Errorf("invalid consistency path from size %d to %d: %v", oldSize, newSize, err)
			}
		}
	}
}

func TestAddLeafStatus(t *testing.T) {
	sk := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x01}, ed25519.SeedSize))
	var vk [types.VerificationKeySize]byte
	copy(vk[:], sk.Public().(ed25519.PublicKey))
	msg, err := types.NewMessage(10, bytes.Repeat([]byte{0x33}, types.HashSize))
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	leaf, err := msg.Sign(sk)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	logSk := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x10}, ed25519.SeedSize))
	tl := &TestLog{Signer: logSk}
	mux := http.NewServeMux()
	tl.AddEndpoints(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	send := func(signature *[types.SignatureSize]byte) int {
		req := types.LeafRequest{
			Message:         leaf.Message,
			Signature:       signature,
			VerificationKey: &vk,
			DomainHint:      "example.com",
		}
		buf := bytes.NewBuffer(nil)
		if err := req.MarshalASCII(buf); err != nil {
			t.Fatalf("MarshalASCII: %v", err)
		}
		rsp, err := http.Post(srv.URL+"/"+string(types.EndpointAddLeaf), "text/plain", buf)
		if err != nil {
			t.Fatalf("Post: %v", err)
		}
		defer rsp.Body.Close()
		return rsp.StatusCode
	}

	if got, want := send(leaf.Signature), http.StatusAccepted; got != want {
		t.Errorf("got status %d but wanted %d for a new leaf", got, want)
	}
	if got, want := send(leaf.Signature), http.StatusAccepted; got != want {
		t.Errorf("got status %d but wanted %d for an already-queued leaf", got, want)
	}
	tl.Rotate()
	if got, want := send(leaf.Signature), http.StatusOK; got != want {
		t.Errorf("got status %d but wanted %d for a merged leaf", got, want)
	}

	badSig := *leaf.Signature
	badSig[0] ^= 0x01
	if got, want := send(&badSig), http.StatusForbidden; got != want {
		t.Errorf("got status %d but wanted %d for a bad signature", got, want)
	}
}

func TestGetLeaves(t *testing.T) {
	leaves := newTestLeaves(t, 5)
	logSk := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x10}, ed25519.SeedSize))
	tl := &TestLog{Signer: logSk}
	tl.Merge(leaves...)
	mux := http.NewServeMux()
	tl.AddEndpoints(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req := types.LeavesRequest{StartSize: 1, EndSize: 3}
	buf := bytes.NewBuffer(nil)
	if err := req.MarshalASCII(buf); err != nil {
		t.Fatalf("MarshalASCII: %v", err)
	}
	rsp, err := http.Post(srv.URL+"/"+string(types.EndpointGetLeaves), "text/plain", buf)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer rsp.Body.Close()
	if got, want := rsp.StatusCode, http.StatusOK; got != want {
		t.Fatalf("got status %d but wanted %d", got, want)
	}
	var list types.LeafList
	if err := list.UnmarshalASCII(rsp.Body); err != nil {
		t.Fatalf("UnmarshalASCII: %v", err)
	}
	if got, want := len(list), 3; got != want {
		t.Fatalf("got %d leaves but wanted %d", got, want)
	}
	for i, leaf := range list {
		if got, want := leaf.ShardHint, leaves[i+1].ShardHint; got != want {
			t.Errorf("got shard hint %d but wanted %d for leaf %d", got, want, i)
		}
	}
}

func TestSplitPoint(t *testing.T) {
	for _, table := range []struct {
		n    uint64
		want uint64
	}{
		{n: 2, want: 1},
		{n: 3, want: 2},
		{n: 4, want: 2},
		{n: 5, want: 4},
		{n: 8, want: 4},
		{n: 9, want: 8},
	} {
		if got, want := splitPoint(table.n), table.want; got != want {
			t.Errorf("got split %d but wanted %d for n=%d", got, want, table.n)
		}
	}
}
