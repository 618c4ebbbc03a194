// Package proof defines the proof bundle that a submission produces and the
// offline verification of such bundles against a trust policy.
package proof

import (
	"errors"

	"github.com/google/trillian/merkle"
	"github.com/google/trillian/merkle/rfc6962"

	"github.com/system-transparency/siglog-client/pkg/policy"
	"github.com/system-transparency/siglog-client/pkg/types"
)

var (
	// ErrKeyMismatch means the leaf's key hash is not the submitter's
	ErrKeyMismatch = errors.New("leaf key hash does not match verification key")
	// ErrBadLeafSignature means the leaf signature does not verify
	ErrBadLeafSignature = errors.New("invalid leaf signature")
	// ErrUntrustedLog means the tree head is not signed by the policy's log
	ErrUntrustedLog = errors.New("tree head not signed by a trusted log")
	// ErrInsufficientQuorum means too few valid witness cosignatures
	ErrInsufficientQuorum = errors.New("insufficient witness cosignature quorum")
	// ErrInclusionMismatch means the inclusion proof does not recompute to
	// the tree head's root hash
	ErrInclusionMismatch = errors.New("inclusion proof does not match tree head")
)

// Bundle is everything needed to convince a third party that a leaf is
// included in a cosigned tree: the leaf itself, an inclusion proof, and the
// signed tree head the proof leads to.  Witness cosignatures ride in the
// signed tree head's signature list.  A bundle is immutable once assembled
// and can be re-verified offline at any later time.
type Bundle struct {
	Leaf           *types.Leaf
	Inclusion      *types.InclusionProof
	SignedTreeHead *types.SignedTreeHead
}

// Verify checks a bundle against the submitter's verification key and a trust
// policy.  All checks are pure and deterministic; the cheap signature and
// key-hash checks run before the Merkle path recomputation.  A bundle either
// passes every check or fails with the error naming the first check that did
// not hold.
func Verify(b *Bundle, vk *[types.VerificationKeySize]byte, p *policy.Policy) error {
	if *types.Hash(vk[:]) != *b.Leaf.KeyHash {
		return ErrKeyMismatch
	}
	if !b.Leaf.Verify(vk) {
		return ErrBadLeafSignature
	}
	if err := VerifyTreeHead(b.SignedTreeHead, p); err != nil {
		return err
	}
	return verifyInclusion(b.Leaf, b.Inclusion, &b.SignedTreeHead.TreeHead)
}

// VerifyTreeHead checks that a tree head is signed by the policy's log and
// carries a quorum of valid witness cosignatures.
func VerifyTreeHead(sth *types.SignedTreeHead, p *policy.Policy) error {
	if err := verifyLogSignature(sth, p); err != nil {
		return err
	}
	return verifyQuorum(sth, p)
}

// verifyLogSignature checks that one of the tree head's signatures is a valid
// signature by the policy's log key.
func verifyLogSignature(sth *types.SignedTreeHead, p *policy.Policy) error {
	logKeyHash := types.Hash(p.LogKey[:])
	for _, sigident := range sth.SigIdent {
		if *sigident.KeyHash != *logKeyHash {
			continue
		}
		if sth.TreeHead.Verify(p.LogKey, sigident.Signature) == nil {
			return nil
		}
	}
	return ErrUntrustedLog
}

// verifyQuorum counts distinct trusted witnesses with a valid cosignature
// over the tree head and requires at least the policy's quorum.
func verifyQuorum(sth *types.SignedTreeHead, p *policy.Policy) error {
	valid := make(map[[types.HashSize]byte]bool)
	for _, sigident := range sth.SigIdent {
		vk, ok := p.Witnesses.Find(sigident.KeyHash)
		if !ok {
			continue
		}
		if sth.TreeHead.Verify(vk, sigident.Signature) != nil {
			continue
		}
		valid[*sigident.KeyHash] = true
	}
	if uint64(len(valid)) < p.Quorum {
		return ErrInsufficientQuorum
	}
	return nil
}

// verifyInclusion recomputes the Merkle root from the leaf and the inclusion
// path and compares it to the tree head's root hash.
func verifyInclusion(leaf *types.Leaf, proof *types.InclusionProof, th *types.TreeHead) error {
	if proof.TreeSize != th.TreeSize {
		return ErrInclusionMismatch
	}
	path := make([][]byte, 0, len(proof.Path))
	for _, hash := range proof.Path {
		path = append(path, hash[:])
	}
	leafHash := rfc6962.DefaultHasher.HashLeaf(leaf.Marshal())
	if err := merkle.NewLogVerifier(rfc6962.DefaultHasher).VerifyInclusionProof(
		int64(proof.LeafIndex),
		int64(proof.TreeSize),
		path,
		th.RootHash[:],
		leafHash,
	); err != nil {
		return ErrInclusionMismatch
	}
	return nil
}

// VerifyConsistency checks that two tree heads are consistent under a
// consistency proof, i.e., that the log only appended between them.
func VerifyConsistency(proof *types.ConsistencyProof, oldTH, newTH *types.TreeHead) error {
	if proof.OldSize != oldTH.TreeSize || proof.NewSize != newTH.TreeSize {
		return ErrInclusionMismatch
	}
	path := make([][]byte, 0, len(proof.Path))
	for _, hash := range proof.Path {
		path = append(path, hash[:])
	}
	return merkle.NewLogVerifier(rfc6962.DefaultHasher).VerifyConsistencyProof(
		int64(proof.OldSize),
		int64(proof.NewSize),
		oldTH.RootHash[:],
		newTH.RootHash[:],
		path,
	)
}
