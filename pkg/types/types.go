package types

import (
	"crypto"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
)

const (
	HashSize            = sha256.Size
	SignatureSize       = ed25519.SignatureSize
	VerificationKeySize = ed25519.PublicKeySize

	EndpointAddLeaf             = Endpoint("add-leaf")
	EndpointGetTreeHeadCosigned = Endpoint("get-tree-head-cosigned")
	EndpointGetProofByHash      = Endpoint("get-proof-by-hash")
	EndpointGetConsistencyProof = Endpoint("get-consistency-proof")
	EndpointGetLeaves           = Endpoint("get-leaves")
)

// ErrInvalidDigestLength is returned when a checksum is not exactly HashSize
// bytes.
var ErrInvalidDigestLength = errors.New("checksum must be exactly 32 bytes")

// Endpoint is a named HTTP API endpoint
type Endpoint string

// Path joins a number of components to form a full endpoint path.  For example,
// EndpointAddLeaf.Path("example.com", "log/v0") -> example.com/log/v0/add-leaf.
func (e Endpoint) Path(components ...string) string {
	return strings.Join(append(components, string(e)), "/")
}

// Leaf is the log's Merkle tree leaf: a signed statement over a checksum.
type Leaf struct {
	Message
	SigIdent
}

// Message is composed of a shard hint and a checksum.  The submitter selects
// these values to fit the log's shard interval and the opaque data in question.
type Message struct {
	ShardHint uint64
	Checksum  *[HashSize]byte
}

// SigIdent is composed of a signature-signer pair.  The signature is computed
// over the Trunnel-serialized leaf message.  KeyHash identifies the signer.
type SigIdent struct {
	Signature *[SignatureSize]byte
	KeyHash   *[HashSize]byte
}

// SignedTreeHead is composed of a tree head and a list of signature-signer
// pairs.  Each signature is computed over the Trunnel-serialized tree head.
// The log's own signature comes first, witness cosignatures follow.
type SignedTreeHead struct {
	TreeHead
	SigIdent []*SigIdent
}

// TreeHead is the log's tree head.
type TreeHead struct {
	Timestamp uint64
	TreeSize  uint64
	RootHash  *[HashSize]byte
}

// InclusionProof is an inclusion proof that proves a leaf is included in the
// log.
type InclusionProof struct {
	TreeSize  uint64
	LeafIndex uint64
	Path      []*[HashSize]byte
}

// ConsistencyProof is a consistency proof that proves the log's append-only
// property.
type ConsistencyProof struct {
	NewSize uint64
	OldSize uint64
	Path    []*[HashSize]byte
}

// LeafList is a list of leaves
type LeafList []*Leaf

// InclusionProofRequest is a get-proof-by-hash request
type InclusionProofRequest struct {
	LeafHash *[HashSize]byte
	TreeSize uint64
}

// ConsistencyProofRequest is a get-consistency-proof request
type ConsistencyProofRequest struct {
	NewSize uint64
	OldSize uint64
}

// LeavesRequest is a get-leaves request
type LeavesRequest struct {
	StartSize uint64
	EndSize   uint64
}

// LeafRequest is an add-leaf request
type LeafRequest struct {
	Message
	Signature       *[SignatureSize]byte
	VerificationKey *[VerificationKeySize]byte
	DomainHint      string
}

// NewMessage creates a message from a raw digest.  The digest must be exactly
// HashSize bytes, anything else fails with ErrInvalidDigestLength.
func NewMessage(shardHint uint64, digest []byte) (*Message, error) {
	if len(digest) != HashSize {
		return nil, ErrInvalidDigestLength
	}
	var checksum [HashSize]byte
	copy(checksum[:], digest)
	return &Message{
		ShardHint: shardHint,
		Checksum:  &checksum,
	}, nil
}

// Sign signs the message using the submitter's signature scheme, producing a
// leaf that binds the checksum to the signer's key hash.  Ed25519 signing is
// deterministic, so the same (message, signer) pair always yields the same
// leaf.
func (m *Message) Sign(signer crypto.Signer) (*Leaf, error) {
	if m.Checksum == nil {
		return nil, ErrInvalidDigestLength
	}
	sig, err := signer.Sign(nil, m.Marshal(), crypto.Hash(0))
	if err != nil {
		return nil, fmt.Errorf("Sign: %v", err)
	}

	sigident := SigIdent{
		KeyHash:   Hash(signer.Public().(ed25519.PublicKey)[:]),
		Signature: &[SignatureSize]byte{},
	}
	copy(sigident.Signature[:], sig)
	return &Leaf{
		Message:  *m,
		SigIdent: sigident,
	}, nil
}

// Verify checks the leaf signature against a verification key.  It is a pure
// check that reports false on any mismatch.
func (l *Leaf) Verify(vk *[VerificationKeySize]byte) bool {
	if l.Checksum == nil || l.Signature == nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(vk[:]), l.Message.Marshal(), l.Signature[:])
}

// Sign signs the tree head using the log's signature scheme
func (th *TreeHead) Sign(signer crypto.Signer) (*SignedTreeHead, error) {
	sig, err := signer.Sign(nil, th.Marshal(), crypto.Hash(0))
	if err != nil {
		return nil, fmt.Errorf("Sign: %v", err)
	}

	sigident := SigIdent{
		KeyHash:   Hash(signer.Public().(ed25519.PublicKey)[:]),
		Signature: &[SignatureSize]byte{},
	}
	copy(sigident.Signature[:], sig)
	return &SignedTreeHead{
		TreeHead: *th,
		SigIdent: []*SigIdent{
			&sigident,
		},
	}, nil
}

// Cosign adds a witness cosignature over the tree head.  Witnesses sign the
// same Trunnel-serialized tree head as the log.
func (sth *SignedTreeHead) Cosign(signer crypto.Signer) (*SignedTreeHead, error) {
	cosigned, err := sth.TreeHead.Sign(signer)
	if err != nil {
		return nil, err
	}
	cosigned.SigIdent = append(append([]*SigIdent{}, sth.SigIdent...), cosigned.SigIdent...)
	return cosigned, nil
}

// Verify verifies the tree head signature using the log's signature scheme
func (th *TreeHead) Verify(vk *[VerificationKeySize]byte, sig *[SignatureSize]byte) error {
	if !ed25519.Verify(ed25519.PublicKey(vk[:]), th.Marshal(), sig[:]) {
		return fmt.Errorf("invalid tree head signature")
	}
	return nil
}
