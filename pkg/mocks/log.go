package mocks

import (
	"crypto"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/trillian/merkle/rfc6962"

	"github.com/system-transparency/siglog-client/pkg/types"
)

// TestLog is an in-memory transparency log that can back an httptest server.
// It keeps an RFC 6962 Merkle tree of its merged leaves and answers the
// client-facing endpoints.  Leaves are queued on add-leaf and merged on the
// next Rotate, which matches a log that batches entries asynchronously.
type TestLog struct {
	Signer    crypto.Signer   // log identity
	Witnesses []crypto.Signer // cosign every tree head

	// RejectStatus, if non-zero, is returned for every add-leaf request
	RejectStatus int

	// QueueForever makes add-leaf queue leaves that Rotate never merges
	QueueForever bool

	// AutoMerge makes add-leaf merge each new leaf right away, while still
	// answering 202 for the request that delivered it
	AutoMerge bool

	sync.Mutex
	timestamp uint64
	merged    []*types.Leaf
	queued    []*types.Leaf
}

// AddEndpoints registers the log's handler functions on a mux
func (tl *TestLog) AddEndpoints(mux *http.ServeMux) {
	mux.HandleFunc("/"+string(types.EndpointAddLeaf), tl.addLeaf)
	mux.HandleFunc("/"+string(types.EndpointGetTreeHeadCosigned), tl.getTreeHead)
	mux.HandleFunc("/"+string(types.EndpointGetProofByHash), tl.getProofByHash)
	mux.HandleFunc("/"+string(types.EndpointGetConsistencyProof), tl.getConsistencyProof)
	mux.HandleFunc("/"+string(types.EndpointGetLeaves), tl.getLeaves)
}

// Rotate merges all queued leaves into the tree
func (tl *TestLog) Rotate() {
	tl.Lock()
	defer tl.Unlock()
	tl.timestamp++
	if tl.QueueForever {
		return
	}
	for _, leaf := range tl.queued {
		tl.merged = append(tl.merged, leaf)
	}
	tl.queued = nil
}

func (tl *TestLog) addLeaf(w http.ResponseWriter, r *http.Request) {
	if tl.RejectStatus != 0 {
		http.Error(w, http.StatusText(tl.RejectStatus), tl.RejectStatus)
		return
	}
	var req types.LeafRequest
	if err := req.UnmarshalASCII(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	leaf := &types.Leaf{
		Message: req.Message,
		SigIdent: types.SigIdent{
			Signature: req.Signature,
			KeyHash:   types.Hash(req.VerificationKey[:]),
		},
	}
	if !leaf.Verify(req.VerificationKey) {
		http.Error(w, "invalid leaf signature", http.StatusForbidden)
		return
	}

	tl.Lock()
	defer tl.Unlock()
	target := types.HashLeaf(leaf.Marshal())
	for _, merged := range tl.merged {
		if *types.HashLeaf(merged.Marshal()) == *target {
			w.WriteHeader(http.StatusOK) // already sequenced
			return
		}
	}
	for _, queued := range tl.queued {
		if *types.HashLeaf(queued.Marshal()) == *target {
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}
	if tl.AutoMerge {
		tl.merged = append(tl.merged, leaf)
	} else {
		tl.queued = append(tl.queued, leaf)
	}
	w.WriteHeader(http.StatusAccepted)
}

// Merge appends leaves to the tree directly, bypassing add-leaf
func (tl *TestLog) Merge(leaves ...*types.Leaf) {
	tl.Lock()
	defer tl.Unlock()
	tl.merged = append(tl.merged, leaves...)
}

func (tl *TestLog) getTreeHead(w http.ResponseWriter, _ *http.Request) {
	sth, err := tl.signTreeHead()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := sth.MarshalASCII(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (tl *TestLog) getProofByHash(w http.ResponseWriter, r *http.Request) {
	var req types.InclusionProofRequest
	if err := req.UnmarshalASCII(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tl.Lock()
	defer tl.Unlock()
	if req.TreeSize == 0 || req.TreeSize > uint64(len(tl.merged)) {
		http.Error(w, "unknown tree size", http.StatusBadRequest)
		return
	}
	hashes := tl.leafHashes(req.TreeSize)
	index := -1
	for i, hash := range hashes {
		if *req.LeafHash == *hash {
			index = i
			break
		}
	}
	if index == -1 {
		http.Error(w, "leaf not included", http.StatusNotFound)
		return
	}

	inclusion := types.InclusionProof{
		TreeSize:  req.TreeSize,
		LeafIndex: uint64(index),
		Path:      inclusionPath(hashes, uint64(index)),
	}
	if err := inclusion.MarshalASCII(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (tl *TestLog) getConsistencyProof(w http.ResponseWriter, r *http.Request) {
	var req types.ConsistencyProofRequest
	if err := req.UnmarshalASCII(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tl.Lock()
	defer tl.Unlock()
	if req.OldSize == 0 || req.OldSize >= req.NewSize || req.NewSize > uint64(len(tl.merged)) {
		http.Error(w, "invalid sizes", http.StatusBadRequest)
		return
	}
	consistency := types.ConsistencyProof{
		NewSize: req.NewSize,
		OldSize: req.OldSize,
		Path:    consistencyPath(tl.leafHashes(req.NewSize), req.OldSize, true),
	}
	if err := consistency.MarshalASCII(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (tl *TestLog) getLeaves(w http.ResponseWriter, r *http.Request) {
	var req types.LeavesRequest
	if err := req.UnmarshalASCII(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tl.Lock()
	defer tl.Unlock()
	if req.StartSize > req.EndSize || req.StartSize >= uint64(len(tl.merged)) {
		http.Error(w, "invalid range", http.StatusBadRequest)
		return
	}
	end := req.EndSize
	if end >= uint64(len(tl.merged)) {
		end = uint64(len(tl.merged)) - 1
	}
	for _, leaf := range tl.merged[req.StartSize : end+1] {
		if err := leaf.MarshalASCII(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// signTreeHead signs the current tree head with the log key and cosigns it
// with every witness.
func (tl *TestLog) signTreeHead() (*types.SignedTreeHead, error) {
	tl.Lock()
	defer tl.Unlock()
	th := types.TreeHead{
		Timestamp: tl.timestamp,
		TreeSize:  uint64(len(tl.merged)),
		RootHash:  rootHash(tl.leafHashes(uint64(len(tl.merged)))),
	}
	sth, err := th.Sign(tl.Signer)
	if err != nil {
		return nil, fmt.Errorf("Sign: %v", err)
	}
	for _, witness := range tl.Witnesses {
		if sth, err = sth.Cosign(witness); err != nil {
			return nil, fmt.Errorf("Cosign: %v", err)
		}
	}
	return sth, nil
}

// leafHashes returns the leaf hashes of the first treeSize merged leaves
func (tl *TestLog) leafHashes(treeSize uint64) []*[types.HashSize]byte {
	hashes := make([]*[types.HashSize]byte, 0, treeSize)
	for _, leaf := range tl.merged[:treeSize] {
		hashes = append(hashes, types.HashLeaf(leaf.Marshal()))
	}
	return hashes
}

// rootHash computes the RFC 6962 root of a list of leaf hashes
func rootHash(hashes []*[types.HashSize]byte) *[types.HashSize]byte {
	switch len(hashes) {
	case 0:
		return types.Hash(nil)
	case 1:
		return hashes[0]
	}
	split := splitPoint(uint64(len(hashes)))
	var root [types.HashSize]byte
	copy(root[:], rfc6962.DefaultHasher.HashChildren(
		rootHash(hashes[:split])[:],
		rootHash(hashes[split:])[:],
	))
	return &root
}

// inclusionPath computes the RFC 6962 inclusion path of the leaf at index
func inclusionPath(hashes []*[types.HashSize]byte, index uint64) []*[types.HashSize]byte {
	if len(hashes) <= 1 {
		return nil
	}
	split := splitPoint(uint64(len(hashes)))
	if index < split {
		return append(inclusionPath(hashes[:split], index), rootHash(hashes[split:]))
	}
	return append(inclusionPath(hashes[split:], index-split), rootHash(hashes[:split]))
}

// consistencyPath computes the RFC 6962 consistency proof from a tree of
// oldSize to the tree over hashes.  complete marks whether the old tree is a
// complete subtree at the current recursion level.
func consistencyPath(hashes []*[types.HashSize]byte, oldSize uint64, complete bool) []*[types.HashSize]byte {
	n := uint64(len(hashes))
	if oldSize == n {
		if complete {
			return nil
		}
		return []*[types.HashSize]byte{rootHash(hashes)}
	}
	split := splitPoint(n)
	if oldSize <= split {
		return append(consistencyPath(hashes[:split], oldSize, complete), rootHash(hashes[split:]))
	}
	return append(consistencyPath(hashes[split:], oldSize-split, false), rootHash(hashes[:split]))
}

// splitPoint returns the largest power of two strictly smaller than n
func splitPoint(n uint64) uint64 {
	split := uint64(1)
	for split*2 < n {
		split *= 2
	}
	return split
}
