package proof

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/system-transparency/siglog-client/pkg/types"
)

// blockSep separates the leaf, tree head, and inclusion proof blocks in a
// serialized bundle.
const blockSep = types.EOL

// MarshalASCII writes a bundle as three ASCII key-value blocks separated by
// blank lines: leaf, signed tree head, inclusion proof.
func (b *Bundle) MarshalASCII(w io.Writer) error {
	if err := b.Leaf.MarshalASCII(w); err != nil {
		return fmt.Errorf("MarshalASCII: %v", err)
	}
	if _, err := io.WriteString(w, blockSep); err != nil {
		return fmt.Errorf("WriteString: %v", err)
	}
	if err := b.SignedTreeHead.MarshalASCII(w); err != nil {
		return fmt.Errorf("MarshalASCII: %v", err)
	}
	if _, err := io.WriteString(w, blockSep); err != nil {
		return fmt.Errorf("WriteString: %v", err)
	}
	if err := b.Inclusion.MarshalASCII(w); err != nil {
		return fmt.Errorf("MarshalASCII: %v", err)
	}
	return nil
}

// UnmarshalASCII parses a bundle from its three-block serialization
func (b *Bundle) UnmarshalASCII(r io.Reader) error {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return fmt.Errorf("ReadAll: %v", err)
	}
	blocks := bytes.Split(buf, []byte(types.EOL+types.EOL))
	if len(blocks) != 3 {
		return fmt.Errorf("invalid number of blocks: %v", len(blocks))
	}

	var leaves types.LeafList
	if err := leaves.UnmarshalASCII(withEOL(blocks[0])); err != nil {
		return fmt.Errorf("leaf: %v", err)
	}
	if len(leaves) != 1 {
		return fmt.Errorf("invalid number of leaves: %v", len(leaves))
	}
	b.Leaf = leaves[0]

	b.SignedTreeHead = &types.SignedTreeHead{}
	if err := b.SignedTreeHead.UnmarshalASCII(withEOL(blocks[1])); err != nil {
		return fmt.Errorf("tree head: %v", err)
	}

	b.Inclusion = &types.InclusionProof{}
	if err := b.Inclusion.UnmarshalASCII(withEOL(blocks[2])); err != nil {
		// a size-1 tree has a trivial proof with an empty path
		b.Inclusion = &types.InclusionProof{}
		if err := unmarshalTrivialProof(b.Inclusion, withEOL(blocks[2])); err != nil {
			return fmt.Errorf("inclusion proof: %v", err)
		}
	}
	return nil
}

// unmarshalTrivialProof parses an inclusion proof without an inclusion path
func unmarshalTrivialProof(p *types.InclusionProof, r io.Reader) error {
	msg, err := types.NewMessageASCII(r, types.NumFieldInclusionProof-1)
	if err != nil {
		return fmt.Errorf("NewMessageASCII: %v", err)
	}
	if p.TreeSize, err = msg.GetUint64(types.TreeSize); err != nil {
		return fmt.Errorf("GetUint64(TreeSize): %v", err)
	}
	if p.LeafIndex, err = msg.GetUint64(types.LeafIndex); err != nil {
		return fmt.Errorf("GetUint64(LeafIndex): %v", err)
	}
	return nil
}

// withEOL restores the trailing end-of-line that splitting removed from all
// blocks but the last.
func withEOL(block []byte) io.Reader {
	if !bytes.HasSuffix(block, []byte(types.EOL)) {
		block = append(block, []byte(types.EOL)...)
	}
	return bytes.NewBuffer(block)
}
