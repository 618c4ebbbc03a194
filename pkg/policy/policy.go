// Package policy loads and queries a client's trust policy: the log's
// verification key, the set of trusted witness keys, and the cosignature
// quorum that a tree head must meet before it is relied on.
package policy

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/system-transparency/siglog-client/pkg/types"
)

// Policy is a client's trust configuration for one log
type Policy struct {
	LogKey    *[types.VerificationKeySize]byte
	LogURL    string
	Witnesses *WitnessPool
	Quorum    uint64
}

// WitnessPool is a pool of trusted witness verification keys, indexed by key
// hash.
type WitnessPool struct {
	pool map[[types.HashSize]byte]*[types.VerificationKeySize]byte
	list []*[types.VerificationKeySize]byte
}

// NewWitnessPool creates a new witness pool from a list of verification keys.
// An error is returned if there are duplicate keys.
func NewWitnessPool(vks []*[types.VerificationKeySize]byte) (*WitnessPool, error) {
	wp := &WitnessPool{
		pool: make(map[[types.HashSize]byte]*[types.VerificationKeySize]byte),
		list: make([]*[types.VerificationKeySize]byte, 0),
	}
	for _, vk := range vks {
		hash := types.Hash(vk[:])
		if _, ok := wp.pool[*hash]; ok {
			return nil, fmt.Errorf("duplicate witness: %x", vk[:])
		}
		wp.pool[*hash] = vk
		wp.list = append(wp.list, vk)
	}
	return wp, nil
}

// Find looks up a witness verification key by its key hash
func (wp *WitnessPool) Find(keyHash *[types.HashSize]byte) (*[types.VerificationKeySize]byte, bool) {
	vk, ok := wp.pool[*keyHash]
	return vk, ok
}

// Size returns the number of trusted witnesses
func (wp *WitnessPool) Size() uint64 {
	return uint64(len(wp.list))
}

// List returns a copied list of the pool's verification keys
func (wp *WitnessPool) List() []*[types.VerificationKeySize]byte {
	vks := make([]*[types.VerificationKeySize]byte, len(wp.list))
	copy(vks, wp.list)
	return vks
}

// New creates a policy from already-parsed parts, rejecting a quorum that can
// never be met.
func New(logKey *[types.VerificationKeySize]byte, logURL string, witnesses *WitnessPool, quorum uint64) (*Policy, error) {
	if logKey == nil {
		return nil, fmt.Errorf("need a log verification key")
	}
	if witnesses == nil {
		var err error
		if witnesses, err = NewWitnessPool(nil); err != nil {
			return nil, err
		}
	}
	if quorum > witnesses.Size() {
		return nil, fmt.Errorf("quorum %d exceeds witness count %d", quorum, witnesses.Size())
	}
	return &Policy{
		LogKey:    logKey,
		LogURL:    logURL,
		Witnesses: witnesses,
		Quorum:    quorum,
	}, nil
}

// ParseASCII reads a text policy.  One directive per line:
//
//	log <hex verification key> [url]
//	witness <name> <hex verification key>
//	quorum <k>
//
// Empty lines and lines starting with "#" are skipped.  Exactly one log line
// is required; quorum defaults to 0 (no witnesses required).
func ParseASCII(r io.Reader) (*Policy, error) {
	var (
		logKey    *[types.VerificationKeySize]byte
		logURL    string
		witnesses []*[types.VerificationKeySize]byte
		quorum    uint64
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "log":
			if len(fields) != 2 && len(fields) != 3 {
				return nil, fmt.Errorf("invalid log line: %q", line)
			}
			if logKey != nil {
				return nil, fmt.Errorf("multiple log lines")
			}
			vk, err := decodeKey(fields[1])
			if err != nil {
				return nil, fmt.Errorf("log: %v", err)
			}
			logKey = vk
			if len(fields) == 3 {
				logURL = fields[2]
			}
		case "witness":
			if len(fields) != 3 {
				return nil, fmt.Errorf("invalid witness line: %q", line)
			}
			vk, err := decodeKey(fields[2])
			if err != nil {
				return nil, fmt.Errorf("witness %s: %v", fields[1], err)
			}
			witnesses = append(witnesses, vk)
		case "quorum":
			if len(fields) != 2 {
				return nil, fmt.Errorf("invalid quorum line: %q", line)
			}
			num, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("quorum: %v", err)
			}
			quorum = num
		default:
			return nil, fmt.Errorf("unknown directive: %q", fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("Scan: %v", err)
	}
	if logKey == nil {
		return nil, fmt.Errorf("no log line")
	}

	wp, err := NewWitnessPool(witnesses)
	if err != nil {
		return nil, fmt.Errorf("NewWitnessPool: %v", err)
	}
	return New(logKey, logURL, wp, quorum)
}

func decodeKey(str string) (*[types.VerificationKeySize]byte, error) {
	buf, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("DecodeString: %v", err)
	}
	if len(buf) != types.VerificationKeySize {
		return nil, fmt.Errorf("invalid key length: %v", len(buf))
	}
	var vk [types.VerificationKeySize]byte
	copy(vk[:], buf)
	return &vk, nil
}
