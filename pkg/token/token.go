// Package token issues and verifies submit tokens: short-lived signed
// capabilities that bind a submitter's domain to an expiry time.  Logs that
// apply domain-based rate limiting require a valid token on add-leaf requests.
package token

import (
	"crypto"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/system-transparency/siglog-client/pkg/types"
)

// Header is the HTTP header key that carries a submit token
const Header = "submit-token"

// SubmitToken binds a submitter domain to an expiry timestamp.  The signature
// is computed over the serialized (domain, expiry) pair.
type SubmitToken struct {
	Domain    string
	Expiry    uint64 // unix seconds
	Signature *[types.SignatureSize]byte
}

// Issue creates a token that is valid until now+validity
func Issue(signer crypto.Signer, domain string, validity time.Duration) (*SubmitToken, error) {
	t := SubmitToken{
		Domain: domain,
		Expiry: uint64(time.Now().Add(validity).Unix()),
	}
	sig, err := signer.Sign(nil, t.marshal(), crypto.Hash(0))
	if err != nil {
		return nil, fmt.Errorf("Sign: %v", err)
	}
	t.Signature = &[types.SignatureSize]byte{}
	copy(t.Signature[:], sig)
	return &t, nil
}

// Verify checks the token signature and that the token has not expired at the
// given time.  It is a pure check that reports false on any mismatch.
func (t *SubmitToken) Verify(vk *[types.VerificationKeySize]byte, now time.Time) bool {
	if t.Signature == nil {
		return false
	}
	if uint64(now.Unix()) >= t.Expiry {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(vk[:]), t.marshal(), t.Signature[:])
}

// ToHeader formats the token as an HTTP header value
func (t *SubmitToken) ToHeader() string {
	return fmt.Sprintf("%s %d %s", t.Domain, t.Expiry, hex.EncodeToString(t.Signature[:]))
}

// FromHeader parses a token from an HTTP header value
func FromHeader(value string) (*SubmitToken, error) {
	fields := strings.Fields(value)
	if len(fields) != 3 {
		return nil, fmt.Errorf("invalid token header: %q", value)
	}
	expiry, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ParseUint: %v", err)
	}
	buf, err := hex.DecodeString(fields[2])
	if err != nil {
		return nil, fmt.Errorf("DecodeString: %v", err)
	}
	if len(buf) != types.SignatureSize {
		return nil, fmt.Errorf("invalid signature length: %v", len(buf))
	}
	t := SubmitToken{
		Domain: fields[0],
		Expiry: expiry,
	}
	t.Signature = &[types.SignatureSize]byte{}
	copy(t.Signature[:], buf)
	return &t, nil
}

// marshal serializes the signed parts of a token.  The domain is
// length-prefixed so that (domain, expiry) pairs cannot collide.
func (t *SubmitToken) marshal() []byte {
	buf := make([]byte, 8+8+len(t.Domain))
	binary.BigEndian.PutUint64(buf[0:8], uint64(len(t.Domain)))
	copy(buf[8:], t.Domain)
	binary.BigEndian.PutUint64(buf[8+len(t.Domain):], t.Expiry)
	return buf
}
