// Package submit sends signed leaves to a transparency log and polls until
// the log returns enough material to assemble a verifiable proof bundle.
package submit

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/context/ctxhttp"

	"github.com/system-transparency/siglog-client/pkg/policy"
	"github.com/system-transparency/siglog-client/pkg/proof"
	"github.com/system-transparency/siglog-client/pkg/token"
	"github.com/system-transparency/siglog-client/pkg/types"
)

// Client submits leaves to a single log.  A client may run any number of
// concurrent Submit calls; each call owns its own backoff timer and shares no
// mutable state with the others.
type Client struct {
	HTTPClient *http.Client
	Signer     crypto.Signer      // submitter identity
	Policy     *policy.Policy     // log and witness trust configuration
	Token      *token.SubmitToken // optional rate-limit credential
	DomainHint string             // domain where the submitter key is registered
	Retry      RetryPolicy
}

// New creates a client that submits to the policy's log
func New(p *policy.Policy, signer crypto.Signer, retry RetryPolicy) *Client {
	return &Client{
		HTTPClient: &http.Client{},
		Signer:     signer,
		Policy:     p,
		Retry:      retry,
	}
}

// SignAndSubmit signs a digest with the client's signer and submits the
// resulting leaf.  The digest must be exactly types.HashSize bytes.
func (c *Client) SignAndSubmit(ctx context.Context, shardHint uint64, digest []byte) (*proof.Bundle, error) {
	msg, err := types.NewMessage(shardHint, digest)
	if err != nil {
		return nil, err
	}
	leaf, err := msg.Sign(c.Signer)
	if err != nil {
		return nil, fmt.Errorf("Sign: %v", err)
	}
	var vk [types.VerificationKeySize]byte
	copy(vk[:], c.Signer.Public().(ed25519.PublicKey))
	return c.Submit(ctx, leaf, &vk)
}

// Submit sends a leaf to the log's add-leaf endpoint and polls with capped
// exponential backoff until a proof bundle can be assembled, the retry
// policy's deadline or attempt budget runs out, or the log rejects the leaf.
// The log is content-addressed, so submitting an already-sequenced leaf again
// returns the existing proof.  On success the bundle has already been
// verified against the client's policy.
func (c *Client) Submit(ctx context.Context, leaf *types.Leaf, vk *[types.VerificationKeySize]byte) (*proof.Bundle, error) {
	if *types.Hash(vk[:]) != *leaf.KeyHash {
		return nil, &RejectedError{Reason: "leaf is not signed by the given verification key"}
	}
	if c.Retry.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Retry.Deadline)
		defer cancel()
	}

	start := time.Now()
	state := StatePending
	for round := 0; ; round++ {
		if state == StatePending {
			next, err := c.addLeaf(ctx, leaf, vk)
			if err != nil {
				if _, ok := err.(*RejectedError); ok {
					prfcnt.Inc(string(StateFailed))
					return nil, err
				}
				if ctx.Err() != nil {
					return nil, &TimeoutError{LastState: state}
				}
				glog.Warningf("add-leaf failed, will retry: %v", err)
			} else {
				state = next
				glog.V(3).Infof("add-leaf acknowledged: %v", state)
			}
		}
		if state == StateQueued || state == StateSequenced {
			bundle, next, err := c.fetchProof(ctx, leaf, vk, state)
			if err != nil {
				if ctx.Err() != nil {
					return nil, &TimeoutError{LastState: state}
				}
				glog.Warningf("proof not ready, will retry: %v", err)
			}
			state = next
			if bundle != nil {
				if err := proof.Verify(bundle, vk, c.Policy); err != nil {
					prfcnt.Inc(string(StateFailed))
					return nil, fmt.Errorf("assembled bundle does not verify: %v", err)
				}
				prfcnt.Inc(string(StateProven))
				latency.Observe(time.Now().Sub(start).Seconds(), string(StateProven))
				glog.V(3).Infof("assembled proof bundle at tree size %d", bundle.Inclusion.TreeSize)
				return bundle, nil
			}
		}
		if round+1 >= c.Retry.MaxAttempts {
			break
		}
		if !c.Retry.wait(ctx, round) {
			prfcnt.Inc(string(StateFailed))
			latency.Observe(time.Now().Sub(start).Seconds(), string(StateFailed))
			return nil, &TimeoutError{LastState: state}
		}
	}
	prfcnt.Inc(string(StateFailed))
	latency.Observe(time.Now().Sub(start).Seconds(), string(StateFailed))
	return nil, &TimeoutError{LastState: state}
}

// addLeaf sends the add-leaf request.  200 means the leaf is already merged,
// 202 means the log queued it for a later merge, 4xx is a permanent
// rejection.  Anything else is reported as a transient error.
func (c *Client) addLeaf(ctx context.Context, leaf *types.Leaf, vk *[types.VerificationKeySize]byte) (State, error) {
	leafReq := types.LeafRequest{
		Message:         leaf.Message,
		Signature:       leaf.Signature,
		VerificationKey: vk,
		DomainHint:      c.DomainHint,
	}
	buf := bytes.NewBuffer(nil)
	if err := leafReq.MarshalASCII(buf); err != nil {
		return StatePending, fmt.Errorf("MarshalASCII: %v", err)
	}

	body, status, err := c.doRequest(ctx, "POST", types.EndpointAddLeaf, buf)
	if err != nil {
		return StatePending, err
	}
	switch status {
	case http.StatusOK:
		return StateSequenced, nil
	case http.StatusAccepted:
		return StateQueued, nil
	case http.StatusBadRequest, http.StatusForbidden, http.StatusConflict, http.StatusTooManyRequests:
		return StateFailed, &RejectedError{Reason: rejectReason(status, body)}
	default:
		return StatePending, fmt.Errorf("unexpected add-leaf status: %v", status)
	}
}

// fetchProof fetches the current cosigned tree head and, if the tree covers
// the leaf, the inclusion proof.  A nil bundle with a nil error means the
// leaf has not been merged yet.
func (c *Client) fetchProof(ctx context.Context, leaf *types.Leaf, vk *[types.VerificationKeySize]byte, state State) (*proof.Bundle, State, error) {
	sth, err := c.getTreeHead(ctx)
	if err != nil {
		return nil, state, fmt.Errorf("getTreeHead: %v", err)
	}
	if err := proof.VerifyTreeHead(sth, c.Policy); err != nil {
		// not enough cosignatures yet, or a misbehaving log; keep polling
		// and let the deadline decide
		return nil, state, fmt.Errorf("tree head does not meet policy: %v", err)
	}
	glog.V(3).Infof("verified cosigned tree head at size %d", sth.TreeSize)

	if sth.TreeSize == 0 {
		return nil, StateQueued, nil
	}
	leafHash := types.HashLeaf(leaf.Marshal())
	if sth.TreeSize == 1 {
		if *sth.RootHash != *leafHash {
			return nil, StateQueued, nil
		}
		// a size-1 tree proves inclusion trivially
		return &proof.Bundle{
			Leaf:           leaf,
			Inclusion:      &types.InclusionProof{TreeSize: 1, LeafIndex: 0},
			SignedTreeHead: sth,
		}, StateProven, nil
	}

	inclusion, err := c.getInclusionProof(ctx, leafHash, sth.TreeSize)
	if err != nil {
		return nil, state, fmt.Errorf("getInclusionProof: %v", err)
	}
	if inclusion == nil {
		return nil, StateQueued, nil
	}
	return &proof.Bundle{
		Leaf:           leaf,
		Inclusion:      inclusion,
		SignedTreeHead: sth,
	}, StateProven, nil
}

// getTreeHead fetches the latest cosigned tree head
func (c *Client) getTreeHead(ctx context.Context) (*types.SignedTreeHead, error) {
	body, status, err := c.doRequest(ctx, "GET", types.EndpointGetTreeHeadCosigned, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("bad http status: %v", status)
	}
	var sth types.SignedTreeHead
	if err := sth.UnmarshalASCII(bytes.NewBuffer(body)); err != nil {
		return nil, fmt.Errorf("UnmarshalASCII: %v", err)
	}
	return &sth, nil
}

// getInclusionProof fetches an inclusion proof for a leaf hash against a tree
// size.  A nil proof with a nil error means the log has not sequenced the
// leaf yet.
func (c *Client) getInclusionProof(ctx context.Context, leafHash *[types.HashSize]byte, treeSize uint64) (*types.InclusionProof, error) {
	req := types.InclusionProofRequest{
		LeafHash: leafHash,
		TreeSize: treeSize,
	}
	buf := bytes.NewBuffer(nil)
	if err := req.MarshalASCII(buf); err != nil {
		return nil, fmt.Errorf("MarshalASCII: %v", err)
	}

	body, status, err := c.doRequest(ctx, "POST", types.EndpointGetProofByHash, buf)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("bad http status: %v", status)
	}
	var inclusion types.InclusionProof
	if err := inclusion.UnmarshalASCII(bytes.NewBuffer(body)); err != nil {
		return nil, fmt.Errorf("UnmarshalASCII: %v", err)
	}
	return &inclusion, nil
}

// doRequest sends an HTTP request and outputs the raw body and status code
func (c *Client) doRequest(ctx context.Context, method string, endpoint types.Endpoint, body *bytes.Buffer) ([]byte, int, error) {
	url := endpoint.Path(c.Policy.LogURL)
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequest(method, url, nil)
	} else {
		req, err = http.NewRequest(method, url, body)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed creating http request: %v", err)
	}
	if c.Token != nil {
		req.Header.Set(token.Header, c.Token.ToHeader())
	}
	glog.V(3).Infof("created http request: %s %s", req.Method, req.URL)

	rsp, err := ctxhttp.Do(ctx, c.HTTPClient, req)
	if err != nil {
		reqcnt.Inc(string(endpoint), "none")
		return nil, 0, fmt.Errorf("no response: %v", err)
	}
	defer rsp.Body.Close()
	reqcnt.Inc(string(endpoint), fmt.Sprintf("%d", rsp.StatusCode))
	buf, err := ioutil.ReadAll(rsp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot read body: %v", err)
	}
	return buf, rsp.StatusCode, nil
}

// rejectReason condenses a rejection response into something loggable
func rejectReason(status int, body []byte) string {
	reason := string(bytes.TrimSpace(body))
	if len(reason) == 0 {
		reason = http.StatusText(status)
	}
	return reason
}
