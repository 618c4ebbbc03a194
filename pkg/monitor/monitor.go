// Package monitor follows a log's cosigned tree heads and reports leaves
// that match a set of watched submitter key hashes.  It verifies every tree
// head against the trust policy and checks consistency between successive
// tree heads, so a misbehaving log surfaces as an error instead of silence.
package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/google/certificate-transparency-go/schedule"
	"golang.org/x/net/context/ctxhttp"

	"github.com/system-transparency/siglog-client/pkg/policy"
	"github.com/system-transparency/siglog-client/pkg/proof"
	"github.com/system-transparency/siglog-client/pkg/types"
)

// Match is a leaf that one of the watched submitters logged
type Match struct {
	Leaf      *types.Leaf
	LeafIndex uint64
	TreeHead  *types.SignedTreeHead
}

// Monitor polls a log on a fixed interval.  Matches are delivered on Chan;
// the consumer must keep up or polling stalls.
type Monitor struct {
	HTTPClient *http.Client
	Policy     *policy.Policy
	Interval   time.Duration
	Deadline   time.Duration
	Watched    map[[types.HashSize]byte]bool // submitter key hashes to report
	Chan       chan *Match

	prev *types.TreeHead // latest verified tree head
	next uint64          // next leaf index to process
}

// New creates a monitor for the policy's log
func New(p *policy.Policy, watched []*[types.HashSize]byte, interval time.Duration) *Monitor {
	m := &Monitor{
		HTTPClient: &http.Client{},
		Policy:     p,
		Interval:   interval,
		Deadline:   10 * time.Second,
		Watched:    make(map[[types.HashSize]byte]bool),
		Chan:       make(chan *Match, 64),
	}
	for _, keyHash := range watched {
		m.Watched[*keyHash] = true
	}
	return m
}

// Run polls until the context is cancelled
func (m *Monitor) Run(ctx context.Context) {
	schedule.Every(ctx, m.Interval, func(ctx context.Context) {
		ictx, cancel := context.WithTimeout(ctx, m.Deadline)
		defer cancel()
		if err := m.Poll(ictx); err != nil {
			glog.Warningf("poll failed: %v", err)
		}
	})
}

// Poll runs one round: fetch and verify the latest cosigned tree head, check
// consistency against the previous one, and process any new leaves.
func (m *Monitor) Poll(ctx context.Context) error {
	sth, err := m.getTreeHead(ctx)
	if err != nil {
		return fmt.Errorf("getTreeHead: %v", err)
	}
	if err := proof.VerifyTreeHead(sth, m.Policy); err != nil {
		return fmt.Errorf("tree head does not meet policy: %v", err)
	}
	if m.prev != nil {
		if sth.TreeSize < m.prev.TreeSize {
			return fmt.Errorf("tree size shrank: %d -> %d", m.prev.TreeSize, sth.TreeSize)
		}
		if err := m.checkConsistency(ctx, m.prev, &sth.TreeHead); err != nil {
			return fmt.Errorf("checkConsistency: %v", err)
		}
	}
	glog.V(3).Infof("verified cosigned tree head at size %d", sth.TreeSize)

	for m.next < sth.TreeSize {
		leaves, err := m.getLeaves(ctx, m.next, sth.TreeSize-1)
		if err != nil {
			return fmt.Errorf("getLeaves: %v", err)
		}
		if len(leaves) == 0 {
			return fmt.Errorf("log returned no leaves for [%d, %d]", m.next, sth.TreeSize-1)
		}
		for _, leaf := range leaves {
			if m.Watched[*leaf.KeyHash] {
				m.Chan <- &Match{
					Leaf:      leaf,
					LeafIndex: m.next,
					TreeHead:  sth,
				}
			}
			m.next++
		}
	}
	m.prev = &sth.TreeHead
	return nil
}

// checkConsistency fetches and verifies a consistency proof between two tree
// heads.  Trivial pairs need no proof.
func (m *Monitor) checkConsistency(ctx context.Context, oldTH, newTH *types.TreeHead) error {
	if oldTH.TreeSize == 0 || oldTH.TreeSize == newTH.TreeSize {
		if oldTH.TreeSize == newTH.TreeSize && *oldTH.RootHash != *newTH.RootHash {
			return fmt.Errorf("same size, different root")
		}
		return nil
	}

	req := types.ConsistencyProofRequest{
		NewSize: newTH.TreeSize,
		OldSize: oldTH.TreeSize,
	}
	buf := bytes.NewBuffer(nil)
	if err := req.MarshalASCII(buf); err != nil {
		return fmt.Errorf("MarshalASCII: %v", err)
	}
	body, err := m.doRequest(ctx, "POST", types.EndpointGetConsistencyProof, buf)
	if err != nil {
		return err
	}
	var consistency types.ConsistencyProof
	if err := consistency.UnmarshalASCII(bytes.NewBuffer(body)); err != nil {
		return fmt.Errorf("UnmarshalASCII: %v", err)
	}
	if err := proof.VerifyConsistency(&consistency, oldTH, newTH); err != nil {
		return fmt.Errorf("VerifyConsistency: %v", err)
	}
	return nil
}

// getTreeHead fetches the latest cosigned tree head
func (m *Monitor) getTreeHead(ctx context.Context) (*types.SignedTreeHead, error) {
	body, err := m.doRequest(ctx, "GET", types.EndpointGetTreeHeadCosigned, nil)
	if err != nil {
		return nil, err
	}
	var sth types.SignedTreeHead
	if err := sth.UnmarshalASCII(bytes.NewBuffer(body)); err != nil {
		return nil, fmt.Errorf("UnmarshalASCII: %v", err)
	}
	return &sth, nil
}

// getLeaves fetches a range of leaves.  The log may truncate the range.
func (m *Monitor) getLeaves(ctx context.Context, start, end uint64) (types.LeafList, error) {
	req := types.LeavesRequest{
		StartSize: start,
		EndSize:   end,
	}
	buf := bytes.NewBuffer(nil)
	if err := req.MarshalASCII(buf); err != nil {
		return nil, fmt.Errorf("MarshalASCII: %v", err)
	}
	body, err := m.doRequest(ctx, "POST", types.EndpointGetLeaves, buf)
	if err != nil {
		return nil, err
	}
	var leaves types.LeafList
	if err := leaves.UnmarshalASCII(bytes.NewBuffer(body)); err != nil {
		return nil, fmt.Errorf("UnmarshalASCII: %v", err)
	}
	return leaves, nil
}

// doRequest sends an HTTP request and outputs the raw body
func (m *Monitor) doRequest(ctx context.Context, method string, endpoint types.Endpoint, body *bytes.Buffer) ([]byte, error) {
	url := endpoint.Path(m.Policy.LogURL)
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequest(method, url, nil)
	} else {
		req, err = http.NewRequest(method, url, body)
	}
	if err != nil {
		return nil, fmt.Errorf("failed creating http request: %v", err)
	}
	glog.V(3).Infof("created http request: %s %s", req.Method, req.URL)

	rsp, err := ctxhttp.Do(ctx, m.HTTPClient, req)
	if err != nil {
		return nil, fmt.Errorf("no response: %v", err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad http status: %v", rsp.StatusCode)
	}
	buf, err := ioutil.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read body: %v", err)
	}
	return buf, nil
}
