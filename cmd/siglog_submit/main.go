// Package main provides a siglog submit binary.  It signs a checksum, sends
// the resulting leaf to the policy's log, and waits for a proof bundle that
// meets the policy.  The bundle is written to stdout for offline use.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/system-transparency/siglog-client/pkg/keys"
	"github.com/system-transparency/siglog-client/pkg/policy"
	"github.com/system-transparency/siglog-client/pkg/submit"
	"github.com/system-transparency/siglog-client/pkg/token"
	"github.com/system-transparency/siglog-client/pkg/types"
)

var (
	policyFile = flag.String("policy", "", "path to a trust policy file")
	sk         = flag.String("sk", "", "submitter signing key in hex")
	checksum   = flag.String("checksum", "", "checksum to log, 32 bytes in hex")
	shardHint  = flag.Uint64("shard_hint", 0, "the log's shard interval start in unix seconds")
	domainHint = flag.String("domain_hint", "", "domain where the submitter key is registered")
	deadline   = flag.Duration("deadline", 30*time.Second, "total submission budget")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := run(); err != nil {
		glog.Errorf("submit: %v", err)
		os.Exit(1)
	}
}

func run() error {
	f, err := os.Open(*policyFile)
	if err != nil {
		return fmt.Errorf("Open: %v", err)
	}
	defer f.Close()
	p, err := policy.ParseASCII(f)
	if err != nil {
		return fmt.Errorf("ParseASCII: %v", err)
	}

	buf, err := hex.DecodeString(*sk)
	if err != nil {
		return fmt.Errorf("DecodeString: %v", err)
	}
	signer, err := keys.Unmarshal(buf)
	if err != nil {
		return fmt.Errorf("Unmarshal: %v", err)
	}
	digest, err := hex.DecodeString(*checksum)
	if err != nil {
		return fmt.Errorf("DecodeString: %v", err)
	}
	if len(digest) != types.HashSize {
		return types.ErrInvalidDigestLength
	}

	retry := submit.DefaultRetryPolicy
	retry.Deadline = *deadline
	client := submit.New(p, signer, retry)
	client.DomainHint = *domainHint
	if len(*domainHint) > 0 {
		if client.Token, err = token.Issue(signer, *domainHint, *deadline); err != nil {
			return fmt.Errorf("Issue: %v", err)
		}
	}

	bundle, err := client.SignAndSubmit(context.Background(), *shardHint, digest)
	if err != nil {
		return err
	}
	glog.V(3).Infof("proof bundle at tree size %d", bundle.Inclusion.TreeSize)
	return bundle.MarshalASCII(os.Stdout)
}
