// Package main provides a siglog monitor binary.  It follows a log's
// cosigned tree heads and reports every leaf that one of the watched
// submitter keys logged.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/system-transparency/siglog-client/pkg/monitor"
	"github.com/system-transparency/siglog-client/pkg/policy"
	"github.com/system-transparency/siglog-client/pkg/types"
)

var (
	policyFile      = flag.String("policy", "", "path to a trust policy file")
	submitters      = flag.String("submitters", "", "comma-separated list of submitter verification keys in hex")
	interval        = flag.Duration("interval", time.Second*30, "poll interval")
	metricsEndpoint = flag.String("metrics_endpoint", "", "host:port to serve /metrics on, disabled if empty")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	m, err := setupMonitorFromFlags()
	if err != nil {
		glog.Errorf("setupMonitor: %v", err)
		return
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(*metricsEndpoint) > 0 {
		glog.V(3).Infof("Adding prometheus handler on path: /metrics")
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			glog.Errorf("ListenAndServe: %v", http.ListenAndServe(*metricsEndpoint, nil))
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for match := range m.Chan {
			glog.Infof("new leaf at index %d: checksum %x, key hash %x",
				match.LeafIndex, match.Leaf.Checksum[:], match.Leaf.KeyHash[:])
		}
	}()

	go await(ctx, func() {
		glog.Infof("Shutting down monitor...")
		cancel()
	})

	glog.Infof("Monitoring %s", m.Policy.LogURL)
	m.Run(ctx)
	close(m.Chan)
}

// setupMonitorFromFlags sets up a new monitor from flags
func setupMonitorFromFlags() (*monitor.Monitor, error) {
	f, err := os.Open(*policyFile)
	if err != nil {
		return nil, fmt.Errorf("Open: %v", err)
	}
	defer f.Close()
	p, err := policy.ParseASCII(f)
	if err != nil {
		return nil, fmt.Errorf("ParseASCII: %v", err)
	}

	watched, err := newWatchedList(*submitters)
	if err != nil {
		return nil, fmt.Errorf("newWatchedList: %v", err)
	}
	return monitor.New(p, watched, *interval), nil
}

// newWatchedList derives key hashes from a list of verification keys
func newWatchedList(submitters string) ([]*[types.HashSize]byte, error) {
	var watched []*[types.HashSize]byte
	if len(submitters) == 0 {
		return nil, fmt.Errorf("need at least one submitter verification key")
	}
	for _, submitter := range strings.Split(submitters, ",") {
		b, err := hex.DecodeString(submitter)
		if err != nil {
			return nil, fmt.Errorf("DecodeString: %v", err)
		}
		if len(b) != types.VerificationKeySize {
			return nil, fmt.Errorf("Invalid verification key size: %v", len(b))
		}
		watched = append(watched, types.Hash(b))
	}
	return watched, nil
}

// await waits for a shutdown signal and then runs a clean-up function
func await(ctx context.Context, done func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigs:
	case <-ctx.Done():
	}
	glog.V(3).Info("received shutdown signal")
	done()
}
