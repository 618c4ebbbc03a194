package submit

import (
	"github.com/google/trillian/monitoring"
	"github.com/google/trillian/monitoring/prometheus"
)

var (
	reqcnt  monitoring.Counter   // number of outgoing http requests
	prfcnt  monitoring.Counter   // number of assembled proof bundles
	latency monitoring.Histogram // submission-to-proof latency
)

func init() {
	mf := prometheus.MetricFactory{Prefix: "siglog_client_"}
	reqcnt = mf.NewCounter("http_req", "number of http requests", "endpoint", "status")
	prfcnt = mf.NewCounter("proof", "number of assembled proof bundles", "state")
	latency = mf.NewHistogram("proof_latency", "submission-to-proof latency", "state")
}
