// Package metrics holds the Prometheus instrumentation of a resolution session.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Registry is private to depres so that embedding programs keep their default registry clean.
var Registry = prometheus.NewRegistry()

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depres_http_requests_total",
			Help: "Number of HTTP requests sent to remote repositories by host and outcome.",
		},
		[]string{"host", "outcome"},
	)
	downloadedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depres_downloaded_bytes_total",
			Help: "Bytes downloaded from remote repositories.",
		},
	)
	filesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depres_files_total",
			Help: "Dependency files acquired, by source (cache, local, remote) and result.",
		},
		[]string{"source", "result"},
	)
	checksumMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depres_checksum_mismatch_total",
			Help: "Downloads or cached files rejected because of a checksum mismatch.",
		},
	)
	resolutionWavesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depres_resolution_waves_total",
			Help: "Resolution waves run by the resolver.",
		},
	)
	conflictsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depres_conflicts_resolved_total",
			Help: "Conflicting coordinate keys reconciled by a conflict strategy.",
		},
	)
	nodesResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depres_nodes_resolved_total",
			Help: "Graph nodes whose children were resolved.",
		},
	)
	buildGraphDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "depres_build_graph_duration_seconds",
			Help:    "Time taken to build a dependency graph.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequestsTotal,
		downloadedBytesTotal,
		filesTotal,
		checksumMismatchTotal,
		resolutionWavesTotal,
		conflictsResolvedTotal,
		nodesResolvedTotal,
		buildGraphDuration,
	)
}

func HTTPRequest(host, outcome string) {
	httpRequestsTotal.WithLabelValues(host, outcome).Inc()
}

func DownloadedBytes(n int64) {
	if n > 0 {
		downloadedBytesTotal.Add(float64(n))
	}
}

func File(source, result string) {
	filesTotal.WithLabelValues(source, result).Inc()
}

func ChecksumMismatch() {
	checksumMismatchTotal.Inc()
}

func Wave() {
	resolutionWavesTotal.Inc()
}

func ConflictsResolved(n int) {
	conflictsResolvedTotal.Add(float64(n))
}

func NodeResolved() {
	nodesResolvedTotal.Inc()
}

func ObserveBuildGraph(seconds float64) {
	buildGraphDuration.Observe(seconds)
}

// WriteText dumps all collected metrics in the Prometheus text exposition format.
func WriteText(w io.Writer) error {
	families, err := Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
