package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndTextDump(t *testing.T) {
	before := testutil.ToFloat64(resolutionWavesTotal)
	Wave()
	Wave()
	assert.Equal(t, before+2, testutil.ToFloat64(resolutionWavesTotal))

	HTTPRequest("repo.example", "ok")
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("repo.example", "ok")), 1.0)

	DownloadedBytes(-5)
	DownloadedBytes(0)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf))
	assert.Contains(t, buf.String(), "depres_resolution_waves_total")
	assert.Contains(t, buf.String(), `depres_http_requests_total{host="repo.example",outcome="ok"}`)
}
