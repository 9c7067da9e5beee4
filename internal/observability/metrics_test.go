package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	RecordPush("metrics-test", true, 2)
	RecordPush("metrics-test", false, 2)
	RecordDispatch("metrics-test", 1, 1)
	RecordOutcome("metrics-test", "completed", 15*time.Millisecond)
	RecordDiscarded("metrics-test", 3)

	server := httptest.NewServer(MetricsHandler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `seqqueue_push_total{queue="metrics-test",result="accepted"} 1`)
	assert.Contains(t, text, `seqqueue_push_total{queue="metrics-test",result="rejected"} 1`)
	assert.Contains(t, text, `seqqueue_dispatch_total{queue="metrics-test"} 1`)
	assert.Contains(t, text, `seqqueue_outcome_total{outcome="completed",queue="metrics-test"} 1`)
	assert.Contains(t, text, `seqqueue_discarded_total{queue="metrics-test"} 3`)
	assert.Contains(t, text, `seqqueue_queue_size{queue="metrics-test"} 0`)
	assert.Contains(t, text, `seqqueue_generation{queue="metrics-test"} 1`)
}

func TestEnsureRegistered_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		EnsureRegistered()
		EnsureRegistered()
	})
}
