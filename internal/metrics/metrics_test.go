package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectorsWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		New()
	})
}

func TestMetricsHandlerServesRegisteredCollectors(t *testing.T) {
	m := New()
	m.IngestFilesTotal.Inc()
	m.SyncConflictsTotal.WithLabelValues("artists").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "rune_ingest_files_total")
	require.Contains(t, body, "rune_sync_conflicts_total")
}

func TestNewBuildsIndependentRegistriesPerInstance(t *testing.T) {
	a := New()
	b := New()
	require.NotPanics(t, func() {
		a.IngestFilesTotal.Inc()
		b.IngestFilesTotal.Inc()
	})
}
