package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLogin(t *testing.T) {
	m := New()

	m.RecordLogin("authenticated", "automatic", 2*time.Second)
	m.RecordLogin("rejected", "human", time.Second)
	m.RecordLogin("rejected", "human", time.Second)
	m.RecordLogin("transport_error", "", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginsTotal.WithLabelValues("authenticated", "automatic")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.loginsTotal.WithLabelValues("rejected", "human")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginsTotal.WithLabelValues("transport_error", "")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.loginDuration))
}

func TestRecordCollection(t *testing.T) {
	m := New()

	m.RecordSample("processed")
	m.RecordSample("segmentation_empty")
	m.RecordCrop("7")
	m.RecordCrop("7")
	m.RecordCrop("3")
	m.RecordRetry()
	m.RecordResolution("human", "model_unavailable")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.samplesTotal.WithLabelValues("processed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cropsSaved.WithLabelValues("7")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutionsTotal.WithLabelValues("human", "model_unavailable")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RecordLogin("authenticated", "automatic", time.Second)

	path := filepath.Join(t.TempDir(), "obsgrade.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `obsgrade_logins_total{outcome="authenticated",source="automatic"} 1`)
	assert.Contains(t, text, "obsgrade_last_run_timestamp_seconds")

	err = m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordSample("processed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "obsgrade_collect_samples_total"))
}
