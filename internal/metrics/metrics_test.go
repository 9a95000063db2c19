package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.Eviction(ReasonIdle)
	m.SnapshotFailed()
	m.Sweep(time.Millisecond)
	m.Tabs(3, 1)
	m.Save(nil, time.Millisecond)
	m.Load(errors.New("x"))
	m.VaultOp("save", "keyring")
	m.Autofill()
}

func TestRecording(t *testing.T) {
	m := New()

	m.Eviction(ReasonOverflow)
	m.Eviction(ReasonOverflow)
	m.Eviction(ReasonIdle)
	m.Tabs(5, 2)
	m.Save(nil, time.Millisecond)
	m.Save(errors.New("disk full"), time.Millisecond)
	m.VaultOp("get", "sqlite")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Evictions.WithLabelValues(ReasonOverflow)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evictions.WithLabelValues(ReasonIdle)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.TabsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TabsLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Saves.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Saves.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VaultOps.WithLabelValues("get", "sqlite")))
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a := New()
	b := New()
	a.Autofill()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Autofills))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Autofills))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Eviction(ReasonLowMemory)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `ryxsurf_evictions_total{reason="low_memory"} 1`))
}
