package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg), "first register")
	require.NoError(t, Register(reg), "second register")

	IncCreated()
	IncLookup(LookupHit)
	IncLookup(LookupMiss)
	AddEvicted(2)
	ObserveSweep(0.01, nil)
	IncReconfigure(errors.New("x"))
	AddMigrated(3)
	SetActiveEntries(7)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	wantNames := map[string]bool{
		"resultset_registry_created_total":         false,
		"resultset_registry_lookups_total":         false,
		"resultset_registry_active_entries":        false,
		"resultset_sweeper_evicted_total":          false,
		"resultset_sweeper_sweeps_total":           false,
		"resultset_sweeper_sweep_duration_seconds": false,
		"resultset_config_reconfigure_total":       false,
		"resultset_config_migrated_rows_total":     false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			assert.NotEmpty(t, mf.GetMetric(), "metric %s has no samples", n)
		}
	}
	for n, ok := range wantNames {
		assert.True(t, ok, "expected to find metric %s", n)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncCreated()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "resultset_registry_created_total")
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncCreated()
			IncLookup(LookupHit)
			AddEvicted(1)
		}()
	}
	wg.Wait()
	_, err := reg.Gather()
	assert.NoError(t, err)
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// no-ops, must not panic
	IncCreated()
	IncLookup(LookupError)
	AddEvicted(1)
	ObserveSweep(1, nil)
	IncReconfigure(nil)
	AddMigrated(1)
	SetActiveEntries(1)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	require.Error(t, err, "Register should return error from failing registerer")
	assert.Equal(t, "test registration error", err.Error())
	assert.False(t, regOK.Load(), "failed Register must not enable helpers")
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
