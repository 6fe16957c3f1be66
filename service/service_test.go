package service

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-fitnesse/metrics"
)

func TestHealthzReportsPhase(t *testing.T) {
	h := NewHealthzServer(log.NewLogger(log.DiscardHandler()), func() string { return "fetch" })
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body healthzResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "OK", body.Status)
	assert.Equal(t, "fetch", body.Phase)
}

func TestHealthzRejectsOtherMethods(t *testing.T) {
	h := NewHealthzServer(nil, nil)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsServerExposesRegistry(t *testing.T) {
	metrics.RecordRun("ServiceTest", "SUCCESS")

	m := &MetricsServer{}
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fitnesse_runs_total{status="SUCCESS",target="ServiceTest"}`)
}

func TestNewDefaults(t *testing.T) {
	s := New(Config{}, nil, nil)
	assert.Equal(t, HealthzHost, s.cfg.HealthzAddr)
	assert.Equal(t, HealthzPort, s.cfg.HealthzPort)
	assert.Nil(t, s.Metrics)

	s = New(Config{MetricsEnabled: true, MetricsAddr: "127.0.0.1", MetricsPort: 7300}, nil, nil)
	assert.NotNil(t, s.Metrics)
	s.Shutdown()
}
