package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"memquery-agent/internal/config"
)

type stubHealth struct {
	serving bool
}

func (s stubHealth) Serving() bool {
	return s.serving
}

func (s stubHealth) Snapshot() map[string]any {
	return map[string]any{"serving": s.serving}
}

func TestAdminHealthz(t *testing.T) {
	admin := NewAdminServer(testConfig(), stubHealth{serving: true}, NewMetrics(), discardLogger())
	hs := httptest.NewServer(admin.Handler())
	defer hs.Close()

	resp, err := http.Get(hs.URL + "/healthz")
	assert.NilError(t, err)
	defer resp.Body.Close()
	assert.Check(t, is.Equal(resp.StatusCode, http.StatusOK))

	var body map[string]any
	assert.NilError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Check(t, is.Equal(body["node_id"], "node-test"))
	assert.Check(t, is.Equal(body["agent_version"], config.HardcodedVersion))
	assert.Check(t, is.Equal(body["serve_mode"], string(config.ServeModeGRPC)))
}

func TestAdminHealthzNotServing(t *testing.T) {
	admin := NewAdminServer(testConfig(), stubHealth{serving: false}, NewMetrics(), discardLogger())
	hs := httptest.NewServer(admin.Handler())
	defer hs.Close()

	resp, err := http.Get(hs.URL + "/healthz")
	assert.NilError(t, err)
	defer resp.Body.Close()
	assert.Check(t, is.Equal(resp.StatusCode, http.StatusServiceUnavailable))
}
