package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/kgrag/internal/kgrag/handler"
	"github.com/kart-io/kgrag/pkg/infra/server"
)

func TestRegister(t *testing.T) {
	opts := server.NewOptions()
	opts.HTTP.Mode = "test"
	mgr := server.NewManager(opts)

	require.NoError(t, Register(mgr, handler.New(nil, nil)))

	routes := make(map[string]bool)
	for _, r := range mgr.HTTPServer().Engine().Routes() {
		routes[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /healthz",
		"GET /metrics",
		"POST /v1/query",
		"GET /v1/stats",
		"GET /v1/history",
		"POST /v1/reload",
		"GET /v1/graph",
		"GET /v1/search",
		"POST /v1/ingest",
	} {
		assert.True(t, routes[want], want)
	}
}
