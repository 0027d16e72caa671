package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/FleetForge/control_plane/cluster"
	"github.com/itskum47/FleetForge/control_plane/coordination"
	"github.com/itskum47/FleetForge/control_plane/filter"
	"github.com/itskum47/FleetForge/control_plane/heartbeat"
	"github.com/itskum47/FleetForge/control_plane/query"
	"github.com/itskum47/FleetForge/control_plane/redirect"
	"github.com/itskum47/FleetForge/control_plane/store"
)

const testToken = "cluster-secret"

type testNode struct {
	srv       *httptest.Server
	api       *API
	registry  *cluster.Registry
	ownership *coordination.OwnershipManager
}

// newTestNode starts one control plane node sharing the given ownership store.
func newTestNode(t *testing.T, s store.OwnershipStore) *testNode {
	t.Helper()

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.AdvertiseAddr = srv.URL
	cfg.ClusterToken = testToken
	cfg.RedirectTimeout = time.Second

	registry := cluster.NewRegistry(cluster.WithWorkerTimeout(cfg.WorkerTimeout))
	ownership := coordination.NewOwnershipManager(s, cfg.AdvertiseAddr, time.Minute)
	redirector := redirect.New(cfg.AdvertiseAddr,
		&redirect.LeaseResolver{Store: s, Self: cfg.AdvertiseAddr},
		redirect.NewHTTPCaller(cfg.ClusterToken),
		redirect.WithTimeout(cfg.RedirectTimeout),
	)
	queries := query.NewService(registry, filter.DefaultChain(registry), redirector)
	ingestor := heartbeat.NewIngestor(registry, ownership, nil)

	api := NewAPI(cfg, registry, queries, ingestor, ownership)
	handler = api.Routes()

	return &testNode{srv: srv, api: api, registry: registry, ownership: ownership}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func sendHeartbeat(t *testing.T, node *testNode, appID int64, addr string, score int) *http.Response {
	return postJSON(t, node.srv.URL+"/worker/heartbeat", heartbeat.Heartbeat{
		AppID:         appID,
		WorkerAddress: addr,
		SystemMetrics: cluster.SystemMetrics{CPUProcessors: 8, MemoryMaxGB: 16, DiskTotalGB: 100, Score: score},
		Containers:    []cluster.DeployedContainer{{ContainerID: 77, Version: "v3"}},
	})
}

func TestAPI_SingleNodeQueries(t *testing.T) {
	node := newTestNode(t, store.NewMemoryStore())

	require.Equal(t, http.StatusOK, sendHeartbeat(t, node, 1, "10.0.0.3:7000", 50).StatusCode)
	require.Equal(t, http.StatusOK, sendHeartbeat(t, node, 1, "10.0.0.1:7000", 90).StatusCode)
	require.Equal(t, http.StatusOK, sendHeartbeat(t, node, 1, "10.0.0.2:7000", 70).StatusCode)

	resp := postJSON(t, node.srv.URL+"/apps/1/suitable-workers", cluster.JobInfo{MaxWorkerCount: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	suitable := decode[[]cluster.WorkerSnapshot](t, resp)
	require.Len(t, suitable, 2)
	assert.Equal(t, "10.0.0.1:7000", suitable[0].Address)
	assert.Equal(t, "10.0.0.2:7000", suitable[1].Address)

	all := decode[[]cluster.WorkerSnapshot](t, get(t, node.srv.URL+"/apps/1/workers"))
	assert.Len(t, all, 3)

	alive := decode[[]cluster.WorkerSnapshot](t, get(t, node.srv.URL+"/apps/1/workers/alive"))
	require.Len(t, alive, 3)
	assert.Equal(t, "10.0.0.3:7000", alive[0].Address, "alive list keeps registration order")

	resp = get(t, node.srv.URL+"/apps/1/workers/10.0.0.2:7000")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 70, decode[cluster.WorkerSnapshot](t, resp).Score())

	assert.Equal(t, http.StatusNotFound, get(t, node.srv.URL+"/apps/1/workers/10.9.9.9:1").StatusCode)

	infos := decode[[]cluster.DeployedContainerInfo](t, get(t, node.srv.URL+"/apps/1/containers/77"))
	assert.Len(t, infos, 3)
}

func TestAPI_UnknownAppIsEmpty(t *testing.T) {
	node := newTestNode(t, store.NewMemoryStore())

	for _, path := range []string{"/apps/99/workers", "/apps/99/workers/alive", "/apps/99/containers/1"} {
		resp := get(t, node.srv.URL+path)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, 0, len(decode[[]json.RawMessage](t, resp)), path)
	}

	resp := postJSON(t, node.srv.URL+"/apps/99/suitable-workers", cluster.JobInfo{MaxWorkerCount: 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]cluster.WorkerSnapshot](t, resp))

	assert.Equal(t, http.StatusNotFound, get(t, node.srv.URL+"/apps/99/workers/10.0.0.1:7000").StatusCode)
}

func TestAPI_BadInput(t *testing.T) {
	node := newTestNode(t, store.NewMemoryStore())

	assert.Equal(t, http.StatusBadRequest, get(t, node.srv.URL+"/apps/abc/workers").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, node.srv.URL+"/apps/1/containers/x").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, node.srv.URL+"/server/acquire").StatusCode)
	assert.Equal(t, http.StatusBadRequest, postJSON(t, node.srv.URL+"/worker/heartbeat", map[string]any{"app_id": 1}).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		postJSON(t, node.srv.URL+"/apps/1/suitable-workers", cluster.JobInfo{AppID: 2}).StatusCode)

	require.Equal(t, http.StatusOK, sendHeartbeat(t, node, 1, "10.0.0.1:7000", 90).StatusCode)
	resp := postJSON(t, node.srv.URL+"/apps/1/suitable-workers", cluster.JobInfo{MinCPUCores: -1})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "filter_fault", decode[errorResponse](t, resp).Code)
}

func TestAPI_TwoNodeForwarding(t *testing.T) {
	shared := store.NewMemoryStore()
	a := newTestNode(t, shared)
	b := newTestNode(t, shared)

	// a claims app 1 on first heartbeat
	require.Equal(t, http.StatusOK, sendHeartbeat(t, a, 1, "10.0.0.1:7000", 90).StatusCode)
	require.Equal(t, http.StatusOK, sendHeartbeat(t, a, 1, "10.0.0.2:7000", 40).StatusCode)

	// b redirects the worker to a
	resp := sendHeartbeat(t, b, 1, "10.0.0.3:7000", 10)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, a.srv.URL, decode[map[string]string](t, resp)["owner"])
	_, known := b.registry.Get(1)
	assert.False(t, known)

	acquire := decode[map[string]string](t, get(t, b.srv.URL+"/server/acquire?appId=1"))
	assert.Equal(t, a.srv.URL, acquire["owner"])

	// Queries on b are answered by a
	all := decode[[]cluster.WorkerSnapshot](t, get(t, b.srv.URL+"/apps/1/workers"))
	require.Len(t, all, 2)
	assert.Equal(t, "10.0.0.1:7000", all[0].Address)

	resp = postJSON(t, b.srv.URL+"/apps/1/suitable-workers", cluster.JobInfo{MaxWorkerCount: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	suitable := decode[[]cluster.WorkerSnapshot](t, resp)
	require.Len(t, suitable, 1)
	assert.Equal(t, "10.0.0.1:7000", suitable[0].Address)

	resp = get(t, b.srv.URL+"/apps/1/workers/10.0.0.2:7000")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Remote filter faults keep their status
	resp = postJSON(t, b.srv.URL+"/apps/1/suitable-workers", cluster.JobInfo{MinMemoryGB: -2})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Owner goes away: b reports the failure instead of an empty list
	a.srv.Close()
	resp = get(t, b.srv.URL+"/apps/1/workers")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "redirect_unreachable", decode[errorResponse](t, resp).Code)
}

func TestAPI_InvokeRequiresClusterToken(t *testing.T) {
	node := newTestNode(t, store.NewMemoryStore())

	resp := postJSON(t, node.srv.URL+redirect.InvokePath, redirect.Query{Op: redirect.OpAllWorkers, AppID: 1})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	raw, _ := json.Marshal(redirect.Query{Op: "bogus", AppID: 1})
	req, _ := http.NewRequest(http.MethodPost, node.srv.URL+redirect.InvokePath, bytes.NewReader(raw))
	req.Header.Set(redirect.TokenHeader, testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unknown_op", decode[redirect.InvokeResponse](t, resp).Code)
}

func TestAPI_Dashboard(t *testing.T) {
	node := newTestNode(t, store.NewMemoryStore())
	require.Equal(t, http.StatusOK, sendHeartbeat(t, node, 4, "10.0.0.1:7000", 90).StatusCode)
	require.Equal(t, http.StatusOK, sendHeartbeat(t, node, 5, "10.0.0.2:7000", 30).StatusCode)

	summary := decode[FleetSummary](t, get(t, node.srv.URL+"/api/dashboard"))
	assert.Equal(t, node.srv.URL, summary.NodeID)
	assert.Equal(t, "memory", summary.Backend)
	assert.Equal(t, 2, summary.OwnedApps)
	assert.Equal(t, 2, summary.AliveWorkers)
	require.Len(t, summary.Apps, 2)

	summary = decode[FleetSummary](t, get(t, node.srv.URL+"/api/dashboard?appId=5"))
	require.Len(t, summary.Apps, 1)
	assert.Equal(t, int64(5), summary.Apps[0].AppID)
	assert.Equal(t, "10.0.0.2:7000", summary.Apps[0].TopWorker)
	assert.True(t, summary.Apps[0].Owned)

	servers := decode[[]ServerInfo](t, get(t, node.srv.URL+"/api/servers"))
	require.Len(t, servers, 1)
	assert.Equal(t, []int64{4, 5}, servers[0].OwnedApps)
}

func TestQueryErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&redirect.Error{Kind: redirect.ErrTimeout, AppID: 1, Cause: errors.New("slow")}, http.StatusGatewayTimeout},
		{&redirect.Error{Kind: redirect.ErrUnreachable, AppID: 1, Cause: redirect.ErrNoOwner}, http.StatusBadGateway},
		{&redirect.Error{Kind: redirect.ErrRemote, AppID: 1, Cause: &redirect.RemoteError{Status: 422, Code: "filter_fault"}}, 422},
		{&redirect.Error{Kind: redirect.ErrRemote, AppID: 1, Cause: errors.New("garbled")}, http.StatusBadGateway},
		{fmt.Errorf("wrap: %w", &filter.FaultError{Filter: "x", Err: errors.New("bad")}), http.StatusUnprocessableEntity},
		{query.ErrInvalidQuery, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := queryErrorStatus(tt.err)
		assert.Equal(t, tt.want, status, tt.err.Error())
	}
}
