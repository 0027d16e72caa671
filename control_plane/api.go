package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/itskum47/FleetForge/control_plane/cluster"
	"github.com/itskum47/FleetForge/control_plane/coordination"
	"github.com/itskum47/FleetForge/control_plane/filter"
	"github.com/itskum47/FleetForge/control_plane/heartbeat"
	"github.com/itskum47/FleetForge/control_plane/middleware"
	"github.com/itskum47/FleetForge/control_plane/observability"
	"github.com/itskum47/FleetForge/control_plane/query"
	"github.com/itskum47/FleetForge/control_plane/redirect"
)

type API struct {
	config    Config
	registry  *cluster.Registry
	queries   *query.Service
	ingestor  *heartbeat.Ingestor
	ownership *coordination.OwnershipManager

	// Services
	dashboardService *DashboardService
	wsHub            *FleetHub

	// Storm Protection
	heartbeatLimiter *rate.Limiter
}

func NewAPI(cfg Config, registry *cluster.Registry, queries *query.Service, ingestor *heartbeat.Ingestor, ownership *coordination.OwnershipManager) *API {
	api := &API{
		config:           cfg,
		registry:         registry,
		queries:          queries,
		ingestor:         ingestor,
		ownership:        ownership,
		heartbeatLimiter: rate.NewLimiter(rate.Limit(cfg.HeartbeatRate), cfg.HeartbeatBurst),
	}

	// Initialize Services
	api.dashboardService = NewDashboardService(registry, ownership)

	// Initialize WebSocket hub
	api.wsHub = NewFleetHub(api.dashboardService)

	return api
}

// Routes builds the HTTP surface.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Worker-facing
	r.Get("/server/acquire", a.handleAcquire)
	r.Post("/worker/heartbeat", a.handleHeartbeat)

	// Query surface
	r.Route("/apps/{appId}", func(r chi.Router) {
		r.Post("/suitable-workers", a.handleSuitableWorkers)
		r.Get("/workers", a.handleAllWorkers)
		r.Get("/workers/alive", a.handleAliveWorkers)
		r.Get("/workers/{address}", a.handleWorkerByAddress)
		r.Get("/containers/{containerId}", a.handleDeployedContainers)
	})

	// Server-cluster internal
	r.With(middleware.ClusterAuthMiddleware(a.config.ClusterToken)).Post(redirect.InvokePath, a.handleInvoke)

	// Dashboard
	r.Get("/api/dashboard", a.handleGetDashboard)
	r.Get("/api/dashboard/stream", a.handleDashboardStream)
	r.Get("/api/servers", a.handleGetServers)

	// Wrap all routes with CORS middleware for frontend access
	return middleware.CORSMiddleware(r)
}

// errorResponse is the JSON body of every non-2xx answer.
type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Error: msg})
}

// queryErrorStatus maps a query failure to its HTTP status and code.
func queryErrorStatus(err error) (int, string) {
	var remote *redirect.RemoteError
	switch {
	case errors.As(err, &remote):
		if remote.Status >= 400 {
			return remote.Status, remote.Code
		}
		return http.StatusBadGateway, "remote_error"
	case errors.Is(err, redirect.ErrTimeout):
		return http.StatusGatewayTimeout, "redirect_timeout"
	case errors.Is(err, redirect.ErrUnreachable):
		return http.StatusBadGateway, "redirect_unreachable"
	case errors.Is(err, redirect.ErrRemote):
		return http.StatusBadGateway, "remote_error"
	case errors.Is(err, filter.ErrFilterFault):
		return http.StatusUnprocessableEntity, "filter_fault"
	case errors.Is(err, query.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, query.ErrUnknownOp):
		return http.StatusBadRequest, "unknown_op"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeQueryError(w http.ResponseWriter, err error) {
	status, code := queryErrorStatus(err)
	if status >= 500 {
		log.Printf("[QUERY] %s: %v", code, err)
	}
	writeError(w, status, code, err.Error())
}

// writeRateLimitError writes a 429 response with Jittered Retry-After
func writeRateLimitError(w http.ResponseWriter, endpoint string) {
	observability.APIRateLimited.WithLabelValues(endpoint).Inc()

	// Jitter: 1s base + 0-1000ms random
	retryAfter := 1000 + rand.Intn(1000)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter/1000)) // Seconds
	writeError(w, http.StatusTooManyRequests, "rate_limited", "Too Many Requests (Storm Protection Active)")
}

func parseAppID(raw string) (int64, error) {
	appID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || appID <= 0 {
		return 0, fmt.Errorf("invalid appId %q", raw)
	}
	return appID, nil
}

// -- Worker-facing --

func (a *API) handleAcquire(w http.ResponseWriter, r *http.Request) {
	appID, err := parseAppID(r.URL.Query().Get("appId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	owner := a.config.AdvertiseAddr
	if a.ownership != nil {
		owner, err = a.ownership.Ensure(r.Context(), appID)
		if err != nil {
			log.Printf("[OWNERSHIP] Acquire for app %d failed: %v", appID, err)
			writeError(w, http.StatusServiceUnavailable, "ownership_unavailable", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": owner})
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	// Storm Protection
	if !a.heartbeatLimiter.Allow() {
		writeRateLimitError(w, "heartbeat")
		return
	}

	var hb heartbeat.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_heartbeat", "Invalid request body")
		return
	}

	err := a.ingestor.Ingest(r.Context(), hb)
	var notOwner *heartbeat.NotOwnerError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, heartbeat.ErrInvalid):
		writeError(w, http.StatusBadRequest, "invalid_heartbeat", err.Error())
	case errors.Is(err, heartbeat.ErrRateLimited):
		writeRateLimitError(w, "heartbeat_worker")
	case errors.As(err, &notOwner):
		writeJSON(w, http.StatusConflict, map[string]string{"owner": notOwner.Owner})
	default:
		log.Printf("[INGEST] Heartbeat from %s for app %d failed: %v", hb.WorkerAddress, hb.AppID, err)
		writeError(w, http.StatusServiceUnavailable, "ownership_unavailable", err.Error())
	}
}

// -- Query surface --

func (a *API) handleSuitableWorkers(w http.ResponseWriter, r *http.Request) {
	appID, err := parseAppID(chi.URLParam(r, "appId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	var job cluster.JobInfo
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "Invalid request body")
		return
	}
	if job.AppID != 0 && job.AppID != appID {
		writeError(w, http.StatusBadRequest, "invalid_query", "job app_id does not match path")
		return
	}
	job.AppID = appID

	workers, err := a.queries.GetSuitableWorkers(r.Context(), &job)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (a *API) handleAllWorkers(w http.ResponseWriter, r *http.Request) {
	appID, err := parseAppID(chi.URLParam(r, "appId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	workers, err := a.queries.GetAllWorkers(r.Context(), appID)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (a *API) handleAliveWorkers(w http.ResponseWriter, r *http.Request) {
	appID, err := parseAppID(chi.URLParam(r, "appId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	workers, err := a.queries.GetAllAliveWorkers(r.Context(), appID)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (a *API) handleWorkerByAddress(w http.ResponseWriter, r *http.Request) {
	appID, err := parseAppID(chi.URLParam(r, "appId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	address := chi.URLParam(r, "address")

	worker, ok, err := a.queries.GetWorkerInfoByAddress(r.Context(), appID, address)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("worker %s not found for app %d", address, appID))
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (a *API) handleDeployedContainers(w http.ResponseWriter, r *http.Request) {
	appID, err := parseAppID(chi.URLParam(r, "appId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	containerID, err := strconv.ParseInt(chi.URLParam(r, "containerId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "invalid containerId")
		return
	}

	infos, err := a.queries.GetDeployedContainerInfos(r.Context(), appID, containerID)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// -- Server-cluster internal --

func (a *API) handleInvoke(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := r.Header.Get(redirect.RequestIDHeader)

	var q redirect.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, redirect.InvokeResponse{Code: "invalid_query", Error: "Invalid request body"})
		return
	}

	result, err := a.queries.Execute(r.Context(), q)
	if err != nil {
		status, code := queryErrorStatus(err)
		log.Printf("[REDIRECT] Invoke %s for app %d (request %s) failed: %v", q.Op, q.AppID, reqID, err)
		writeJSON(w, status, redirect.InvokeResponse{Code: code, Error: err.Error()})
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, redirect.InvokeResponse{Code: "internal", Error: err.Error()})
		return
	}
	log.Printf("[REDIRECT] Served %s for app %d (request %s) in %v", q.Op, q.AppID, reqID, time.Since(start))
	writeJSON(w, http.StatusOK, redirect.InvokeResponse{Result: raw})
}
