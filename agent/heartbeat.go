package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/itskum47/FleetForge/control_plane/cluster"
	"github.com/itskum47/FleetForge/control_plane/heartbeat"
)

const (
	heartbeatInterval = 5 * time.Second
	maxBackoff        = 30 * time.Second
)

// errRedirected means the contacted node does not own the application.
var errRedirected = errors.New("redirected to owner")

// Heartbeater reports this worker to the control plane node that owns its application.
type Heartbeater struct {
	cfg    *Config
	client *http.Client

	mu    sync.Mutex
	owner string // current target; starts at the configured server

	// metrics is replaceable in tests.
	metrics func() cluster.SystemMetrics
}

func NewHeartbeater(cfg *Config) *Heartbeater {
	h := &Heartbeater{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		owner:  cfg.ServerURL,
	}
	h.metrics = h.collectMetrics
	return h
}

// Owner returns the node heartbeats currently go to.
func (h *Heartbeater) Owner() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owner
}

func (h *Heartbeater) setOwner(owner string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if owner != "" && owner != h.owner {
		log.Printf("Control plane owner for app %d is now %s", h.cfg.AppID, owner)
		h.owner = owner
	}
}

// Acquire asks the configured server which node owns the application.
func (h *Heartbeater) Acquire(ctx context.Context) error {
	url := h.cfg.ServerURL + "/server/acquire?appId=" + strconv.FormatInt(h.cfg.AppID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("acquire request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("acquire failed with status code: %d", resp.StatusCode)
	}
	var body struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode acquire response: %w", err)
	}
	h.setOwner(body.Owner)
	return nil
}

// Send posts one heartbeat to the current owner. A 409 answer moves the target
// to the owner it names and returns errRedirected.
func (h *Heartbeater) Send(ctx context.Context) error {
	hb := heartbeat.Heartbeat{
		AppID:         h.cfg.AppID,
		WorkerAddress: h.cfg.Address,
		SystemMetrics: h.metrics(),
		Tag:           h.cfg.Tag,
		Protocol:      "http",
		ClientVersion: h.cfg.ClientVersion(),
	}
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Owner()+"/worker/heartbeat", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		var body struct {
			Owner string `json:"owner"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Owner == "" {
			return fmt.Errorf("conflict without owner")
		}
		h.setOwner(body.Owner)
		return errRedirected
	default:
		return fmt.Errorf("heartbeat failed with status: %d", resp.StatusCode)
	}
}

// Run sends heartbeats until ctx is cancelled. Failures fall back to the configured
// server with exponential backoff.
func (h *Heartbeater) Run(ctx context.Context) {
	backoff := time.Second
	wait := time.Duration(0)

	for {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			log.Println("Heartbeat loop stopping...")
			return
		}

		err := h.Send(ctx)
		switch {
		case err == nil:
			backoff = time.Second
			wait = heartbeatInterval
		case errors.Is(err, errRedirected):
			wait = 0
		default:
			log.Printf("Heartbeat to %s failed: %v. Retrying in %s...", h.Owner(), err, backoff)
			h.setOwner(h.cfg.ServerURL)
			wait = backoff
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// collectMetrics reports what the Go runtime can see about this process.
// CPU load is not available portably, so it is reported as unknown.
func (h *Heartbeater) collectMetrics() cluster.SystemMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return cluster.SystemMetrics{
		CPUProcessors: runtime.NumCPU(),
		CPULoad:       -1,
		MemoryUsedGB:  float64(ms.Sys) / (1 << 30),
		MemoryMaxGB:   h.cfg.MemoryMaxGB,
		DiskTotalGB:   h.cfg.DiskTotalGB,
		QueueDepth:    runtime.NumGoroutine() / 100,
	}
}
