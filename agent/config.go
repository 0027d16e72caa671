package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const agentVersion = "0.2.0"

// Config holds the worker agent configuration and identity.
type Config struct {
	NodeID    string
	AppID     int64
	Address   string // reachable address reported to the control plane
	Tag       string
	ServerURL string // any control plane node; the agent follows redirects to the owner

	MemoryMaxGB float64
	DiskTotalGB float64
}

// LoadConfig reads the agent settings from the environment.
func LoadConfig() (*Config, error) {
	nodeID, err := getOrCreateNodeID()
	if err != nil {
		return nil, fmt.Errorf("initialize node id: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("Warning: could not get hostname: %v", err)
		hostname = "localhost"
	}

	cfg := &Config{
		NodeID:      nodeID,
		Address:     hostname + ":8081",
		ServerURL:   "http://localhost:8080",
		Tag:         os.Getenv("AGENT_TAG"),
		MemoryMaxGB: 4,
		DiskTotalGB: 50,
	}

	raw := os.Getenv("AGENT_APP_ID")
	if raw == "" {
		return nil, fmt.Errorf("AGENT_APP_ID is required")
	}
	if cfg.AppID, err = strconv.ParseInt(raw, 10, 64); err != nil || cfg.AppID <= 0 {
		return nil, fmt.Errorf("invalid AGENT_APP_ID %q", raw)
	}
	if v := os.Getenv("AGENT_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv("CONTROL_PLANE_URL"); v != "" {
		cfg.ServerURL = strings.TrimRight(v, "/")
	}
	for key, dst := range map[string]*float64{
		"AGENT_MEMORY_GB": &cfg.MemoryMaxGB,
		"AGENT_DISK_GB":   &cfg.DiskTotalGB,
	} {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}
	return cfg, nil
}

// ClientVersion identifies the agent build in heartbeats.
func (c *Config) ClientVersion() string {
	return fmt.Sprintf("fleet-agent/%s (%s/%s)", agentVersion, runtime.GOOS, runtime.GOARCH)
}

// getOrCreateNodeID retrieves the existing node id or generates a new one.
// It persists the id to ~/.fleetforge/node_id.
func getOrCreateNodeID() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".fleetforge")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	nodeIDPath := filepath.Join(configDir, "node_id")
	if data, err := os.ReadFile(nodeIDPath); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	newID := uuid.NewString()
	if err := os.WriteFile(nodeIDPath, []byte(newID), 0600); err != nil {
		return "", fmt.Errorf("failed to save node ID to %s: %w", nodeIDPath, err)
	}
	return newID, nil
}
