package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itskum47/FleetForge/control_plane/cluster"
	"github.com/itskum47/FleetForge/control_plane/coordination"
	"github.com/itskum47/FleetForge/control_plane/redirect"
)

// Config holds the control plane settings.
type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	AdvertiseAddr string `yaml:"advertise_addr"` // node id other nodes forward to

	// OwnershipBackend is one of memory, ring, redis, postgres, etcd.
	OwnershipBackend string   `yaml:"ownership_backend"`
	RedisAddr        string   `yaml:"redis_addr"`
	RedisPassword    string   `yaml:"redis_password"`
	RedisDB          int      `yaml:"redis_db"`
	DatabaseURL      string   `yaml:"database_url"`
	EtcdEndpoints    []string `yaml:"etcd_endpoints"`
	ClusterNodes     []string `yaml:"cluster_nodes"` // static ring membership
	ClusterToken     string   `yaml:"cluster_token"`

	LeaseTTL time.Duration `yaml:"lease_ttl"`

	WorkerTimeout    time.Duration `yaml:"worker_timeout"`
	WorkerRetention  time.Duration `yaml:"worker_retention"` // 0 = never purge
	LivenessInterval time.Duration `yaml:"liveness_interval"`

	RedirectTimeout  time.Duration `yaml:"redirect_timeout"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`

	// Storm protection: global across all workers, then per worker.
	HeartbeatRate        float64 `yaml:"heartbeat_rate"`
	HeartbeatBurst       int     `yaml:"heartbeat_burst"`
	WorkerHeartbeatRate  float64 `yaml:"worker_heartbeat_rate"`
	WorkerHeartbeatBurst int     `yaml:"worker_heartbeat_burst"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:           ":8080",
		AdvertiseAddr:        "http://localhost:8080",
		OwnershipBackend:     "memory",
		RedisAddr:            "localhost:6379",
		LeaseTTL:             coordination.DefaultLeaseTTL,
		WorkerTimeout:        cluster.DefaultWorkerTimeout,
		LivenessInterval:     10 * time.Second,
		RedirectTimeout:      redirect.DefaultTimeout,
		BreakerThreshold:     5,
		BreakerCooldown:      10 * time.Second,
		HeartbeatRate:        100, // 100 heartbeats/sec, burst 200
		HeartbeatBurst:       200,
		WorkerHeartbeatRate:  1,
		WorkerHeartbeatBurst: 3,
	}
}

// LoadConfig reads defaults, then the optional YAML file, then env overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setList := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = splitList(v)
		}
	}
	setDuration := func(key string, dst *time.Duration) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setString("LISTEN_ADDR", &c.ListenAddr)
	setString("ADVERTISE_ADDR", &c.AdvertiseAddr)
	setString("OWNERSHIP_BACKEND", &c.OwnershipBackend)
	setString("REDIS_ADDR", &c.RedisAddr)
	setString("REDIS_PASSWORD", &c.RedisPassword)
	setString("DATABASE_URL", &c.DatabaseURL)
	setString("CLUSTER_TOKEN", &c.ClusterToken)
	setList("ETCD_ENDPOINTS", &c.EtcdEndpoints)
	setList("CLUSTER_NODES", &c.ClusterNodes)

	if v := getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.RedisDB = db
	}

	for key, dst := range map[string]*time.Duration{
		"WORKER_TIMEOUT":   &c.WorkerTimeout,
		"WORKER_RETENTION": &c.WorkerRetention,
		"REDIRECT_TIMEOUT": &c.RedirectTimeout,
		"LEASE_TTL":        &c.LeaseTTL,
	} {
		if err := setDuration(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings the control plane cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" || c.AdvertiseAddr == "" {
		return fmt.Errorf("listen_addr and advertise_addr are required")
	}
	if c.WorkerTimeout <= 0 {
		return fmt.Errorf("worker_timeout must be positive, got %v", c.WorkerTimeout)
	}
	if c.WorkerRetention < 0 {
		return fmt.Errorf("worker_retention must not be negative")
	}
	if c.WorkerRetention > 0 && c.WorkerRetention < c.WorkerTimeout {
		return fmt.Errorf("worker_retention (%v) must not be shorter than worker_timeout (%v)", c.WorkerRetention, c.WorkerTimeout)
	}
	if c.RedirectTimeout <= 0 {
		return fmt.Errorf("redirect_timeout must be positive, got %v", c.RedirectTimeout)
	}
	if c.LeaseTTL < time.Second {
		return fmt.Errorf("lease_ttl must be at least 1s, got %v", c.LeaseTTL)
	}

	switch c.OwnershipBackend {
	case "memory":
	case "ring":
		if len(c.ClusterNodes) == 0 {
			return fmt.Errorf("ring backend needs cluster_nodes")
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis backend needs redis_addr")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("postgres backend needs database_url")
		}
	case "etcd":
		if len(c.EtcdEndpoints) == 0 {
			return fmt.Errorf("etcd backend needs etcd_endpoints")
		}
	default:
		return fmt.Errorf("unknown ownership_backend %q", c.OwnershipBackend)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
