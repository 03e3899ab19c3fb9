package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type ServeMode string

const (
	ServeModeGRPC      ServeMode = "grpc"
	ServeModeWebSocket ServeMode = "websocket"
	HardcodedVersion   string    = "v0.1"
)

type Config struct {
	NodeID            string
	Hostname          string
	ProcRoot          string
	ServeMode         ServeMode
	GRPCListenAddr    string
	WSListenAddr      string
	WSPath            string
	ProbeListenAddr   string
	AdminListenAddr   string
	AuthToken         string
	LibvirtURI        string
	HypervisorTimeout time.Duration
	ShutdownTimeout   time.Duration
	AgentVersion      string
	TLSEnabled        bool
	TLSCertPath       string
	TLSKeyPath        string
	TLSClientCAPath   string
	LogJSON           bool
	LogLevel          string
}

func Load() (Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := Config{
		NodeID:            env("MEMQUERY_NODE_ID", hostname),
		Hostname:          hostname,
		ProcRoot:          env("MEMQUERY_PROC_ROOT", "/proc"),
		ServeMode:         ServeMode(strings.ToLower(env("MEMQUERY_SERVE_MODE", string(ServeModeGRPC)))),
		GRPCListenAddr:    env("MEMQUERY_GRPC_ADDR", "0.0.0.0:7461"),
		WSListenAddr:      env("MEMQUERY_WS_ADDR", "0.0.0.0:7462"),
		WSPath:            env("MEMQUERY_WS_PATH", "/ws/query"),
		ProbeListenAddr:   env("MEMQUERY_PROBE_ADDR", "0.0.0.0:7463"),
		AdminListenAddr:   env("MEMQUERY_ADMIN_ADDR", "127.0.0.1:7464"),
		AuthToken:         env("MEMQUERY_AUTH_TOKEN", ""),
		LibvirtURI:        env("MEMQUERY_LIBVIRT_URI", ""),
		HypervisorTimeout: envDuration("MEMQUERY_HYPERVISOR_TIMEOUT", 3*time.Second),
		ShutdownTimeout:   envDuration("MEMQUERY_SHUTDOWN_TIMEOUT", 20*time.Second),
		AgentVersion:      HardcodedVersion,
		TLSEnabled:        envBool("MEMQUERY_TLS_ENABLED", false),
		TLSCertPath:       env("MEMQUERY_TLS_CERT_PATH", ""),
		TLSKeyPath:        env("MEMQUERY_TLS_KEY_PATH", ""),
		TLSClientCAPath:   env("MEMQUERY_TLS_CLIENT_CA_PATH", ""),
		LogJSON:           envBool("MEMQUERY_LOG_JSON", true),
		LogLevel:          strings.ToLower(env("MEMQUERY_LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("MEMQUERY_NODE_ID is required")
	}
	if strings.TrimSpace(c.ProcRoot) == "" {
		return errors.New("MEMQUERY_PROC_ROOT is required")
	}
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	switch c.ServeMode {
	case ServeModeGRPC, ServeModeWebSocket:
	default:
		return fmt.Errorf("unsupported serve mode %q", c.ServeMode)
	}
	if c.ServeMode == ServeModeGRPC && strings.TrimSpace(c.GRPCListenAddr) == "" {
		return errors.New("MEMQUERY_GRPC_ADDR is required for grpc mode")
	}
	if c.ServeMode == ServeModeWebSocket {
		if strings.TrimSpace(c.WSListenAddr) == "" {
			return errors.New("MEMQUERY_WS_ADDR is required for websocket mode")
		}
		if !strings.HasPrefix(c.WSPath, "/") {
			return fmt.Errorf("MEMQUERY_WS_PATH must start with /, got %q", c.WSPath)
		}
	}
	if strings.TrimSpace(c.ProbeListenAddr) == "" {
		return errors.New("MEMQUERY_PROBE_ADDR is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("MEMQUERY_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.HypervisorTimeout <= 0 {
		return errors.New("MEMQUERY_HYPERVISOR_TIMEOUT must be > 0")
	}
	if c.TLSEnabled && (c.TLSCertPath == "" || c.TLSKeyPath == "") {
		return errors.New("both TLS cert and key are required when TLS is enabled")
	}
	return nil
}

// MeminfoPath resolves the statistics source under the configured proc
// root. Deployments reading a host mount set MEMQUERY_PROC_ROOT to
// something like /host/proc.
func (c Config) MeminfoPath() string {
	return filepath.Join(c.ProcRoot, "meminfo")
}

// HypervisorEnabled reports whether query results should carry the
// libvirt cross-check.
func (c Config) HypervisorEnabled() bool {
	return strings.TrimSpace(c.LibvirtURI) != ""
}

// TLSConfig builds the server-side TLS settings. A client CA path turns
// on mutual TLS.
func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS cert/key: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{crt},
	}
	if c.TLSClientCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append client CA cert failed")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
