// Package natsbridge is an optional, off-by-default side channel: an
// embedded NATS server plus a publisher that mirrors the shared event
// bus onto subjects out-of-process observers (an alerting process, an
// external dashboard) can subscribe to. It carries no coordination
// responsibility of its own — every file-backed invariant this module
// owns stays file-based regardless of whether this bridge is running.
package natsbridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig configures the embedded NATS server.
type EmbeddedServerConfig struct {
	Port      int    // TCP port to listen on; defaults to 4222.
	JetStream bool   // Enable JetStream persistence.
	DataDir   string // JetStream storage directory; required when JetStream is set.
}

// EmbeddedServer wraps an in-process *server.Server.
type EmbeddedServer struct {
	mu      sync.RWMutex
	inner   *server.Server
	config  EmbeddedServerConfig
	running bool
}

// NewEmbeddedServer validates config and returns an unstarted server.
func NewEmbeddedServer(config EmbeddedServerConfig) (*EmbeddedServer, error) {
	if config.Port <= 0 {
		config.Port = 4222
	}
	if config.JetStream && config.DataDir == "" {
		return nil, fmt.Errorf("natsbridge: DataDir is required when JetStream is enabled")
	}
	return &EmbeddedServer{config: config}, nil
}

// Start brings the embedded server up and blocks until it is ready for
// connections or the 10s startup deadline elapses.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("natsbridge: server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.config.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if e.config.JetStream {
		opts.JetStream = true
		opts.StoreDir = e.config.DataDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("natsbridge: failed to create embedded server: %w", err)
	}

	e.inner = ns
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("natsbridge: embedded server not ready for connections")
	}
	e.running = true
	return nil
}

// Shutdown stops the embedded server, waiting for it to fully drain.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.inner == nil {
		return
	}
	e.inner.Shutdown()
	e.inner.WaitForShutdown()
	e.running = false
	e.inner = nil
}

// URL returns the connection string for Connect/NewPublisher.
func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", e.config.Port)
}

// IsRunning reports whether Start has succeeded and Shutdown has not run since.
func (e *EmbeddedServer) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
