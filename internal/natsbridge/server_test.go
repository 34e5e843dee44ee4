package natsbridge

import (
	"path/filepath"
	"testing"

	nc "github.com/nats-io/nats.go"
)

func TestEmbeddedServerStartStop(t *testing.T) {
	tempDir := t.TempDir()

	config := EmbeddedServerConfig{
		Port:      18222,
		JetStream: true,
		DataDir:   filepath.Join(tempDir, "jetstream"),
	}

	srv, err := NewEmbeddedServer(config)
	if err != nil {
		t.Fatalf("NewEmbeddedServer failed: %v", err)
	}
	if srv.IsRunning() {
		t.Fatal("expected server to not be running before Start")
	}

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Shutdown()

	if !srv.IsRunning() {
		t.Fatal("expected server to report running after Start")
	}

	if got, want := srv.URL(), "nats://127.0.0.1:18222"; got != want {
		t.Fatalf("expected URL %q, got %q", want, got)
	}

	conn, err := nc.Connect(srv.URL())
	if err != nil {
		t.Fatalf("failed to connect to embedded server: %v", err)
	}
	conn.Close()

	srv.Shutdown()
	if srv.IsRunning() {
		t.Fatal("expected server to report stopped after Shutdown")
	}
}

func TestNewEmbeddedServerRequiresDataDirForJetStream(t *testing.T) {
	if _, err := NewEmbeddedServer(EmbeddedServerConfig{Port: 18223, JetStream: true}); err == nil {
		t.Fatal("expected an error when JetStream is enabled with no DataDir")
	}
}

func TestNewEmbeddedServerDefaultsPort(t *testing.T) {
	srv, err := NewEmbeddedServer(EmbeddedServerConfig{})
	if err != nil {
		t.Fatalf("NewEmbeddedServer failed: %v", err)
	}
	if got, want := srv.URL(), "nats://127.0.0.1:4222"; got != want {
		t.Fatalf("expected default URL %q, got %q", want, got)
	}
}

func TestEmbeddedServerDoubleStartFails(t *testing.T) {
	tempDir := t.TempDir()
	srv, err := NewEmbeddedServer(EmbeddedServerConfig{Port: 18224, JetStream: true, DataDir: tempDir})
	if err != nil {
		t.Fatalf("NewEmbeddedServer failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer srv.Shutdown()

	if err := srv.Start(); err == nil {
		t.Fatal("expected a second Start on a running server to fail")
	}
}
