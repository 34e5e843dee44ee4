// Command teamsd runs the coordination core as a long-lived daemon: it
// wires a *coordinator.Coordinator over a storage root, starts the
// background stale-agent sweep, and optionally exposes the read-only
// dashboard HTTP/WebSocket surface and the NATS side-channel bridge.
// The tool surface itself (internal/toolapi) is a library bound directly
// by whatever process speaks MCP/JSON-RPC to agents; teamsd's own job is
// keeping the background monitors and optional dashboards alive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencode-teams/core/internal/coordinator"
	"github.com/opencode-teams/core/internal/httpapi"
	"github.com/opencode-teams/core/internal/lockfile"
	"github.com/opencode-teams/core/internal/natsbridge"
	"github.com/opencode-teams/core/internal/storage"
)

func main() {
	root := flag.String("root", "", "storage root (defaults to OPENCODE_PROJECT_ROOT/.opencode-teams or ./.opencode-teams)")
	httpAddr := flag.String("http", "", "address for the read-only dashboard HTTP/WS surface, e.g. :4500 (empty disables it)")
	tmuxBinary := flag.String("tmux", "", "tmux binary name (defaults to \"tmux\" on PATH)")
	auditDB := flag.String("audit-db", "", "path to a SQLite audit log mirror (empty disables it)")
	desktopNotify := flag.Bool("desktop-notify", false, "show a desktop toast on notify_leader dispatch actions (Windows only, no-op elsewhere)")
	natsPort := flag.Int("nats-port", 0, "TCP port for an embedded NATS side-channel bridge (0 disables it)")
	flag.Parse()

	storageRoot := *root
	if storageRoot == "" {
		storageRoot = storage.Root()
	}

	lockPath := storageRoot + "/.teamsd.lock"
	instanceLock, err := lockfile.TryAcquire(lockPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "teamsd: failed to acquire instance lock at %s: %v\n", lockPath, err)
		os.Exit(1)
	}
	if instanceLock == nil {
		fmt.Fprintf(os.Stderr, "teamsd: another instance already holds %s\n", lockPath)
		os.Exit(1)
	}
	defer instanceLock.Release()

	cfg := coordinator.Config{
		TmuxBinary:           *tmuxBinary,
		DesktopNotifications: *desktopNotify,
		AuditLogPath:         *auditDB,
	}
	if *httpAddr != "" {
		cfg.DashboardURL = "http://" + *httpAddr
	}

	coord, err := coordinator.New(storageRoot, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "teamsd: failed to construct coordinator: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord.Start(ctx)
	log.Printf("[TEAMSD] coordinator running, storage root %s", storageRoot)

	var dash *httpapi.Server
	if *httpAddr != "" {
		dash = httpapi.NewServer(coord)
		go func() {
			if err := dash.Start(*httpAddr); err != nil {
				log.Printf("[TEAMSD] dashboard server stopped: %v", err)
			}
		}()
		log.Printf("[TEAMSD] dashboard listening on %s", *httpAddr)
	}

	var bridge *natsbridge.Bridge
	if *natsPort != 0 {
		bridge, err = natsbridge.New(coord, natsbridge.EmbeddedServerConfig{Port: *natsPort})
		if err != nil {
			log.Printf("[TEAMSD] WARNING: failed to start NATS bridge: %v", err)
		} else {
			log.Printf("[TEAMSD] NATS bridge listening at %s", bridge.URL())
		}
	}

	<-ctx.Done()
	log.Printf("[TEAMSD] shutting down")

	if bridge != nil {
		bridge.Stop()
	}
	if dash != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := dash.Shutdown(shutdownCtx); err != nil {
			log.Printf("[TEAMSD] dashboard shutdown error: %v", err)
		}
		cancel()
	}
	coord.Stop()
}
