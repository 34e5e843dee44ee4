package natsbridge

import (
	"fmt"

	"github.com/opencode-teams/core/internal/coordinator"
	"github.com/opencode-teams/core/internal/types"
)

// taxonomy is the event set this bridge mirrors; kept in lockstep with
// dispatch's own unexported taxonomy since both walk the same event set.
var taxonomy = []types.EventType{
	types.EventTaskCreated,
	types.EventTaskCompleted,
	types.EventTaskUnblocked,
	types.EventAgentIdle,
	types.EventAgentTerminated,
	types.EventTeamCreated,
	types.EventSessionIdle,
}

// Bridge owns one embedded NATS server plus the Publisher mirroring a
// Coordinator's event bus onto it. Nothing in the coordination core
// depends on Bridge existing: it is a side channel for out-of-process
// observers, never part of the read/write path.
type Bridge struct {
	embedded  *EmbeddedServer
	publisher *Publisher
	unmirror  func()
}

// New starts an embedded NATS server and begins mirroring coord's event
// bus onto it. Callers own the returned Bridge's lifetime via Stop.
func New(coord *coordinator.Coordinator, config EmbeddedServerConfig) (*Bridge, error) {
	embedded, err := NewEmbeddedServer(config)
	if err != nil {
		return nil, err
	}
	if err := embedded.Start(); err != nil {
		return nil, err
	}

	publisher, err := NewPublisher(embedded.URL())
	if err != nil {
		embedded.Shutdown()
		return nil, fmt.Errorf("natsbridge: failed to attach publisher: %w", err)
	}

	unmirror := publisher.MirrorBus(coord.Bus, taxonomy)

	return &Bridge{embedded: embedded, publisher: publisher, unmirror: unmirror}, nil
}

// URL returns the embedded server's connection string, for external
// observers that want to connect directly rather than through Bridge.
func (b *Bridge) URL() string {
	return b.embedded.URL()
}

// Stop unsubscribes the publisher from the bus, closes its NATS
// connection, and shuts down the embedded server.
func (b *Bridge) Stop() {
	if b.unmirror != nil {
		b.unmirror()
	}
	if b.publisher != nil {
		b.publisher.Close()
	}
	if b.embedded != nil {
		b.embedded.Shutdown()
	}
}
