package natsbridge

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/opencode-teams/core/internal/events"
	"github.com/opencode-teams/core/internal/types"
)

// subjectPrefix roots every mirrored subject, keeping this bridge's
// traffic distinguishable from any other NATS user of the same server.
const subjectPrefix = "opencode"

// Publisher mirrors bus events onto NATS subjects named
// "opencode.<team>.<eventType>", one subject per (team, event type) pair
// so an observer can wildcard-subscribe at whichever granularity it
// wants ("opencode.alpha.>" for one team, "opencode.*.task.completed"
// across all teams).
type Publisher struct {
	conn   *nc.Conn
	unsubs []func()
}

// NewPublisher connects to url and returns an unsubscribed Publisher.
func NewPublisher(url string) (*Publisher, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				log.Printf("[NATSBRIDGE] disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(c *nc.Conn) {
			log.Printf("[NATSBRIDGE] reconnected to %s", c.ConnectedUrl())
		}),
	}
	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: failed to connect to %s: %w", url, err)
	}
	return &Publisher{conn: conn}, nil
}

// Subject returns the mirrored subject name for one (team, eventType) pair.
func Subject(team string, eventType types.EventType) string {
	if team == "" {
		team = "_"
	}
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, team, eventType)
}

// MirrorBus subscribes the Publisher to every event type in taxonomy on
// bus and republishes each as JSON onto its mirrored subject. The
// returned func unsubscribes from the bus; it does not close the NATS
// connection (call Close for that).
func (p *Publisher) MirrorBus(bus *events.Bus, taxonomy []types.EventType) func() {
	for _, t := range taxonomy {
		unsub := bus.Subscribe(t, func(evt types.Event) {
			p.publish(evt)
		})
		p.unsubs = append(p.unsubs, unsub)
	}
	return func() {
		for _, unsub := range p.unsubs {
			unsub()
		}
		p.unsubs = nil
	}
}

func (p *Publisher) publish(evt types.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[NATSBRIDGE] failed to marshal event %s: %v", evt.ID, err)
		return
	}
	subject := Subject(evt.TeamName, evt.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[NATSBRIDGE] failed to publish %s: %v", subject, err)
	}
}

// Close flushes and closes the underlying NATS connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	p.conn.Flush()
	p.conn.Close()
}
