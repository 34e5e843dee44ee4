package natsbridge

import (
	"encoding/json"
	"testing"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/opencode-teams/core/internal/coordinator"
	"github.com/opencode-teams/core/internal/teams"
	"github.com/opencode-teams/core/internal/types"
)

func TestBridgeMirrorsTeamCreatedOntoSubject(t *testing.T) {
	coord, err := coordinator.New(t.TempDir(), coordinator.Config{TmuxBinary: "/bin/true"})
	if err != nil {
		t.Fatalf("coordinator.New failed: %v", err)
	}

	bridge, err := New(coord, EmbeddedServerConfig{Port: 18322})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer bridge.Stop()

	conn, err := nc.Connect(bridge.URL())
	if err != nil {
		t.Fatalf("failed to connect observer: %v", err)
	}
	defer conn.Close()

	received := make(chan *nc.Msg, 1)
	sub, err := conn.Subscribe(Subject("alpha", types.EventTeamCreated), func(msg *nc.Msg) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()
	conn.Flush()

	if _, err := coord.Teams.CreateTeam(teams.CreateTeamInput{
		Name:          "alpha",
		Topology:      types.TopologyFlat,
		LeaderAgentID: "leader-1",
	}); err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}

	select {
	case msg := <-received:
		var evt types.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			t.Fatalf("failed to decode mirrored event: %v", err)
		}
		if evt.TeamName != "alpha" || evt.Type != types.EventTeamCreated {
			t.Fatalf("unexpected mirrored event: %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mirrored event.team.created")
	}
}

func TestSubjectNamesTeamWildcard(t *testing.T) {
	if got, want := Subject("alpha", types.EventTaskCreated), "opencode.alpha.task.created"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got, want := Subject("", types.EventTaskCreated), "opencode._.task.created"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
