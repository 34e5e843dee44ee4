package serverctl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/opencode-teams/core/internal/types"
)

// SSEEvent is the normalized shape serverctl hands the passive heartbeat
// consumer for each server-sent event carrying a session id.
type SSEEvent struct {
	Type      string
	SessionID string
}

type sseEnvelope struct {
	Type       string `json:"type"`
	Properties struct {
		SessionID string `json:"sessionID"`
		Info      struct {
			ID string `json:"id"`
		} `json:"info"`
	} `json:"properties"`
}

// ConsumeEvents streams info's event feed and invokes handler for every
// event that carries a session id, until ctx is cancelled or the
// connection drops. Callers are expected to reconnect (internal/agents
// wraps this in a retry loop).
func (e *Engine) ConsumeEvents(ctx context.Context, info *types.ServerInfo, handler func(SSEEvent)) error {
	url := fmt.Sprintf("http://%s:%d/event", info.Hostname, info.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var env sseEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			log.Printf("[SERVERCTL] WARNING: malformed event payload, skipping: %v", err)
			continue
		}
		sessionID := env.Properties.SessionID
		if sessionID == "" {
			sessionID = env.Properties.Info.ID
		}
		if sessionID == "" {
			continue
		}
		handler(SSEEvent{Type: env.Type, SessionID: sessionID})
	}
	return scanner.Err()
}
