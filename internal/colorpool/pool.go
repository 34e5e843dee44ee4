// Package colorpool assigns each agent a visually distinct hex color from
// a fixed ten-color palette (the ColorPool), falling back to reuse
// of a least-recently-used inactive agent's color once the palette is
// exhausted, and finally to a deterministic hash-derived color. Grounded
// on internal/agents/colors.go name-substring color scheme,
// generalized to an explicit, persisted hex-color allocation pool.
package colorpool

import (
	"crypto/md5"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/types"
)

// Pool is the color-pool allocation handle.
type Pool struct {
	paths *storage.Paths
}

// NewPool constructs a Pool rooted at paths.
func NewPool(paths *storage.Paths) *Pool {
	return &Pool{paths: paths}
}

// Allocate assigns agentID a hex color, idempotently: a previously
// assigned agent gets its existing color back.
func (p *Pool) Allocate(agentID string) (string, error) {
	cp, err := storage.LockedUpsert(
		p.paths.ColorPoolLock(),
		p.paths.ColorPoolFile(),
		func() *types.ColorPool { return &types.ColorPool{Assignments: map[string]string{}} },
		func(c *types.ColorPool) error {
			if c.Assignments == nil {
				c.Assignments = map[string]string{}
			}
			if _, ok := c.Assignments[agentID]; ok {
				return nil
			}
			color := p.nextColor(c)
			c.Assignments[agentID] = color
			c.LastUpdated = time.Now()
			return nil
		},
	)
	if err != nil {
		return "", err
	}
	return cp.Assignments[agentID], nil
}

// Release frees agentID's color assignment so it may be reused.
func (p *Pool) Release(agentID string) error {
	_, err := storage.LockedUpsert(
		p.paths.ColorPoolLock(),
		p.paths.ColorPoolFile(),
		func() *types.ColorPool { return &types.ColorPool{Assignments: map[string]string{}} },
		func(c *types.ColorPool) error {
			if c.Assignments == nil {
				return nil
			}
			delete(c.Assignments, agentID)
			c.LastUpdated = time.Now()
			return nil
		},
	)
	return err
}

// nextColor picks an unused palette entry; failing that, the color of the
// least-recently-heartbeat inactive agent currently holding one; failing
// that, a deterministic hash-derived color. Caller holds the color-pool
// lock.
func (p *Pool) nextColor(c *types.ColorPool) string {
	used := make(map[string]bool, len(c.Assignments))
	for _, color := range c.Assignments {
		used[color] = true
	}
	for _, color := range types.Palette {
		if !used[color] {
			return color
		}
	}

	if holder, color := p.leastRecentlyUsedInactive(c); holder != "" {
		delete(c.Assignments, holder)
		return color
	}

	return hashColor(fmt.Sprintf("%v", c.Assignments))
}

// leastRecentlyUsedInactive scans agent states for the stalest terminated
// or inactive agent that currently holds a pool color.
func (p *Pool) leastRecentlyUsedInactive(c *types.ColorPool) (holder, color string) {
	entries, err := os.ReadDir(p.paths.AgentsDir())
	if err != nil {
		return "", ""
	}

	var oldestTs time.Time
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(ent.Name(), ".json")
		assigned, ok := c.Assignments[id]
		if !ok {
			continue
		}
		agent := &types.AgentState{}
		if err := storage.ReadValidated(p.paths.AgentFile(id), agent); err != nil {
			continue
		}
		if agent.Status != types.AgentInactive && agent.Status != types.AgentTerminated {
			continue
		}
		if holder == "" || agent.HeartbeatTs.Before(oldestTs) {
			holder, color, oldestTs = id, assigned, agent.HeartbeatTs
		}
	}
	return holder, color
}

// hashColor derives a deterministic hex color from seed, used once the
// palette is exhausted and no inactive holder can be reclaimed.
func hashColor(seed string) string {
	sum := md5.Sum([]byte(seed))
	return fmt.Sprintf("#%02X%02X%02X", sum[0], sum[1], sum[2])
}
