// Package storage implements the on-disk layout and the combined
// read/write/lock operations the rest of the core is built on:
// readValidated, writeAtomic, lockedUpdate, lockedUpsert.
package storage

import (
	"os"
	"path/filepath"
)

const envProjectRoot = "OPENCODE_PROJECT_ROOT"

// Root resolves the storage root: OPENCODE_PROJECT_ROOT/.opencode-teams if
// the env var is set, else <cwd>/.opencode-teams.
func Root() string {
	base := os.Getenv(envProjectRoot)
	if base == "" {
		base = "."
	}
	return filepath.Join(base, ".opencode-teams")
}

// Paths centralizes every storage path the layout names.
type Paths struct {
	root string
}

// NewPaths builds a Paths rooted at root (pass storage.Root() in production,
// a t.TempDir() in tests).
func NewPaths(root string) *Paths {
	return &Paths{root: root}
}

func (p *Paths) Root() string { return p.root }

func (p *Paths) TeamsRootDir() string               { return filepath.Join(p.root, "teams") }
func (p *Paths) TeamDir(team string) string         { return filepath.Join(p.root, "teams", team) }
func (p *Paths) TeamConfig(team string) string      { return filepath.Join(p.TeamDir(team), "config.json") }
func (p *Paths) TeamLock(team string) string        { return filepath.Join(p.TeamDir(team), ".lock") }
func (p *Paths) InboxDir(team string) string        { return filepath.Join(p.TeamDir(team), "inboxes") }
func (p *Paths) InboxFile(team, agentID string) string {
	return filepath.Join(p.InboxDir(team), agentID+".json")
}
func (p *Paths) InboxLock(team, agentID string) string {
	return filepath.Join(p.InboxDir(team), agentID+".lock")
}

func (p *Paths) TasksDir(team string) string  { return filepath.Join(p.root, "tasks", team) }
func (p *Paths) TasksLock(team string) string { return filepath.Join(p.TasksDir(team), ".lock") }
func (p *Paths) TaskFile(team, taskID string) string {
	return filepath.Join(p.TasksDir(team), taskID+".json")
}

func (p *Paths) AgentsDir() string          { return filepath.Join(p.root, "agents") }
func (p *Paths) AgentsLock() string         { return filepath.Join(p.AgentsDir(), ".lock") }
func (p *Paths) AgentFile(id string) string { return filepath.Join(p.AgentsDir(), id+".json") }

func (p *Paths) ServersDir() string { return filepath.Join(p.root, "servers") }
func (p *Paths) ServerDir(projectHash string) string {
	return filepath.Join(p.ServersDir(), projectHash)
}
func (p *Paths) ServerInfoFile(projectHash string) string {
	return filepath.Join(p.ServerDir(projectHash), "server.json")
}
func (p *Paths) ServerLock(projectHash string) string {
	return filepath.Join(p.ServerDir(projectHash), ".lock")
}
func (p *Paths) ServerLog(projectHash string) string {
	return filepath.Join(p.ServerDir(projectHash), "server.log")
}

func (p *Paths) ColorPoolFile() string { return filepath.Join(p.root, "color-pool.json") }
func (p *Paths) ColorPoolLock() string { return filepath.Join(p.root, "color-pool.lock") }

func (p *Paths) TemplatesDir() string { return filepath.Join(p.root, "templates") }
func (p *Paths) TemplateFile(name string) string {
	return filepath.Join(p.TemplatesDir(), name+".json")
}

// UserGlobalTemplatesDir is the fallback template directory:
// $HOME/.opencode-teams/templates, used when a project-local template of
// the same name is absent.
func UserGlobalTemplatesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".opencode-teams", "templates")
}
