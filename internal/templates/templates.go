// Package templates implements team blueprints:
// spawnTeamFromTemplate's lookup path (project-local JSON, then a
// user-global YAML directory, then the three built-in templates),
// saveFromTeam snapshotting, and template CRUD.
package templates

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/types"
)

// builtins ship pre-loaded and are never looked up on disk.
var builtins = map[string]*types.TeamTemplate{
	"code-review": {
		Name:        "code-review",
		Description: "Flat team of reviewers running a three-step review workflow",
		Topology:    types.TopologyFlat,
		Roles: []types.RoleDefinition{
			{Name: string(types.RoleReviewer), AllowedTools: []string{"update-task", "get-tasks", "send-message", "broadcast-message", "read-messages", "poll-inbox"}},
		},
		DefaultTasks: []types.DefaultTask{
			{Title: "Review diff for correctness", Priority: types.PriorityHigh},
			{Title: "Review diff for style and conventions", Priority: types.PriorityNormal},
			{Title: "Summarize findings for the author", Priority: types.PriorityNormal},
		},
	},
	"leader-workers": {
		Name:        "leader-workers",
		Description: "Hierarchical team with an active workflow monitor suggesting more workers",
		Topology:    types.TopologyHierarchical,
		WorkflowConfig: &types.WorkflowConfig{
			Enabled:                 true,
			UnblockedTasksThreshold: 3,
			MinActiveWorkerRatio:    0.5,
			CooldownSeconds:         300,
		},
	},
	"swarm": {
		Name:        "swarm",
		Description: "Flat team of interchangeable workers, any of whom may claim any task",
		Topology:    types.TopologyFlat,
	},
}

// Store resolves and persists team templates.
type Store struct {
	paths         *storage.Paths
	userGlobalDir string
}

// NewStore constructs a Store. userGlobalDir is the fallback directory
// searched after the project-local templates dir and before builtins;
// pass "" to disable the user-global tier.
func NewStore(paths *storage.Paths, userGlobalDir string) *Store {
	return &Store{paths: paths, userGlobalDir: userGlobalDir}
}

// Get resolves name through project-local, then user-global, then
// built-in templates (lookup path).
func (s *Store) Get(name string) (*types.TeamTemplate, error) {
	tmpl := &types.TeamTemplate{}
	if err := storage.ReadValidated(s.paths.TemplateFile(name), tmpl); err == nil {
		return tmpl, nil
	}

	if s.userGlobalDir != "" {
		if t, err := s.readUserGlobal(name); err == nil {
			return t, nil
		}
	}

	if t, ok := builtins[name]; ok {
		clone := *t
		return &clone, nil
	}

	return nil, coreerr.NotFoundf("no template named %q", name)
}

func (s *Store) readUserGlobal(name string) (*types.TeamTemplate, error) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(s.userGlobalDir, name+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		tmpl := &types.TeamTemplate{}
		var unmarshalErr error
		if ext == ".json" {
			unmarshalErr = json.Unmarshal(data, tmpl)
		} else {
			unmarshalErr = yaml.Unmarshal(data, tmpl)
		}
		if unmarshalErr != nil {
			return nil, unmarshalErr
		}
		if err := tmpl.Validate(); err != nil {
			return nil, err
		}
		return tmpl, nil
	}
	return nil, coreerr.NotFoundf("no user-global template named %q", name)
}

// List returns every known template (project-local, user-global,
// built-in), project-local taking precedence on name collision.
func (s *Store) List() ([]*types.TeamTemplate, error) {
	seen := map[string]*types.TeamTemplate{}

	for name, t := range builtins {
		clone := *t
		seen[name] = &clone
	}

	if s.userGlobalDir != "" {
		entries, err := os.ReadDir(s.userGlobalDir)
		if err == nil {
			for _, ent := range entries {
				if ent.IsDir() {
					continue
				}
				name := trimTemplateExt(ent.Name())
				if name == "" {
					continue
				}
				if t, err := s.readUserGlobal(name); err == nil {
					seen[name] = t
				}
			}
		}
	}

	entries, err := os.ReadDir(s.paths.TemplatesDir())
	if err == nil {
		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			name := trimTemplateExt(ent.Name())
			if name == "" {
				continue
			}
			tmpl := &types.TeamTemplate{}
			if err := storage.ReadValidated(s.paths.TemplateFile(name), tmpl); err != nil {
				continue
			}
			seen[name] = tmpl
		}
	}

	out := make([]*types.TeamTemplate, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	return out, nil
}

func trimTemplateExt(filename string) string {
	ext := filepath.Ext(filename)
	switch ext {
	case ".json", ".yaml", ".yml":
		return filename[:len(filename)-len(ext)]
	default:
		return ""
	}
}

// Save persists tmpl as a project-local template, overwriting any
// existing template of the same name.
func (s *Store) Save(tmpl *types.TeamTemplate) error {
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = time.Now()
	}
	return storage.WriteAtomic(s.paths.TemplateFile(tmpl.Name), tmpl)
}

// SaveFromTeam snapshots a running team's roles, topology, and workflow
// config into a new project-local template.
func (s *Store) SaveFromTeam(team *types.Team, name, description string) (*types.TeamTemplate, error) {
	tmpl := &types.TeamTemplate{
		Name:           name,
		Description:    description,
		Topology:       team.Topology,
		Roles:          append([]types.RoleDefinition(nil), team.Roles...),
		WorkflowConfig: team.Workflow,
		CreatedAt:      time.Now(),
	}
	if err := s.Save(tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// Delete removes a project-local template. Built-in templates cannot be
// deleted.
func (s *Store) Delete(name string) error {
	if _, ok := builtins[name]; ok {
		return coreerr.Validationf("built-in template %q cannot be deleted", name)
	}
	path := s.paths.TemplateFile(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return coreerr.NotFoundf("no such template %q", name)
	}
	return os.Remove(path)
}
