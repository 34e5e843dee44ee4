package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opencode-teams/core/internal/coreerr"
	"github.com/opencode-teams/core/internal/storage"
	"github.com/opencode-teams/core/internal/types"
)

func TestGetResolvesBuiltins(t *testing.T) {
	store := NewStore(storage.NewPaths(t.TempDir()), "")

	for _, name := range []string{"code-review", "leader-workers", "swarm"} {
		tmpl, err := store.Get(name)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", name, err)
		}
		if tmpl.Name != name {
			t.Fatalf("expected template named %q, got %q", name, tmpl.Name)
		}
	}
}

func TestProjectLocalTemplateShadowsBuiltin(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	store := NewStore(paths, "")

	custom := &types.TeamTemplate{Name: "swarm", Description: "custom swarm", Topology: types.TopologyFlat}
	if err := store.Save(custom); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get("swarm")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Description != "custom swarm" {
		t.Fatalf("expected project-local template to shadow builtin, got %+v", got)
	}
}

func TestGetFallsBackToUserGlobalYAML(t *testing.T) {
	userDir := t.TempDir()
	paths := storage.NewPaths(t.TempDir())
	store := NewStore(paths, userDir)

	yamlDoc := "name: custom-team\ntopology: flat\ndescription: from yaml\ncreatedAt: 2024-01-01T00:00:00Z\n"
	if err := os.WriteFile(filepath.Join(userDir, "custom-team.yaml"), []byte(yamlDoc), 0644); err != nil {
		t.Fatalf("write yaml fixture failed: %v", err)
	}

	got, err := store.Get("custom-team")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Description != "from yaml" {
		t.Fatalf("expected yaml-sourced template, got %+v", got)
	}
}

func TestGetUnknownTemplateReturnsNotFound(t *testing.T) {
	store := NewStore(storage.NewPaths(t.TempDir()), "")
	_, err := store.Get("does-not-exist")
	if !coreerr.Is(err, coreerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSaveFromTeamSnapshotsConfig(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	store := NewStore(paths, "")

	team := &types.Team{
		Name:     "alpha",
		Topology: types.TopologyHierarchical,
		Roles:    []types.RoleDefinition{{Name: "reviewer", AllowedTools: []string{"update-task"}}},
		Workflow: &types.WorkflowConfig{Enabled: true, UnblockedTasksThreshold: 2, MinActiveWorkerRatio: 0.3},
	}

	tmpl, err := store.SaveFromTeam(team, "alpha-snapshot", "snapshot of alpha")
	if err != nil {
		t.Fatalf("SaveFromTeam failed: %v", err)
	}
	if tmpl.Topology != types.TopologyHierarchical || len(tmpl.Roles) != 1 || tmpl.WorkflowConfig == nil {
		t.Fatalf("unexpected snapshot: %+v", tmpl)
	}

	got, err := store.Get("alpha-snapshot")
	if err != nil {
		t.Fatalf("Get after SaveFromTeam failed: %v", err)
	}
	if got.Description != "snapshot of alpha" {
		t.Fatalf("expected persisted snapshot, got %+v", got)
	}
}

func TestDeleteRejectsBuiltinTemplate(t *testing.T) {
	store := NewStore(storage.NewPaths(t.TempDir()), "")
	err := store.Delete("swarm")
	if !coreerr.Is(err, coreerr.Validation) {
		t.Fatalf("expected Validation error deleting a builtin, got %v", err)
	}
}

func TestDeleteRemovesProjectLocalTemplate(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	store := NewStore(paths, "")
	if err := store.Save(&types.TeamTemplate{Name: "custom", Topology: types.TopologyFlat}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Delete("custom"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get("custom"); !coreerr.Is(err, coreerr.NotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestListIncludesBuiltinsAndProjectLocal(t *testing.T) {
	paths := storage.NewPaths(t.TempDir())
	store := NewStore(paths, "")
	if err := store.Save(&types.TeamTemplate{Name: "custom", Topology: types.TopologyFlat}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	names := map[string]bool{}
	for _, t := range list {
		names[t.Name] = true
	}
	for _, want := range []string{"code-review", "leader-workers", "swarm", "custom"} {
		if !names[want] {
			t.Fatalf("expected %q in list, got %v", want, names)
		}
	}
}
