// Package dispatcher maps a (project, stage) pair onto the factory that
// builds its stage.
package dispatcher

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/regcrawl/internal/app"
	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/pipeline"
)

// Factory builds a runnable stage from the shared application resources.
type Factory func(ctx context.Context, a *app.App) (pipeline.Stage, error)

// UnknownError reports a project or stage with no registered factory.
type UnknownError struct {
	Project string
	Stage   string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("no crawler registered for project %q stage %q", e.Project, e.Stage)
}

type key struct {
	project string
	stage   crawler.StageName
}

// Registry holds the registered factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[key]Factory)}
}

// Register binds f to project and stage, replacing any earlier binding.
func (r *Registry) Register(project string, stage crawler.StageName, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key{project: project, stage: stage}] = f
}

// Resolve parses the stage token and returns its factory. It performs no
// I/O so bad invocations fail before any connection is opened.
func (r *Registry) Resolve(project, stage string) (crawler.StageName, Factory, error) {
	name, ok := crawler.ParseStage(stage)
	if !ok {
		return "", nil, &UnknownError{Project: project, Stage: stage}
	}
	r.mu.RLock()
	f, ok := r.entries[key{project: project, stage: name}]
	r.mu.RUnlock()
	if !ok {
		return "", nil, &UnknownError{Project: project, Stage: stage}
	}
	return name, f, nil
}

// Projects lists the registered project names in sorted order.
func (r *Registry) Projects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for k := range r.entries {
		if !slices.Contains(out, k.project) {
			out = append(out, k.project)
		}
	}
	slices.Sort(out)
	return out
}
