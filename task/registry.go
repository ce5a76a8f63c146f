package task

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the process-singleton TaskSpec registry of spec §4.8/§4.1:
// register(task) fails if the name is already present, get(name) fails
// with NotFound, list() returns a snapshot. Grounded directly on
// _examples/original_source/workers/services/task_registry.py's
// TaskRegistry, whose register/get_task/list_tasks/unregister methods this
// mirrors one-for-one.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Spec
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Spec)}
}

// Register adds spec under its own Name(), returning an error if that name
// is already registered — re-registration is always a programmer error.
func (r *Registry) Register(spec Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := spec.Name()
	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("task %q already registered", name)
	}
	r.tasks[name] = spec
	return nil
}

// Get returns the registered Spec for name, or an error if none exists.
func (r *Registry) Get(name string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("task %q not found", name)
	}
	return spec, nil
}

// List returns a sorted snapshot of registered task names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a task by name. No-op if the name isn't present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, name)
}
